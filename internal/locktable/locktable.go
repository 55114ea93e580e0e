// Package locktable provides named mutexes that are created on demand and
// dropped once nobody holds or waits for them.
package locktable

import (
	"sort"
	"sync"
)

type entry struct {
	mu   sync.Mutex
	refs int
}

// Table hands out one mutex per name. The zero value is ready to use.
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New returns an empty Table.
func New() *Table {
	return &Table{entries: make(map[string]*entry)}
}

func (t *Table) acquire(name string) *entry {
	t.mu.Lock()
	if t.entries == nil {
		t.entries = make(map[string]*entry)
	}
	e, ok := t.entries[name]
	if !ok {
		e = &entry{}
		t.entries[name] = e
	}
	e.refs++
	t.mu.Unlock()
	return e
}

func (t *Table) drop(name string, e *entry) {
	t.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(t.entries, name)
	}
	t.mu.Unlock()
}

// Lock blocks until every named mutex is held and returns the function that
// releases them. Names are locked in sorted order with duplicates removed, so
// two callers locking overlapping sets cannot deadlock each other.
func (t *Table) Lock(names ...string) (unlock func()) {
	ordered := Canonical(names)
	held := make([]*entry, 0, len(ordered))
	for _, name := range ordered {
		e := t.acquire(name)
		e.mu.Lock()
		held = append(held, e)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			t.drop(ordered[i], held[i])
		}
	}
}

// Len reports how many names currently have a live mutex.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Canonical returns names sorted and de-duplicated.
func Canonical(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
