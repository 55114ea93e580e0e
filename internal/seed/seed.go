// Package seed loads a catalog (locations, items, recipes, packing variants and opening stock) from YAML.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"warehouse-ledger/internal/core"
)

type File struct {
	Locations []Location `yaml:"locations"`
	Items     []Item     `yaml:"items"`
	Recipes   []Recipe   `yaml:"recipes"`
	Variants  []Variant  `yaml:"packing_variants"`
	Stock     []Stock    `yaml:"stock"`
}

type Location struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Default bool   `yaml:"default"`
}

type Item struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Unit string `yaml:"unit"`
	Kind string `yaml:"kind"`
}

type Recipe struct {
	ID             string        `yaml:"id"`
	Name           string        `yaml:"name"`
	Output         string        `yaml:"output"`
	OutputQuantity string        `yaml:"output_quantity"`
	Inputs         []RecipeInput `yaml:"inputs"`
	Inactive       bool          `yaml:"inactive"`
}

type RecipeInput struct {
	Item     string `yaml:"item"`
	Quantity string `yaml:"quantity"`
}

type Variant struct {
	ID              string `yaml:"id"`
	Source          string `yaml:"source"`
	Target          string `yaml:"target"`
	Container       string `yaml:"container"`
	QuantityPerUnit string `yaml:"quantity_per_unit"`
}

// Stock is opening stock. It is received once per key: a receipt carrying the same
// reference already in the key's log means the entry was applied before.
type Stock struct {
	Item      string `yaml:"item"`
	Location  string `yaml:"location"`
	Quantity  string `yaml:"quantity"`
	Reference string `yaml:"reference"`
}

// Summary counts what Apply created. Entries that already existed are skipped.
type Summary struct {
	Locations int
	Items     int
	Recipes   int
	Variants  int
	Receipts  int
}

// Parse decodes a seed document.
func Parse(data []byte) (*File, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("seed: document is empty")
	}
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("seed: decode: %w", err)
	}
	return &f, nil
}

// LoadFile reads and parses a seed file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed: read %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("seed: %s: %w", path, err)
	}
	return f, nil
}

// Apply creates the file's entries through the services, in dependency order.
// Running it twice is harmless, even after opening stock has been drawn down.
func Apply(ctx context.Context, f *File, catalog core.CatalogService, recipes core.RecipeRegistry, ledger core.LedgerService) (Summary, error) {
	var sum Summary

	for _, l := range f.Locations {
		_, err := catalog.CreateLocation(ctx, l.ID, l.Name, l.Default)
		switch {
		case err == nil:
			sum.Locations++
		case errors.Is(err, core.ErrConflict):
		default:
			return sum, err
		}
	}

	for _, it := range f.Items {
		_, err := catalog.CreateItem(ctx, it.ID, it.Name, it.Unit, core.ItemKind(it.Kind))
		switch {
		case err == nil:
			sum.Items++
		case errors.Is(err, core.ErrConflict):
		default:
			return sum, err
		}
	}

	for _, r := range f.Recipes {
		if r.ID != "" {
			if _, err := recipes.GetRecipe(ctx, r.ID); err == nil {
				continue
			}
		}
		req, err := r.request()
		if err != nil {
			return sum, err
		}
		if _, err := recipes.Register(ctx, req); err != nil {
			return sum, err
		}
		sum.Recipes++
	}

	for _, v := range f.Variants {
		qpu, err := decimal.NewFromString(v.QuantityPerUnit)
		if err != nil {
			return sum, fmt.Errorf("seed: packing variant %s: invalid quantity_per_unit %q: %w", v.ID, v.QuantityPerUnit, err)
		}
		_, err = catalog.CreatePackingVariant(ctx, core.PackingVariantRequest{
			ID:              v.ID,
			SourceItemID:    v.Source,
			TargetItemID:    v.Target,
			Container:       v.Container,
			QuantityPerUnit: qpu,
		})
		switch {
		case err == nil:
			sum.Variants++
		case errors.Is(err, core.ErrConflict):
		default:
			return sum, err
		}
	}

	for _, s := range f.Stock {
		qty, err := decimal.NewFromString(s.Quantity)
		if err != nil {
			return sum, fmt.Errorf("seed: stock %s: invalid quantity %q: %w", s.Item, s.Quantity, err)
		}
		ref := s.Reference
		if ref == "" {
			ref = "seed"
		}
		done, err := received(ctx, ledger, s.Item, s.Location, ref)
		if err != nil {
			return sum, err
		}
		if done {
			continue
		}
		if _, err := ledger.Receive(ctx, s.Item, s.Location, qty, ref, "seed"); err != nil {
			return sum, err
		}
		sum.Receipts++
	}
	return sum, nil
}

// received reports whether the key's log already holds a receipt with reference ref.
func received(ctx context.Context, ledger core.LedgerService, itemID, locationID, ref string) (bool, error) {
	q := core.MovementQuery{Key: core.Key{ItemID: itemID, LocationID: locationID}}
	for m, err := range ledger.ListMovements(ctx, q) {
		if err != nil {
			return false, err
		}
		if m.Kind == core.MovementReceipt && m.Reference == ref {
			return true, nil
		}
	}
	return false, nil
}

func (r Recipe) request() (core.RegisterRecipeRequest, error) {
	out, err := decimal.NewFromString(r.OutputQuantity)
	if err != nil {
		return core.RegisterRecipeRequest{}, fmt.Errorf("seed: recipe %s: invalid output_quantity %q: %w", r.Output, r.OutputQuantity, err)
	}
	req := core.RegisterRecipeRequest{
		ID:             r.ID,
		Name:           r.Name,
		OutputItemID:   r.Output,
		OutputQuantity: out,
		Inactive:       r.Inactive,
	}
	for _, in := range r.Inputs {
		q, err := decimal.NewFromString(in.Quantity)
		if err != nil {
			return core.RegisterRecipeRequest{}, fmt.Errorf("seed: recipe %s input %s: invalid quantity %q: %w", r.Output, in.Item, in.Quantity, err)
		}
		req.Inputs = append(req.Inputs, core.RecipeInput{ItemID: in.Item, Quantity: q})
	}
	return req, nil
}
