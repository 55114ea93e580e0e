package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"warehouse-ledger/internal/core"
)

// RedisPublisher publishes events as JSON on a Redis channel. Publish failures are
// logged; the ledger change the event describes is already committed.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	logger  logrus.FieldLogger
	timeout time.Duration
}

func NewRedisPublisher(client *redis.Client, channel string, logger logrus.FieldLogger) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel, logger: logger, timeout: 2 * time.Second}
}

// Connect opens a client for addr and pings it.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: "",
		DB:       0,
		PoolSize: 20,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect redis at %s: %w", addr, err)
	}
	return client, nil
}

func (p *RedisPublisher) Notify(ctx context.Context, e core.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.WithError(err).WithField("event", string(e.Type)).Error("failed to encode event")
		return
	}
	// Detach from the request so a client disconnect does not drop the event.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	if err := p.client.Publish(pctx, p.channel, payload).Err(); err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"event":   string(e.Type),
			"channel": p.channel,
		}).Warn("failed to publish event")
	}
}

// RedisSweepLock lets one of several server processes run the expiry sweep per tick.
type RedisSweepLock struct {
	locker *redislock.Client
	key    string
	ttl    time.Duration
	logger logrus.FieldLogger
}

func NewRedisSweepLock(client *redis.Client, key string, ttl time.Duration, logger logrus.FieldLogger) *RedisSweepLock {
	return &RedisSweepLock{locker: redislock.New(client), key: key, ttl: ttl, logger: logger}
}

func (l *RedisSweepLock) TryAcquire(ctx context.Context) (func(), bool, error) {
	lock, err := l.locker.Obtain(ctx, l.key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to obtain lock %s: %w", l.key, err)
	}
	release := func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.logger.WithError(err).WithField("lock", l.key).Warn("failed to release redis lock")
		}
	}
	return release, true, nil
}
