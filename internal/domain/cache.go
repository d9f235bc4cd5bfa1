package domain

import (
	"context"
	"time"
)

// PriceCache records the most recent oracle observation for read-only
// surfaces (status API, dashboards). The purchase path never reads it; stale
// data must not influence pricing.
type PriceCache interface {
	SetPrice(ctx context.Context, assetID string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, assetID string) (float64, time.Time, error)
}

// RateLimiter provides distributed rate limiting for the public API.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking. The sale engine serializes
// internally with a mutex; the lock guards against two service replicas
// mutating the same sale.
//
// Extend refreshes the TTL of a lock this process already holds without
// releasing it; the key must never be observable as unlocked between
// renewals. It returns ErrLockLost when the lock has expired or is held by
// another party.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
	Extend(ctx context.Context, key string, ttl time.Duration) error
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams for sale events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
