package domain

import (
	"context"
	"time"
)

// RateDecision is the outcome of counting one request against a limit.
type RateDecision struct {
	Allowed   bool
	Remaining int
	// RetryAfter is how long until the oldest counted request leaves the
	// window. Zero when Allowed.
	RetryAfter time.Duration
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (RateDecision, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub between processes plus a bounded durable
// stream for consumers that need to catch up.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// CursorStore keeps small resumable checkpoints (e.g. the last exported sale).
type CursorStore interface {
	GetCursor(ctx context.Context, name string) (string, error)
	SetCursor(ctx context.Context, name, value string) error
}
