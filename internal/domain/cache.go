package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceCache provides fast access to the latest observed prices for
// collaborators outside the tick path (API handlers, admission checks).
type PriceCache interface {
	SetPrice(ctx context.Context, tokenMint string, price decimal.Decimal, ts time.Time) error
	GetPrice(ctx context.Context, tokenMint string) (decimal.Decimal, time.Time, error)
	GetPrices(ctx context.Context, tokenMints []string) (map[string]decimal.Decimal, error)
}

// LockManager provides distributed locking, used to serialize tick
// application per position across worker processes.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter throttles calls to upstream APIs with a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams for position and trade
// lifecycle events consumed outside the engine.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
