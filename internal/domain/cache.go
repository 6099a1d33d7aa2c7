package domain

import (
	"context"
	"time"
)

// SignalBus provides pub/sub fan-out of trigger lifecycle events plus a
// durable, ordered stream for consumers that must not miss transitions.
type SignalBus interface {
	// Publish sends a raw payload to an ephemeral pub/sub channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe returns a read-only channel of payloads for the given
	// pub/sub channel (trailing-* patterns supported). The channel is
	// closed when ctx is cancelled.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)

	// Append adds a payload to a durable stream.
	Append(ctx context.Context, stream string, payload []byte) error
}

// RateLimiter throttles requests per key over a sliding window. The API
// server applies it to its public endpoints.
type RateLimiter interface {
	// Allow reports whether a request for key is permitted under the
	// limit-per-window budget; an allowed request is counted.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locks so that only one replica drives a
// settlement poke for a given trigger at a time.
type LockManager interface {
	// Acquire obtains the lock for key with the given TTL and returns an
	// unlock function. Returns ErrLockHeld when another party holds it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
