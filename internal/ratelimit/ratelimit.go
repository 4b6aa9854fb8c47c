// Package ratelimit provides request rate limiting for the public API.
//
// The in-memory token bucket (MemoryLimiter) covers single-instance
// deployments. Multi-instance deployments can substitute a shared
// implementation behind the Limiter interface.
package ratelimit

import "context"

// Limiter decides whether a request identified by key should proceed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow returns true if the request should proceed. The key is opaque
	// to the limiter; callers construct it (e.g. "ip:10.0.0.1" or
	// "actor:svc-billing"). An error signals a limiter malfunction and
	// callers should fail open rather than block traffic.
	Allow(ctx context.Context, key string) (bool, error)

	// Close releases any background resources.
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
