// Package flowstate implements the key->counter map scripts read and write:
// a small atomic-increment store with TTL, backed by either an in-process
// map or Redis, matching the file/Redis duality already required of the
// recording store.
package flowstate

import "context"

// Store is the interface script rules use to track progressive behavior
// across requests (e.g. "fail the first two attempts, then pass through").
// Keys are arbitrary script-chosen strings (commonly a captured header
// value); every key carries its own TTL.
type Store interface {
	// Incr atomically increments key by delta and returns the new value. If
	// key does not exist it starts at 0 before the increment. ttlSeconds of
	// 0 means the key never expires.
	Incr(ctx context.Context, key string, delta int64, ttlSeconds int64) (int64, error)
	// Get returns the current value for key, or 0 if it does not exist or
	// has expired.
	Get(ctx context.Context, key string) (int64, error)
	// Set overwrites key's value, applying the same ttlSeconds semantics as
	// Incr.
	Set(ctx context.Context, key string, value int64, ttlSeconds int64) error
	// Delete removes key, if present.
	Delete(ctx context.Context, key string) error
}
