// Package genstore mints routing generation ids.
//
// Each successful configuration reload takes the next id for its router
// name. LocalGenStore counts in-process; RedisGenStore shares the counter
// across processes so every router instance behind one config agrees on
// which generation is newest.
package genstore

import "context"

type GenStore interface {
	// Snapshot returns the latest generation for key; missing => 0.
	Snapshot(ctx context.Context, key string) (uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, key string) (uint64, error)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
