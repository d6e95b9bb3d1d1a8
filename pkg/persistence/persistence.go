// Package persistence provides the durable key-value storage abstraction
// backing execution-context state.
package persistence

import "context"

// Store is an opaque blob store. The context manager persists its full
// context table under a fixed key and restores it on startup.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
