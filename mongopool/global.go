package mongopool

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/mongo"
)

var (
	globalOnce sync.Once
	globalPool *Pool
)

// Global returns the process-wide Pool, creating it on first use. Every
// caller in the process shares the same underlying *mongo.Client once
// Initialize has been called on it.
func Global() *Pool {
	globalOnce.Do(func() {
		globalPool = New()
	})
	return globalPool
}

// InitializeGlobal is a convenience wrapper around Global().Initialize.
func InitializeGlobal(ctx context.Context, connectionString string, opts Options) (*mongo.Client, error) {
	return Global().Initialize(ctx, connectionString, opts)
}

// CloseGlobal releases the process-wide pool's client, if any.
func CloseGlobal(ctx context.Context) error {
	return Global().Close(ctx)
}
