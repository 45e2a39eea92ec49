// Package state keeps short-lived keyed values, such as proxied upstream
// responses, in memory.
package state

import (
	"context"
	"errors"
	"time"
)

// Common store errors.
var (
	ErrKeyNotFound = errors.New("key not found")
	ErrStoreClosed = errors.New("store is closed")
)

// Store is a keyed byte store with per-key expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value. A ttl of zero never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, key string) error
	Close() error
}
