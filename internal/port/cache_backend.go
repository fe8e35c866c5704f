package port

import (
	"context"
	"errors"
	"time"
)

var ErrCacheMiss = errors.New("cache miss")

type CacheBackend interface {
	// Get returns the stored bytes or ErrCacheMiss
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value with an absolute expiry of now + ttl, overwriting any entry
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the keys; absent keys are ignored
	Delete(ctx context.Context, keys ...string) error

	Ping(ctx context.Context) error
}
