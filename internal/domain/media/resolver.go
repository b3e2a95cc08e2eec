package media

import (
	"context"
	"time"
)

// Resolver turns a stored media reference into a time-limited access URL.
// An empty URL with a nil error means the reference could not be resolved.
type Resolver interface {
	Resolve(ctx context.Context, reference string, ttl time.Duration) (string, error)
}

// NoopResolver never resolves anything. It is used when media storage is not configured.
type NoopResolver struct{}

func (NoopResolver) Resolve(context.Context, string, time.Duration) (string, error) {
	return "", nil
}
