package out

import (
	"context"
	"time"
)

// Cache is the fast shared store used for processing locks and job
// deduplication. Implementations must be correct across worker processes.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// SetNX sets the key only if absent, returning true when this caller
	// won. The TTL bounds lock lifetime so a crashed holder cannot wedge a
	// message forever.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}
