// internal/cache/lease.go
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lease is a best-effort leader lease over Redis. One replica wins the SetNX
// for a scheduled tick; the short TTL releases the lease if that replica
// dies mid-run.
type Lease struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

func NewLease(client redis.UniversalClient, key string, ttl time.Duration) *Lease {
	return &Lease{client: client, key: key, ttl: ttl}
}

// Acquire returns true when this replica holds the lease for the tick
// identified by token. On any Redis error it returns false: losing a tick is
// safer than running the sweep on every replica.
func (l *Lease) Acquire(ctx context.Context, token string) bool {
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false
	}
	return ok
}
