// internal/cache/entitlement_cache.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"billing-service/internal/domain/entitlement"
	"billing-service/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EntitlementCache holds the aggregated entitlement view per (tenant, user)
// under ent:{tenant_id}:{user_id}. The TTL defaults to 5 minutes; the cache
// is advisory, the database stays the source of truth. Every read error
// degrades to a miss and every write error is logged and ignored.
type EntitlementCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

func NewEntitlementCache(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *EntitlementCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &EntitlementCache{client: client, ttl: ttl, logger: logger}
}

func Key(tenantID, userID string) string {
	return fmt.Sprintf("ent:%s:%s", tenantID, userID)
}

// Get returns the cached view, or (nil, false) on miss or any cache error.
func (c *EntitlementCache) Get(ctx context.Context, tenantID, userID string) (*entitlement.View, bool) {
	raw, err := c.client.Get(ctx, Key(tenantID, userID)).Bytes()
	if err == redis.Nil {
		metrics.CacheMisses.Inc()
		return nil, false
	}
	if err != nil {
		c.logger.Warn("entitlement cache get failed",
			zap.String("tenant_id", tenantID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		metrics.CacheMisses.Inc()
		return nil, false
	}

	var view entitlement.View
	if err := json.Unmarshal(raw, &view); err != nil {
		c.logger.Warn("entitlement cache entry corrupt", zap.String("key", Key(tenantID, userID)), zap.Error(err))
		metrics.CacheMisses.Inc()
		return nil, false
	}

	metrics.CacheHits.Inc()
	return &view, true
}

// Set stores the view best-effort. Callers must only invoke this after their
// transaction has committed; populating the cache inside a transaction would
// let readers observe pre-commit data past the eviction.
func (c *EntitlementCache) Set(ctx context.Context, view *entitlement.View) {
	raw, err := json.Marshal(view)
	if err != nil {
		c.logger.Warn("failed to marshal entitlement view", zap.Error(err))
		return
	}

	if err := c.client.Set(ctx, Key(view.TenantID, view.UserID), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("entitlement cache set failed",
			zap.String("tenant_id", view.TenantID),
			zap.String("user_id", view.UserID),
			zap.Error(err),
		)
	}
}

// Evict drops the pair's entry. A failed delete is logged and swallowed:
// readers self-correct at TTL, and the database already holds the truth.
func (c *EntitlementCache) Evict(ctx context.Context, tenantID, userID string) {
	if err := c.client.Del(ctx, Key(tenantID, userID)).Err(); err != nil {
		c.logger.Warn("entitlement cache evict failed",
			zap.String("tenant_id", tenantID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}
