// internal/testutil/fixtures.go
package testutil

import (
	"testing"
	"time"

	"billing-service/internal/cache"
	"billing-service/internal/domain/catalog"
	"billing-service/internal/domain/tenant"
	entitlementsvc "billing-service/internal/service/entitlement"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewTestCache spins up a miniredis-backed entitlement cache. The server is
// torn down with the test.
func NewTestCache(t *testing.T, ttl time.Duration) (*cache.EntitlementCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return cache.NewEntitlementCache(client, ttl, zap.NewNop()), mr
}

// Env wires the full fake persistence layer plus a miniredis cache around an
// entitlement service, the shared substrate of most service tests.
type Env struct {
	DB           *FakeDB
	Tenants      *FakeTenantRepo
	Catalog      *FakeCatalogRepo
	Subs         *FakeSubscriptionRepo
	Purchases    *FakePurchaseRepo
	Grants       *FakeGrantRepo
	Entitlements *FakeEntitlementRepo
	Events       *FakeEventRepo
	Audit        *FakeAuditRepo
	Provider     *FakeProviderClient

	Cache     *cache.EntitlementCache
	Redis     *miniredis.Miniredis
	Service   *entitlementsvc.Service
	PastGrace time.Duration
}

func NewEnv(t *testing.T) *Env {
	t.Helper()

	entCache, mr := NewTestCache(t, 5*time.Minute)

	env := &Env{
		DB:           &FakeDB{},
		Tenants:      NewFakeTenantRepo(),
		Catalog:      NewFakeCatalogRepo(),
		Subs:         NewFakeSubscriptionRepo(),
		Purchases:    NewFakePurchaseRepo(),
		Grants:       NewFakeGrantRepo(),
		Entitlements: NewFakeEntitlementRepo(),
		Events:       NewFakeEventRepo(),
		Audit:        NewFakeAuditRepo(),
		Provider:     NewFakeProviderClient(),
		Cache:        entCache,
		Redis:        mr,
	}

	env.Service = entitlementsvc.NewService(
		env.DB,
		env.Subs,
		env.Purchases,
		env.Grants,
		env.Catalog,
		env.Entitlements,
		env.Cache,
		env.PastGrace,
		zap.NewNop(),
	)

	return env
}

// SeedTenant registers an active tenant with one credential hash.
func (e *Env) SeedTenant(tenantID, credentialHash string) tenant.Tenant {
	t := tenant.Tenant{
		ID:        int64(len(e.Tenants.Tenants) + 1),
		TenantID:  tenantID,
		Name:      tenantID,
		Active:    true,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	e.Tenants.AddTenant(t, credentialHash)
	return t
}

// SeedPrice registers a price and its product's feature codes.
func (e *Env) SeedPrice(id int64, providerPriceID string, cadence catalog.Cadence, features ...string) catalog.Price {
	p := catalog.Price{
		ID:              id,
		ProductID:       id,
		ProviderPriceID: providerPriceID,
		Amount:          999,
		Currency:        "usd",
		Cadence:         cadence,
		Active:          true,
		CreatedAt:       time.Now().UTC(),
	}
	e.Catalog.AddPrice(p, features)
	return p
}
