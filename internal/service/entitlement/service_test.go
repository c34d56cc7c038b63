package entitlement_test

import (
	"context"
	"testing"
	"time"

	"billing-service/internal/domain/catalog"
	domain "billing-service/internal/domain/entitlement"
	"billing-service/internal/domain/subscription"
	xerrors "billing-service/internal/pkg/errors"
	"billing-service/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedActiveSubscription(t *testing.T, env *testutil.Env, providerSubID string, end time.Time) {
	t.Helper()

	env.SeedPrice(10, "price_M", catalog.CadenceMonth, "pro")
	tx, err := env.DB.Begin(context.Background())
	require.NoError(t, err)
	err = env.Subs.CreateWithTx(context.Background(), tx, &subscription.Subscription{
		TenantID:               "tnt_a",
		UserID:                 "usr_1",
		ProviderSubscriptionID: providerSubID,
		PriceID:                10,
		Status:                 subscription.StatusActive,
		CurrentPeriodStart:     time.Now().UTC().Add(-time.Hour),
		CurrentPeriodEnd:       end,
	})
	require.NoError(t, err)
}

func TestRecomputeMaterializesAndEvicts(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	seedActiveSubscription(t, env, "sub_1", time.Now().UTC().Add(30*24*time.Hour))

	// Plant a stale cache entry that the recompute must drop.
	env.Cache.Set(ctx, &domain.View{TenantID: "tnt_a", UserID: "usr_1"})

	require.NoError(t, env.Service.Recompute(ctx, "tnt_a", "usr_1"))

	rows, err := env.Entitlements.ListByUser(ctx, "tnt_a", "usr_1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "pro", rows[0].FeatureCode)

	_, ok := env.Cache.Get(ctx, "tnt_a", "usr_1")
	assert.False(t, ok, "cache entry must be evicted after commit")
}

func TestRecomputeIsStable(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	seedActiveSubscription(t, env, "sub_1", time.Now().UTC().Add(30*24*time.Hour))

	require.NoError(t, env.Service.Recompute(ctx, "tnt_a", "usr_1"))
	first, err := env.Entitlements.ListByUser(ctx, "tnt_a", "usr_1")
	require.NoError(t, err)

	require.NoError(t, env.Service.Recompute(ctx, "tnt_a", "usr_1"))
	second, err := env.Entitlements.ListByUser(ctx, "tnt_a", "usr_1")
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].FeatureCode, second[i].FeatureCode)
		assert.Equal(t, first[i].Source, second[i].Source)
		assert.Equal(t, first[i].SourceRef, second[i].SourceRef)
		assert.Equal(t, first[i].ValidTo, second[i].ValidTo)
	}
}

func TestGetEntitlementsPopulatesCache(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	seedActiveSubscription(t, env, "sub_1", time.Now().UTC().Add(30*24*time.Hour))
	require.NoError(t, env.Service.Recompute(ctx, "tnt_a", "usr_1"))

	view, err := env.Service.GetEntitlements(ctx, "tnt_a", "usr_1")
	require.NoError(t, err)
	require.Len(t, view.Entitlements, 1)
	assert.Equal(t, "pro", view.Entitlements[0].FeatureCode)
	assert.True(t, view.Entitlements[0].IsActive)

	// The next read is served from the cache: mutate the store underneath
	// and observe the cached value until eviction.
	env.Entitlements.Stored = map[string][]domain.Entitlement{}
	view, err = env.Service.GetEntitlements(ctx, "tnt_a", "usr_1")
	require.NoError(t, err)
	assert.Len(t, view.Entitlements, 1, "expected cached view")

	env.Service.EvictCache(ctx, "tnt_a", "usr_1")
	view, err = env.Service.GetEntitlements(ctx, "tnt_a", "usr_1")
	require.NoError(t, err)
	assert.Empty(t, view.Entitlements)
}

func TestGetEntitlementsFailsOpenOnCacheDownOnly(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	seedActiveSubscription(t, env, "sub_1", time.Now().UTC().Add(30*24*time.Hour))
	require.NoError(t, env.Service.Recompute(ctx, "tnt_a", "usr_1"))

	// Cache down: reads still succeed from the database.
	env.Redis.Close()
	view, err := env.Service.GetEntitlements(ctx, "tnt_a", "usr_1")
	require.NoError(t, err)
	assert.Len(t, view.Entitlements, 1)

	// Database down too: that is a transient failure, never an empty 200.
	env.Entitlements.ListErr = assert.AnError
	_, err = env.Service.GetEntitlements(ctx, "tnt_a", "usr_1")
	require.Error(t, err)
	assert.True(t, xerrors.IsTransient(err))
}
