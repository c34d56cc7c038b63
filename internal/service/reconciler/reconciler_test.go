package reconciler_test

import (
	"context"
	"testing"
	"time"

	"billing-service/internal/domain/catalog"
	"billing-service/internal/domain/purchase"
	"billing-service/internal/domain/subscription"
	"billing-service/internal/provider"
	reconcilersvc "billing-service/internal/service/reconciler"
	"billing-service/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newReconciler(t *testing.T, env *testutil.Env) *reconcilersvc.Service {
	t.Helper()

	return reconcilersvc.NewService(
		env.DB,
		env.Tenants,
		env.Subs,
		env.Purchases,
		env.Catalog,
		env.Provider,
		env.Service,
		7,
		zap.NewNop(),
	)
}

func seedLocalSubscription(t *testing.T, env *testutil.Env, status subscription.Status, end time.Time) {
	t.Helper()

	tx, err := env.DB.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, env.Subs.CreateWithTx(context.Background(), tx, &subscription.Subscription{
		TenantID:               "tnt_a",
		UserID:                 "usr_1",
		ProviderSubscriptionID: "sub_2",
		PriceID:                10,
		Status:                 status,
		CurrentPeriodStart:     time.Now().UTC().Add(-time.Hour).Truncate(time.Second),
		CurrentPeriodEnd:       end.Truncate(time.Second),
	}))
}

func TestReconcilerRepairsDrift(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SeedTenant("tnt_a", "")
	env.SeedPrice(10, "price_M", catalog.CadenceMonth, "pro")
	svc := newReconciler(t, env)
	ctx := context.Background()

	// Locally active with ten days left; provider says canceled.
	end := time.Now().UTC().Add(10 * 24 * time.Hour).Truncate(time.Second)
	seedLocalSubscription(t, env, subscription.StatusActive, end)
	require.NoError(t, env.Service.Recompute(ctx, "tnt_a", "usr_1"))
	view, err := env.Service.GetEntitlements(ctx, "tnt_a", "usr_1")
	require.NoError(t, err)
	require.Len(t, view.Entitlements, 1)

	canceledAt := time.Now().Unix()
	env.Provider.Subscriptions["tnt_a"] = []provider.Subscription{{
		ID:                 "sub_2",
		PriceID:            "price_M",
		Status:             "canceled",
		CurrentPeriodStart: time.Now().Add(-time.Hour).Unix(),
		CurrentPeriodEnd:   end.Unix(),
		CanceledAt:         &canceledAt,
		Metadata:           map[string]string{"tenant_id": "tnt_a", "user_id": "usr_1"},
	}}

	summary, err := svc.Run(ctx)
	require.NoError(t, err)
	require.Len(t, summary.Tenants, 1)
	assert.Equal(t, 1, summary.Tenants[0].SubscriptionsChecked)
	assert.Equal(t, 1, summary.Tenants[0].DriftDetected)
	assert.Equal(t, 1, summary.Tenants[0].Corrected)
	assert.Empty(t, summary.Tenants[0].Errors)

	sub, err := env.Subs.FindByProviderID(ctx, "sub_2")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCanceled, sub.Status)

	// The eviction happened: the next read reflects the cancellation before
	// any TTL expiry.
	view, err = env.Service.GetEntitlements(ctx, "tnt_a", "usr_1")
	require.NoError(t, err)
	assert.Empty(t, view.Entitlements)
}

func TestReconcilerInsertsMissingRecords(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SeedTenant("tnt_a", "")
	env.SeedPrice(10, "price_M", catalog.CadenceMonth, "pro")
	env.SeedPrice(20, "price_life", catalog.CadenceOneTime, "lifetime_x")
	svc := newReconciler(t, env)
	ctx := context.Background()

	end := time.Now().UTC().Add(30 * 24 * time.Hour)
	env.Provider.Subscriptions["tnt_a"] = []provider.Subscription{{
		ID:                 "sub_new",
		PriceID:            "price_M",
		Status:             "active",
		CurrentPeriodStart: time.Now().Add(-time.Hour).Unix(),
		CurrentPeriodEnd:   end.Unix(),
		Metadata:           map[string]string{"tenant_id": "tnt_a", "user_id": "usr_1"},
	}}
	env.Provider.Charges["tnt_a"] = []provider.Charge{{
		ID:       "ch_new",
		PriceID:  "price_life",
		Amount:   4999,
		Currency: "usd",
		Status:   "succeeded",
		Created:  time.Now().Add(-time.Hour).Unix(),
		Metadata: map[string]string{"tenant_id": "tnt_a", "user_id": "usr_2"},
	}}

	summary, err := svc.Run(ctx)
	require.NoError(t, err)
	require.Len(t, summary.Tenants, 1)
	assert.Equal(t, 2, summary.Tenants[0].Corrected)

	sub, err := env.Subs.FindByProviderID(ctx, "sub_new")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, sub.Status)

	p, err := env.Purchases.FindByProviderChargeID(ctx, "ch_new")
	require.NoError(t, err)
	assert.Equal(t, purchase.StatusSucceeded, p.Status)

	view, err := env.Service.GetEntitlements(ctx, "tnt_a", "usr_1")
	require.NoError(t, err)
	require.Len(t, view.Entitlements, 1)
	assert.Equal(t, "pro", view.Entitlements[0].FeatureCode)
}

func TestReconcilerNoDriftNoWrites(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SeedTenant("tnt_a", "")
	env.SeedPrice(10, "price_M", catalog.CadenceMonth, "pro")
	svc := newReconciler(t, env)
	ctx := context.Background()

	end := time.Now().UTC().Add(10 * 24 * time.Hour).Truncate(time.Second)
	seedLocalSubscription(t, env, subscription.StatusActive, end)
	local, err := env.Subs.FindByProviderID(ctx, "sub_2")
	require.NoError(t, err)

	env.Provider.Subscriptions["tnt_a"] = []provider.Subscription{{
		ID:                 "sub_2",
		PriceID:            "price_M",
		Status:             "active",
		CurrentPeriodStart: local.CurrentPeriodStart.Unix(),
		CurrentPeriodEnd:   local.CurrentPeriodEnd.Unix(),
	}}

	summary, err := svc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Tenants[0].DriftDetected)
	assert.Equal(t, 0, summary.Tenants[0].Corrected)
}

func TestReconcilerToleratesPartialFailure(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SeedTenant("tnt_a", "")
	env.SeedTenant("tnt_b", "")
	env.SeedPrice(10, "price_M", catalog.CadenceMonth, "pro")
	svc := newReconciler(t, env)
	ctx := context.Background()

	// tnt_a: one record with an unknown price (per-record error) and one
	// healthy record.
	end := time.Now().UTC().Add(30 * 24 * time.Hour)
	env.Provider.Subscriptions["tnt_a"] = []provider.Subscription{
		{
			ID: "sub_bad", PriceID: "price_unknown", Status: "active",
			CurrentPeriodEnd: end.Unix(),
			Metadata:         map[string]string{"user_id": "usr_9"},
		},
		{
			ID: "sub_ok", PriceID: "price_M", Status: "active",
			CurrentPeriodStart: time.Now().Add(-time.Hour).Unix(),
			CurrentPeriodEnd:   end.Unix(),
			Metadata:           map[string]string{"user_id": "usr_1"},
		},
	}

	summary, err := svc.Run(ctx)
	require.NoError(t, err)
	require.Len(t, summary.Tenants, 2)

	a := summary.Tenants[0]
	assert.Equal(t, "tnt_a", a.TenantID)
	assert.Equal(t, 2, a.SubscriptionsChecked)
	assert.Equal(t, 1, a.Corrected)
	assert.Len(t, a.Errors, 1)

	// The healthy record landed despite the bad one.
	_, err = env.Subs.FindByProviderID(ctx, "sub_ok")
	assert.NoError(t, err)
}

func TestSchedulerTickBoundaries(t *testing.T) {
	env := testutil.NewEnv(t)
	svc := newReconciler(t, env)
	sched := reconcilersvc.NewScheduler(svc, 2, nil, zap.NewNop())

	// Scheduler computes the strictly-next 02:00 UTC.
	now := time.Date(2026, 8, 1, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 1, 2, 0, 0, 0, time.UTC), reconcilersvc.NextTickForTest(sched, now))

	now = time.Date(2026, 8, 1, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 2, 2, 0, 0, 0, time.UTC), reconcilersvc.NextTickForTest(sched, now))

	now = time.Date(2026, 8, 1, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 2, 2, 0, 0, 0, time.UTC), reconcilersvc.NextTickForTest(sched, now))
}
