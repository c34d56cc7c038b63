package admin_test

import (
	"context"
	"testing"
	"time"

	"billing-service/internal/domain/grant"
	"billing-service/internal/domain/subscription"
	xerrors "billing-service/internal/pkg/errors"
	adminsvc "billing-service/internal/service/admin"
	"billing-service/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newAdminService(t *testing.T, env *testutil.Env) *adminsvc.Service {
	t.Helper()

	return adminsvc.NewService(
		env.DB,
		env.Tenants,
		env.Grants,
		env.Audit,
		env.Service,
		zap.NewNop(),
	)
}

func TestGrantCreatesAndReturnsView(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SeedTenant("tnt_a", "")
	svc := newAdminService(t, env)
	ctx := context.Background()

	validTo := time.Now().UTC().Add(7 * 24 * time.Hour)
	view, err := svc.Grant(ctx, "admin:1", &grant.GrantRequest{
		TenantID:    "tnt_a",
		UserID:      "usr_1",
		FeatureCode: "pro",
		ValidTo:     &validTo,
		Reason:      "trial extension",
	})
	require.NoError(t, err)

	require.Len(t, view.Entitlements, 1)
	assert.Equal(t, "pro", view.Entitlements[0].FeatureCode)
	assert.True(t, view.Entitlements[0].IsActive)
	assert.Equal(t, "manual", string(view.Entitlements[0].Source))

	require.Len(t, env.Grants.Grants, 1)
	assert.Equal(t, "trial extension", env.Grants.Grants[0].Reason)
	assert.Equal(t, "admin:1", env.Grants.Grants[0].GrantedBy)

	// Independent audit line
	require.Len(t, env.Audit.Records, 1)
	assert.Equal(t, "grant", env.Audit.Records[0].Action)
	assert.Equal(t, "admin:1", env.Audit.Records[0].Actor)
}

func TestGrantRequiresReason(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SeedTenant("tnt_a", "")
	svc := newAdminService(t, env)

	_, err := svc.Grant(context.Background(), "admin:1", &grant.GrantRequest{
		TenantID:    "tnt_a",
		UserID:      "usr_1",
		FeatureCode: "pro",
	})
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
	assert.Empty(t, env.Grants.Grants)
}

func TestGrantUnknownTenant(t *testing.T) {
	env := testutil.NewEnv(t)
	svc := newAdminService(t, env)

	_, err := svc.Grant(context.Background(), "admin:1", &grant.GrantRequest{
		TenantID:    "tnt_missing",
		UserID:      "usr_1",
		FeatureCode: "pro",
		Reason:      "r",
	})
	assert.ErrorIs(t, err, xerrors.ErrNotFound)
}

func TestGrantIsIdempotent(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SeedTenant("tnt_a", "")
	svc := newAdminService(t, env)
	ctx := context.Background()

	req := &grant.GrantRequest{TenantID: "tnt_a", UserID: "usr_1", FeatureCode: "pro", Reason: "trial"}
	_, err := svc.Grant(ctx, "admin:1", req)
	require.NoError(t, err)

	// Granting an already-granted feature is a no-op success.
	view, err := svc.Grant(ctx, "admin:1", req)
	require.NoError(t, err)
	assert.Len(t, env.Grants.Grants, 1, "no second grant row")
	require.Len(t, view.Entitlements, 1)
	assert.True(t, view.Entitlements[0].IsActive)
}

func TestGrantSupersedesExpiredSubscription(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SeedTenant("tnt_a", "")
	svc := newAdminService(t, env)
	ctx := context.Background()

	// Expired subscription: contributes nothing.
	env.SeedPrice(10, "price_M", "month", "pro")
	tx, _ := env.DB.Begin(ctx)
	require.NoError(t, env.Subs.CreateWithTx(ctx, tx, &subscription.Subscription{
		TenantID:               "tnt_a",
		UserID:                 "usr_1",
		ProviderSubscriptionID: "sub_1",
		PriceID:                10,
		Status:                 subscription.StatusActive,
		CurrentPeriodStart:     time.Now().UTC().Add(-48 * time.Hour),
		CurrentPeriodEnd:       time.Now().UTC().Add(-24 * time.Hour),
	}))
	require.NoError(t, env.Service.Recompute(ctx, "tnt_a", "usr_1"))
	view, err := env.Service.GetEntitlements(ctx, "tnt_a", "usr_1")
	require.NoError(t, err)
	assert.Empty(t, view.Entitlements)

	validTo := time.Now().UTC().Add(7 * 24 * time.Hour)
	view, err = svc.Grant(ctx, "admin:1", &grant.GrantRequest{
		TenantID:    "tnt_a",
		UserID:      "usr_1",
		FeatureCode: "pro",
		ValidTo:     &validTo,
		Reason:      "trial",
	})
	require.NoError(t, err)
	require.Len(t, view.Entitlements, 1)
	assert.True(t, view.Entitlements[0].IsActive)
	assert.Equal(t, "manual", string(view.Entitlements[0].Source))
}

func TestRevoke(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SeedTenant("tnt_a", "")
	svc := newAdminService(t, env)
	ctx := context.Background()

	_, err := svc.Grant(ctx, "admin:1", &grant.GrantRequest{
		TenantID: "tnt_a", UserID: "usr_1", FeatureCode: "pro", Reason: "trial",
	})
	require.NoError(t, err)

	view, err := svc.Revoke(ctx, "admin:2", &grant.RevokeRequest{
		TenantID: "tnt_a", UserID: "usr_1", FeatureCode: "pro", Reason: "abuse",
	})
	require.NoError(t, err)
	assert.Empty(t, view.Entitlements)

	g := env.Grants.Grants[0]
	assert.True(t, g.RevokedAt.Valid)
	assert.Equal(t, "admin:2", g.RevokedBy.String)
	assert.Equal(t, "abuse", g.RevokeReason.String)

	// Second revoke finds nothing active.
	_, err = svc.Revoke(ctx, "admin:2", &grant.RevokeRequest{
		TenantID: "tnt_a", UserID: "usr_1", FeatureCode: "pro",
	})
	assert.ErrorIs(t, err, xerrors.ErrNotFound)
}

func TestRevokeWithoutGrant(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SeedTenant("tnt_a", "")
	svc := newAdminService(t, env)

	_, err := svc.Revoke(context.Background(), "admin:1", &grant.RevokeRequest{
		TenantID: "tnt_a", UserID: "usr_1", FeatureCode: "pro",
	})
	assert.ErrorIs(t, err, xerrors.ErrNotFound)
}
