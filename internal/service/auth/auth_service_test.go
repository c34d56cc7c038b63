package auth_test

import (
	"context"
	"testing"
	"time"

	"billing-service/internal/domain/tenant"
	xerrors "billing-service/internal/pkg/errors"
	"billing-service/internal/service/auth"
	"billing-service/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tenantCredential = "tk_live_4f9a1c772d8e4b1b9f3a6d2e8c5b7a10"
	adminCredential  = "ak_live_0b1d2f3a4c5e6d7f8a9b0c1d2e3f4a5b"
)

func newAuthService() (*auth.Service, *testutil.FakeTenantRepo) {
	repo := testutil.NewFakeTenantRepo()
	repo.AddTenant(tenant.Tenant{
		ID: 1, TenantID: "tnt_a", Name: "tenant a", Active: true,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}, auth.HashCredential(tenantCredential))
	return auth.NewService(repo, adminCredential), repo
}

func TestHashCredentialIsStableHex(t *testing.T) {
	h := auth.HashCredential(tenantCredential)
	assert.Len(t, h, 64)
	assert.Equal(t, h, auth.HashCredential(tenantCredential))
	assert.NotEqual(t, h, auth.HashCredential(tenantCredential+"x"))
}

func TestResolveTenant(t *testing.T) {
	svc, _ := newAuthService()
	ctx := context.Background()

	tnt, err := svc.ResolveTenant(ctx, tenantCredential)
	require.NoError(t, err)
	assert.Equal(t, "tnt_a", tnt.TenantID)

	_, err = svc.ResolveTenant(ctx, "tk_live_wrong")
	assert.ErrorIs(t, err, xerrors.ErrUnauthorized)

	_, err = svc.ResolveTenant(ctx, "")
	assert.ErrorIs(t, err, xerrors.ErrUnauthorized)
}

func TestResolveTenantInactiveIsForbidden(t *testing.T) {
	repo := testutil.NewFakeTenantRepo()
	repo.AddTenant(tenant.Tenant{ID: 1, TenantID: "tnt_b", Active: false}, auth.HashCredential(tenantCredential))
	svc := auth.NewService(repo, adminCredential)

	_, err := svc.ResolveTenant(context.Background(), tenantCredential)
	assert.ErrorIs(t, err, xerrors.ErrForbidden)
}

func TestVerifyAdmin(t *testing.T) {
	svc, _ := newAuthService()

	actor, err := svc.VerifyAdmin(adminCredential)
	require.NoError(t, err)
	assert.NotEmpty(t, actor)

	_, err = svc.VerifyAdmin(tenantCredential)
	assert.ErrorIs(t, err, xerrors.ErrUnauthorized)

	_, err = svc.VerifyAdmin("")
	assert.ErrorIs(t, err, xerrors.ErrUnauthorized)
}

func TestVerifyAdminUnconfiguredIsTransient(t *testing.T) {
	svc := auth.NewService(testutil.NewFakeTenantRepo(), "")
	_, err := svc.VerifyAdmin(adminCredential)
	require.Error(t, err)
	assert.True(t, xerrors.IsTransient(err))
}

func TestConstantTimeEqual(t *testing.T) {
	assert.True(t, auth.ConstantTimeEqual("abcdef", "abcdef"))
	assert.False(t, auth.ConstantTimeEqual("abcdef", "abcdeg"))
	// Differing lengths never compare equal and never panic.
	assert.False(t, auth.ConstantTimeEqual("abc", "abcdef"))

	// The comparison is over fixed-width digests, so the compared inputs
	// always have identical length regardless of the presented credential.
	assert.Len(t, auth.HashCredential("x"), 64)
	assert.Len(t, auth.HashCredential(tenantCredential), 64)
}
