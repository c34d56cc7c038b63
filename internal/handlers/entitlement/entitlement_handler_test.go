package entitlement_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"billing-service/internal/domain/catalog"
	domain "billing-service/internal/domain/entitlement"
	"billing-service/internal/domain/subscription"
	handler "billing-service/internal/handlers/entitlement"
	"billing-service/internal/middleware"
	"billing-service/internal/service/auth"
	"billing-service/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	credentialA = "tk_live_4f9a1c772d8e4b1b9f3a6d2e8c5b7a10"
	credentialB = "tk_live_9e8d7c6b5a4f3e2d1c0b9a8f7e6d5c4b"
)

func newEntitlementRouter(t *testing.T) (*gin.Engine, *testutil.Env) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := testutil.NewEnv(t)
	env.SeedTenant("tnt_a", auth.HashCredential(credentialA))
	env.SeedTenant("tnt_b", auth.HashCredential(credentialB))

	authService := auth.NewService(env.Tenants, "ak_admin")
	m := middleware.NewAuthMiddleware(authService)
	h := handler.NewEntitlementHandler(env.Service)

	r := gin.New()
	r.GET("/v1/entitlements", m.TenantAuth(), h.GetEntitlements)
	return r, env
}

func get(r *gin.Engine, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func seedProEntitlement(t *testing.T, env *testutil.Env, tenantID, userID string) {
	t.Helper()
	ctx := context.Background()

	env.SeedPrice(10, "price_M", catalog.CadenceMonth, "pro")
	tx, err := env.DB.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, env.Subs.CreateWithTx(ctx, tx, &subscription.Subscription{
		TenantID:               tenantID,
		UserID:                 userID,
		ProviderSubscriptionID: "sub_" + tenantID,
		PriceID:                10,
		Status:                 subscription.StatusActive,
		CurrentPeriodStart:     time.Now().UTC().Add(-time.Hour),
		CurrentPeriodEnd:       time.Now().UTC().Add(30 * 24 * time.Hour),
	}))
	require.NoError(t, env.Service.Recompute(ctx, tenantID, userID))
}

func TestGetEntitlementsResponseShape(t *testing.T) {
	r, env := newEntitlementRouter(t)
	seedProEntitlement(t, env, "tnt_a", "usr_1")

	w := get(r, "/v1/entitlements?user_id=usr_1", credentialA)
	require.Equal(t, http.StatusOK, w.Code)

	var view domain.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "tnt_a", view.TenantID)
	assert.Equal(t, "usr_1", view.UserID)
	assert.False(t, view.CheckedAt.IsZero())
	require.Len(t, view.Entitlements, 1)
	assert.Equal(t, "pro", view.Entitlements[0].FeatureCode)
	assert.True(t, view.Entitlements[0].IsActive)
	assert.Equal(t, domain.SourceSubscription, view.Entitlements[0].Source)
}

func TestGetEntitlementsRequiresUserID(t *testing.T) {
	r, _ := newEntitlementRouter(t)
	assert.Equal(t, http.StatusBadRequest, get(r, "/v1/entitlements", credentialA).Code)
}

func TestGetEntitlementsRequiresCredential(t *testing.T) {
	r, _ := newEntitlementRouter(t)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/v1/entitlements?user_id=usr_1", "").Code)
}

func TestTenantIsolation(t *testing.T) {
	r, env := newEntitlementRouter(t)
	seedProEntitlement(t, env, "tnt_b", "usr_b")

	// Tenant A explicitly asking for tenant B's scope is refused.
	w := get(r, "/v1/entitlements?user_id=usr_b&tenant_id=tnt_b", credentialA)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Without the explicit scope, the read happens inside tenant A and
	// tenant B's rows never appear.
	w = get(r, "/v1/entitlements?user_id=usr_b", credentialA)
	require.Equal(t, http.StatusOK, w.Code)
	var view domain.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "tnt_a", view.TenantID)
	assert.Empty(t, view.Entitlements)
}
