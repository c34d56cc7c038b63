package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"billing-service/internal/domain/tenant"
	"billing-service/internal/middleware"
	"billing-service/internal/service/auth"
	"billing-service/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

const (
	tenantCredential = "tk_live_4f9a1c772d8e4b1b9f3a6d2e8c5b7a10"
	adminCredential  = "ak_live_0b1d2f3a4c5e6d7f8a9b0c1d2e3f4a5b"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := testutil.NewFakeTenantRepo()
	repo.AddTenant(tenant.Tenant{
		ID: 1, TenantID: "tnt_a", Active: true,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}, auth.HashCredential(tenantCredential))

	m := middleware.NewAuthMiddleware(auth.NewService(repo, adminCredential))

	r := gin.New()
	r.GET("/tenant", m.TenantAuth(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"tenant_id": middleware.MustGetTenantID(c)})
	})
	r.GET("/admin", m.AdminAuth(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"actor": middleware.MustGetAdminActor(c)})
	})
	return r
}

func do(r *gin.Engine, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTenantAuth(t *testing.T) {
	r := newRouter(t)

	assert.Equal(t, http.StatusUnauthorized, do(r, "/tenant", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/tenant", "tk_wrong").Code)

	w := do(r, "/tenant", tenantCredential)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tnt_a")
}

func TestTenantAuthInactiveTenant(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := testutil.NewFakeTenantRepo()
	repo.AddTenant(tenant.Tenant{ID: 1, TenantID: "tnt_b", Active: false}, auth.HashCredential(tenantCredential))
	m := middleware.NewAuthMiddleware(auth.NewService(repo, adminCredential))

	r := gin.New()
	r.GET("/tenant", m.TenantAuth(), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusForbidden, do(r, "/tenant", tenantCredential).Code)
}

func TestAdminAuth(t *testing.T) {
	r := newRouter(t)

	assert.Equal(t, http.StatusUnauthorized, do(r, "/admin", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/admin", tenantCredential).Code)
	assert.Equal(t, http.StatusOK, do(r, "/admin", adminCredential).Code)
}

func TestMalformedAuthorizationHeader(t *testing.T) {
	r := newRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/tenant", nil)
	req.Header.Set("Authorization", "Basic abcdef")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
