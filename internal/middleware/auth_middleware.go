// internal/middleware/auth_middleware.go
package middleware

import (
	"strings"

	xerrors "billing-service/internal/pkg/errors"
	"billing-service/internal/pkg/response"
	"billing-service/internal/service/auth"

	"github.com/gin-gonic/gin"
)

type AuthMiddleware struct {
	authService *auth.Service
}

func NewAuthMiddleware(authService *auth.Service) *AuthMiddleware {
	return &AuthMiddleware{authService: authService}
}

// TenantAuth resolves the bearer credential to a tenant and stores the
// tenant id in the request context. Every tenant-facing endpoint sits
// behind this.
func (m *AuthMiddleware) TenantAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		credential := extractBearer(c)
		if credential == "" {
			response.Unauthorized(c, "missing credential")
			return
		}

		t, err := m.authService.ResolveTenant(c.Request.Context(), credential)
		if err != nil {
			switch {
			case xerrors.Is(err, xerrors.ErrUnauthorized):
				response.Unauthorized(c, "invalid credential")
			case xerrors.Is(err, xerrors.ErrForbidden):
				response.Forbidden(c, "tenant is not active")
			default:
				response.Unavailable(c, "temporarily unavailable")
			}
			return
		}

		c.Set("tenant_id", t.TenantID)
		c.Next()
	}
}

// AdminAuth verifies the elevated admin credential, distinct from tenant
// credentials, and stores the actor identifier for audit lines.
func (m *AuthMiddleware) AdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		credential := extractBearer(c)
		if credential == "" {
			response.Unauthorized(c, "missing credential")
			return
		}

		actor, err := m.authService.VerifyAdmin(credential)
		if err != nil {
			if xerrors.Is(err, xerrors.ErrUnauthorized) {
				response.Unauthorized(c, "invalid credential")
			} else {
				response.Unavailable(c, "temporarily unavailable")
			}
			return
		}

		c.Set("admin_actor", actor)
		c.Next()
	}
}

func extractBearer(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// MustGetTenantID gets the resolved tenant id from context or panics; only
// reachable behind TenantAuth.
func MustGetTenantID(c *gin.Context) string {
	tenantID, exists := c.Get("tenant_id")
	if !exists {
		panic("tenant_id not found in context")
	}
	return tenantID.(string)
}

// MustGetAdminActor gets the admin actor from context or panics; only
// reachable behind AdminAuth.
func MustGetAdminActor(c *gin.Context) string {
	actor, exists := c.Get("admin_actor")
	if !exists {
		panic("admin_actor not found in context")
	}
	return actor.(string)
}
