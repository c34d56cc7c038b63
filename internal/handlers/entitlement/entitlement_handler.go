// internal/handlers/entitlement/entitlement_handler.go
package entitlement

import (
	"net/http"

	"billing-service/internal/middleware"
	xerrors "billing-service/internal/pkg/errors"
	"billing-service/internal/pkg/response"
	service "billing-service/internal/service/entitlement"

	"github.com/gin-gonic/gin"
)

type EntitlementHandler struct {
	entitlementService *service.Service
}

func NewEntitlementHandler(entitlementService *service.Service) *EntitlementHandler {
	return &EntitlementHandler{entitlementService: entitlementService}
}

// GetEntitlements serves the aggregated entitlement view for one user of the
// authenticated tenant. The tenant scope comes from the credential, never
// from the request.
func (h *EntitlementHandler) GetEntitlements(c *gin.Context) {
	tenantID := middleware.MustGetTenantID(c)

	userID := c.Query("user_id")
	if userID == "" {
		response.ValidationError(c, "user_id is required")
		return
	}

	// A tenant may spell out its own id; any other value is a cross-tenant
	// probe and is refused.
	if reqTenant := c.Query("tenant_id"); reqTenant != "" && reqTenant != tenantID {
		response.Forbidden(c, "tenant mismatch")
		return
	}

	view, err := h.entitlementService.GetEntitlements(c.Request.Context(), tenantID, userID)
	if err != nil {
		if xerrors.IsTransient(err) {
			response.Unavailable(c, "entitlements unavailable, retry later")
			return
		}
		response.Error(c, http.StatusInternalServerError, "failed to load entitlements")
		return
	}

	c.JSON(http.StatusOK, view)
}
