// internal/handlers/admin/admin_handler.go
package admin

import (
	"net/http"

	"billing-service/internal/domain/grant"
	"billing-service/internal/middleware"
	xerrors "billing-service/internal/pkg/errors"
	"billing-service/internal/pkg/response"
	adminservice "billing-service/internal/service/admin"
	"billing-service/internal/service/reconciler"

	"github.com/gin-gonic/gin"
)

type AdminHandler struct {
	adminService *adminservice.Service
	reconciler   *reconciler.Service
}

func NewAdminHandler(adminService *adminservice.Service, reconcilerService *reconciler.Service) *AdminHandler {
	return &AdminHandler{adminService: adminService, reconciler: reconcilerService}
}

// Grant creates a manual grant and returns the resulting aggregated view.
func (h *AdminHandler) Grant(c *gin.Context) {
	actor := middleware.MustGetAdminActor(c)

	var req grant.GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request")
		return
	}

	view, err := h.adminService.Grant(c.Request.Context(), actor, &req)
	if err != nil {
		switch {
		case xerrors.Is(err, xerrors.ErrInvalidInput):
			response.ValidationError(c, "reason is required")
		case xerrors.Is(err, xerrors.ErrNotFound):
			response.NotFound(c, "tenant not found")
		case xerrors.IsTransient(err):
			response.Unavailable(c, "grant not applied, retry later")
		default:
			response.Error(c, http.StatusInternalServerError, "failed to apply grant")
		}
		return
	}

	c.JSON(http.StatusOK, view)
}

// Revoke revokes the latest non-revoked grant for the triple.
func (h *AdminHandler) Revoke(c *gin.Context) {
	actor := middleware.MustGetAdminActor(c)

	var req grant.RevokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request")
		return
	}

	view, err := h.adminService.Revoke(c.Request.Context(), actor, &req)
	if err != nil {
		switch {
		case xerrors.Is(err, xerrors.ErrNotFound):
			response.NotFound(c, "no active grant for this user and feature")
		case xerrors.IsTransient(err):
			response.Unavailable(c, "revoke not applied, retry later")
		default:
			response.Error(c, http.StatusInternalServerError, "failed to revoke grant")
		}
		return
	}

	c.JSON(http.StatusOK, view)
}

// Reconcile triggers a full reconciliation sweep on demand and returns the
// summary.
func (h *AdminHandler) Reconcile(c *gin.Context) {
	summary, err := h.reconciler.Run(c.Request.Context())
	if err != nil {
		if xerrors.IsTransient(err) {
			response.Unavailable(c, "reconciliation unavailable, retry later")
			return
		}
		response.Error(c, http.StatusInternalServerError, "reconciliation failed")
		return
	}

	c.JSON(http.StatusOK, summary)
}
