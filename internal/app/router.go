// internal/app/router.go
package app

import (
	adminHandler "billing-service/internal/handlers/admin"
	entitlementHandler "billing-service/internal/handlers/entitlement"
	healthHandler "billing-service/internal/handlers/health"
	webhookHandler "billing-service/internal/handlers/webhook"
	"billing-service/internal/middleware"
	"billing-service/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	WebhookHandler     *webhookHandler.WebhookHandler
	EntitlementHandler *entitlementHandler.EntitlementHandler
	AdminHandler       *adminHandler.AdminHandler
	HealthHandler      *healthHandler.HealthHandler
	AuthMiddleware     *middleware.AuthMiddleware
}

func SetupRouter(r *gin.Engine, h *Handlers) {
	// ==================== Probes & Metrics ====================
	r.GET("/healthz", h.HealthHandler.Healthz)
	r.GET("/ready", h.HealthHandler.Ready)
	r.GET("/live", h.HealthHandler.Live)
	r.GET("/metrics", metrics.Handler())

	api := r.Group("/v1")

	// ==================== Provider Webhooks ====================
	// Authenticated by signature, not by bearer credential.
	api.POST("/webhooks/provider", h.WebhookHandler.HandleProviderEvent)

	// ==================== Entitlement Reads ====================
	entitlements := api.Group("/entitlements")
	entitlements.Use(h.AuthMiddleware.TenantAuth())
	{
		entitlements.GET("", h.EntitlementHandler.GetEntitlements)
	}

	// ==================== Admin ====================
	admin := api.Group("/admin")
	admin.Use(h.AuthMiddleware.AdminAuth())
	{
		admin.POST("/grant", h.AdminHandler.Grant)
		admin.POST("/revoke", h.AdminHandler.Revoke)
		admin.POST("/reconcile", h.AdminHandler.Reconcile)
	}
}
