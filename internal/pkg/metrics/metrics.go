// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_webhook_events_total",
		Help: "Webhook events received, partitioned by type and outcome.",
	}, []string{"event_type", "outcome"})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_entitlement_cache_hits_total",
		Help: "Entitlement cache hits.",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_entitlement_cache_misses_total",
		Help: "Entitlement cache misses, including cache errors treated as misses.",
	})

	Recomputations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_entitlement_recomputations_total",
		Help: "Entitlement recomputations across webhook, admin and reconciler paths.",
	})

	ReconcileCorrections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_reconcile_corrections_total",
		Help: "Local records overwritten by the reconciler after drift detection.",
	})
)

// Handler exposes the prometheus registry on a gin route.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
