// internal/handlers/webhook/webhook_handler.go
package webhook

import (
	"errors"
	"io"
	"net/http"
	"time"

	xerrors "billing-service/internal/pkg/errors"
	"billing-service/internal/pkg/response"
	service "billing-service/internal/service/webhook"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SignatureHeader carries the provider's timestamped HMAC digests.
const SignatureHeader = "signature"

type WebhookHandler struct {
	ingestor *service.Service
	logger   *zap.Logger
}

func NewWebhookHandler(ingestor *service.Service, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{ingestor: ingestor, logger: logger}
}

// HandleProviderEvent accepts one signed provider notification.
//
// 200 acknowledges processing, duplicates and permanent failures alike, so
// the provider stops retrying; 401 rejects bad signatures and stale
// timestamps; 503 invites a retry on transient infrastructure failures.
func (h *WebhookHandler) HandleProviderEvent(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.ValidationError(c, "unreadable body")
		return
	}

	if err := h.ingestor.VerifySignature(c.GetHeader(SignatureHeader), payload, time.Now().UTC()); err != nil {
		h.logger.Warn("webhook signature rejected", zap.Error(err))
		response.Unauthorized(c, "signature verification failed")
		return
	}

	if err := h.ingestor.Ingest(c.Request.Context(), payload); err != nil {
		switch {
		case errors.Is(err, xerrors.ErrInvalidInput):
			response.ValidationError(c, "malformed event payload")
		case xerrors.IsTransient(err):
			response.Unavailable(c, "event not processed, retry later")
		default:
			response.Unavailable(c, "event not processed, retry later")
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
