package webhook_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	handler "billing-service/internal/handlers/webhook"
	"billing-service/internal/pkg/signature"
	webhooksvc "billing-service/internal/service/webhook"
	"billing-service/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const signingSecret = "whsec_test"

func newWebhookRouter(t *testing.T) (*gin.Engine, *testutil.Env) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := testutil.NewEnv(t)
	env.SeedTenant("tnt_a", "")

	svc := webhooksvc.NewService(
		env.DB,
		env.Events,
		env.Tenants,
		env.Subs,
		env.Purchases,
		env.Catalog,
		env.Service,
		signingSecret,
		5*time.Minute,
		zap.NewNop(),
	)

	r := gin.New()
	h := handler.NewWebhookHandler(svc, zap.NewNop())
	r.POST("/v1/webhooks/provider", h.HandleProviderEvent)
	return r, env
}

func post(r *gin.Engine, payload []byte, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/provider", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if header != "" {
		req.Header.Set(handler.SignatureHeader, header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func signedPayload(t *testing.T, eventID, eventType string) ([]byte, string) {
	t.Helper()

	payload, err := json.Marshal(map[string]interface{}{
		"id":      eventID,
		"type":    eventType,
		"created": time.Now().Unix(),
		"data":    map[string]interface{}{"object": map[string]interface{}{"id": "obj_1"}},
	})
	require.NoError(t, err)
	return payload, signature.Sign(payload, signingSecret, time.Now())
}

func TestWebhookAcceptsSignedEvent(t *testing.T) {
	r, env := newWebhookRouter(t)
	payload, header := signedPayload(t, "evt_1", "customer.updated")

	w := post(r, payload, header)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "received")

	_, err := env.Events.FindByProviderEventID(context.Background(), "evt_1")
	assert.NoError(t, err)
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	r, _ := newWebhookRouter(t)
	payload, _ := signedPayload(t, "evt_1", "customer.updated")

	assert.Equal(t, http.StatusUnauthorized, post(r, payload, "").Code)
}

func TestWebhookRejectsTamperedBody(t *testing.T) {
	r, _ := newWebhookRouter(t)
	payload, header := signedPayload(t, "evt_1", "customer.updated")
	payload[len(payload)-2] ^= 0x01

	assert.Equal(t, http.StatusUnauthorized, post(r, payload, header).Code)
}

func TestWebhookRejectsStaleTimestamp(t *testing.T) {
	r, _ := newWebhookRouter(t)
	payload, err := json.Marshal(map[string]interface{}{"id": "evt_1", "type": "x"})
	require.NoError(t, err)
	header := signature.Sign(payload, signingSecret, time.Now().Add(-10*time.Minute))

	assert.Equal(t, http.StatusUnauthorized, post(r, payload, header).Code)
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	r, _ := newWebhookRouter(t)
	payload := []byte("{not json")
	header := signature.Sign(payload, signingSecret, time.Now())

	// Signature is fine, body is not an event.
	assert.Equal(t, http.StatusBadRequest, post(r, payload, header).Code)
}

func TestWebhookDuplicateStillReturns200(t *testing.T) {
	r, _ := newWebhookRouter(t)
	payload, header := signedPayload(t, "evt_1", "customer.updated")

	assert.Equal(t, http.StatusOK, post(r, payload, header).Code)
	assert.Equal(t, http.StatusOK, post(r, payload, header).Code)
}
