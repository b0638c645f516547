package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsapp-web-enhancement/timed-messages/internal/auth"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/clock"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/events"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/flow"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/inboundlog"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/repository"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/runtimeconfig"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/scheduling"
)

type noopTransport struct{}

func (noopTransport) Send(ctx context.Context, chatID, text, quotedMessageID, messageID string) (string, error) {
	return "gw-1", nil
}

func newTestHandler(t *testing.T) (*WebhookHandler, *inboundlog.InMemoryLog) {
	t.Helper()
	dir := t.TempDir()
	runtime := runtimeconfig.NewRuntimeConfig(
		filepath.Join(dir, "common.json"),
		filepath.Join(dir, "timed_messages.json"),
		nil,
	)
	require.NoError(t, runtime.SetSchedulingGroup("group-chat"))

	fc := clock.NewFake(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	repo := repository.NewMemoryRepository()
	schedulingSvc := scheduling.NewService(repo, fc, nil, scheduling.Options{})
	authSvc := auth.NewService(runtime, auth.NewInMemoryPendingStore(30*time.Minute, fc), nil, nil)
	eventsSvc := events.NewService(schedulingSvc, noopTransport{}, flow.NewInMemoryStore(30*time.Minute, fc), authSvc, runtime, fc, false, "UTC", nil)

	log := inboundlog.NewInMemoryLog()
	return NewWebhookHandler(eventsSvc, log, nil), log
}

func newRouter(h *WebhookHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/events", h.HandleInbound)
	r.GET("/healthz", h.HandleHealthz)
	return r
}

func TestWebhookHandler_RejectsInvalidPayload(t *testing.T) {
	h, _ := newTestHandler(t)
	r := newRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookHandler_DedupesRedeliveredMessageID(t *testing.T) {
	h, _ := newTestHandler(t)
	r := newRouter(h)

	body := `{"message_id":"m1","timestamp":1704110400,"chat_id":"group-chat","sender_id":"15551234567","text":"instructions"}`

	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"accepted":true`)

	req2 := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
	req2.Header.Set("Content-Type", "application/json")
	rec2 := httptest.NewRecorder()
	r.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusOK, rec2.Code)
	assert.Contains(t, rec2.Body.String(), `"reason":"duplicate_message"`)
}

func TestWebhookHandler_HealthzOK(t *testing.T) {
	h, _ := newTestHandler(t)
	r := newRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}
