// Package handlers adapts the inbound gateway-facing HTTP surface onto
// internal/events: one gin handler per endpoint, an otel span per
// request, and a message-id dedupe guard in front of the event service.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin" // v1.9.1
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/whatsapp-web-enhancement/timed-messages/internal/events"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/inboundlog"
)

// inboundPayload is the wire shape the gateway posts to /events.
type inboundPayload struct {
	MessageID       string                 `json:"message_id" binding:"required"`
	Timestamp       int64                  `json:"timestamp" binding:"required"`
	ChatID          string                 `json:"chat_id" binding:"required"`
	SenderID        string                 `json:"sender_id" binding:"required"`
	IsGroup         bool                   `json:"is_group"`
	Text            *string                `json:"text"`
	QuotedText      *string                `json:"quoted_text"`
	QuotedMessageID *string                `json:"quoted_message_id"`
	ContactName     *string                `json:"contact_name"`
	ContactPhone    interface{}            `json:"contact_phone"`
	Raw             map[string]interface{} `json:"raw"`
}

type inboundResponse struct {
	Status   string `json:"status"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// WebhookHandler handles incoming scheduling events from the WhatsApp
// gateway.
type WebhookHandler struct {
	events *events.Service
	log    inboundlog.Log
	logger *zap.Logger
	tracer trace.Tracer
}

// NewWebhookHandler wires a WebhookHandler over eventsService, guarding
// against redelivered webhooks via log.
func NewWebhookHandler(eventsService *events.Service, log inboundlog.Log, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{
		events: eventsService,
		log:    log,
		logger: logger,
		tracer: otel.Tracer("timed-messages/handlers"),
	}
}

// HandleInbound processes one gateway event POSTed to /events.
func (h *WebhookHandler) HandleInbound(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handle_inbound_event",
		trace.WithAttributes(attribute.String("handler", "inbound_event")),
	)
	defer span.End()

	var payload inboundPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		span.SetAttributes(attribute.String("error", "invalid_payload"))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	duplicate, err := h.log.Seen(ctx, payload.MessageID)
	if err != nil {
		h.logger.Error("failed to record inbound message", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process event"})
		return
	}
	if duplicate {
		c.JSON(http.StatusOK, inboundResponse{Status: "ok", Accepted: false, Reason: "duplicate_message"})
		return
	}

	event := events.InboundEvent{
		MessageID:       payload.MessageID,
		ChatID:          payload.ChatID,
		SenderID:        payload.SenderID,
		Text:            stringValue(payload.Text),
		QuotedText:      stringValue(payload.QuotedText),
		QuotedMessageID: stringValue(payload.QuotedMessageID),
		ContactName:     stringValue(payload.ContactName),
		ContactPhone:    normalizeContactPhoneJSON(payload.ContactPhone),
		Timestamp:       time.Unix(payload.Timestamp, 0).UTC(),
		IsGroup:         payload.IsGroup,
		Raw:             payload.Raw,
	}

	accepted, reason := h.events.HandleInboundEvent(ctx, event)
	span.SetAttributes(attribute.Bool("accepted", accepted), attribute.String("reason", reason))
	c.JSON(http.StatusOK, inboundResponse{Status: "ok", Accepted: accepted, Reason: reason})
}

// HandleHealthz reports process liveness.
func (h *WebhookHandler) HandleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// normalizeContactPhoneJSON converts the JSON decoder's generic
// []interface{} form of a contact_phone array into []string, so
// auth.NormalizeContactPhone (which only type-switches on string and
// []string) sees the shape it expects.
func normalizeContactPhoneJSON(raw interface{}) interface{} {
	list, ok := raw.([]interface{})
	if !ok {
		return raw
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
