// Package events implements the conversational routing layer: command
// dispatch, the multi-step "add" flow, and authorization gating for a
// single inbound WhatsApp-shaped event.
package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/whatsapp-web-enhancement/timed-messages/internal/auth"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/clock"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/flow"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/gateway"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/models"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/runtimeconfig"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/scheduling"
)

// InboundEvent is the normalized shape the gateway-facing HTTP handler
// builds from the wire payload.
type InboundEvent struct {
	MessageID       string
	ChatID          string
	SenderID        string
	Text            string
	QuotedText      string
	QuotedMessageID string
	ContactName     string
	// ContactPhone mirrors the wire value: nil, a string, or []string.
	ContactPhone interface{}
	Timestamp    time.Time
	IsGroup      bool
	Raw          map[string]interface{}
}

// Service owns command routing, the per-(chat,sender) flow, and
// authorization gating for inbound events.
type Service struct {
	scheduling      *scheduling.Service
	transport       gateway.Sender
	flowStore       flow.Store
	authService     *auth.Service
	runtime         *runtimeconfig.RuntimeConfig
	clock           clock.Clock
	assistantMode   bool
	defaultTimezone string
	logger          *zap.Logger
}

func NewService(
	schedulingSvc *scheduling.Service,
	transport gateway.Sender,
	flowStore flow.Store,
	authService *auth.Service,
	runtime *runtimeconfig.RuntimeConfig,
	clk clock.Clock,
	assistantMode bool,
	defaultTimezone string,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		scheduling:      schedulingSvc,
		transport:       transport,
		flowStore:       flowStore,
		authService:     authService,
		runtime:         runtime,
		clock:           clk,
		assistantMode:   assistantMode,
		defaultTimezone: defaultTimezone,
		logger:          logger,
	}
}

// HandleInboundEvent routes a single event and returns whether it was
// accepted and, if not, why. Routing order: the !-prefixed admin/auth
// commands first, then the authorization gate, then any in-progress
// flow, then first-word command dispatch.
func (s *Service) HandleInboundEvent(ctx context.Context, event InboundEvent) (accepted bool, reason string) {
	trimmed := strings.TrimSpace(event.Text)
	lowered := strings.ToLower(trimmed)

	if matchesCommand(lowered, "!whoami") {
		return s.handleWhoami(ctx, event, commandArg(trimmed, "!whoami"))
	}
	if matchesCommand(lowered, "!auth") {
		return s.handleAuth(ctx, event, commandArg(trimmed, "!auth"))
	}
	if lowered == "!setup timed messages" || lowered == "!stop timed messages" {
		return s.handleGroupSetup(ctx, event, lowered)
	}

	if s.assistantMode {
		if !s.authService.IsSenderApproved(event.SenderID) {
			if !event.IsGroup {
				s.reply(ctx, event, "Unauthorized. Ask the admin for the auth code.")
			}
			return false, "unauthorized_sender"
		}
	} else {
		if event.ChatID != s.runtime.SchedulingGroup() {
			return false, "unauthorized_group"
		}
	}

	key := flow.Key{ChatID: event.ChatID, SenderID: event.SenderID}
	if st, ok, err := s.flowStore.Get(ctx, key); err == nil && ok {
		if lowered == "cancel" {
			_ = s.flowStore.Clear(ctx, key)
			s.reply(ctx, event, canceledReply)
			return true, ""
		}
		return s.handleFlowStep(ctx, event, key, st, trimmed)
	}

	if trimmed == "" {
		return false, "no_text"
	}

	fields := strings.Fields(trimmed)
	switch strings.ToLower(fields[0]) {
	case "add":
		return s.startAddFlow(ctx, event, key)
	case "instructions":
		s.reply(ctx, event, formatInstructionsMenu(s.runtime.Common.Instructions()))
		return true, ""
	case "cancel":
		return s.handleCancelCommand(ctx, event, trimmed)
	case "list":
		return s.handleListCommand(ctx, event)
	default:
		return false, "not_actionable"
	}
}

func matchesCommand(lowered, cmd string) bool {
	return lowered == cmd || strings.HasPrefix(lowered, cmd+" ")
}

func commandArg(trimmed, cmd string) string {
	if len(trimmed) <= len(cmd) {
		return ""
	}
	return strings.TrimSpace(trimmed[len(cmd):])
}

func (s *Service) reply(ctx context.Context, event InboundEvent, text string) string {
	if s.transport == nil {
		return ""
	}
	gatewayMsgID, err := s.transport.Send(ctx, event.ChatID, text, "", event.MessageID)
	if err != nil {
		s.logger.Warn("failed to send reply", zap.String("chat_id", event.ChatID), zap.Error(err))
		return ""
	}
	return gatewayMsgID
}

// --- admin onboarding / per-sender auth ---

func (s *Service) handleWhoami(ctx context.Context, event InboundEvent, code string) (bool, string) {
	if s.authService.IsAdminConfigured() {
		s.reply(ctx, event, "Admin already set.")
		return true, ""
	}
	ok, err := s.authService.TrySetAdmin(event.SenderID, code)
	if err != nil {
		s.logger.Error("failed to set admin", zap.Error(err))
		return false, "storage_error"
	}
	if !ok {
		s.reply(ctx, event, "Invalid setup code.")
		return false, "invalid_setup_code"
	}
	s.reply(ctx, event, "Admin set to "+event.SenderID)
	return true, ""
}

func (s *Service) handleAuth(ctx context.Context, event InboundEvent, code string) (bool, string) {
	if event.IsGroup {
		s.reply(ctx, event, "Please DM me to authenticate.")
		return false, "auth_in_group"
	}
	normalized := auth.NormalizeSenderID(event.SenderID)

	if code == "" {
		_, alreadyApproved, err := s.authService.RequestAuth(ctx, event.SenderID, extractContactName(event), event.ChatID, extractPhone(event, normalized))
		if err != nil {
			s.logger.Error("failed to request auth", zap.Error(err))
			return false, "storage_error"
		}
		if alreadyApproved {
			s.reply(ctx, event, "Already approved.")
			return true, ""
		}
		s.reply(ctx, event, "Auth code generated. Ask the admin for it, then reply with the 6-digit code.")
		return true, ""
	}

	result, err := s.authService.RedeemAuth(ctx, event.SenderID, code)
	if err != nil {
		s.logger.Error("failed to redeem auth code", zap.Error(err))
		return false, "storage_error"
	}
	switch result {
	case auth.RedeemApproved:
		welcome := s.authService.BuildWelcomeMessage()
		s.reply(ctx, event, fmt.Sprintf("Approved: %s\n\n%s", event.SenderID, welcome))
		return true, ""
	case auth.RedeemNotRequested:
		s.reply(ctx, event, "No pending auth request. Send !auth first.")
		return false, "auth_not_requested"
	default:
		s.reply(ctx, event, "Invalid auth code.")
		return false, "invalid_auth_code"
	}
}

func extractContactName(event InboundEvent) string {
	if event.ContactName != "" {
		return event.ContactName
	}
	if event.Raw != nil {
		if n, ok := event.Raw["profile_name"].(string); ok && n != "" {
			return n
		}
	}
	return "-"
}

func extractPhone(event InboundEvent, fallback string) string {
	switch v := event.ContactPhone.(type) {
	case string:
		if v != "" {
			return v
		}
	case []string:
		if len(v) > 0 && v[0] != "" {
			return v[0]
		}
	}
	if event.Raw != nil {
		if waID, ok := event.Raw["wa_id"].(string); ok && waID != "" {
			return waID
		}
	}
	return fallback
}

func (s *Service) handleGroupSetup(ctx context.Context, event InboundEvent, lowered string) (bool, string) {
	if s.assistantMode {
		s.reply(ctx, event, "not needed in assistant mode")
		return true, ""
	}
	admin := s.runtime.Common.AdminSenderID()
	if admin == "" {
		s.reply(ctx, event, "No admin configured yet.")
		return false, "admin_not_configured"
	}
	if auth.NormalizeSenderID(event.SenderID) != admin {
		s.reply(ctx, event, "Unauthorized.")
		return false, "unauthorized_admin"
	}
	if lowered == "!setup timed messages" {
		if err := s.runtime.SetSchedulingGroup(event.ChatID); err != nil {
			return false, "storage_error"
		}
		s.reply(ctx, event, "Scheduling group set to this chat.")
		return true, ""
	}
	if err := s.runtime.ClearSchedulingGroup(); err != nil {
		return false, "storage_error"
	}
	s.reply(ctx, event, "Scheduling group cleared.")
	return true, ""
}

// --- "add" flow ---

func (s *Service) startAddFlow(ctx context.Context, event InboundEvent, key flow.Key) (bool, string) {
	st := flow.State{
		Step:      flow.StepAwaitingRecipient,
		RequestID: event.MessageID,
		UpdatedAt: s.clock.Now(),
	}
	if err := s.flowStore.Set(ctx, key, st); err != nil {
		s.logger.Error("failed to start add flow", zap.Error(err))
		return false, "storage_error"
	}
	s.reply(ctx, event, toWhoPrompt)
	return true, ""
}

func (s *Service) handleFlowStep(ctx context.Context, event InboundEvent, key flow.Key, st flow.State, trimmed string) (bool, string) {
	switch st.Step {
	case flow.StepAwaitingRecipient:
		return s.handleStepRecipient(ctx, event, key, st, trimmed)
	case flow.StepAwaitingWhen:
		return s.handleStepWhen(ctx, event, key, st, trimmed)
	case flow.StepAwaitingText:
		return s.handleStepText(ctx, event, key, st, trimmed)
	default:
		_ = s.flowStore.Clear(ctx, key)
		return false, "not_actionable"
	}
}

func (s *Service) handleStepRecipient(ctx context.Context, event InboundEvent, key flow.Key, st flow.State, trimmed string) (bool, string) {
	contactPhone, issue := auth.NormalizeContactPhone(event.ContactPhone)
	if issue == "multiple_numbers" {
		s.reply(ctx, event, "Can't send to multiple numbers. Please send one number or contact.\n"+toWhoPrompt)
		return false, "invalid_recipient"
	}
	recipient := auth.NormalizeRecipient(trimmed, contactPhone)
	if recipient == "" {
		s.reply(ctx, event, "I couldn't read a number from that.\n"+toWhoPrompt)
		return false, "invalid_recipient"
	}
	st.Recipient = recipient
	st.Step = flow.StepAwaitingWhen
	st.UpdatedAt = s.clock.Now()
	if err := s.flowStore.Set(ctx, key, st); err != nil {
		s.logger.Error("failed to advance add flow", zap.Error(err))
		return false, "storage_error"
	}
	s.reply(ctx, event, formatWhenPrompt(s.defaultTimezone))
	return true, ""
}

func (s *Service) handleStepWhen(ctx context.Context, event InboundEvent, key flow.Key, st flow.State, trimmed string) (bool, string) {
	now := s.clock.Now()
	sendAt, err := parseWhen(trimmed, s.defaultTimezone, now)
	if err != nil {
		s.reply(ctx, event, err.Error()+"\n"+formatWhenPrompt(s.defaultTimezone))
		return false, "invalid_time"
	}
	if !sendAt.After(now) {
		s.reply(ctx, event, "That time is in the past.\n"+formatWhenPrompt(s.defaultTimezone))
		return false, "invalid_time"
	}
	if verr := s.scheduling.ValidateAssistantScheduleWindow(sendAt); verr != nil {
		s.reply(ctx, event, "⚠️ "+verr.Error())
		return false, scheduling.ReasonOf(verr)
	}
	st.SendAt = &sendAt
	st.Step = flow.StepAwaitingText
	st.UpdatedAt = now
	if err := s.flowStore.Set(ctx, key, st); err != nil {
		s.logger.Error("failed to advance add flow", zap.Error(err))
		return false, "storage_error"
	}
	s.reply(ctx, event, whatToSayPrompt)
	return true, ""
}

func (s *Service) handleStepText(ctx context.Context, event InboundEvent, key flow.Key, st flow.State, trimmed string) (bool, string) {
	if trimmed == "" {
		s.reply(ctx, event, whatToSayPrompt)
		return false, "empty_text"
	}
	msg, err := s.scheduling.Schedule(ctx, st.Recipient, event.SenderID, trimmed, *st.SendAt, st.RequestID, "whatsapp", "")
	if err != nil {
		s.reply(ctx, event, "⚠️ "+err.Error())
		return false, scheduling.ReasonOf(err)
	}
	gatewayMsgID := s.reply(ctx, event, formatScheduleConfirmation(msg, s.defaultTimezone))
	if gatewayMsgID != "" {
		if err := s.scheduling.SetConfirmationMessageID(ctx, msg.ID, gatewayMsgID); err != nil {
			s.logger.Warn("failed to record confirmation message id", zap.Error(err))
		}
	}
	_ = s.flowStore.Clear(ctx, key)
	return true, ""
}

// --- cancel / list ---

func (s *Service) handleCancelCommand(ctx context.Context, event InboundEvent, trimmed string) (bool, string) {
	prefix := auth.ExtractIDPrefix(trimmed)
	if prefix == "" && event.QuotedText != "" {
		prefix = auth.ExtractIDPrefix(event.QuotedText)
	}

	var msg *models.ScheduledMessage
	var err error
	if prefix != "" {
		msg, err = s.scheduling.FindByIDPrefixForSender(ctx, prefix, event.SenderID)
		if err != nil {
			s.reply(ctx, event, "⚠️ "+err.Error())
			return false, scheduling.ReasonOf(err)
		}
	}
	if msg == nil && event.QuotedMessageID != "" {
		msg, err = s.scheduling.FindScheduledByConfirmationMessageIDForSender(ctx, event.QuotedMessageID, event.SenderID)
		if err != nil {
			s.reply(ctx, event, "⚠️ "+err.Error())
			return false, scheduling.ReasonOf(err)
		}
	}
	if msg == nil {
		s.reply(ctx, event, "invalid cancel id")
		return false, "invalid_cancel_id"
	}

	if err := s.scheduling.Cancel(ctx, msg.ID); err != nil {
		s.reply(ctx, event, "⚠️ "+err.Error())
		return false, scheduling.ReasonOf(err)
	}
	s.reply(ctx, event, "✅ Canceled "+msg.IDPrefix())
	return true, ""
}

func (s *Service) handleListCommand(ctx context.Context, event InboundEvent) (bool, string) {
	msgs, err := s.scheduling.ListScheduledForSender(ctx, event.SenderID, 5)
	if err != nil {
		s.logger.Error("failed to list scheduled messages", zap.Error(err))
		return false, "storage_error"
	}
	s.reply(ctx, event, formatListReply(msgs, s.defaultTimezone))
	return true, ""
}
