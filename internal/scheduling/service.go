// Package scheduling validates and orchestrates scheduled-message
// lifecycle operations on top of internal/repository.
package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/whatsapp-web-enhancement/timed-messages/internal/auth"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/clock"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/gateway"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/models"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/repository"
)

const defaultLeaseTimeout = 300 * time.Second

var (
	messagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "message_service_processed_total",
			Help: "Total number of scheduled messages processed by dispatch",
		},
		[]string{"status"},
	)
	processingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "message_service_processing_duration_seconds",
			Help:    "Duration of dispatch processing in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// Options configures mode-dependent behavior. AssistantMode and
// MaxAssistantWindow are environment-driven and read once at
// construction; they don't hot-reload like internal/runtimeconfig.
type Options struct {
	AssistantMode      bool
	MaxAssistantWindow time.Duration
	LeaseTimeout       time.Duration
}

// Service exposes the scheduled-message lifecycle: schedule, cancel,
// list, and the worker-facing claim/dispatch operations.
type Service struct {
	repo   repository.ScheduledMessageRepository
	clock  clock.Clock
	logger *zap.Logger
	opts   Options
}

// NewService wires a Service over repo using clk for all time-dependent
// decisions; nothing in the service reads the wall clock directly.
func NewService(repo repository.ScheduledMessageRepository, clk clock.Clock, logger *zap.Logger, opts Options) *Service {
	if opts.LeaseTimeout <= 0 {
		opts.LeaseTimeout = defaultLeaseTimeout
	}
	if opts.MaxAssistantWindow <= 0 {
		opts.MaxAssistantWindow = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, clock: clk, logger: logger, opts: opts}
}

// Schedule validates and creates a new scheduled message, or returns the
// existing record if idempotencyKey has already been used.
func (s *Service) Schedule(ctx context.Context, chatID, fromChatID, text string, sendAt time.Time, idempotencyKey, source, reason string) (*models.ScheduledMessage, error) {
	now := s.clock.Now()

	if !sendAt.After(now) {
		return nil, NewValidationError("invalid_send_at", "send time must be in the future")
	}
	if s.opts.AssistantMode && fromChatID == "" {
		return nil, NewValidationError("missing_from_chat_id", "from_chat_id is required in assistant mode")
	}

	normalizedFrom := auth.NormalizeSenderID(fromChatID)
	existing, err := s.repo.FindByIdempotencyKey(ctx, idempotencyKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check idempotency key")
	}
	if existing != nil {
		return existing, nil
	}

	if err := s.ValidateAssistantScheduleWindow(sendAt); err != nil {
		return nil, err
	}

	msg := models.New(chatID, normalizedFrom, text, sendAt, idempotencyKey, source)
	msg.Reason = reason
	if err := msg.Validate(now); err != nil {
		return nil, NewValidationError("invalid_argument", err.Error())
	}

	created, err := s.repo.Create(ctx, msg)
	if err != nil {
		// A concurrent identical request may have won the insert race;
		// return its record, same as the lookup path above.
		if errors.Is(err, repository.ErrDuplicateIdempotencyKey) {
			if existing, lookupErr := s.repo.FindByIdempotencyKey(ctx, idempotencyKey); lookupErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, errors.Wrap(err, "failed to create scheduled message")
	}
	return created, nil
}

// ValidateAssistantScheduleWindow enforces the configured max-hours-ahead
// window in assistant mode; it is a no-op otherwise.
func (s *Service) ValidateAssistantScheduleWindow(sendAt time.Time) error {
	if !s.opts.AssistantMode {
		return nil
	}
	maxAt := s.clock.Now().Add(s.opts.MaxAssistantWindow)
	if sendAt.After(maxAt) {
		hours := int(s.opts.MaxAssistantWindow.Hours())
		return NewValidationError("schedule_window_exceeded", fmt.Sprintf("can only schedule up to %d hours ahead", hours))
	}
	return nil
}

// Cancel moves id to CANCELLED. A missing or already-cancelled record is
// a silent no-op; a SENT record is rejected.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	msg, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return errors.Wrap(err, "failed to load scheduled message")
	}
	if msg.Status == models.StatusSent {
		return NewValidationError("cannot_cancel_sent", "cannot cancel a sent message")
	}
	if msg.Status == models.StatusCancelled {
		return nil
	}
	if _, err := s.repo.Cancel(ctx, id); err != nil {
		return errors.Wrap(err, "failed to cancel scheduled message")
	}
	return nil
}

// FindByIDPrefix resolves a 12-hex-character id prefix to a single record
// regardless of owner, for operator tooling.
func (s *Service) FindByIDPrefix(ctx context.Context, prefix string) (*models.ScheduledMessage, error) {
	return translatePrefixLookup(s.repo.FindByIDPrefix(ctx, prefix))
}

// FindByIDPrefixForSender resolves a 12-hex-character id prefix to a
// single record owned by senderID.
func (s *Service) FindByIDPrefixForSender(ctx context.Context, prefix, senderID string) (*models.ScheduledMessage, error) {
	normalized := auth.NormalizeSenderID(senderID)
	return translatePrefixLookup(s.repo.FindByIDPrefixForSender(ctx, normalized, prefix))
}

func translatePrefixLookup(msg *models.ScheduledMessage, err error) (*models.ScheduledMessage, error) {
	if err != nil {
		if errors.Is(err, repository.ErrAmbiguousPrefix) {
			return nil, NewValidationError("ambiguous_id", "more than one scheduled message matches that id; paste the full id")
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to look up id prefix")
	}
	return msg, nil
}

// FindScheduledByConfirmationMessageIDForSender resolves a cancel-by-
// quoted-reply lookup.
func (s *Service) FindScheduledByConfirmationMessageIDForSender(ctx context.Context, confirmationMessageID, senderID string) (*models.ScheduledMessage, error) {
	normalized := auth.NormalizeSenderID(senderID)
	msg, err := s.repo.FindByConfirmationMessageIDForSender(ctx, normalized, confirmationMessageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to look up confirmation message id")
	}
	return msg, nil
}

// SetConfirmationMessageID records the gateway id of the reply confirming
// a schedule, so a later "cancel" quoting that reply can resolve back to
// the record.
func (s *Service) SetConfirmationMessageID(ctx context.Context, id uuid.UUID, gatewayMessageID string) error {
	if gatewayMessageID == "" {
		return nil
	}
	if err := s.repo.UpdateMetadata(ctx, id, gatewayMessageID); err != nil {
		return errors.Wrap(err, "failed to record confirmation message id")
	}
	return nil
}

// ListDue returns up to limit records ready for delivery.
func (s *Service) ListDue(ctx context.Context, limit int) ([]*models.ScheduledMessage, error) {
	return s.repo.ListUpcoming(ctx, s.clock.Now(), s.opts.LeaseTimeout, limit)
}

// ListScheduledForSender returns up to limit SCHEDULED records owned by
// senderID, ordered by send_at ascending.
func (s *Service) ListScheduledForSender(ctx context.Context, senderID string, limit int) ([]*models.ScheduledMessage, error) {
	normalized := auth.NormalizeSenderID(senderID)
	return s.repo.ListBySender(ctx, normalized, limit)
}

// Dispatch drives a single due record through lock → send → finalize. It
// returns nil whenever the record was safely skipped (already claimed,
// not due, terminal) as well as on delivery success; it returns the
// transport error only when delivery itself failed (the record has
// already been marked FAILED by the time it returns).
func (s *Service) Dispatch(ctx context.Context, id uuid.UUID, transport gateway.Sender, quotedMessageID string) error {
	start := time.Now()
	defer func() {
		processingDuration.WithLabelValues("dispatch").Observe(time.Since(start).Seconds())
	}()

	msg, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return errors.Wrap(err, "failed to load scheduled message")
	}
	if msg.IsTerminal() || msg.Status == models.StatusFailed {
		return nil
	}
	now := s.clock.Now()
	if msg.SendAt.After(now) {
		return nil
	}

	locked, err := s.repo.LockForSending(ctx, id, now, s.opts.LeaseTimeout)
	if err != nil {
		return errors.Wrap(err, "failed to lock scheduled message")
	}
	if !locked {
		return nil
	}

	outboundChatID, outboundText := msg.ChatID, msg.Text
	if s.opts.AssistantMode {
		outboundChatID = msg.FromChatID
		outboundText = formatAssistantDelivery(msg.ChatID, msg.Text)
	}

	// The gateway id of the delivery message is discarded:
	// confirmation_message_id holds the id of the "✅ Scheduled" reply
	// only, so cancel-by-quoted-reply never resolves through a delivery.
	_, sendErr := transport.Send(ctx, outboundChatID, outboundText, quotedMessageID, msg.ID.String())
	if sendErr != nil {
		messagesProcessed.WithLabelValues("error").Inc()
		if markErr := s.repo.MarkFailed(ctx, id, sendErr.Error()); markErr != nil {
			s.logger.Error("failed to record dispatch failure", zap.String("id", id.String()), zap.Error(markErr))
		}
		return errors.Wrap(sendErr, "failed to dispatch scheduled message")
	}

	if err := s.repo.MarkSent(ctx, id, now); err != nil {
		return errors.Wrap(err, "failed to mark scheduled message sent")
	}
	messagesProcessed.WithLabelValues("success").Inc()
	return nil
}
