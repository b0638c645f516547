// Package repository defines the storage contract for scheduled messages
// and its production (Postgres) and in-memory implementations.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/whatsapp-web-enhancement/timed-messages/internal/models"
)

// ErrNotFound is returned when a lookup by id finds nothing.
var ErrNotFound = errors.New("scheduled message not found")

// ErrAmbiguousPrefix is returned when an id-prefix lookup matches more than
// one scheduled message (within the sender's records, for the
// sender-scoped lookup).
var ErrAmbiguousPrefix = errors.New("scheduled message id prefix is ambiguous")

// ErrDuplicateIdempotencyKey is returned by Create when another record
// already carries the same idempotency key.
var ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")

// ScheduledMessageRepository is the storage contract the scheduling service
// and delivery worker depend on. A Postgres-backed implementation is used
// in production; an in-memory implementation backs unit tests.
type ScheduledMessageRepository interface {
	Create(ctx context.Context, msg *models.ScheduledMessage) (*models.ScheduledMessage, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.ScheduledMessage, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*models.ScheduledMessage, error)
	ListBySender(ctx context.Context, fromChatID string, limit int) ([]*models.ScheduledMessage, error)
	FindByIDPrefix(ctx context.Context, prefix string) (*models.ScheduledMessage, error)
	FindByIDPrefixForSender(ctx context.Context, fromChatID, prefix string) (*models.ScheduledMessage, error)
	ListUpcoming(ctx context.Context, now time.Time, leaseExpiry time.Duration, limit int) ([]*models.ScheduledMessage, error)
	LockForSending(ctx context.Context, id uuid.UUID, now time.Time, leaseExpiry time.Duration) (bool, error)
	MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastErr string) error
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)
	UpdateMetadata(ctx context.Context, id uuid.UUID, confirmationMessageID string) error
	FindByConfirmationMessageIDForSender(ctx context.Context, fromChatID, confirmationMessageID string) (*models.ScheduledMessage, error)
}
