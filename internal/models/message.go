// Package models holds the core scheduled-message type and its lifecycle
// state machine.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Status is the lifecycle state of a ScheduledMessage.
type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusLocked    Status = "LOCKED"
	StatusSent      Status = "SENT"
	StatusCancelled Status = "CANCELLED"
	StatusFailed    Status = "FAILED"
)

// validTransitions enumerates which statuses a message may move to from a
// given status. SENT and CANCELLED have no outgoing edges.
var validTransitions = map[Status][]Status{
	StatusScheduled: {StatusLocked, StatusCancelled},
	StatusLocked:    {StatusSent, StatusFailed, StatusLocked},
	StatusFailed:    {StatusLocked, StatusCancelled},
}

// CanTransition reports whether moving from `from` to `to` is legal.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ScheduledMessage is a single timed message a user asked the assistant to
// deliver on their behalf.
type ScheduledMessage struct {
	ID                    uuid.UUID
	ChatID                string
	FromChatID            string
	Text                  string
	SendAt                time.Time
	Status                Status
	LockedAt              *time.Time
	SentAt                *time.Time
	AttemptCount          int
	LastError             string
	IdempotencyKey        string
	ConfirmationMessageID string
	Source                string
	Reason                string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// New constructs a ScheduledMessage in the SCHEDULED state. The caller is
// responsible for validating chatID/text/sendAt before persisting it.
func New(chatID, fromChatID, text string, sendAt time.Time, idempotencyKey, source string) *ScheduledMessage {
	now := time.Now().UTC()
	return &ScheduledMessage{
		ID:             uuid.New(),
		ChatID:         chatID,
		FromChatID:     fromChatID,
		Text:           text,
		SendAt:         sendAt,
		Status:         StatusScheduled,
		IdempotencyKey: idempotencyKey,
		Source:         source,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Validate checks the invariants a ScheduledMessage must satisfy before it
// is persisted: non-empty chat id and text, and a send time strictly in the
// future relative to now.
func (m *ScheduledMessage) Validate(now time.Time) error {
	if m.ChatID == "" {
		return errors.New("chat id is required")
	}
	if m.Text == "" {
		return errors.New("message text can't be empty")
	}
	if m.SendAt.IsZero() {
		return errors.New("send time is required")
	}
	if !m.SendAt.After(now) {
		return errors.New("send time must be in the future")
	}
	return nil
}

// IDPrefix returns the first 12 hex characters of the message id with
// dashes removed, the form used in user-facing cancel/list replies.
func (m *ScheduledMessage) IDPrefix() string {
	raw := m.ID.String()
	compact := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		if raw[i] != '-' {
			compact = append(compact, raw[i])
		}
	}
	if len(compact) < 12 {
		return string(compact)
	}
	return string(compact[:12])
}

// IsTerminal reports whether the message can no longer change state through
// normal delivery processing.
func (m *ScheduledMessage) IsTerminal() bool {
	return m.Status == StatusSent || m.Status == StatusCancelled
}
