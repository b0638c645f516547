package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/whatsapp-web-enhancement/timed-messages/internal/models"
)

// MemoryRepository is an in-process ScheduledMessageRepository used by
// tests and by any component that does not need cross-process durability.
// LockForSending performs its compare-and-swap under the same mutex every
// other method uses, so the concurrency invariant it protects in Postgres
// (exactly one caller wins a race on the same row) still holds here.
type MemoryRepository struct {
	mu   sync.Mutex
	msgs map[uuid.UUID]*models.ScheduledMessage
}

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{msgs: make(map[uuid.UUID]*models.ScheduledMessage)}
}

func clone(m *models.ScheduledMessage) *models.ScheduledMessage {
	cp := *m
	return &cp
}

func (r *MemoryRepository) Create(_ context.Context, msg *models.ScheduledMessage) (*models.ScheduledMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.msgs {
		if msg.IdempotencyKey != "" && existing.IdempotencyKey == msg.IdempotencyKey {
			return nil, ErrDuplicateIdempotencyKey
		}
	}
	r.msgs[msg.ID] = clone(msg)
	return clone(msg), nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*models.ScheduledMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.msgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(m), nil
}

func (r *MemoryRepository) FindByIdempotencyKey(_ context.Context, key string) (*models.ScheduledMessage, error) {
	if key == "" {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.msgs {
		if m.IdempotencyKey == key {
			return clone(m), nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) ListBySender(_ context.Context, fromChatID string, limit int) ([]*models.ScheduledMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ScheduledMessage
	for _, m := range r.msgs {
		if m.FromChatID == fromChatID && m.Status == models.StatusScheduled {
			out = append(out, clone(m))
		}
	}
	sortBySendAt(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) FindByIDPrefix(_ context.Context, prefix string) (*models.ScheduledMessage, error) {
	return r.findByPrefix(prefix, func(*models.ScheduledMessage) bool { return true })
}

func (r *MemoryRepository) FindByIDPrefixForSender(_ context.Context, fromChatID, prefix string) (*models.ScheduledMessage, error) {
	return r.findByPrefix(prefix, func(m *models.ScheduledMessage) bool { return m.FromChatID == fromChatID })
}

func (r *MemoryRepository) findByPrefix(prefix string, match func(*models.ScheduledMessage) bool) (*models.ScheduledMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matches []*models.ScheduledMessage
	for _, m := range r.msgs {
		if !match(m) {
			continue
		}
		compact := strings.ReplaceAll(m.ID.String(), "-", "")
		if strings.HasPrefix(compact, prefix) {
			matches = append(matches, clone(m))
		}
	}
	if len(matches) == 0 {
		return nil, ErrNotFound
	}
	if len(matches) > 1 {
		return nil, ErrAmbiguousPrefix
	}
	return matches[0], nil
}

func (r *MemoryRepository) ListUpcoming(_ context.Context, now time.Time, leaseExpiry time.Duration, limit int) ([]*models.ScheduledMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	threshold := now.Add(-leaseExpiry)
	var out []*models.ScheduledMessage
	for _, m := range r.msgs {
		if m.SendAt.After(now) {
			continue
		}
		switch {
		case m.Status == models.StatusScheduled:
			out = append(out, clone(m))
		case m.Status == models.StatusLocked && (m.LockedAt == nil || m.LockedAt.Before(threshold)):
			out = append(out, clone(m))
		}
	}
	sortBySendAt(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) LockForSending(_ context.Context, id uuid.UUID, now time.Time, leaseExpiry time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.msgs[id]
	if !ok {
		return false, nil
	}
	threshold := now.Add(-leaseExpiry)
	eligible := m.Status == models.StatusScheduled ||
		(m.Status == models.StatusLocked && (m.LockedAt == nil || m.LockedAt.Before(threshold)))
	if !eligible {
		return false, nil
	}
	m.Status = models.StatusLocked
	lockedAt := now
	m.LockedAt = &lockedAt
	m.UpdatedAt = now
	return true, nil
}

func (r *MemoryRepository) MarkSent(_ context.Context, id uuid.UUID, sentAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.msgs[id]
	if !ok || m.Status != models.StatusLocked {
		return ErrNotFound
	}
	m.Status = models.StatusSent
	m.SentAt = &sentAt
	m.UpdatedAt = sentAt
	return nil
}

func (r *MemoryRepository) MarkFailed(_ context.Context, id uuid.UUID, lastErr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.msgs[id]
	if !ok {
		return ErrNotFound
	}
	m.Status = models.StatusFailed
	m.AttemptCount++
	m.LastError = lastErr
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) Cancel(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.msgs[id]
	if !ok || m.Status == models.StatusSent {
		return false, nil
	}
	m.Status = models.StatusCancelled
	m.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *MemoryRepository) FindByConfirmationMessageIDForSender(_ context.Context, fromChatID, confirmationMessageID string) (*models.ScheduledMessage, error) {
	if confirmationMessageID == "" {
		return nil, ErrNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.msgs {
		if m.FromChatID != fromChatID || m.ConfirmationMessageID != confirmationMessageID {
			continue
		}
		if m.IsTerminal() {
			continue
		}
		return clone(m), nil
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) UpdateMetadata(_ context.Context, id uuid.UUID, confirmationMessageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.msgs[id]
	if !ok {
		return ErrNotFound
	}
	m.ConfirmationMessageID = confirmationMessageID
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func sortBySendAt(msgs []*models.ScheduledMessage) {
	for i := 1; i < len(msgs); i++ {
		for j := i; j > 0 && msgs[j].SendAt.Before(msgs[j-1].SendAt); j-- {
			msgs[j], msgs[j-1] = msgs[j-1], msgs[j]
		}
	}
}
