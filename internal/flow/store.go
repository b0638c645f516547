// Package flow tracks the in-progress multi-step "schedule a message"
// conversation per (chat, sender), so a free-text reply can be routed back
// to the step that asked for it.
package flow

import (
	"context"
	"sync"
	"time"

	"github.com/whatsapp-web-enhancement/timed-messages/internal/clock"
)

// Step identifies which question the assistant is waiting on an answer
// for.
type Step string

const (
	StepAwaitingRecipient Step = "awaiting_recipient"
	StepAwaitingText      Step = "awaiting_text"
	StepAwaitingWhen      Step = "awaiting_when"
)

// Key identifies one conversation's in-progress flow.
type Key struct {
	ChatID   string
	SenderID string
}

// State is the data accumulated so far in a flow.
type State struct {
	Step      Step
	RequestID string
	Recipient string
	SendAt    *time.Time
	Text      string
	UpdatedAt time.Time
}

// Store holds at most one in-progress flow per Key, expiring entries
// older than its TTL.
type Store interface {
	Get(ctx context.Context, key Key) (State, bool, error)
	Set(ctx context.Context, key Key, state State) error
	Clear(ctx context.Context, key Key) error
}

// InMemoryStore is the default, process-local Store. Losing it on
// restart is fine: the sender just starts the "add" flow over. Expiry is
// computed against the same injected clock the event service stamps
// entries with, so the two never disagree about "now".
type InMemoryStore struct {
	ttl     time.Duration
	clk     clock.Clock
	mu      sync.Mutex
	entries map[Key]State
}

func NewInMemoryStore(ttl time.Duration, clk clock.Clock) *InMemoryStore {
	return &InMemoryStore{ttl: ttl, clk: clk, entries: make(map[Key]State)}
}

func (s *InMemoryStore) Get(_ context.Context, key Key) (State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.entries[key]
	if !ok {
		return State{}, false, nil
	}
	if s.clk.Now().Sub(st.UpdatedAt) > s.ttl {
		delete(s.entries, key)
		return State{}, false, nil
	}
	return st, true, nil
}

func (s *InMemoryStore) Set(_ context.Context, key Key, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = s.clk.Now()
	}
	s.entries[key] = state
	return nil
}

func (s *InMemoryStore) Clear(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
