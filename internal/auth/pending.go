package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/whatsapp-web-enhancement/timed-messages/internal/clock"
)

// CodeGenerator produces the short codes senders exchange out-of-band with
// the admin to get approved.
type CodeGenerator interface {
	Generate() string
}

// SixDigitCodeGenerator produces zero-padded six digit codes via
// crypto/rand.
type SixDigitCodeGenerator struct{}

func (SixDigitCodeGenerator) Generate() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "000000"
	}
	return fmt.Sprintf("%06d", n.Int64())
}

// PendingEntry is a single outstanding auth code awaiting redemption.
type PendingEntry struct {
	Code      string
	UpdatedAt time.Time
}

// PendingStore holds one outstanding auth code per sender with a TTL.
// Entries older than the store's ttl are treated as absent on read.
type PendingStore interface {
	Get(ctx context.Context, senderID string) (PendingEntry, bool, error)
	Set(ctx context.Context, senderID string, entry PendingEntry) error
	Clear(ctx context.Context, senderID string) error
}

// InMemoryPendingStore is the default, process-local PendingStore. Losing
// it on restart is fine: an expired or vanished code just means the
// sender runs !auth again. Expiry is computed against the injected
// clock, the same source that stamps entries on Set.
type InMemoryPendingStore struct {
	ttl     time.Duration
	clk     clock.Clock
	mu      sync.Mutex
	entries map[string]PendingEntry
}

func NewInMemoryPendingStore(ttl time.Duration, clk clock.Clock) *InMemoryPendingStore {
	return &InMemoryPendingStore{ttl: ttl, clk: clk, entries: make(map[string]PendingEntry)}
}

func (s *InMemoryPendingStore) Get(_ context.Context, senderID string) (PendingEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[senderID]
	if !ok {
		return PendingEntry{}, false, nil
	}
	if s.clk.Now().Sub(e.UpdatedAt) > s.ttl {
		delete(s.entries, senderID)
		return PendingEntry{}, false, nil
	}
	return e, true, nil
}

func (s *InMemoryPendingStore) Set(_ context.Context, senderID string, entry PendingEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = s.clk.Now()
	}
	s.entries[senderID] = entry
	return nil
}

func (s *InMemoryPendingStore) Clear(_ context.Context, senderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, senderID)
	return nil
}
