// Package inboundlog guards against redelivered webhooks. It is distinct
// from the scheduled-message idempotency_key (which protects against
// duplicate scheduling): this protects against duplicate ingestion of the
// same gateway event when the gateway retries a delivery on its own
// timeout.
package inboundlog

import (
	"context"
	"database/sql"
	"sync"

	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// Log reports and records whether a message id has already been seen.
type Log interface {
	// Seen records messageID if it hasn't been recorded before, and
	// reports whether it was already present (true = duplicate).
	Seen(ctx context.Context, messageID string) (bool, error)
}

// InMemoryLog is a process-local Log, suitable for single-process
// deployments and tests.
type InMemoryLog struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewInMemoryLog() *InMemoryLog {
	return &InMemoryLog{seen: make(map[string]struct{})}
}

func (l *InMemoryLog) Seen(_ context.Context, messageID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[messageID]; ok {
		return true, nil
	}
	l.seen[messageID] = struct{}{}
	return false, nil
}

// PostgresLog persists inbound message ids so the dedupe guard survives
// a process restart, matching the durable store the rest of the system
// relies on.
type PostgresLog struct {
	db *sql.DB
}

func NewPostgresLog(db *sql.DB) *PostgresLog {
	return &PostgresLog{db: db}
}

const insertInboundSQL = `INSERT INTO inbound_messages (message_id) VALUES ($1)`

func (l *PostgresLog) Seen(ctx context.Context, messageID string) (bool, error) {
	_, err := l.db.ExecContext(ctx, insertInboundSQL, messageID)
	if err == nil {
		return false, nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true, nil
	}
	return false, errors.Wrap(err, "failed to record inbound message")
}
