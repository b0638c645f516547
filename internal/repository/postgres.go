package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/whatsapp-web-enhancement/timed-messages/internal/models"
)

var (
	repoOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "message_repository_operations_total",
			Help: "Total number of repository operations",
		},
		[]string{"operation", "status"},
	)

	repoOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "message_repository_operation_duration_seconds",
			Help:    "Duration of repository operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

const defaultQueryTimeout = 10 * time.Second

const (
	createSQL = `
		INSERT INTO scheduled_messages (
			id, chat_id, from_chat_id, text, send_at, status,
			idempotency_key, source, reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	getByIDSQL = `
		SELECT id, chat_id, from_chat_id, text, send_at, status, locked_at,
		       sent_at, attempt_count, last_error, idempotency_key,
		       confirmation_message_id, source, reason, created_at, updated_at
		FROM scheduled_messages WHERE id = $1`

	findByIdempotencyKeySQL = `
		SELECT id, chat_id, from_chat_id, text, send_at, status, locked_at,
		       sent_at, attempt_count, last_error, idempotency_key,
		       confirmation_message_id, source, reason, created_at, updated_at
		FROM scheduled_messages WHERE idempotency_key = $1`

	listBySenderSQL = `
		SELECT id, chat_id, from_chat_id, text, send_at, status, locked_at,
		       sent_at, attempt_count, last_error, idempotency_key,
		       confirmation_message_id, source, reason, created_at, updated_at
		FROM scheduled_messages
		WHERE from_chat_id = $1 AND status = 'SCHEDULED'
		ORDER BY send_at ASC
		LIMIT $2`

	findByIDPrefixSQL = `
		SELECT id, chat_id, from_chat_id, text, send_at, status, locked_at,
		       sent_at, attempt_count, last_error, idempotency_key,
		       confirmation_message_id, source, reason, created_at, updated_at
		FROM scheduled_messages
		WHERE REPLACE(id::text, '-', '') LIKE $1`

	findByIDPrefixForSenderSQL = `
		SELECT id, chat_id, from_chat_id, text, send_at, status, locked_at,
		       sent_at, attempt_count, last_error, idempotency_key,
		       confirmation_message_id, source, reason, created_at, updated_at
		FROM scheduled_messages
		WHERE from_chat_id = $1 AND REPLACE(id::text, '-', '') LIKE $2`

	listUpcomingSQL = `
		SELECT id, chat_id, from_chat_id, text, send_at, status, locked_at,
		       sent_at, attempt_count, last_error, idempotency_key,
		       confirmation_message_id, source, reason, created_at, updated_at
		FROM scheduled_messages
		WHERE send_at <= $1
		  AND (status = 'SCHEDULED' OR (status = 'LOCKED' AND (locked_at IS NULL OR locked_at < $2)))
		ORDER BY send_at ASC
		LIMIT $3`

	lockForSendingSQL = `
		UPDATE scheduled_messages
		SET status = 'LOCKED', locked_at = $2, updated_at = $2
		WHERE id = $1
		  AND (status = 'SCHEDULED' OR (status = 'LOCKED' AND (locked_at IS NULL OR locked_at < $3)))`

	markSentSQL = `
		UPDATE scheduled_messages
		SET status = 'SENT', sent_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'LOCKED'`

	markFailedSQL = `
		UPDATE scheduled_messages
		SET status = 'FAILED', attempt_count = attempt_count + 1, last_error = $2, updated_at = $3
		WHERE id = $1 AND status = 'LOCKED'`

	cancelSQL = `
		UPDATE scheduled_messages
		SET status = 'CANCELLED', updated_at = $2
		WHERE id = $1 AND status != 'SENT'`

	updateMetadataSQL = `
		UPDATE scheduled_messages
		SET confirmation_message_id = $2, updated_at = $3
		WHERE id = $1`

	findByConfirmationMessageIDSQL = `
		SELECT id, chat_id, from_chat_id, text, send_at, status, locked_at,
		       sent_at, attempt_count, last_error, idempotency_key,
		       confirmation_message_id, source, reason, created_at, updated_at
		FROM scheduled_messages
		WHERE from_chat_id = $1 AND confirmation_message_id = $2
		  AND status NOT IN ('SENT', 'CANCELLED')`
)

// Repository is the Postgres-backed ScheduledMessageRepository.
type Repository struct {
	db *sql.DB
}

// Config bounds the connection pool.
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewRepository wraps an already-opened *sql.DB and tunes its pool.
func NewRepository(db *sql.DB, cfg Config) (*Repository, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return &Repository{db: db}, nil
}

func observe(op string, err error, start time.Time) {
	repoOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	status := "success"
	if err != nil {
		status = "error"
	}
	repoOps.WithLabelValues(op, status).Inc()
}

func (r *Repository) Create(ctx context.Context, msg *models.ScheduledMessage) (_ *models.ScheduledMessage, err error) {
	start := time.Now()
	defer func() { observe("create", err, start) }()

	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	_, err = r.db.ExecContext(ctx, createSQL,
		msg.ID, msg.ChatID, msg.FromChatID, msg.Text, msg.SendAt, msg.Status,
		msg.IdempotencyKey, msg.Source, msg.Reason, msg.CreatedAt, msg.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrDuplicateIdempotencyKey
		}
		return nil, errors.Wrap(err, "failed to insert scheduled message")
	}
	return msg, nil
}

func scanMessage(row interface{ Scan(...interface{}) error }) (*models.ScheduledMessage, error) {
	var m models.ScheduledMessage
	var lockedAt, sentAt sql.NullTime
	var lastError, confirmationID, reason sql.NullString

	err := row.Scan(
		&m.ID, &m.ChatID, &m.FromChatID, &m.Text, &m.SendAt, &m.Status,
		&lockedAt, &sentAt, &m.AttemptCount, &lastError,
		&m.IdempotencyKey, &confirmationID, &m.Source, &reason,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lockedAt.Valid {
		m.LockedAt = &lockedAt.Time
	}
	if sentAt.Valid {
		m.SentAt = &sentAt.Time
	}
	m.LastError = lastError.String
	m.ConfirmationMessageID = confirmationID.String
	m.Reason = reason.String
	return &m, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (_ *models.ScheduledMessage, err error) {
	start := time.Now()
	defer func() { observe("get_by_id", err, start) }()

	row := r.db.QueryRowContext(ctx, getByIDSQL, id)
	msg, scanErr := scanMessage(row)
	if scanErr == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if scanErr != nil {
		err = errors.Wrap(scanErr, "failed to scan scheduled message")
		return nil, err
	}
	return msg, nil
}

func (r *Repository) FindByIdempotencyKey(ctx context.Context, key string) (_ *models.ScheduledMessage, err error) {
	start := time.Now()
	defer func() { observe("find_by_idempotency_key", err, start) }()

	row := r.db.QueryRowContext(ctx, findByIdempotencyKeySQL, key)
	msg, scanErr := scanMessage(row)
	if scanErr == sql.ErrNoRows {
		return nil, nil
	}
	if scanErr != nil {
		err = errors.Wrap(scanErr, "failed to scan scheduled message")
		return nil, err
	}
	return msg, nil
}

func (r *Repository) queryList(ctx context.Context, op, query string, args ...interface{}) ([]*models.ScheduledMessage, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query %s", op)
	}
	defer rows.Close()

	var out []*models.ScheduledMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to scan %s row", op)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s rows", op)
	}
	return out, nil
}

func (r *Repository) ListBySender(ctx context.Context, fromChatID string, limit int) (out []*models.ScheduledMessage, err error) {
	start := time.Now()
	defer func() { observe("list_by_sender", err, start) }()
	out, err = r.queryList(ctx, "list_by_sender", listBySenderSQL, fromChatID, limit)
	return out, err
}

func (r *Repository) FindByIDPrefix(ctx context.Context, prefix string) (_ *models.ScheduledMessage, err error) {
	start := time.Now()
	defer func() { observe("find_by_id_prefix", err, start) }()

	matches, qerr := r.queryList(ctx, "find_by_id_prefix", findByIDPrefixSQL, prefix+"%")
	if qerr != nil {
		err = qerr
		return nil, err
	}
	return exactlyOne(matches)
}

func (r *Repository) FindByIDPrefixForSender(ctx context.Context, fromChatID, prefix string) (_ *models.ScheduledMessage, err error) {
	start := time.Now()
	defer func() { observe("find_by_id_prefix_for_sender", err, start) }()

	matches, qerr := r.queryList(ctx, "find_by_id_prefix_for_sender", findByIDPrefixForSenderSQL, fromChatID, prefix+"%")
	if qerr != nil {
		err = qerr
		return nil, err
	}
	return exactlyOne(matches)
}

func exactlyOne(matches []*models.ScheduledMessage) (*models.ScheduledMessage, error) {
	if len(matches) == 0 {
		return nil, ErrNotFound
	}
	if len(matches) > 1 {
		return nil, ErrAmbiguousPrefix
	}
	return matches[0], nil
}

func (r *Repository) ListUpcoming(ctx context.Context, now time.Time, leaseExpiry time.Duration, limit int) (out []*models.ScheduledMessage, err error) {
	start := time.Now()
	defer func() { observe("list_upcoming", err, start) }()
	leaseThreshold := now.Add(-leaseExpiry)
	out, err = r.queryList(ctx, "list_upcoming", listUpcomingSQL, now, leaseThreshold, limit)
	return out, err
}

func (r *Repository) LockForSending(ctx context.Context, id uuid.UUID, now time.Time, leaseExpiry time.Duration) (ok bool, err error) {
	start := time.Now()
	defer func() { observe("lock_for_sending", err, start) }()

	leaseThreshold := now.Add(-leaseExpiry)
	res, execErr := r.db.ExecContext(ctx, lockForSendingSQL, id, now, leaseThreshold)
	if execErr != nil {
		err = errors.Wrap(execErr, "failed to lock scheduled message")
		return false, err
	}
	n, rerr := res.RowsAffected()
	if rerr != nil {
		err = errors.Wrap(rerr, "failed to read rows affected")
		return false, err
	}
	return n == 1, nil
}

func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) (err error) {
	start := time.Now()
	defer func() { observe("mark_sent", err, start) }()

	res, execErr := r.db.ExecContext(ctx, markSentSQL, id, sentAt)
	if execErr != nil {
		err = errors.Wrap(execErr, "failed to mark scheduled message sent")
		return err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		err = ErrNotFound
		return err
	}
	return nil
}

func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, lastErr string) (err error) {
	start := time.Now()
	defer func() { observe("mark_failed", err, start) }()

	_, execErr := r.db.ExecContext(ctx, markFailedSQL, id, lastErr, time.Now().UTC())
	if execErr != nil {
		err = errors.Wrap(execErr, "failed to mark scheduled message failed")
		return err
	}
	return nil
}

func (r *Repository) Cancel(ctx context.Context, id uuid.UUID) (ok bool, err error) {
	start := time.Now()
	defer func() { observe("cancel", err, start) }()

	res, execErr := r.db.ExecContext(ctx, cancelSQL, id, time.Now().UTC())
	if execErr != nil {
		err = errors.Wrap(execErr, "failed to cancel scheduled message")
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *Repository) FindByConfirmationMessageIDForSender(ctx context.Context, fromChatID, confirmationMessageID string) (_ *models.ScheduledMessage, err error) {
	start := time.Now()
	defer func() { observe("find_by_confirmation_message_id", err, start) }()

	row := r.db.QueryRowContext(ctx, findByConfirmationMessageIDSQL, fromChatID, confirmationMessageID)
	msg, scanErr := scanMessage(row)
	if scanErr == sql.ErrNoRows {
		err = ErrNotFound
		return nil, err
	}
	if scanErr != nil {
		err = errors.Wrap(scanErr, "failed to scan scheduled message")
		return nil, err
	}
	return msg, nil
}

func (r *Repository) UpdateMetadata(ctx context.Context, id uuid.UUID, confirmationMessageID string) (err error) {
	start := time.Now()
	defer func() { observe("update_metadata", err, start) }()

	_, execErr := r.db.ExecContext(ctx, updateMetadataSQL, id, confirmationMessageID, time.Now().UTC())
	if execErr != nil {
		err = errors.Wrap(execErr, "failed to update scheduled message metadata")
		return err
	}
	return nil
}
