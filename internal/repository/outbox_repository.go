package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/iliyamo/scenario-steal/internal/model"
)

// OutboxRepo persists notification intents next to the state change that
// caused them.  A relay later hands pending rows to the gateway.
type OutboxRepo struct {
	db *sql.DB
}

// NewOutboxRepo returns an OutboxRepo bound to db.
func NewOutboxRepo(db *sql.DB) *OutboxRepo {
	return &OutboxRepo{db: db}
}

// DB returns the underlying sql.DB.
func (r *OutboxRepo) DB() *sql.DB {
	return r.db
}

// EnqueueTx stores m inside tx.  m.ID must already be assigned.
func (r *OutboxRepo) EnqueueTx(ctx context.Context, tx *sql.Tx, m *model.OutboxMessage) error {
	payload, err := json.Marshal(m.Notification)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO notification_outbox (id, user_id, kind, payload, attempts, created_at)
		 VALUES (?, ?, ?, ?, 0, ?)`,
		m.ID, m.Notification.UserID, string(m.Notification.Kind), string(payload), m.CreatedAt.UTC())
	return err
}

// Pending returns undelivered messages that have been tried fewer than
// maxAttempts times, oldest first.  maxAttempts <= 0 means no limit.
func (r *OutboxRepo) Pending(ctx context.Context, limit, maxAttempts int) ([]model.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, payload, attempts, last_error, created_at, sent_at
	          FROM notification_outbox WHERE sent_at IS NULL`
	args := []any{}
	if maxAttempts > 0 {
		query += ` AND attempts < ?`
		args = append(args, maxAttempts)
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.OutboxMessage, 0)
	for rows.Next() {
		m, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// Get loads one message by id.
func (r *OutboxRepo) Get(ctx context.Context, id int64) (*model.OutboxMessage, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, payload, attempts, last_error, created_at, sent_at
		 FROM notification_outbox WHERE id = ?`, id)
	return scanOutbox(row)
}

// MarkSent records delivery.  It reports false when the message was
// already marked by a concurrent relay.
func (r *OutboxRepo) MarkSent(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notification_outbox SET sent_at = ?, attempts = attempts + 1, last_error = NULL
		 WHERE id = ? AND sent_at IS NULL`, at.UTC(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkFailed bumps the attempt counter and keeps the last error text.
func (r *OutboxRepo) MarkFailed(ctx context.Context, id int64, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE notification_outbox SET attempts = attempts + 1, last_error = ?
		 WHERE id = ? AND sent_at IS NULL`, reason, id)
	return err
}

func scanOutbox(row rowScanner) (*model.OutboxMessage, error) {
	var (
		m       model.OutboxMessage
		payload string
		lastErr sql.NullString
		sentAt  sql.NullTime
	)
	if err := row.Scan(&m.ID, &payload, &m.Attempts, &lastErr, &m.CreatedAt, &sentAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &m.Notification); err != nil {
		return nil, err
	}
	m.LastError = lastErr.String
	m.CreatedAt = m.CreatedAt.UTC()
	m.SentAt = timePtr(sentAt)
	return &m, nil
}
