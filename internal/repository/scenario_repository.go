package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/scenario-steal/internal/database"
	"github.com/iliyamo/scenario-steal/internal/model"
)

const scenarioColumns = `id, title, status, creator_id, current_holder_id, creation_price,
	current_price, steal_count, pool, protected_until, deadline, outcome, resolved_by,
	resolved_at, payout_amount, version, created_at, updated_at`

// ScenarioRepo is the ownership store.  Every mutation goes through
// UpdateTx, which only applies when the row still carries the version
// the caller read; on MySQL the read itself also takes a row lock.
type ScenarioRepo struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewScenarioRepo returns a ScenarioRepo bound to db.
func NewScenarioRepo(db *sql.DB, dialect database.Dialect) *ScenarioRepo {
	return &ScenarioRepo{db: db, dialect: dialect}
}

// CreateTx inserts a new scenario.  The caller supplies the ID and all
// initial values; Version is forced to 1.
func (r *ScenarioRepo) CreateTx(ctx context.Context, tx *sql.Tx, s *model.Scenario) error {
	s.Version = 1
	const q = `INSERT INTO scenarios (id, title, status, creator_id, current_holder_id, creation_price,
	               current_price, steal_count, pool, protected_until, deadline, payout_amount, version,
	               created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		s.ID, s.Title, string(s.Status), s.CreatorID, s.CurrentHolderID, s.CreationPrice,
		s.CurrentPrice, s.StealCount, s.Pool, nullTime(s.ProtectedUntil), nullTime(s.Deadline),
		s.PayoutAmount, s.Version, s.CreatedAt.UTC(), s.UpdatedAt.UTC(),
	)
	return err
}

// Get loads a scenario without locking.  It returns ErrScenarioNotFound
// when the id is unknown.
func (r *ScenarioRepo) Get(ctx context.Context, q Querier, id int64) (*model.Scenario, error) {
	row := q.QueryRowContext(ctx, `SELECT `+scenarioColumns+` FROM scenarios WHERE id = ?`, id)
	return scanScenario(row)
}

// GetForUpdateTx loads a scenario inside tx and, where the dialect
// supports it, holds a row lock until the transaction ends.
func (r *ScenarioRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id int64) (*model.Scenario, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+scenarioColumns+` FROM scenarios WHERE id = ?`+r.dialect.LockClause(), id)
	return scanScenario(row)
}

// UpdateTx writes every mutable column of s, guarded by s.Version.  It
// returns ErrConflict when another transaction changed the row first.
// On success s.Version and s.UpdatedAt reflect the stored row.
func (r *ScenarioRepo) UpdateTx(ctx context.Context, tx *sql.Tx, s *model.Scenario, now time.Time) error {
	var outcome sql.NullString
	if s.Outcome != nil {
		outcome = sql.NullString{String: string(*s.Outcome), Valid: true}
	}
	const q = `UPDATE scenarios
	           SET status = ?, current_holder_id = ?, current_price = ?, steal_count = ?, pool = ?,
	               protected_until = ?, outcome = ?, resolved_by = ?, resolved_at = ?,
	               payout_amount = ?, version = version + 1, updated_at = ?
	           WHERE id = ? AND version = ?`
	res, err := tx.ExecContext(ctx, q,
		string(s.Status), s.CurrentHolderID, s.CurrentPrice, s.StealCount, s.Pool,
		nullTime(s.ProtectedUntil), outcome, nullInt64(s.ResolvedBy), nullTime(s.ResolvedAt),
		s.PayoutAmount, now.UTC(), s.ID, s.Version,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	s.Version++
	s.UpdatedAt = now.UTC()
	return nil
}

// ListExpiredActive returns the ids of ACTIVE scenarios whose deadline is
// at or before now, oldest deadline first.
func (r *ScenarioRepo) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM scenarios
		 WHERE status = ? AND deadline IS NOT NULL AND deadline <= ?
		 ORDER BY deadline, id
		 LIMIT ?`,
		string(model.StatusActive), now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanScenario(row rowScanner) (*model.Scenario, error) {
	var (
		s                                  model.Scenario
		status                             string
		protectedUntil, deadline, resolved sql.NullTime
		outcome                            sql.NullString
		resolvedBy                         sql.NullInt64
	)
	err := row.Scan(
		&s.ID, &s.Title, &status, &s.CreatorID, &s.CurrentHolderID, &s.CreationPrice,
		&s.CurrentPrice, &s.StealCount, &s.Pool, &protectedUntil, &deadline, &outcome, &resolvedBy,
		&resolved, &s.PayoutAmount, &s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrScenarioNotFound
		}
		return nil, err
	}
	s.Status = model.ScenarioStatus(status)
	s.ProtectedUntil = timePtr(protectedUntil)
	s.Deadline = timePtr(deadline)
	s.ResolvedAt = timePtr(resolved)
	if outcome.Valid {
		o := model.Outcome(outcome.String)
		s.Outcome = &o
	}
	if resolvedBy.Valid {
		id := resolvedBy.Int64
		s.ResolvedBy = &id
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}
