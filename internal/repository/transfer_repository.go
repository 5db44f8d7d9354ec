package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/scenario-steal/internal/model"
)

// TransferRepo stores the append-only traces of ownership changes:
// steals, recoveries and shield grants.
type TransferRepo struct {
	db *sql.DB
}

// NewTransferRepo returns a TransferRepo bound to db.
func NewTransferRepo(db *sql.DB) *TransferRepo {
	return &TransferRepo{db: db}
}

// CreateStealTx appends a steal record.  The unique (scenario_id,
// sequence_number) key rejects a second record for the same sequence,
// which surfaces as ErrConflict.
func (r *TransferRepo) CreateStealTx(ctx context.Context, tx *sql.Tx, s *model.StealRecord) error {
	exists, err := r.stealSequenceExistsTx(ctx, tx, s.ScenarioID, s.SequenceNumber)
	if err != nil {
		return err
	}
	if exists {
		return ErrConflict
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO steal_records (id, scenario_id, previous_owner_id, new_owner_id, price_paid, sequence_number, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.ScenarioID, s.PreviousOwnerID, s.NewOwnerID, s.PricePaid, s.SequenceNumber, s.CreatedAt.UTC())
	return err
}

func (r *TransferRepo) stealSequenceExistsTx(ctx context.Context, tx *sql.Tx, scenarioID int64, seq int) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx,
		`SELECT 1 FROM steal_records WHERE scenario_id = ? AND sequence_number = ? LIMIT 1`,
		scenarioID, seq).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// LatestStealTx returns the steal record with the highest sequence number
// for a scenario, or nil when it was never stolen.
func (r *TransferRepo) LatestStealTx(ctx context.Context, tx *sql.Tx, scenarioID int64) (*model.StealRecord, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT id, scenario_id, previous_owner_id, new_owner_id, price_paid, sequence_number, created_at
		 FROM steal_records WHERE scenario_id = ?
		 ORDER BY sequence_number DESC LIMIT 1`, scenarioID)
	var s model.StealRecord
	err := row.Scan(&s.ID, &s.ScenarioID, &s.PreviousOwnerID, &s.NewOwnerID, &s.PricePaid, &s.SequenceNumber, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.CreatedAt = s.CreatedAt.UTC()
	return &s, nil
}

// ListSteals returns the steals of a scenario in sequence order.
func (r *TransferRepo) ListSteals(ctx context.Context, q Querier, scenarioID int64) ([]model.StealRecord, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, scenario_id, previous_owner_id, new_owner_id, price_paid, sequence_number, created_at
		 FROM steal_records WHERE scenario_id = ?
		 ORDER BY sequence_number`, scenarioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.StealRecord, 0)
	for rows.Next() {
		var s model.StealRecord
		if err := rows.Scan(&s.ID, &s.ScenarioID, &s.PreviousOwnerID, &s.NewOwnerID, &s.PricePaid, &s.SequenceNumber, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.CreatedAt = s.CreatedAt.UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// CreateRecoveryTx appends a recovery record.
func (r *TransferRepo) CreateRecoveryTx(ctx context.Context, tx *sql.Tx, rec *model.RecoveryRecord) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO recovery_records (id, scenario_id, original_owner_id, stealer_id, recovery_price, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ScenarioID, rec.OriginalOwnerID, rec.StealerID, rec.RecoveryPrice, rec.CreatedAt.UTC())
	return err
}

// CountRecoveriesAfterTx counts recoveries of a scenario recorded with an
// id greater than afterID.  Snowflake ids grow with time, so passing the
// latest steal's id tells whether that steal was already bought back.
func (r *TransferRepo) CountRecoveriesAfterTx(ctx context.Context, tx *sql.Tx, scenarioID, afterID int64) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recovery_records WHERE scenario_id = ? AND id > ?`,
		scenarioID, afterID).Scan(&n)
	return n, err
}

// ListRecoveries returns the recoveries of a scenario oldest first.
func (r *TransferRepo) ListRecoveries(ctx context.Context, q Querier, scenarioID int64) ([]model.RecoveryRecord, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, scenario_id, original_owner_id, stealer_id, recovery_price, created_at
		 FROM recovery_records WHERE scenario_id = ?
		 ORDER BY created_at, id`, scenarioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.RecoveryRecord, 0)
	for rows.Next() {
		var rec model.RecoveryRecord
		if err := rows.Scan(&rec.ID, &rec.ScenarioID, &rec.OriginalOwnerID, &rec.StealerID, &rec.RecoveryPrice, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.CreatedAt = rec.CreatedAt.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CreateShieldTx appends a shield grant.
func (r *TransferRepo) CreateShieldTx(ctx context.Context, tx *sql.Tx, g *model.ShieldGrant) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO shield_grants (id, scenario_id, granted_to, kind, price, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.ScenarioID, g.GrantedTo, g.Kind, g.Price, g.ExpiresAt.UTC(), g.CreatedAt.UTC())
	return err
}

// ListShields returns the shield grants of a scenario oldest first.
func (r *TransferRepo) ListShields(ctx context.Context, q Querier, scenarioID int64) ([]model.ShieldGrant, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, scenario_id, granted_to, kind, price, expires_at, created_at
		 FROM shield_grants WHERE scenario_id = ?
		 ORDER BY created_at, id`, scenarioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.ShieldGrant, 0)
	for rows.Next() {
		var g model.ShieldGrant
		if err := rows.Scan(&g.ID, &g.ScenarioID, &g.GrantedTo, &g.Kind, &g.Price, &g.ExpiresAt, &g.CreatedAt); err != nil {
			return nil, err
		}
		g.ExpiresAt = g.ExpiresAt.UTC()
		g.CreatedAt = g.CreatedAt.UTC()
		out = append(out, g)
	}
	return out, rows.Err()
}
