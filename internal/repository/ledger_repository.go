package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/iliyamo/scenario-steal/internal/database"
	"github.com/iliyamo/scenario-steal/internal/model"
)

// Posting describes one balance change to book.  Amount is always
// positive; the direction comes from the method used.
type Posting struct {
	UserID      int64
	Amount      int64
	Reason      model.LedgerReason
	ReferenceID int64
	At          time.Time
}

// LedgerRepo owns accounts and their immutable ledger entries.  Every
// balance change writes exactly one entry whose ResultingBalance equals
// the stored balance after the change.
type LedgerRepo struct {
	db      *sql.DB
	dialect database.Dialect
	ids     *snowflake.Node
}

// NewLedgerRepo returns a LedgerRepo that numbers entries with ids.
func NewLedgerRepo(db *sql.DB, dialect database.Dialect, ids *snowflake.Node) *LedgerRepo {
	return &LedgerRepo{db: db, dialect: dialect, ids: ids}
}

// CreateAccountTx opens an account.  A positive opening balance is booked
// as an admin adjustment so the ledger sums to the balance from the start.
func (r *LedgerRepo) CreateAccountTx(ctx context.Context, tx *sql.Tx, userID, opening int64, unlimited bool, at time.Time) (*model.Account, error) {
	if opening < 0 {
		return nil, ErrInvalidAmount
	}
	at = at.UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO accounts (user_id, balance, unlimited, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		userID, opening, unlimited, at, at); err != nil {
		return nil, err
	}
	if opening > 0 {
		if err := r.insertEntryTx(ctx, tx, userID, opening, opening, model.ReasonAdminAdjustment, 0, at); err != nil {
			return nil, err
		}
	}
	return &model.Account{UserID: userID, Balance: opening, Unlimited: unlimited, CreatedAt: at, UpdatedAt: at}, nil
}

// GetAccount loads an account without locking.
func (r *LedgerRepo) GetAccount(ctx context.Context, q Querier, userID int64) (*model.Account, error) {
	row := q.QueryRowContext(ctx,
		`SELECT user_id, balance, unlimited, created_at, updated_at FROM accounts WHERE user_id = ?`, userID)
	return scanAccount(row)
}

// GetAccountForUpdateTx loads an account and locks it until tx ends.
func (r *LedgerRepo) GetAccountForUpdateTx(ctx context.Context, tx *sql.Tx, userID int64) (*model.Account, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT user_id, balance, unlimited, created_at, updated_at FROM accounts WHERE user_id = ?`+r.dialect.LockClause(),
		userID)
	return scanAccount(row)
}

// SetUnlimitedTx flips the unlimited flag on an existing account.
func (r *LedgerRepo) SetUnlimitedTx(ctx context.Context, tx *sql.Tx, userID int64, unlimited bool, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE accounts SET unlimited = ?, updated_at = ? WHERE user_id = ?`, unlimited, at.UTC(), userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// DebitTx takes p.Amount from p.UserID.  Limited accounts must cover the
// amount or ErrInsufficientFunds is returned and nothing is written.
// Unlimited accounts are debited like any other and then restored by an
// admin adjustment, so the spend stays visible in their ledger.  Admin
// adjustments themselves are never restored.
func (r *LedgerRepo) DebitTx(ctx context.Context, tx *sql.Tx, p Posting) (*model.LedgerEntry, error) {
	if p.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	acc, err := r.GetAccountForUpdateTx(ctx, tx, p.UserID)
	if err != nil {
		return nil, err
	}
	if !acc.Unlimited && acc.Balance < p.Amount {
		return nil, ErrInsufficientFunds
	}
	at := p.At.UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance = balance - ?, updated_at = ?
		 WHERE user_id = ? AND (unlimited = ? OR balance >= ?)`,
		p.Amount, at, p.UserID, true, p.Amount)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrInsufficientFunds
	}
	entry := &model.LedgerEntry{
		ID:               r.ids.Generate().Int64(),
		UserID:           p.UserID,
		Delta:            -p.Amount,
		ResultingBalance: acc.Balance - p.Amount,
		Reason:           p.Reason,
		ReferenceID:      p.ReferenceID,
		CreatedAt:        at,
	}
	if err := r.insertEntry(ctx, tx, entry); err != nil {
		return nil, err
	}
	if acc.Unlimited && p.Reason != model.ReasonAdminAdjustment {
		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET balance = balance + ?, updated_at = ? WHERE user_id = ?`,
			p.Amount, at, p.UserID); err != nil {
			return nil, err
		}
		if err := r.insertEntryTx(ctx, tx, p.UserID, p.Amount, acc.Balance, model.ReasonAdminAdjustment, p.ReferenceID, at); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

// CreditTx adds p.Amount to p.UserID.
func (r *LedgerRepo) CreditTx(ctx context.Context, tx *sql.Tx, p Posting) (*model.LedgerEntry, error) {
	if p.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	acc, err := r.GetAccountForUpdateTx(ctx, tx, p.UserID)
	if err != nil {
		return nil, err
	}
	at := p.At.UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance = balance + ?, updated_at = ? WHERE user_id = ?`,
		p.Amount, at, p.UserID); err != nil {
		return nil, err
	}
	entry := &model.LedgerEntry{
		ID:               r.ids.Generate().Int64(),
		UserID:           p.UserID,
		Delta:            p.Amount,
		ResultingBalance: acc.Balance + p.Amount,
		Reason:           p.Reason,
		ReferenceID:      p.ReferenceID,
		CreatedAt:        at,
	}
	if err := r.insertEntry(ctx, tx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// EntriesByReference returns every entry booked against referenceID in
// insertion order.
func (r *LedgerRepo) EntriesByReference(ctx context.Context, q Querier, referenceID int64) ([]model.LedgerEntry, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, user_id, delta, resulting_balance, reason, reference_id, created_at
		 FROM ledger_entries WHERE reference_id = ? ORDER BY id`, referenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Entries returns the latest entries of a user, newest first.
func (r *LedgerRepo) Entries(ctx context.Context, q Querier, userID int64, limit int) ([]model.LedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := q.QueryContext(ctx,
		`SELECT id, user_id, delta, resulting_balance, reason, reference_id, created_at
		 FROM ledger_entries WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (r *LedgerRepo) insertEntryTx(ctx context.Context, tx *sql.Tx, userID, delta, resulting int64, reason model.LedgerReason, ref int64, at time.Time) error {
	return r.insertEntry(ctx, tx, &model.LedgerEntry{
		ID:               r.ids.Generate().Int64(),
		UserID:           userID,
		Delta:            delta,
		ResultingBalance: resulting,
		Reason:           reason,
		ReferenceID:      ref,
		CreatedAt:        at,
	})
}

func (r *LedgerRepo) insertEntry(ctx context.Context, tx *sql.Tx, e *model.LedgerEntry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (id, user_id, delta, resulting_balance, reason, reference_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Delta, e.ResultingBalance, string(e.Reason), e.ReferenceID, e.CreatedAt.UTC())
	return err
}

func scanAccount(row rowScanner) (*model.Account, error) {
	var a model.Account
	if err := row.Scan(&a.UserID, &a.Balance, &a.Unlimited, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

func scanEntries(rows *sql.Rows) ([]model.LedgerEntry, error) {
	out := make([]model.LedgerEntry, 0)
	for rows.Next() {
		var (
			e      model.LedgerEntry
			reason string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Delta, &e.ResultingBalance, &reason, &e.ReferenceID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Reason = model.LedgerReason(reason)
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
