// Package repository defines the SQL data access used by the scenario
// engines.  Write methods take the caller's *sql.Tx so that ownership
// changes and the ledger rows that justify them commit together.
//
// The sentinel values below let higher layers distinguish failure
// scenarios without inspecting driver errors.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrConflict is returned when an optimistic update finds that the row
// changed since it was read.  Callers should re-read and decide whether
// to retry.
var ErrConflict = errors.New("conflict")

// ErrScenarioNotFound is returned when a scenario lookup yields no rows.
var ErrScenarioNotFound = errors.New("scenario not found")

// ErrAccountNotFound is returned when a user has no ledger account.
var ErrAccountNotFound = errors.New("account not found")

// ErrInsufficientFunds is returned when a debit would take a limited
// account below zero.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrInvalidAmount is returned for non-positive postings.
var ErrInvalidAmount = errors.New("invalid amount")

// Querier is satisfied by both *sql.DB and *sql.Tx.  Read methods accept
// it so they can run inside a transaction for a consistent snapshot.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
