package model

import "time"

// StealRecord is the append-only trace of one successful steal.
// SequenceNumber equals the scenario's StealCount right after the
// transfer, so it starts at 1 and has no gaps.
type StealRecord struct {
	ID              int64     // steal_records.id
	ScenarioID      int64     // steal_records.scenario_id
	PreviousOwnerID int64     // steal_records.previous_owner_id
	NewOwnerID      int64     // steal_records.new_owner_id
	PricePaid       int64     // steal_records.price_paid
	SequenceNumber  int       // steal_records.sequence_number
	CreatedAt       time.Time // steal_records.created_at
}

// RecoveryRecord is the append-only trace of a buy-back by the holder
// displaced in the most recent steal.
type RecoveryRecord struct {
	ID              int64     // recovery_records.id
	ScenarioID      int64     // recovery_records.scenario_id
	OriginalOwnerID int64     // recovery_records.original_owner_id
	StealerID       int64     // recovery_records.stealer_id
	RecoveryPrice   int64     // recovery_records.recovery_price
	CreatedAt       time.Time // recovery_records.created_at
}

// ShieldGrant records a shield purchase.  The effective protection of a
// scenario is its ProtectedUntil column; grants are kept for audit.
type ShieldGrant struct {
	ID         int64     // shield_grants.id
	ScenarioID int64     // shield_grants.scenario_id
	GrantedTo  int64     // shield_grants.granted_to
	Kind       string    // shield_grants.kind
	Price      int64     // shield_grants.price
	ExpiresAt  time.Time // shield_grants.expires_at
	CreatedAt  time.Time // shield_grants.created_at
}

// HistoryKind discriminates merged history entries.
type HistoryKind string

const (
	HistoryCreation HistoryKind = "creation"
	HistorySteal    HistoryKind = "steal"
	HistoryRecovery HistoryKind = "recovery"
)

// HistoryEntry is one row of the merged ownership history.  FromUserID is
// nil for the creation entry.
type HistoryEntry struct {
	Kind       HistoryKind `json:"kind"`
	FromUserID *int64      `json:"from_user_id,string"`
	ToUserID   int64       `json:"to_user_id,string"`
	Price      int64       `json:"price"`
	Timestamp  time.Time   `json:"timestamp"`

	// id of the source row, used to break timestamp ties
	seq int64
}

// NewHistoryEntry builds a HistoryEntry carrying the source row id used
// for stable ordering.
func NewHistoryEntry(kind HistoryKind, from *int64, to, price int64, at time.Time, rowID int64) HistoryEntry {
	return HistoryEntry{Kind: kind, FromUserID: from, ToUserID: to, Price: price, Timestamp: at, seq: rowID}
}

// Before orders entries by timestamp, then by source row id.
func (h HistoryEntry) Before(o HistoryEntry) bool {
	if !h.Timestamp.Equal(o.Timestamp) {
		return h.Timestamp.Before(o.Timestamp)
	}
	return h.seq < o.seq
}
