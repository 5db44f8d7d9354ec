package model

import "time"

// LedgerReason explains a balance change.
type LedgerReason string

const (
	ReasonCreation        LedgerReason = "creation"
	ReasonStealDebit      LedgerReason = "steal_debit"
	ReasonShieldPurchase  LedgerReason = "shield_purchase"
	ReasonRecoveryDebit   LedgerReason = "recovery_debit"
	ReasonPayoutCredit    LedgerReason = "payout_credit"
	ReasonAdminAdjustment LedgerReason = "admin_adjustment"
	ReasonCancelRefund    LedgerReason = "cancel_refund"
)

// Account holds a user's in-app currency balance.  Unlimited accounts
// skip the sufficiency check but are still fully booked.
type Account struct {
	UserID    int64     // accounts.user_id
	Balance   int64     // accounts.balance
	Unlimited bool      // accounts.unlimited
	CreatedAt time.Time // accounts.created_at
	UpdatedAt time.Time // accounts.updated_at
}

// LedgerEntry is an immutable balance change.  For every user the sum of
// Delta equals Account.Balance.
type LedgerEntry struct {
	ID               int64        `json:"id,string"`
	UserID           int64        `json:"user_id,string"`
	Delta            int64        `json:"delta"`
	ResultingBalance int64        `json:"resulting_balance"`
	Reason           LedgerReason `json:"reason"`
	ReferenceID      int64        `json:"reference_id,string"`
	CreatedAt        time.Time    `json:"created_at"`
}
