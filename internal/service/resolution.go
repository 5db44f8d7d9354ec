package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/iliyamo/scenario-steal/internal/metrics"
	"github.com/iliyamo/scenario-steal/internal/model"
	"github.com/iliyamo/scenario-steal/internal/repository"
)

// ResolveRequest carries a moderator's authoritative outcome.
type ResolveRequest struct {
	ScenarioID  int64
	Outcome     model.Outcome
	ModeratorID int64
}

// PayoutResult describes what resolution paid.  PayoutAmount is 0 and
// the pool stays recorded as forfeited when the premise did not hold.
type PayoutResult struct {
	PayoutAmount int64 `json:"payout_amount"`
	RecipientID  int64 `json:"recipient_id,string"`
	WasFulfilled bool  `json:"was_fulfilled"`
	Pool         int64 `json:"pool"`
}

// Resolve moves a scenario to RESOLVED exactly once.  A fulfilled
// outcome credits the whole pool to the holder of record; otherwise the
// pool is forfeited.  A second call fails with ErrAlreadyResolved and
// pays nothing.
func (e *Engine) Resolve(ctx context.Context, req ResolveRequest) (*PayoutResult, error) {
	if !req.Outcome.Valid() {
		e.record(metrics.OpResolve, req.ScenarioID, time.Now(), ErrInvalidOutcome)
		return nil, ErrInvalidOutcome
	}

	var res PayoutResult
	_, err := e.mutateScenario(ctx, metrics.OpResolve, req.ScenarioID,
		func(ctx context.Context, tx *sql.Tx, s *model.Scenario, now time.Time) ([]model.Notification, error) {
			if err := finished(s.Status); err != nil {
				return nil, err
			}

			fulfilled := req.Outcome == model.OutcomeFulfilled
			outcome := req.Outcome
			moderator := req.ModeratorID
			resolvedAt := now
			s.Status = model.StatusResolved
			s.Outcome = &outcome
			s.ResolvedBy = &moderator
			s.ResolvedAt = &resolvedAt
			s.PayoutAmount = 0

			if fulfilled && s.Pool > 0 {
				if _, err := e.ledger.CreditTx(ctx, tx, repository.Posting{
					UserID:      s.CurrentHolderID,
					Amount:      s.Pool,
					Reason:      model.ReasonPayoutCredit,
					ReferenceID: s.ID,
					At:          now,
				}); err != nil {
					return nil, err
				}
				s.PayoutAmount = s.Pool
			}

			res = PayoutResult{
				PayoutAmount: s.PayoutAmount,
				RecipientID:  s.CurrentHolderID,
				WasFulfilled: fulfilled,
				Pool:         s.Pool,
			}

			n := model.Notification{
				UserID:  s.CurrentHolderID,
				LinkURL: scenarioLink(s.ID),
				Metadata: map[string]any{
					"scenario_id": idString(s.ID),
					"outcome":     string(outcome),
					"pool":        s.Pool,
				},
			}
			if fulfilled {
				n.Kind = model.NotifyResolvedFulfilled
				n.Title = "You won"
				n.Message = fmt.Sprintf("%q happened. You won %d coins.", s.Title, s.Pool)
			} else {
				n.Kind = model.NotifyResolvedNotFulfilled
				n.Title = "Scenario did not occur"
				n.Message = fmt.Sprintf("%q did not occur. The pool of %d coins is forfeited.", s.Title, s.Pool)
			}
			return []model.Notification{n}, nil
		})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// finished reports why a terminal scenario accepts no further transition.
func finished(st model.ScenarioStatus) error {
	if !st.Terminal() {
		return nil
	}
	if st == model.StatusResolved {
		return ErrAlreadyResolved
	}
	return ErrScenarioCancelled
}

// CancelRequest asks an administrator cancellation.
type CancelRequest struct {
	ScenarioID int64
	ActorID    int64
}

// Refund is money returned to one payer by a cancellation.
type Refund struct {
	UserID int64 `json:"user_id,string"`
	Amount int64 `json:"amount"`
}

// CancelResult lists the refunds a cancellation booked.
type CancelResult struct {
	Refunds []Refund `json:"refunds"`
	Total   int64    `json:"total"`
}

// Cancel moves a scenario to CANCELLED and refunds every payer the net
// amount they spent on it: creation, steals, recoveries and shields.
// Spend already restored on unlimited accounts nets out and is not paid
// twice.
func (e *Engine) Cancel(ctx context.Context, req CancelRequest) (*CancelResult, error) {
	var res CancelResult
	_, err := e.mutateScenario(ctx, metrics.OpCancel, req.ScenarioID,
		func(ctx context.Context, tx *sql.Tx, s *model.Scenario, now time.Time) ([]model.Notification, error) {
			if err := finished(s.Status); err != nil {
				return nil, err
			}

			entries, err := e.ledger.EntriesByReference(ctx, tx, s.ID)
			if err != nil {
				return nil, err
			}
			refunds := netRefunds(entries)

			notes := make([]model.Notification, 0, len(refunds))
			for _, r := range refunds {
				if _, err := e.ledger.CreditTx(ctx, tx, repository.Posting{
					UserID:      r.UserID,
					Amount:      r.Amount,
					Reason:      model.ReasonCancelRefund,
					ReferenceID: s.ID,
					At:          now,
				}); err != nil {
					return nil, err
				}
				res.Total += r.Amount
				notes = append(notes, model.Notification{
					UserID:  r.UserID,
					Kind:    model.NotifyScenarioCancelled,
					Title:   "Scenario cancelled",
					Message: fmt.Sprintf("%q was cancelled. %d coins were refunded to you.", s.Title, r.Amount),
					LinkURL: scenarioLink(s.ID),
					Metadata: map[string]any{
						"scenario_id": idString(s.ID),
						"refund":      r.Amount,
					},
				})
			}
			res.Refunds = refunds

			actor := req.ActorID
			at := now
			s.Status = model.StatusCancelled
			s.ResolvedBy = &actor
			s.ResolvedAt = &at
			s.PayoutAmount = 0
			return notes, nil
		})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// netRefunds sums the ledger deltas of each user against one scenario and
// returns the users left out of pocket, ordered by user id.
func netRefunds(entries []model.LedgerEntry) []Refund {
	net := make(map[int64]int64)
	for _, en := range entries {
		net[en.UserID] += en.Delta
	}
	out := make([]Refund, 0, len(net))
	for user, delta := range net {
		if delta < 0 {
			out = append(out, Refund{UserID: user, Amount: -delta})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
