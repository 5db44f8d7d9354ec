package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/iliyamo/scenario-steal/internal/metrics"
	"github.com/iliyamo/scenario-steal/internal/model"
)

// RecoverRequest asks to buy back a scenario lost in the latest steal.
type RecoverRequest struct {
	ScenarioID int64
	ActorID    int64
}

// RecoveryResult describes a successful buy-back.
type RecoveryResult struct {
	RecoveryPrice int64 `json:"recovery_price"`
	PoolTotal     int64 `json:"pool_total"`
}

// RecoverOwnership returns a scenario to the holder displaced by the most
// recent steal at a premium over that steal's price.  The premium goes
// into the pool; the thief gets nothing back.  The scenario price and
// steal count are left as they are.
func (e *Engine) RecoverOwnership(ctx context.Context, req RecoverRequest) (*RecoveryResult, error) {
	var res RecoveryResult
	_, err := e.mutateScenario(ctx, metrics.OpRecover, req.ScenarioID,
		func(ctx context.Context, tx *sql.Tx, s *model.Scenario, now time.Time) ([]model.Notification, error) {
			if err := requireOpen(s, now); err != nil {
				return nil, err
			}
			if s.Protected(now) {
				return nil, ErrScenarioProtected
			}
			latest, err := e.transfers.LatestStealTx(ctx, tx, s.ID)
			if err != nil {
				return nil, err
			}
			if latest == nil {
				return nil, ErrNoStealToRecover
			}
			if req.ActorID != latest.PreviousOwnerID {
				return nil, ErrNotPreviousOwner
			}
			if s.CurrentHolderID != latest.NewOwnerID {
				// the latest steal was already bought back
				return nil, ErrNoStealToRecover
			}
			if w := e.economy.RecoveryWindow; w > 0 && now.Sub(latest.CreatedAt) > w {
				return nil, ErrRecoveryWindowExpired
			}

			price := e.policy.Recovery(latest.PricePaid)
			if err := e.debit(ctx, tx, req.ActorID, price, model.ReasonRecoveryDebit, s.ID, now); err != nil {
				return nil, err
			}

			thief := s.CurrentHolderID
			s.CurrentHolderID = req.ActorID
			s.Pool += price

			rec := &model.RecoveryRecord{
				ID:              e.newID(),
				ScenarioID:      s.ID,
				OriginalOwnerID: req.ActorID,
				StealerID:       thief,
				RecoveryPrice:   price,
				CreatedAt:       now,
			}
			if err := e.transfers.CreateRecoveryTx(ctx, tx, rec); err != nil {
				return nil, err
			}

			res = RecoveryResult{RecoveryPrice: price, PoolTotal: s.Pool}
			return []model.Notification{{
				UserID:  thief,
				Kind:    model.NotifyOwnershipRecovered,
				Title:   "Ownership recovered",
				Message: fmt.Sprintf("User %d bought back %q for %d coins.", req.ActorID, s.Title, price),
				LinkURL: scenarioLink(s.ID),
				Metadata: map[string]any{
					"scenario_id":    idString(s.ID),
					"recovered_by":   req.ActorID,
					"recovery_price": price,
				},
			}}, nil
		})
	if err != nil {
		return nil, err
	}
	e.metrics.PoolInflow(metrics.OpRecover, res.RecoveryPrice)
	return &res, nil
}
