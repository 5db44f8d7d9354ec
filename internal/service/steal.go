package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/iliyamo/scenario-steal/internal/metrics"
	"github.com/iliyamo/scenario-steal/internal/model"
)

// StealRequest asks to take over a scenario.  ExpectedStealCount pins
// the state the caller priced the steal against; when nil the engine
// reads it just before locking.
type StealRequest struct {
	ScenarioID         int64
	ActorID            int64
	ExpectedStealCount *int
}

// StealResult describes a successful steal.
type StealResult struct {
	StealPrice  int64 `json:"steal_price"`
	NextPrice   int64 `json:"next_price"`
	PoolTotal   int64 `json:"pool_total"`
	StealNumber int   `json:"steal_number"`
}

// AttemptSteal transfers ownership of a scenario to the actor at the
// current price.  Either every effect commits together or none does.
func (e *Engine) AttemptSteal(ctx context.Context, req StealRequest) (*StealResult, error) {
	expected := req.ExpectedStealCount
	if expected == nil {
		snap, err := e.scenarios.Get(ctx, e.db, req.ScenarioID)
		if err != nil {
			err = translate(err)
			e.record(metrics.OpSteal, req.ScenarioID, time.Now(), err)
			return nil, err
		}
		n := snap.StealCount
		expected = &n
	}

	var res StealResult
	_, err := e.mutateScenario(ctx, metrics.OpSteal, req.ScenarioID,
		func(ctx context.Context, tx *sql.Tx, s *model.Scenario, now time.Time) ([]model.Notification, error) {
			if err := requireOpen(s, now); err != nil {
				return nil, err
			}
			if s.Protected(now) {
				return nil, ErrScenarioProtected
			}
			if req.ActorID == s.CurrentHolderID {
				return nil, ErrSelfSteal
			}
			if s.StealCount != *expected {
				return nil, ErrScenarioChanged
			}

			quote := e.policy.Quote(s.CurrentPrice)
			if quote.StealPrice > 0 {
				if err := e.debit(ctx, tx, req.ActorID, quote.StealPrice, model.ReasonStealDebit, s.ID, now); err != nil {
					return nil, err
				}
			}

			previous := s.CurrentHolderID
			s.CurrentHolderID = req.ActorID
			s.Pool += quote.StealPrice
			s.CurrentPrice = quote.NextPrice
			s.StealCount++

			rec := &model.StealRecord{
				ID:              e.newID(),
				ScenarioID:      s.ID,
				PreviousOwnerID: previous,
				NewOwnerID:      req.ActorID,
				PricePaid:       quote.StealPrice,
				SequenceNumber:  s.StealCount,
				CreatedAt:       now,
			}
			if err := e.transfers.CreateStealTx(ctx, tx, rec); err != nil {
				return nil, err
			}

			res = StealResult{
				StealPrice:  quote.StealPrice,
				NextPrice:   quote.NextPrice,
				PoolTotal:   s.Pool,
				StealNumber: s.StealCount,
			}
			return []model.Notification{{
				UserID:  previous,
				Kind:    model.NotifyHolderDisplaced,
				Title:   "Your scenario was stolen",
				Message: fmt.Sprintf("User %d took %q for %d coins. The pool is now %d.", req.ActorID, s.Title, quote.StealPrice, s.Pool),
				LinkURL: scenarioLink(s.ID),
				Metadata: map[string]any{
					"scenario_id":  idString(s.ID),
					"thief_id":     req.ActorID,
					"steal_price":  quote.StealPrice,
					"steal_number": s.StealCount,
				},
			}}, nil
		})
	if err != nil {
		return nil, err
	}
	e.metrics.PoolInflow(metrics.OpSteal, res.StealPrice)
	return &res, nil
}

func scenarioLink(id int64) string {
	return fmt.Sprintf("/scenarios/%d", id)
}

// idString renders a snowflake id for notification metadata, which is
// decoded downstream without int64 precision.
func idString(id int64) string {
	return fmt.Sprintf("%d", id)
}
