package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/scenario-steal/internal/metrics"
	"github.com/iliyamo/scenario-steal/internal/model"
)

// ShieldRequest asks to protect a scenario with one catalogue product.
type ShieldRequest struct {
	ScenarioID int64
	ActorID    int64
	Kind       string
}

// ShieldResult reports the protection now in force.
type ShieldResult struct {
	ProtectedUntil time.Time `json:"protected_until"`
	Price          int64     `json:"price"`
	Kind           string    `json:"kind"`
}

// ApplyShield sells the current holder protection from steals.  A
// purchase while already protected keeps the later of the two expiries.
// Shield payments go to the house, not the pool.
func (e *Engine) ApplyShield(ctx context.Context, req ShieldRequest) (*ShieldResult, error) {
	product, ok := e.economy.Shields[req.Kind]
	if !ok {
		err := withMessage(ErrUnknownShield, "unknown shield kind "+req.Kind)
		e.record(metrics.OpShield, req.ScenarioID, time.Now(), err)
		return nil, err
	}

	var res ShieldResult
	_, err := e.mutateScenario(ctx, metrics.OpShield, req.ScenarioID,
		func(ctx context.Context, tx *sql.Tx, s *model.Scenario, now time.Time) ([]model.Notification, error) {
			if err := requireOpen(s, now); err != nil {
				return nil, err
			}
			if req.ActorID != s.CurrentHolderID {
				return nil, ErrNotHolder
			}
			if err := e.debit(ctx, tx, req.ActorID, product.Price, model.ReasonShieldPurchase, s.ID, now); err != nil {
				return nil, err
			}

			until := now.Add(product.Duration)
			if s.ProtectedUntil != nil && s.ProtectedUntil.After(until) {
				until = *s.ProtectedUntil
			}
			s.ProtectedUntil = &until

			grant := &model.ShieldGrant{
				ID:         e.newID(),
				ScenarioID: s.ID,
				GrantedTo:  req.ActorID,
				Kind:       req.Kind,
				Price:      product.Price,
				ExpiresAt:  until,
				CreatedAt:  now,
			}
			if err := e.transfers.CreateShieldTx(ctx, tx, grant); err != nil {
				return nil, err
			}
			res = ShieldResult{ProtectedUntil: until, Price: product.Price, Kind: req.Kind}
			return nil, nil
		})
	if err != nil {
		return nil, err
	}
	return &res, nil
}
