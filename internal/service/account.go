package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/scenario-steal/internal/metrics"
	"github.com/iliyamo/scenario-steal/internal/model"
	"github.com/iliyamo/scenario-steal/internal/repository"
)

// AccountView is a balance with its most recent ledger entries.
type AccountView struct {
	UserID    int64               `json:"user_id,string"`
	Balance   int64               `json:"balance"`
	Unlimited bool                `json:"unlimited"`
	Entries   []model.LedgerEntry `json:"entries"`
}

// GetAccount returns the balance and up to limit recent entries of a user.
func (e *Engine) GetAccount(ctx context.Context, userID int64, limit int) (*AccountView, error) {
	var view *AccountView
	err := e.readTx(ctx, func(tx *sql.Tx) error {
		acc, err := e.ledger.GetAccount(ctx, tx, userID)
		if err != nil {
			return err
		}
		entries, err := e.ledger.Entries(ctx, tx, userID, limit)
		if err != nil {
			return err
		}
		view = &AccountView{UserID: acc.UserID, Balance: acc.Balance, Unlimited: acc.Unlimited, Entries: entries}
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return view, nil
}

// AdjustRequest is an administrative balance change.  A missing account
// is opened first.  Unlimited, when set, also changes the account flag.
// Note is free text kept in the audit log line.
type AdjustRequest struct {
	UserID    int64
	Delta     int64
	Unlimited *bool
	ActorID   int64
	Note      string
}

// AdjustBalance books an admin adjustment.  Limited accounts may not go
// below zero.
func (e *Engine) AdjustBalance(ctx context.Context, req AdjustRequest) (*model.Account, error) {
	started := time.Now()
	acc, err := e.adjustBalance(ctx, req)
	if err != nil {
		err = translate(err)
		e.record(metrics.OpAdjust, 0, started, err)
		return nil, err
	}
	e.record(metrics.OpAdjust, 0, started, nil)
	e.log.Info("balance adjusted",
		zap.Int64("user_id", req.UserID),
		zap.Int64("delta", req.Delta),
		zap.Int64("actor_id", req.ActorID),
		zap.String("note", req.Note),
		zap.Int64("balance", acc.Balance))
	return acc, nil
}

func (e *Engine) adjustBalance(ctx context.Context, req AdjustRequest) (*model.Account, error) {
	if req.Delta == 0 && req.Unlimited == nil {
		return nil, withMessage(ErrInvalidAmount, "nothing to adjust")
	}
	now := e.now()
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	_, err = e.ledger.GetAccountForUpdateTx(ctx, tx, req.UserID)
	if errors.Is(err, repository.ErrAccountNotFound) {
		unlimited := req.Unlimited != nil && *req.Unlimited
		_, err = e.ledger.CreateAccountTx(ctx, tx, req.UserID, 0, unlimited, now)
	} else if err == nil && req.Unlimited != nil {
		err = e.ledger.SetUnlimitedTx(ctx, tx, req.UserID, *req.Unlimited, now)
	}
	if err != nil {
		return nil, err
	}

	p := repository.Posting{UserID: req.UserID, Reason: model.ReasonAdminAdjustment, At: now}
	switch {
	case req.Delta > 0:
		p.Amount = req.Delta
		_, err = e.ledger.CreditTx(ctx, tx, p)
	case req.Delta < 0:
		p.Amount = -req.Delta
		_, err = e.ledger.DebitTx(ctx, tx, p)
	}
	if err != nil {
		return nil, err
	}

	acc, err := e.ledger.GetAccount(ctx, tx, req.UserID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return acc, nil
}
