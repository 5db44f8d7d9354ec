package service

import (
	"context"
	"database/sql"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/iliyamo/scenario-steal/internal/metrics"
	"github.com/iliyamo/scenario-steal/internal/model"
)

const maxTitleLen = 255

// CreateRequest opens a new scenario.  Deadline is optional.
type CreateRequest struct {
	CreatorID     int64
	Title         string
	CreationPrice int64
	Deadline      *time.Time
}

// CreateScenario debits the creator the creation price into the pool and
// makes them the first holder.
func (e *Engine) CreateScenario(ctx context.Context, req CreateRequest) (*model.Scenario, error) {
	started := time.Now()
	s, err := e.createScenario(ctx, req)
	if err != nil {
		err = translate(err)
		e.record(metrics.OpCreate, 0, started, err)
		return nil, err
	}
	e.record(metrics.OpCreate, s.ID, started, nil)
	e.metrics.PoolInflow(metrics.OpCreate, s.CreationPrice)
	e.afterCommit(ctx, s.ID, nil)
	return s, nil
}

func (e *Engine) createScenario(ctx context.Context, req CreateRequest) (*model.Scenario, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" || utf8.RuneCountInString(title) > maxTitleLen {
		return nil, withMessage(ErrInvalidRequest, "title must be 1 to 255 characters")
	}
	if req.CreationPrice < e.economy.MinCreationPrice {
		return nil, withMessage(ErrInvalidAmount, "creation price is below the minimum")
	}
	now := e.now()
	var deadline *time.Time
	if req.Deadline != nil {
		d := req.Deadline.UTC().Truncate(time.Second)
		if !d.After(now) {
			return nil, withMessage(ErrInvalidRequest, "deadline must be in the future")
		}
		deadline = &d
	}

	s := &model.Scenario{
		ID:              e.newID(),
		Title:           title,
		Status:          model.StatusActive,
		CreatorID:       req.CreatorID,
		CurrentHolderID: req.CreatorID,
		CreationPrice:   req.CreationPrice,
		CurrentPrice:    req.CreationPrice,
		Pool:            req.CreationPrice,
		Deadline:        deadline,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

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

	if err := e.scenarios.CreateTx(ctx, tx, s); err != nil {
		return nil, err
	}
	if err := e.debit(ctx, tx, req.CreatorID, req.CreationPrice, model.ReasonCreation, s.ID, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return s, nil
}

// Close ends trading on an ACTIVE scenario.
func (e *Engine) Close(ctx context.Context, scenarioID int64) (*model.Scenario, error) {
	return e.mutateScenario(ctx, metrics.OpClose, scenarioID,
		func(_ context.Context, _ *sql.Tx, s *model.Scenario, _ time.Time) ([]model.Notification, error) {
			if s.Status != model.StatusActive {
				return nil, ErrInvalidTransition
			}
			s.Status = model.StatusClosed
			return nil, nil
		})
}

// BeginReview opens the dispute window of a CLOSED scenario.
func (e *Engine) BeginReview(ctx context.Context, scenarioID int64) (*model.Scenario, error) {
	return e.mutateScenario(ctx, metrics.OpReview, scenarioID,
		func(_ context.Context, _ *sql.Tx, s *model.Scenario, _ time.Time) ([]model.Notification, error) {
			if s.Status != model.StatusClosed {
				return nil, ErrInvalidTransition
			}
			s.Status = model.StatusReviewing
			return nil, nil
		})
}

// CloseExpired closes up to limit ACTIVE scenarios whose deadline has
// passed and returns how many it closed.  Scenarios that changed state in
// the meantime are skipped.
func (e *Engine) CloseExpired(ctx context.Context, limit int) (int, error) {
	ids, err := e.scenarios.ListExpiredActive(ctx, e.now(), limit)
	if err != nil {
		return 0, translate(err)
	}
	closed := 0
	for _, id := range ids {
		_, err := e.mutateScenario(ctx, metrics.OpClose, id,
			func(_ context.Context, _ *sql.Tx, s *model.Scenario, now time.Time) ([]model.Notification, error) {
				if s.Status != model.StatusActive || !s.PastDeadline(now) {
					return nil, ErrInvalidTransition
				}
				s.Status = model.StatusClosed
				return nil, nil
			})
		if err != nil {
			if AsError(err).Kind == KindTransient {
				return closed, err
			}
			continue
		}
		closed++
	}
	if closed > 0 {
		e.log.Info("closed expired scenarios", zap.Int("count", closed))
	}
	return closed, nil
}

// RunDeadlineSweeper calls CloseExpired every interval until ctx ends.
func (e *Engine) RunDeadlineSweeper(ctx context.Context, interval time.Duration, batch int) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := e.CloseExpired(ctx, batch); err != nil && ctx.Err() == nil {
				e.log.Warn("deadline sweep failed", zap.Error(err))
			}
		}
	}
}
