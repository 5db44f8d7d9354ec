// Package service implements the ownership auction: creating scenarios,
// stealing them, shielding and recovering ownership, resolving or
// cancelling them, and relaying the resulting notifications.
//
// Every mutating operation runs as one transaction that locks the
// scenario row, re-checks its preconditions against the locked state,
// writes the scenario, its history rows, the paired ledger entries and
// any notification intents, and commits.  Notifications are delivered
// only after commit.
package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/iliyamo/scenario-steal/internal/clock"
	"github.com/iliyamo/scenario-steal/internal/config"
	"github.com/iliyamo/scenario-steal/internal/database"
	"github.com/iliyamo/scenario-steal/internal/metrics"
	"github.com/iliyamo/scenario-steal/internal/model"
	"github.com/iliyamo/scenario-steal/internal/pricing"
	"github.com/iliyamo/scenario-steal/internal/repository"
)

// Gateway delivers one notification.  Implementations must be safe to
// call more than once for the same message.
type Gateway interface {
	Create(ctx context.Context, msg model.OutboxMessage) error
}

// Invalidator drops cached read models of a scenario after it changes.
type Invalidator interface {
	Invalidate(ctx context.Context, scenarioID int64)
}

// Deps wires an Engine.  DB, IDs and Economy are required; the rest
// default to no-ops or the real clock.
type Deps struct {
	DB          *sql.DB
	Dialect     database.Dialect
	Economy     config.Economy
	IDs         *snowflake.Node
	Clock       clock.Clock
	Logger      *zap.Logger
	Metrics     *metrics.EngineMetrics
	Gateway     Gateway
	Invalidator Invalidator
}

// Engine runs the scenario operations.
type Engine struct {
	db      *sql.DB
	economy config.Economy
	policy  pricing.Policy
	ids     *snowflake.Node
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics.EngineMetrics
	cache   Invalidator
	outbox  *Dispatcher

	scenarios *repository.ScenarioRepo
	transfers *repository.TransferRepo
	ledger    *repository.LedgerRepo
	messages  *repository.OutboxRepo
}

// NewEngine builds an Engine from d.
func NewEngine(d Deps) *Engine {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	log := d.Logger.Named("engine")
	messages := repository.NewOutboxRepo(d.DB)
	return &Engine{
		db:        d.DB,
		economy:   d.Economy,
		policy:    d.Economy.Policy(),
		ids:       d.IDs,
		clock:     d.Clock,
		log:       log,
		metrics:   d.Metrics,
		cache:     d.Invalidator,
		outbox:    NewDispatcher(messages, d.Gateway, d.Clock, d.Logger, d.Metrics),
		scenarios: repository.NewScenarioRepo(d.DB, d.Dialect),
		transfers: repository.NewTransferRepo(d.DB),
		ledger:    repository.NewLedgerRepo(d.DB, d.Dialect, d.IDs),
		messages:  messages,
	}
}

// Dispatcher exposes the notification relay sharing this engine's outbox.
func (e *Engine) Dispatcher() *Dispatcher {
	return e.outbox
}

// now is second-resolution UTC so stored and compared times agree on
// every dialect.
func (e *Engine) now() time.Time {
	return e.clock.Now().UTC().Truncate(time.Second)
}

func (e *Engine) newID() int64 {
	return e.ids.Generate().Int64()
}

// mutation is the body of a scenario transaction.  It may change s in
// place; the caller persists s and enqueues the returned notifications.
type mutation func(ctx context.Context, tx *sql.Tx, s *model.Scenario, now time.Time) ([]model.Notification, error)

// mutateScenario runs fn against the locked scenario row and commits
// everything fn wrote together with the updated scenario and its
// notification intents.
func (e *Engine) mutateScenario(ctx context.Context, op string, scenarioID int64, fn mutation) (*model.Scenario, error) {
	started := time.Now()
	s, msgs, err := e.inScenarioTx(ctx, scenarioID, fn)
	if err != nil {
		err = translate(err)
		e.record(op, scenarioID, started, err)
		return nil, err
	}
	e.record(op, scenarioID, started, nil)
	e.afterCommit(ctx, scenarioID, msgs)
	return s, nil
}

func (e *Engine) inScenarioTx(ctx context.Context, scenarioID int64, fn mutation) (*model.Scenario, []model.OutboxMessage, error) {
	now := e.now()
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	s, err := e.scenarios.GetForUpdateTx(ctx, tx, scenarioID)
	if err != nil {
		return nil, nil, err
	}
	notes, err := fn(ctx, tx, s, now)
	if err != nil {
		return nil, nil, err
	}
	if err := e.scenarios.UpdateTx(ctx, tx, s, now); err != nil {
		return nil, nil, err
	}
	msgs, err := e.enqueueTx(ctx, tx, notes, now)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	committed = true
	return s, msgs, nil
}

func (e *Engine) enqueueTx(ctx context.Context, tx *sql.Tx, notes []model.Notification, now time.Time) ([]model.OutboxMessage, error) {
	msgs := make([]model.OutboxMessage, 0, len(notes))
	for _, n := range notes {
		m := model.OutboxMessage{ID: e.newID(), Notification: n, CreatedAt: now}
		if err := e.messages.EnqueueTx(ctx, tx, &m); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// afterCommit runs the side effects of a committed change.  Nothing here
// can fail the operation, and both steps are time-bounded.
func (e *Engine) afterCommit(ctx context.Context, scenarioID int64, msgs []model.OutboxMessage) {
	if e.cache != nil && scenarioID != 0 {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		e.cache.Invalidate(cctx, scenarioID)
		cancel()
	}
	if len(msgs) > 0 {
		e.outbox.Deliver(context.WithoutCancel(ctx), msgs)
	}
}

// record emits the metric and log line of a finished operation.
func (e *Engine) record(op string, scenarioID int64, started time.Time, err error) {
	fields := []zap.Field{zap.String("op", op), zap.Duration("took", time.Since(started))}
	if scenarioID != 0 {
		fields = append(fields, zap.Int64("scenario_id", scenarioID))
	}
	if err == nil {
		e.metrics.Observe(op, metrics.ResultSuccess, started)
		e.log.Info("operation committed", fields...)
		return
	}
	de := AsError(err)
	fields = append(fields, zap.String("reason", de.Reason))
	switch de.Kind {
	case KindValidation:
		e.metrics.Observe(op, metrics.ResultValidation, started)
		e.log.Debug("operation rejected", fields...)
	case KindConflict:
		e.metrics.Observe(op, metrics.ResultConflict, started)
		e.log.Debug("operation lost a race", fields...)
	default:
		e.metrics.Observe(op, metrics.ResultError, started)
		e.log.Error("operation failed", append(fields, zap.Error(err))...)
	}
}

// debit books a payment by the acting user against a scenario.
func (e *Engine) debit(ctx context.Context, tx *sql.Tx, userID, amount int64, reason model.LedgerReason, scenarioID int64, now time.Time) error {
	_, err := e.ledger.DebitTx(ctx, tx, repository.Posting{
		UserID:      userID,
		Amount:      amount,
		Reason:      reason,
		ReferenceID: scenarioID,
		At:          now,
	})
	if errors.Is(err, repository.ErrAccountNotFound) {
		// a user without an account has nothing to spend
		return ErrInsufficientBalance
	}
	return err
}

// requireOpen rejects actions on scenarios that are not ACTIVE or whose
// deadline has passed but which the sweep has not closed yet.
func requireOpen(s *model.Scenario, now time.Time) error {
	if !s.Open(now) {
		return ErrScenarioNotActive
	}
	return nil
}
