package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/scenario-steal/internal/clock"
	"github.com/iliyamo/scenario-steal/internal/metrics"
	"github.com/iliyamo/scenario-steal/internal/model"
	"github.com/iliyamo/scenario-steal/internal/repository"
)

// Dispatcher hands committed notification intents to the gateway.  It
// never reports delivery failures to the operation that produced them;
// a failed message stays pending for the relay.
type Dispatcher struct {
	outbox      *repository.OutboxRepo
	gateway     Gateway
	clock       clock.Clock
	log         *zap.Logger
	metrics     *metrics.EngineMetrics
	MaxAttempts int
	// Timeout bounds one Deliver call.  Messages still in flight when it
	// expires are recorded as failed and left to the relay.
	Timeout time.Duration
}

// NewDispatcher returns a Dispatcher.  A nil gateway leaves every message
// pending.
func NewDispatcher(outbox *repository.OutboxRepo, gateway Gateway, clk clock.Clock, log *zap.Logger, m *metrics.EngineMetrics) *Dispatcher {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		outbox:      outbox,
		gateway:     gateway,
		clock:       clk,
		log:         log.Named("outbox"),
		metrics:     m,
		MaxAttempts: 10,
		Timeout:     3 * time.Second,
	}
}

// Deliver attempts each message once.  All of msgs share one Timeout, so
// the caller gets control back within it even when the gateway hangs.
func (d *Dispatcher) Deliver(ctx context.Context, msgs []model.OutboxMessage) int {
	if d.gateway == nil || len(msgs) == 0 {
		return 0
	}
	callCtx, cancel := d.bounded(ctx)
	defer cancel()
	sent := 0
	for _, m := range msgs {
		if d.deliverOne(ctx, callCtx, m) {
			sent++
		}
	}
	return sent
}

func (d *Dispatcher) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.Timeout)
}

// call runs the gateway in its own goroutine so a gateway that ignores
// ctx cannot hold the caller past the deadline.
func (d *Dispatcher) call(ctx context.Context, m model.OutboxMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- d.gateway.Create(ctx, m) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deliverOne bookkeeps on ctx so a timed-out call is still recorded.
func (d *Dispatcher) deliverOne(ctx, callCtx context.Context, m model.OutboxMessage) bool {
	if err := d.call(callCtx, m); err != nil {
		d.metrics.Notification(metrics.ResultError)
		d.log.Warn("notification delivery failed",
			zap.Int64("outbox_id", m.ID),
			zap.Int64("user_id", m.Notification.UserID),
			zap.String("kind", string(m.Notification.Kind)),
			zap.Error(err))
		if err := d.outbox.MarkFailed(ctx, m.ID, err.Error()); err != nil {
			d.log.Warn("record delivery failure", zap.Int64("outbox_id", m.ID), zap.Error(err))
		}
		return false
	}
	d.metrics.Notification(metrics.ResultSuccess)
	if _, err := d.outbox.MarkSent(ctx, m.ID, d.clock.Now()); err != nil {
		d.log.Warn("mark notification sent", zap.Int64("outbox_id", m.ID), zap.Error(err))
	}
	return true
}

// DispatchPending retries up to limit undelivered messages and returns
// how many were delivered.
func (d *Dispatcher) DispatchPending(ctx context.Context, limit int) (int, error) {
	if d.gateway == nil {
		return 0, nil
	}
	started := time.Now()
	msgs, err := d.outbox.Pending(ctx, limit, d.MaxAttempts)
	if err != nil {
		d.metrics.Observe(metrics.OpDispatch, metrics.ResultError, started)
		return 0, translate(err)
	}
	// the relay is off the request path, so each message gets a full Timeout
	sent := 0
	for _, m := range msgs {
		callCtx, cancel := d.bounded(ctx)
		if d.deliverOne(ctx, callCtx, m) {
			sent++
		}
		cancel()
	}
	d.metrics.Observe(metrics.OpDispatch, metrics.ResultSuccess, started)
	if len(msgs) > 0 {
		d.log.Info("outbox relay pass", zap.Int("pending", len(msgs)), zap.Int("sent", sent))
	}
	return sent, nil
}

// Run relays pending messages every interval until ctx ends.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration, batch int) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := d.DispatchPending(ctx, batch); err != nil && ctx.Err() == nil {
				d.log.Warn("outbox relay failed", zap.Error(err))
			}
		}
	}
}

// LogGateway writes notifications to the log instead of a broker.  It is
// used when no broker is configured.
type LogGateway struct {
	Log *zap.Logger
}

// Create logs msg at info and never fails.

func (g LogGateway) Create(_ context.Context, msg model.OutboxMessage) error {
	log := g.Log
	if log == nil {
		log = zap.L()
	}
	log.Info("notification",
		zap.Int64("outbox_id", msg.ID),
		zap.Int64("user_id", msg.Notification.UserID),
		zap.String("kind", string(msg.Notification.Kind)),
		zap.String("title", msg.Notification.Title),
		zap.String("message", msg.Notification.Message))
	return nil
}
