package service

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/scenario-steal/internal/clock"
	"github.com/iliyamo/scenario-steal/internal/config"
	"github.com/iliyamo/scenario-steal/internal/database"
	"github.com/iliyamo/scenario-steal/internal/metrics"
	"github.com/iliyamo/scenario-steal/internal/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	alice int64 = 1001
	bob   int64 = 1002
	carol int64 = 1003
	dave  int64 = 1004
	mod   int64 = 9001
)

type recordingGateway struct {
	mu   sync.Mutex
	fail bool
	sent []model.OutboxMessage
}

func (g *recordingGateway) Create(_ context.Context, msg model.OutboxMessage) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail {
		return errors.New("broker unavailable")
	}
	g.sent = append(g.sent, msg)
	return nil
}

func (g *recordingGateway) setFail(v bool) {
	g.mu.Lock()
	g.fail = v
	g.mu.Unlock()
}

func (g *recordingGateway) kinds() []model.NotificationKind {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]model.NotificationKind, 0, len(g.sent))
	for _, m := range g.sent {
		out = append(out, m.Notification.Kind)
	}
	return out
}

func (g *recordingGateway) last() model.Notification {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sent[len(g.sent)-1].Notification
}

type countingInvalidator struct {
	mu    sync.Mutex
	calls map[int64]int
}

func (c *countingInvalidator) Invalidate(_ context.Context, id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = map[int64]int{}
	}
	c.calls[id]++
}

func (c *countingInvalidator) count(id int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[id]
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	db    *sql.DB
	eng   *Engine
	clk   *clock.FakeClock
	gw    *recordingGateway
	cache *countingInvalidator
	reg   *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(db, database.SQLite))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		db:    db,
		clk:   clock.NewFakeClock(t0),
		gw:    &recordingGateway{},
		cache: &countingInvalidator{},
		reg:   prometheus.NewRegistry(),
	}
	f.eng = NewEngine(Deps{
		DB:          db,
		Dialect:     database.SQLite,
		Economy:     config.DefaultEconomy(),
		IDs:         node,
		Clock:       f.clk,
		Metrics:     metrics.NewEngineMetrics(f.reg),
		Gateway:     f.gw,
		Invalidator: f.cache,
	})
	return f
}

func (f *fixture) fund(user, amount int64) {
	f.t.Helper()
	_, err := f.eng.AdjustBalance(f.ctx, AdjustRequest{UserID: user, Delta: amount, ActorID: mod})
	require.NoError(f.t, err)
}

func (f *fixture) fundUnlimited(user int64) {
	f.t.Helper()
	yes := true
	_, err := f.eng.AdjustBalance(f.ctx, AdjustRequest{UserID: user, Unlimited: &yes, ActorID: mod})
	require.NoError(f.t, err)
}

func (f *fixture) balance(user int64) int64 {
	f.t.Helper()
	acc, err := f.eng.ledger.GetAccount(f.ctx, f.db, user)
	require.NoError(f.t, err)
	return acc.Balance
}

func (f *fixture) scenario(id int64) *model.Scenario {
	f.t.Helper()
	s, err := f.eng.scenarios.Get(f.ctx, f.db, id)
	require.NoError(f.t, err)
	return s
}

func (f *fixture) create(creator, price int64) int64 {
	f.t.Helper()
	s, err := f.eng.CreateScenario(f.ctx, CreateRequest{CreatorID: creator, Title: "Rain in Lisbon on Friday", CreationPrice: price})
	require.NoError(f.t, err)
	return s.ID
}

func (f *fixture) steal(id, actor int64) *StealResult {
	f.t.Helper()
	res, err := f.eng.AttemptSteal(f.ctx, StealRequest{ScenarioID: id, ActorID: actor})
	require.NoError(f.t, err)
	return res
}

func (f *fixture) referenceSum(id int64) int64 {
	f.t.Helper()
	entries, err := f.eng.ledger.EntriesByReference(f.ctx, f.db, id)
	require.NoError(f.t, err)
	var sum int64
	for _, e := range entries {
		sum += e.Delta
	}
	return sum
}

func intPtr(v int) *int { return &v }
