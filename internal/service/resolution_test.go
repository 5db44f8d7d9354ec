package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/scenario-steal/internal/model"
)

func TestResolve_FulfilledPaysOnce(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, 100)
	f.fund(bob, 100)
	id := f.create(alice, 20)
	f.steal(id, bob)

	res, err := f.eng.Resolve(f.ctx, ResolveRequest{ScenarioID: id, Outcome: model.OutcomeFulfilled, ModeratorID: mod})
	require.NoError(t, err)
	assert.Equal(t, int64(40), res.PayoutAmount)
	assert.Equal(t, bob, res.RecipientID)
	assert.Equal(t, int64(120), f.balance(bob))
	assert.Equal(t, model.NotifyResolvedFulfilled, f.gw.last().Kind)

	_, err = f.eng.Resolve(f.ctx, ResolveRequest{ScenarioID: id, Outcome: model.OutcomeFulfilled, ModeratorID: mod})
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	_, err = f.eng.Resolve(f.ctx, ResolveRequest{ScenarioID: id, Outcome: model.OutcomeNotFulfilled, ModeratorID: mod})
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	assert.Equal(t, int64(120), f.balance(bob))

	s := f.scenario(id)
	assert.Equal(t, model.StatusResolved, s.Status)
	require.NotNil(t, s.Outcome)
	assert.Equal(t, model.OutcomeFulfilled, *s.Outcome)
	require.NotNil(t, s.ResolvedBy)
	assert.Equal(t, mod, *s.ResolvedBy)
	assert.Equal(t, int64(40), s.PayoutAmount)

	_, err = f.eng.AttemptSteal(f.ctx, StealRequest{ScenarioID: id, ActorID: alice})
	assert.ErrorIs(t, err, ErrScenarioNotActive)
}

func TestResolve_NotFulfilledForfeitsPool(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, 100)
	f.fund(bob, 100)
	id := f.create(alice, 20)
	f.steal(id, bob)

	res, err := f.eng.Resolve(f.ctx, ResolveRequest{ScenarioID: id, Outcome: model.OutcomeNotFulfilled, ModeratorID: mod})
	require.NoError(t, err)
	assert.Zero(t, res.PayoutAmount)
	assert.False(t, res.WasFulfilled)
	assert.Equal(t, int64(40), res.Pool)
	assert.Equal(t, int64(80), f.balance(alice))
	assert.Equal(t, int64(80), f.balance(bob))

	s := f.scenario(id)
	assert.Equal(t, int64(40), s.Pool, "forfeited pool stays on record")
	assert.Zero(t, s.PayoutAmount)
	assert.Equal(t, model.NotifyResolvedNotFulfilled, f.gw.last().Kind)
	assert.Equal(t, bob, f.gw.last().UserID)
}

func TestResolve_InvalidOutcome(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, 100)
	id := f.create(alice, 20)

	_, err := f.eng.Resolve(f.ctx, ResolveRequest{ScenarioID: id, Outcome: "MAYBE", ModeratorID: mod})
	assert.ErrorIs(t, err, ErrInvalidOutcome)
	assert.Equal(t, model.StatusActive, f.scenario(id).Status)
}

func TestCancel_RefundsEveryPayer(t *testing.T) {
	f := newFixture(t)
	for _, u := range []int64{alice, bob, carol} {
		f.fund(u, 100)
	}
	id := f.create(alice, 20)
	f.steal(id, bob)
	f.steal(id, carol)
	_, err := f.eng.ApplyShield(f.ctx, ShieldRequest{ScenarioID: id, ActorID: carol, Kind: "basic"})
	require.NoError(t, err)

	res, err := f.eng.Cancel(f.ctx, CancelRequest{ScenarioID: id, ActorID: mod})
	require.NoError(t, err)
	assert.Equal(t, []Refund{
		{UserID: alice, Amount: 20},
		{UserID: bob, Amount: 20},
		{UserID: carol, Amount: 34},
	}, res.Refunds)
	assert.Equal(t, int64(74), res.Total)

	for _, u := range []int64{alice, bob, carol} {
		assert.Equal(t, int64(100), f.balance(u), "user %d", u)
	}
	assert.Zero(t, f.referenceSum(id))
	assert.Equal(t, model.StatusCancelled, f.scenario(id).Status)

	cancelled := 0
	for _, k := range f.gw.kinds() {
		if k == model.NotifyScenarioCancelled {
			cancelled++
		}
	}
	assert.Equal(t, 3, cancelled)

	_, err = f.eng.Cancel(f.ctx, CancelRequest{ScenarioID: id, ActorID: mod})
	assert.ErrorIs(t, err, ErrScenarioCancelled)
	_, err = f.eng.Resolve(f.ctx, ResolveRequest{ScenarioID: id, Outcome: model.OutcomeFulfilled, ModeratorID: mod})
	assert.ErrorIs(t, err, ErrScenarioCancelled)
	assert.Equal(t, int64(100), f.balance(carol))
}

func TestCancel_UnlimitedSpendIsNotRefunded(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, 100)
	f.fundUnlimited(bob)
	id := f.create(alice, 20)
	f.steal(id, bob)

	res, err := f.eng.Cancel(f.ctx, CancelRequest{ScenarioID: id, ActorID: mod})
	require.NoError(t, err)
	assert.Equal(t, []Refund{{UserID: alice, Amount: 20}}, res.Refunds)
	assert.Equal(t, int64(0), f.balance(bob))
}

func TestCancel_AfterResolveFails(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, 100)
	id := f.create(alice, 20)
	_, err := f.eng.Resolve(f.ctx, ResolveRequest{ScenarioID: id, Outcome: model.OutcomeFulfilled, ModeratorID: mod})
	require.NoError(t, err)

	_, err = f.eng.Cancel(f.ctx, CancelRequest{ScenarioID: id, ActorID: mod})
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	assert.Equal(t, int64(100), f.balance(alice))
}

func TestLifecycle_DeadlineCloseReviewResolve(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, 100)
	deadline := t0.Add(2 * time.Hour)
	s, err := f.eng.CreateScenario(f.ctx, CreateRequest{CreatorID: alice, Title: "Heatwave in June", CreationPrice: 20, Deadline: &deadline})
	require.NoError(t, err)
	open := f.create(alice, 10)

	n, err := f.eng.CloseExpired(f.ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clk.Advance(2 * time.Hour)
	n, err = f.eng.CloseExpired(f.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.StatusClosed, f.scenario(s.ID).Status)
	assert.Equal(t, model.StatusActive, f.scenario(open).Status)

	_, err = f.eng.Close(f.ctx, s.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.eng.BeginReview(f.ctx, open)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	reviewing, err := f.eng.BeginReview(f.ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReviewing, reviewing.Status)

	_, err = f.eng.ApplyShield(f.ctx, ShieldRequest{ScenarioID: s.ID, ActorID: alice, Kind: "basic"})
	assert.ErrorIs(t, err, ErrScenarioNotActive)

	res, err := f.eng.Resolve(f.ctx, ResolveRequest{ScenarioID: s.ID, Outcome: model.OutcomeFulfilled, ModeratorID: mod})
	require.NoError(t, err)
	assert.Equal(t, int64(20), res.PayoutAmount)
	// 100 - 20 - 10 + 20
	assert.Equal(t, int64(90), f.balance(alice))
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, 100)

	_, err := f.eng.CreateScenario(f.ctx, CreateRequest{CreatorID: alice, Title: "x", CreationPrice: 5})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = f.eng.CreateScenario(f.ctx, CreateRequest{CreatorID: alice, Title: "   ", CreationPrice: 20})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	past := t0.Add(-time.Minute)
	_, err = f.eng.CreateScenario(f.ctx, CreateRequest{CreatorID: alice, Title: "x", CreationPrice: 20, Deadline: &past})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.eng.CreateScenario(f.ctx, CreateRequest{CreatorID: alice, Title: "x", CreationPrice: 101})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	_, err = f.eng.CreateScenario(f.ctx, CreateRequest{CreatorID: bob, Title: "x", CreationPrice: 20})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	assert.Equal(t, int64(100), f.balance(alice))
}

func TestAdjustBalance(t *testing.T) {
	f := newFixture(t)

	acc, err := f.eng.AdjustBalance(f.ctx, AdjustRequest{UserID: alice, Delta: 50, ActorID: mod})
	require.NoError(t, err)
	assert.Equal(t, int64(50), acc.Balance)

	_, err = f.eng.AdjustBalance(f.ctx, AdjustRequest{UserID: alice, Delta: -51, ActorID: mod})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	acc, err = f.eng.AdjustBalance(f.ctx, AdjustRequest{UserID: alice, Delta: -50, ActorID: mod})
	require.NoError(t, err)
	assert.Zero(t, acc.Balance)

	_, err = f.eng.AdjustBalance(f.ctx, AdjustRequest{UserID: alice, ActorID: mod})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	view, err := f.eng.GetAccount(f.ctx, alice, 10)
	require.NoError(t, err)
	require.Len(t, view.Entries, 2)
	for _, e := range view.Entries {
		assert.Equal(t, model.ReasonAdminAdjustment, e.Reason)
	}

	_, err = f.eng.GetAccount(f.ctx, carol, 10)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestGetStealInfo_Projection(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, 100)
	f.fund(bob, 100)
	id := f.create(alice, 20)

	info, err := f.eng.GetStealInfo(f.ctx, id)
	require.NoError(t, err)
	assert.True(t, info.Stealable)
	assert.False(t, info.Protected)
	assert.Equal(t, int64(24), info.NextPrice)
	assert.Equal(t, int64(30), info.BuybackPrice)
	require.Len(t, info.History, 1)
	assert.Equal(t, model.HistoryCreation, info.History[0].Kind)

	_, err = f.eng.ApplyShield(f.ctx, ShieldRequest{ScenarioID: id, ActorID: alice, Kind: "basic"})
	require.NoError(t, err)
	info, err = f.eng.GetStealInfo(f.ctx, id)
	require.NoError(t, err)
	assert.True(t, info.Protected)
	assert.False(t, info.Stealable)

	_, err = f.eng.GetStealInfo(f.ctx, 777)
	assert.ErrorIs(t, err, ErrScenarioNotFound)
}
