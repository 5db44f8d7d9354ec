package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/scenario-steal/internal/database"
	"github.com/iliyamo/scenario-steal/internal/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(db, database.SQLite))
	return db
}

func testNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

func withTx(t *testing.T, db *sql.DB, fn func(tx *sql.Tx) error) error {
	t.Helper()
	tx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func newScenario(id, creator int64) *model.Scenario {
	deadline := t0.Add(48 * time.Hour)
	return &model.Scenario{
		ID:              id,
		Title:           "Rain in Lisbon on Friday",
		Status:          model.StatusActive,
		CreatorID:       creator,
		CurrentHolderID: creator,
		CreationPrice:   20,
		CurrentPrice:    20,
		Pool:            20,
		Deadline:        &deadline,
		CreatedAt:       t0,
		UpdatedAt:       t0,
	}
}

func TestScenarioRepo_CreateGetUpdate(t *testing.T) {
	db := openTestDB(t)
	repo := NewScenarioRepo(db, database.SQLite)
	ctx := context.Background()

	s := newScenario(100, 7)
	require.NoError(t, withTx(t, db, func(tx *sql.Tx) error { return repo.CreateTx(ctx, tx, s) }))

	got, err := repo.Get(ctx, db, 100)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, got.Status)
	assert.Equal(t, int64(7), got.CurrentHolderID)
	assert.Equal(t, int64(1), got.Version)
	require.NotNil(t, got.Deadline)
	assert.True(t, got.Deadline.Equal(t0.Add(48*time.Hour)))
	assert.Nil(t, got.ProtectedUntil)
	assert.Nil(t, got.Outcome)

	err = withTx(t, db, func(tx *sql.Tx) error {
		locked, err := repo.GetForUpdateTx(ctx, tx, 100)
		if err != nil {
			return err
		}
		locked.CurrentHolderID = 8
		locked.Pool += 20
		locked.StealCount++
		return repo.UpdateTx(ctx, tx, locked, t0.Add(time.Minute))
	})
	require.NoError(t, err)

	got, err = repo.Get(ctx, db, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(8), got.CurrentHolderID)
	assert.Equal(t, int64(40), got.Pool)
	assert.Equal(t, 1, got.StealCount)
	assert.Equal(t, int64(2), got.Version)
}

func TestScenarioRepo_UpdateStaleVersionConflicts(t *testing.T) {
	db := openTestDB(t)
	repo := NewScenarioRepo(db, database.SQLite)
	ctx := context.Background()
	require.NoError(t, withTx(t, db, func(tx *sql.Tx) error { return repo.CreateTx(ctx, tx, newScenario(1, 7)) }))

	stale, err := repo.Get(ctx, db, 1)
	require.NoError(t, err)
	fresh := *stale

	require.NoError(t, withTx(t, db, func(tx *sql.Tx) error { return repo.UpdateTx(ctx, tx, &fresh, t0) }))
	err = withTx(t, db, func(tx *sql.Tx) error { return repo.UpdateTx(ctx, tx, stale, t0) })
	assert.ErrorIs(t, err, ErrConflict)
}

func TestScenarioRepo_ResolutionColumns(t *testing.T) {
	db := openTestDB(t)
	repo := NewScenarioRepo(db, database.SQLite)
	ctx := context.Background()
	require.NoError(t, withTx(t, db, func(tx *sql.Tx) error { return repo.CreateTx(ctx, tx, newScenario(1, 7)) }))

	s, err := repo.Get(ctx, db, 1)
	require.NoError(t, err)
	outcome := model.OutcomeFulfilled
	moderator := int64(99)
	at := t0.Add(time.Hour)
	s.Status = model.StatusResolved
	s.Outcome = &outcome
	s.ResolvedBy = &moderator
	s.ResolvedAt = &at
	s.PayoutAmount = 20
	require.NoError(t, withTx(t, db, func(tx *sql.Tx) error { return repo.UpdateTx(ctx, tx, s, at) }))

	got, err := repo.Get(ctx, db, 1)
	require.NoError(t, err)
	require.NotNil(t, got.Outcome)
	assert.Equal(t, model.OutcomeFulfilled, *got.Outcome)
	require.NotNil(t, got.ResolvedBy)
	assert.Equal(t, int64(99), *got.ResolvedBy)
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, got.ResolvedAt.Equal(at))
}

func TestScenarioRepo_NotFound(t *testing.T) {
	db := openTestDB(t)
	repo := NewScenarioRepo(db, database.SQLite)
	_, err := repo.Get(context.Background(), db, 404)
	assert.ErrorIs(t, err, ErrScenarioNotFound)
}

func TestScenarioRepo_ListExpiredActive(t *testing.T) {
	db := openTestDB(t)
	repo := NewScenarioRepo(db, database.SQLite)
	ctx := context.Background()

	past := newScenario(1, 7)
	d1 := t0.Add(-time.Hour)
	past.Deadline = &d1
	future := newScenario(2, 7)
	open := newScenario(3, 7)
	open.Deadline = nil
	closed := newScenario(4, 7)
	d4 := t0.Add(-2 * time.Hour)
	closed.Deadline = &d4
	closed.Status = model.StatusClosed

	require.NoError(t, withTx(t, db, func(tx *sql.Tx) error {
		for _, s := range []*model.Scenario{past, future, open, closed} {
			if err := repo.CreateTx(ctx, tx, s); err != nil {
				return err
			}
		}
		return nil
	}))

	ids, err := repo.ListExpiredActive(ctx, t0, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)
}

func TestScenarioRepo_Search(t *testing.T) {
	db := openTestDB(t)
	repo := NewScenarioRepo(db, database.SQLite)
	ctx := context.Background()

	rain := newScenario(1, 7)
	snow := newScenario(2, 7)
	snow.Title = "Snow in Oslo"
	stolen := newScenario(3, 8)
	stolen.CurrentHolderID = 9
	closed := newScenario(4, 8)
	closed.Status = model.StatusClosed

	require.NoError(t, withTx(t, db, func(tx *sql.Tx) error {
		for _, s := range []*model.Scenario{rain, snow, stolen, closed} {
			if err := repo.CreateTx(ctx, tx, s); err != nil {
				return err
			}
		}
		return nil
	}))

	ids := func(items []model.Scenario) []int64 {
		out := make([]int64, 0, len(items))
		for _, s := range items {
			out = append(out, s.ID)
		}
		return out
	}

	items, total, err := repo.Search(ctx, ScenarioSearchQuery{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	assert.Equal(t, []int64{4, 3}, ids(items))

	items, _, err = repo.Search(ctx, ScenarioSearchQuery{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, ids(items))

	items, total, err = repo.Search(ctx, ScenarioSearchQuery{Title: "OSLO"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, []int64{2}, ids(items))

	items, _, err = repo.Search(ctx, ScenarioSearchQuery{Status: model.StatusActive, CreatorID: 8})
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, ids(items))

	items, _, err = repo.Search(ctx, ScenarioSearchQuery{HolderID: 9})
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, ids(items))
}

func TestTransferRepo_StealSequenceUnique(t *testing.T) {
	db := openTestDB(t)
	repo := NewTransferRepo(db)
	ctx := context.Background()

	first := &model.StealRecord{ID: 10, ScenarioID: 1, PreviousOwnerID: 7, NewOwnerID: 8, PricePaid: 20, SequenceNumber: 1, CreatedAt: t0}
	require.NoError(t, withTx(t, db, func(tx *sql.Tx) error { return repo.CreateStealTx(ctx, tx, first) }))

	dup := &model.StealRecord{ID: 11, ScenarioID: 1, PreviousOwnerID: 7, NewOwnerID: 9, PricePaid: 20, SequenceNumber: 1, CreatedAt: t0}
	err := withTx(t, db, func(tx *sql.Tx) error { return repo.CreateStealTx(ctx, tx, dup) })
	assert.ErrorIs(t, err, ErrConflict)

	second := &model.StealRecord{ID: 12, ScenarioID: 1, PreviousOwnerID: 8, NewOwnerID: 9, PricePaid: 24, SequenceNumber: 2, CreatedAt: t0.Add(time.Second)}
	require.NoError(t, withTx(t, db, func(tx *sql.Tx) error { return repo.CreateStealTx(ctx, tx, second) }))

	var latest *model.StealRecord
	require.NoError(t, withTx(t, db, func(tx *sql.Tx) error {
		var err error
		latest, err = repo.LatestStealTx(ctx, tx, 1)
		return err
	}))
	require.NotNil(t, latest)
	assert.Equal(t, 2, latest.SequenceNumber)
	assert.Equal(t, int64(9), latest.NewOwnerID)

	steals, err := repo.ListSteals(ctx, db, 1)
	require.NoError(t, err)
	require.Len(t, steals, 2)
	assert.Equal(t, 1, steals[0].SequenceNumber)
}

func TestTransferRepo_LatestStealNone(t *testing.T) {
	db := openTestDB(t)
	repo := NewTransferRepo(db)
	require.NoError(t, withTx(t, db, func(tx *sql.Tx) error {
		latest, err := repo.LatestStealTx(context.Background(), tx, 1)
		assert.Nil(t, latest)
		return err
	}))
}

func TestTransferRepo_RecoveriesAndShields(t *testing.T) {
	db := openTestDB(t)
	repo := NewTransferRepo(db)
	ctx := context.Background()

	require.NoError(t, withTx(t, db, func(tx *sql.Tx) error {
		if err := repo.CreateRecoveryTx(ctx, tx, &model.RecoveryRecord{ID: 50, ScenarioID: 1, OriginalOwnerID: 7, StealerID: 8, RecoveryPrice: 30, CreatedAt: t0}); err != nil {
			return err
		}
		return repo.CreateShieldTx(ctx, tx, &model.ShieldGrant{ID: 60, ScenarioID: 1, GrantedTo: 7, Kind: "basic", Price: 10, ExpiresAt: t0.Add(time.Hour), CreatedAt: t0})
	}))

	recs, err := repo.ListRecoveries(ctx, db, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(30), recs[0].RecoveryPrice)

	shields, err := repo.ListShields(ctx, db, 1)
	require.NoError(t, err)
	require.Len(t, shields, 1)
	assert.True(t, shields[0].ExpiresAt.Equal(t0.Add(time.Hour)))

	require.NoError(t, withTx(t, db, func(tx *sql.Tx) error {
		n, err := repo.CountRecoveriesAfterTx(ctx, tx, 1, 49)
		assert.Equal(t, 1, n)
		if err != nil {
			return err
		}
		n, err = repo.CountRecoveriesAfterTx(ctx, tx, 1, 50)
		assert.Equal(t, 0, n)
		return err
	}))
}

func TestLedgerRepo_DebitCredit(t *testing.T) {
	db := openTestDB(t)
	repo := NewLedgerRepo(db, database.SQLite, testNode(t))
	ctx := context.Background()

	require.NoError(t, withTx(t, db, func(tx *sql.Tx) error {
		_, err := repo.CreateAccountTx(ctx, tx, 7, 100, false, t0)
		return err
	}))

	require.NoError(t, withTx(t, db, func(tx *sql.Tx) error {
		e, err := repo.DebitTx(ctx, tx, Posting{UserID: 7, Amount: 30, Reason: model.ReasonStealDebit, ReferenceID: 1, At: t0})
		if err != nil {
			return err
		}
		assert.Equal(t, int64(-30), e.Delta)
		assert.Equal(t, int64(70), e.ResultingBalance)
		_, err = repo.CreditTx(ctx, tx, Posting{UserID: 7, Amount: 5, Reason: model.ReasonPayoutCredit, ReferenceID: 1, At: t0})
		return err
	}))

	acc, err := repo.GetAccount(ctx, db, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(75), acc.Balance)

	entries, err := repo.Entries(ctx, db, 7, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	var sum int64
	for _, e := range entries {
		sum += e.Delta
	}
	assert.Equal(t, acc.Balance, sum)
	assert.Equal(t, int64(75), entries[0].ResultingBalance)

	byRef, err := repo.EntriesByReference(ctx, db, 1)
	require.NoError(t, err)
	assert.Len(t, byRef, 2)
}

func TestLedgerRepo_InsufficientFundsWritesNothing(t *testing.T) {
	db := openTestDB(t)
	repo := NewLedgerRepo(db, database.SQLite, testNode(t))
	ctx := context.Background()

	require.NoError(t, withTx(t, db, func(tx *sql.Tx) error {
		_, err := repo.CreateAccountTx(ctx, tx, 7, 10, false, t0)
		return err
	}))
	err := withTx(t, db, func(tx *sql.Tx) error {
		_, err := repo.DebitTx(ctx, tx, Posting{UserID: 7, Amount: 11, Reason: model.ReasonStealDebit, ReferenceID: 1, At: t0})
		return err
	})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	acc, err := repo.GetAccount(ctx, db, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(10), acc.Balance)
	byRef, err := repo.EntriesByReference(ctx, db, 1)
	require.NoError(t, err)
	assert.Empty(t, byRef)
}

func TestLedgerRepo_UnlimitedDebitIsRestored(t *testing.T) {
	db := openTestDB(t)
	repo := NewLedgerRepo(db, database.SQLite, testNode(t))
	ctx := context.Background()

	require.NoError(t, withTx(t, db, func(tx *sql.Tx) error {
		_, err := repo.CreateAccountTx(ctx, tx, 1, 0, true, t0)
		return err
	}))
	require.NoError(t, withTx(t, db, func(tx *sql.Tx) error {
		_, err := repo.DebitTx(ctx, tx, Posting{UserID: 1, Amount: 500, Reason: model.ReasonStealDebit, ReferenceID: 9, At: t0})
		return err
	}))

	acc, err := repo.GetAccount(ctx, db, 1)
	require.NoError(t, err)
	assert.True(t, acc.Unlimited)
	assert.Equal(t, int64(0), acc.Balance)

	byRef, err := repo.EntriesByReference(ctx, db, 9)
	require.NoError(t, err)
	require.Len(t, byRef, 2)
	assert.Equal(t, model.ReasonStealDebit, byRef[0].Reason)
	assert.Equal(t, int64(-500), byRef[0].Delta)
	assert.Equal(t, model.ReasonAdminAdjustment, byRef[1].Reason)
	assert.Equal(t, int64(500), byRef[1].Delta)
	assert.Equal(t, int64(0), byRef[1].ResultingBalance)
}

func TestLedgerRepo_Validation(t *testing.T) {
	db := openTestDB(t)
	repo := NewLedgerRepo(db, database.SQLite, testNode(t))
	ctx := context.Background()

	err := withTx(t, db, func(tx *sql.Tx) error {
		_, err := repo.DebitTx(ctx, tx, Posting{UserID: 1, Amount: 0, At: t0})
		return err
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	err = withTx(t, db, func(tx *sql.Tx) error {
		_, err := repo.CreditTx(ctx, tx, Posting{UserID: 404, Amount: 5, At: t0})
		return err
	})
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestOutboxRepo_Lifecycle(t *testing.T) {
	db := openTestDB(t)
	repo := NewOutboxRepo(db)
	ctx := context.Background()

	msg := &model.OutboxMessage{
		ID: 1,
		Notification: model.Notification{
			UserID:  7,
			Kind:    model.NotifyHolderDisplaced,
			Title:   "Scenario stolen",
			Message: "someone took it",
			LinkURL: "/scenarios/1",
		},
		CreatedAt: t0,
	}
	require.NoError(t, withTx(t, db, func(tx *sql.Tx) error { return repo.EnqueueTx(ctx, tx, msg) }))

	pending, err := repo.Pending(ctx, 10, 3)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, model.NotifyHolderDisplaced, pending[0].Notification.Kind)
	assert.Equal(t, int64(7), pending[0].Notification.UserID)

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.MarkFailed(ctx, 1, "broker down"))
	}
	pending, err = repo.Pending(ctx, 10, 3)
	require.NoError(t, err)
	assert.Empty(t, pending)

	got, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, "broker down", got.LastError)

	ok, err := repo.MarkSent(ctx, 1, t0)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.MarkSent(ctx, 1, t0)
	require.NoError(t, err)
	assert.False(t, ok)

	pending, err = repo.Pending(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
