package service

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/iliyamo/scenario-steal/internal/model"
	"github.com/iliyamo/scenario-steal/internal/repository"
)

// StealInfo is the read-only projection of a scenario shown to players.
type StealInfo struct {
	ScenarioID      int64                `json:"scenario_id,string"`
	Title           string               `json:"title"`
	Status          model.ScenarioStatus `json:"status"`
	CreatorID       int64                `json:"creator_id,string"`
	CurrentHolderID int64                `json:"current_holder_id,string"`
	CurrentPrice    int64                `json:"current_price"`
	NextPrice       int64                `json:"next_price"`
	BuybackPrice    int64                `json:"buyback_price"` // what the holder would pay to recover after a steal now
	StealCount      int                  `json:"steal_count"`
	Pool            int64                `json:"pool"`
	ProtectedUntil  *time.Time           `json:"protected_until"`
	Protected       bool                 `json:"protected"`
	Stealable       bool                 `json:"stealable"`
	Deadline        *time.Time           `json:"deadline"`
	Outcome         *model.Outcome       `json:"outcome,omitempty"`
	PayoutAmount    int64                `json:"payout_amount"`
	History         []model.HistoryEntry `json:"history"`
}

// GetStealInfo reads a scenario and its merged history from one
// consistent snapshot.
func (e *Engine) GetStealInfo(ctx context.Context, scenarioID int64) (*StealInfo, error) {
	var info *StealInfo
	err := e.readTx(ctx, func(tx *sql.Tx) error {
		s, err := e.scenarios.Get(ctx, tx, scenarioID)
		if err != nil {
			return err
		}
		history, err := e.history(ctx, tx, s)
		if err != nil {
			return err
		}
		now := e.now()
		quote := e.policy.Quote(s.CurrentPrice)
		info = &StealInfo{
			ScenarioID:      s.ID,
			Title:           s.Title,
			Status:          s.Status,
			CreatorID:       s.CreatorID,
			CurrentHolderID: s.CurrentHolderID,
			CurrentPrice:    s.CurrentPrice,
			NextPrice:       quote.NextPrice,
			BuybackPrice:    quote.RecoveryPrice,
			StealCount:      s.StealCount,
			Pool:            s.Pool,
			ProtectedUntil:  s.ProtectedUntil,
			Protected:       s.Protected(now),
			Stealable:       s.Stealable(now),
			Deadline:        s.Deadline,
			Outcome:         s.Outcome,
			PayoutAmount:    s.PayoutAmount,
			History:         history,
		}
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return info, nil
}

// History returns the creation record, every steal and every recovery of
// a scenario ordered by time.
func (e *Engine) History(ctx context.Context, scenarioID int64) ([]model.HistoryEntry, error) {
	var out []model.HistoryEntry
	err := e.readTx(ctx, func(tx *sql.Tx) error {
		s, err := e.scenarios.Get(ctx, tx, scenarioID)
		if err != nil {
			return err
		}
		out, err = e.history(ctx, tx, s)
		return err
	})
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (e *Engine) history(ctx context.Context, q repository.Querier, s *model.Scenario) ([]model.HistoryEntry, error) {
	steals, err := e.transfers.ListSteals(ctx, q, s.ID)
	if err != nil {
		return nil, err
	}
	recoveries, err := e.transfers.ListRecoveries(ctx, q, s.ID)
	if err != nil {
		return nil, err
	}

	out := make([]model.HistoryEntry, 0, 1+len(steals)+len(recoveries))
	out = append(out, model.NewHistoryEntry(model.HistoryCreation, nil, s.CreatorID, s.CreationPrice, s.CreatedAt, s.ID))
	for _, st := range steals {
		from := st.PreviousOwnerID
		out = append(out, model.NewHistoryEntry(model.HistorySteal, &from, st.NewOwnerID, st.PricePaid, st.CreatedAt, st.ID))
	}
	for _, r := range recoveries {
		from := r.StealerID
		out = append(out, model.NewHistoryEntry(model.HistoryRecovery, &from, r.OriginalOwnerID, r.RecoveryPrice, r.CreatedAt, r.ID))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// readTx runs fn in one transaction so multi-table reads see a single
// snapshot.
func (e *Engine) readTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// ListQuery filters the scenario browse listing.
type ListQuery struct {
	Title     string
	Status    model.ScenarioStatus
	HolderID  int64
	CreatorID int64
	Page      int
	PageSize  int
}

// ScenarioPage is one page of the browse listing.
type ScenarioPage struct {
	Items    []model.Scenario
	Total    int64
	Page     int
	PageSize int
}

const maxPageSize = 100

// ListScenarios returns scenarios matching q, newest first.  Page and
// PageSize are clamped to 1 and 1..100.
func (e *Engine) ListScenarios(ctx context.Context, q ListQuery) (*ScenarioPage, error) {
	if q.Status != "" && !q.Status.Valid() {
		return nil, withMessage(ErrInvalidRequest, "unknown status "+string(q.Status))
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = 20
	}
	if q.PageSize > maxPageSize {
		q.PageSize = maxPageSize
	}
	items, total, err := e.scenarios.Search(ctx, repository.ScenarioSearchQuery{
		Title:     q.Title,
		Status:    q.Status,
		HolderID:  q.HolderID,
		CreatorID: q.CreatorID,
		Page:      q.Page,
		PageSize:  q.PageSize,
	})
	if err != nil {
		return nil, translate(err)
	}
	return &ScenarioPage{Items: items, Total: total, Page: q.Page, PageSize: q.PageSize}, nil
}
