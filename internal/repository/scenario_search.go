package repository

import (
	"context"
	"strings"

	"github.com/iliyamo/scenario-steal/internal/model"
)

// ScenarioSearchQuery defines filters and pagination for browsing
// scenarios.  Zero values mean "no filter".
type ScenarioSearchQuery struct {
	Title     string
	Status    model.ScenarioStatus
	HolderID  int64
	CreatorID int64
	Page      int
	PageSize  int
}

// Search returns one page of scenarios, newest first, and the total number
// of matches.
func (r *ScenarioRepo) Search(ctx context.Context, q ScenarioSearchQuery) ([]model.Scenario, int64, error) {
	where := []string{}
	args := []any{}

	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(q.Status))
	}
	if q.Title != "" {
		where = append(where, "LOWER(title) LIKE ?")
		args = append(args, "%"+strings.ToLower(q.Title)+"%")
	}
	if q.HolderID > 0 {
		where = append(where, "current_holder_id = ?")
		args = append(args, q.HolderID)
	}
	if q.CreatorID > 0 {
		where = append(where, "creator_id = ?")
		args = append(args, q.CreatorID)
	}

	cond := "1=1"
	if len(where) > 0 {
		cond = strings.Join(where, " AND ")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scenarios WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = 20
	}
	offset := (q.Page - 1) * q.PageSize

	dataSQL := `SELECT ` + scenarioColumns + `
		FROM scenarios
		WHERE ` + cond + `
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, dataSQL, append(append([]any{}, args...), q.PageSize, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]model.Scenario, 0, q.PageSize)
	for rows.Next() {
		s, err := scanScenario(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
