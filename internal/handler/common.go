package handler // handler defines the echo HTTP handlers of the scenario API

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/scenario-steal/internal/middleware"
	"github.com/iliyamo/scenario-steal/internal/model"
	"github.com/iliyamo/scenario-steal/internal/service"
)

var errNoUser = errors.New("invalid user_id in context")

// getUserID returns the caller id stored by JWTAuth.
func getUserID(c echo.Context) (int64, error) {
	switch v := c.Get(middleware.ContextUserID).(type) {
	case int64:
		if v > 0 {
			return v, nil
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n, nil
		}
	}
	return 0, errNoUser
}

// pathID parses a positive int64 path parameter.
func pathID(c echo.Context, name string) (int64, bool) {
	n, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "no authenticated user"})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request", "message": msg})
}

// statusFor maps a domain error to its HTTP status.
func statusFor(e *service.Error) int {
	switch e.Kind {
	case service.KindConflict:
		return http.StatusConflict
	case service.KindTransient:
		return http.StatusServiceUnavailable
	}
	switch e.Reason {
	case service.ErrScenarioNotFound.Reason, service.ErrAccountNotFound.Reason:
		return http.StatusNotFound
	case service.ErrInsufficientBalance.Reason:
		return http.StatusPaymentRequired
	case service.ErrNotHolder.Reason, service.ErrNotPreviousOwner.Reason:
		return http.StatusForbidden
	}
	return http.StatusBadRequest
}

// writeError renders err as {"error": reason, "message": text}.  Transient
// failures hide the underlying cause from the client.
func writeError(c echo.Context, err error) error {
	e := service.AsError(err)
	return c.JSON(statusFor(e), echo.Map{"error": e.Reason, "message": e.Message})
}

// scenarioView is the JSON shape of a scenario row.
type scenarioView struct {
	ID              int64                `json:"id,string"`
	Title           string               `json:"title"`
	Status          model.ScenarioStatus `json:"status"`
	CreatorID       int64                `json:"creator_id,string"`
	CurrentHolderID int64                `json:"current_holder_id,string"`
	CreationPrice   int64                `json:"creation_price"`
	CurrentPrice    int64                `json:"current_price"`
	Pool            int64                `json:"pool"`
	StealCount      int                  `json:"steal_count"`
	ProtectedUntil  *time.Time           `json:"protected_until"`
	Deadline        *time.Time           `json:"deadline"`
	Outcome         *model.Outcome       `json:"outcome,omitempty"`
	PayoutAmount    int64                `json:"payout_amount"`
	ResolvedBy      *int64               `json:"resolved_by,string,omitempty"`
	ResolvedAt      *time.Time           `json:"resolved_at,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
}

func toScenarioView(s *model.Scenario) scenarioView {
	return scenarioView{
		ID:              s.ID,
		Title:           s.Title,
		Status:          s.Status,
		CreatorID:       s.CreatorID,
		CurrentHolderID: s.CurrentHolderID,
		CreationPrice:   s.CreationPrice,
		CurrentPrice:    s.CurrentPrice,
		Pool:            s.Pool,
		StealCount:      s.StealCount,
		ProtectedUntil:  s.ProtectedUntil,
		Deadline:        s.Deadline,
		Outcome:         s.Outcome,
		PayoutAmount:    s.PayoutAmount,
		ResolvedBy:      s.ResolvedBy,
		ResolvedAt:      s.ResolvedAt,
		CreatedAt:       s.CreatedAt,
	}
}
