package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/scenario-steal/internal/service"
)

// ScenarioHandler serves the player-facing routes: creating, stealing,
// shielding and recovering scenarios, plus the read-only views.  All
// mutating methods assume JWTAuth and RequireRole already ran.
type ScenarioHandler struct {
	Engine *service.Engine
}

// NewScenarioHandler panics on a nil engine, like the other constructors.
func NewScenarioHandler(engine *service.Engine) *ScenarioHandler {
	if engine == nil {
		panic("nil engine passed to NewScenarioHandler")
	}
	return &ScenarioHandler{Engine: engine}
}

type createScenarioRequest struct {
	Title         string     `json:"title"`
	CreationPrice int64      `json:"creation_price"`
	Deadline      *time.Time `json:"deadline"`
}

// Create handles POST /v1/scenarios.  The caller becomes creator and first
// holder and pays creation_price into the pool.  Returns 201 with the new
// scenario.
func (h *ScenarioHandler) Create(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var body createScenarioRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	s, err := h.Engine.CreateScenario(c.Request().Context(), service.CreateRequest{
		CreatorID:     userID,
		Title:         body.Title,
		CreationPrice: body.CreationPrice,
		Deadline:      body.Deadline,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, toScenarioView(s))
}

type stealRequest struct {
	ExpectedStealCount *int `json:"expected_steal_count"`
}

// Steal handles POST /v1/scenarios/:id/steal.  The body is optional; when
// it carries expected_steal_count the steal only goes through if nobody
// else stole in between.  Both outcomes carry a success flag.
func (h *ScenarioHandler) Steal(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid scenario id")
	}
	var body stealRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	res, err := h.Engine.AttemptSteal(c.Request().Context(), service.StealRequest{
		ScenarioID:         id,
		ActorID:            userID,
		ExpectedStealCount: body.ExpectedStealCount,
	})
	if err != nil {
		e := service.AsError(err)
		return c.JSON(statusFor(e), echo.Map{"success": false, "error": e.Reason, "message": e.Message})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":      true,
		"steal_price":  res.StealPrice,
		"next_price":   res.NextPrice,
		"pool_total":   res.PoolTotal,
		"steal_number": res.StealNumber,
	})
}

type shieldRequest struct {
	Kind string `json:"kind"`
}

// Shield handles POST /v1/scenarios/:id/shield with body {"kind": "..."}.
func (h *ScenarioHandler) Shield(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid scenario id")
	}
	var body shieldRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	res, err := h.Engine.ApplyShield(c.Request().Context(), service.ShieldRequest{
		ScenarioID: id,
		ActorID:    userID,
		Kind:       body.Kind,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Recover handles POST /v1/scenarios/:id/recover.
func (h *ScenarioHandler) Recover(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid scenario id")
	}
	res, err := h.Engine.RecoverOwnership(c.Request().Context(), service.RecoverRequest{ScenarioID: id, ActorID: userID})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// StealInfo handles GET /v1/scenarios/:id/steal-info.  It is public.
func (h *ScenarioHandler) StealInfo(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid scenario id")
	}
	info, err := h.Engine.GetStealInfo(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

// History handles GET /v1/scenarios/:id/history.  Responses are cached
// per scenario by the router.
func (h *ScenarioHandler) History(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid scenario id")
	}
	entries, err := h.Engine.History(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"scenario_id": strconv.FormatInt(id, 10), "history": entries})
}

// MyAccount handles GET /v1/me/account?limit=N.
func (h *ScenarioHandler) MyAccount(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return badRequest(c, "limit must be a positive integer")
		}
		limit = n
	}
	view, err := h.Engine.GetAccount(c.Request().Context(), userID, limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}
