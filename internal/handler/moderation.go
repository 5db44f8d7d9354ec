package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/scenario-steal/internal/model"
	"github.com/iliyamo/scenario-steal/internal/service"
)

// ModerationHandler drives a scenario through its lifecycle: close,
// review and resolve.  Routes are restricted to moderators and admins.
type ModerationHandler struct {
	Engine *service.Engine
}

func NewModerationHandler(engine *service.Engine) *ModerationHandler {
	if engine == nil {
		panic("nil engine passed to NewModerationHandler")
	}
	return &ModerationHandler{Engine: engine}
}

// Close handles POST /v1/moderation/scenarios/:id/close.
func (h *ModerationHandler) Close(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid scenario id")
	}
	s, err := h.Engine.Close(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toScenarioView(s))
}

// Review handles POST /v1/moderation/scenarios/:id/review.
func (h *ModerationHandler) Review(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid scenario id")
	}
	s, err := h.Engine.BeginReview(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toScenarioView(s))
}

type resolveRequest struct {
	Outcome string `json:"outcome"`
}

// Resolve handles POST /v1/moderation/scenarios/:id/resolve with body
// {"outcome": "FULFILLED" | "NOT_FULFILLED"}.  Resolving twice returns
// 400 already_resolved and pays nothing the second time.
func (h *ModerationHandler) Resolve(c echo.Context) error {
	modID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid scenario id")
	}
	var body resolveRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	res, err := h.Engine.Resolve(c.Request().Context(), service.ResolveRequest{
		ScenarioID:  id,
		Outcome:     model.Outcome(strings.ToUpper(strings.TrimSpace(body.Outcome))),
		ModeratorID: modID,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
