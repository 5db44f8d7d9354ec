package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/scenario-steal/internal/service"
)

// AdminHandler exposes cancellation and balance adjustments.
type AdminHandler struct {
	Engine *service.Engine
}

func NewAdminHandler(engine *service.Engine) *AdminHandler {
	if engine == nil {
		panic("nil engine passed to NewAdminHandler")
	}
	return &AdminHandler{Engine: engine}
}

// Cancel handles POST /v1/admin/scenarios/:id/cancel and returns the
// refunds it booked.
func (h *AdminHandler) Cancel(c echo.Context) error {
	adminID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid scenario id")
	}
	res, err := h.Engine.Cancel(c.Request().Context(), service.CancelRequest{ScenarioID: id, ActorID: adminID})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

type adjustRequest struct {
	Delta     int64  `json:"delta"`
	Unlimited *bool  `json:"unlimited"`
	Note      string `json:"note"`
}

// Adjust handles POST /v1/admin/accounts/:id/adjust.  A missing account is
// opened; a negative delta may not take a limited account below zero.
func (h *AdminHandler) Adjust(c echo.Context) error {
	adminID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	userID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid user id")
	}
	var body adjustRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	acc, err := h.Engine.AdjustBalance(c.Request().Context(), service.AdjustRequest{
		UserID:    userID,
		Delta:     body.Delta,
		Unlimited: body.Unlimited,
		ActorID:   adminID,
		Note:      body.Note,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"user_id":   strconv.FormatInt(acc.UserID, 10),
		"balance":   acc.Balance,
		"unlimited": acc.Unlimited,
	})
}
