package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/scenario-steal/internal/model"
	"github.com/iliyamo/scenario-steal/internal/service"
)

// List handles GET /v1/scenarios.  It is public.
//
// Query: title (substring, case-insensitive), status, holder, creator,
// page (default 1) and page_size (default 20, max 100).
func (h *ScenarioHandler) List(c echo.Context) error {
	q := service.ListQuery{
		Title:  strings.TrimSpace(c.QueryParam("title")),
		Status: model.ScenarioStatus(strings.ToUpper(strings.TrimSpace(c.QueryParam("status")))),
	}
	for name, dst := range map[string]*int64{"holder": &q.HolderID, "creator": &q.CreatorID} {
		raw := c.QueryParam(name)
		if raw == "" {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			return badRequest(c, name+" must be a positive integer")
		}
		*dst = n
	}
	q.Page, _ = strconv.Atoi(c.QueryParam("page"))
	q.PageSize, _ = strconv.Atoi(c.QueryParam("page_size"))

	page, err := h.Engine.ListScenarios(c.Request().Context(), q)
	if err != nil {
		return writeError(c, err)
	}
	data := make([]scenarioView, 0, len(page.Items))
	for i := range page.Items {
		data = append(data, toScenarioView(&page.Items[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{
		"data":      data,
		"total":     page.Total,
		"page":      page.Page,
		"page_size": page.PageSize,
	})
}
