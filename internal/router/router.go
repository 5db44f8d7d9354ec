package router // package router defines how HTTP routes are registered for the API

import (
	"database/sql"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/scenario-steal/internal/handler"
	"github.com/iliyamo/scenario-steal/internal/middleware"
	"github.com/iliyamo/scenario-steal/internal/model"
)

// RegisterRoutes registers the unauthenticated operational endpoints:
// liveness, readiness and the prometheus scrape endpoint.
func RegisterRoutes(e *echo.Echo, db *sql.DB, gatherer prometheus.Gatherer) {
	e.GET("/healthz", handler.Health)
	if db != nil {
		e.GET("/readyz", handler.Ready(db))
	}
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}

// RegisterPublic registers the read-only scenario views.  History is
// served through the redis cache, which the engine invalidates on every
// committed change.
func RegisterPublic(e *echo.Echo, h *handler.ScenarioHandler, cache *middleware.HistoryCache) {
	g := e.Group("/v1/scenarios")
	g.GET("", h.List)
	g.GET("/:id/steal-info", h.StealInfo)
	g.GET("/:id/history", h.History, cache.Middleware())
}

// RegisterScenario registers the player routes.  Every mutating route is
// rate limited per user and route.
func RegisterScenario(e *echo.Echo, h *handler.ScenarioHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group("/v1")
	g.Use(middleware.JWTAuth(jwtSecret))
	g.Use(middleware.RequireRole(model.RoleUser, model.RoleModerator, model.RoleAdmin))

	g.GET("/me/account", h.MyAccount)
	g.POST("/scenarios", h.Create, limiter)
	g.POST("/scenarios/:id/steal", h.Steal, limiter)
	g.POST("/scenarios/:id/shield", h.Shield, limiter)
	g.POST("/scenarios/:id/recover", h.Recover, limiter)
}

// RegisterModeration registers lifecycle routes for moderators.  Admins
// may use them too.
func RegisterModeration(e *echo.Echo, h *handler.ModerationHandler, jwtSecret string) {
	g := e.Group("/v1/moderation")
	g.Use(middleware.JWTAuth(jwtSecret))
	g.Use(middleware.RequireRole(model.RoleModerator, model.RoleAdmin))

	g.POST("/scenarios/:id/close", h.Close)
	g.POST("/scenarios/:id/review", h.Review)
	g.POST("/scenarios/:id/resolve", h.Resolve)
}

// RegisterAdmin registers cancellation and balance adjustment.
func RegisterAdmin(e *echo.Echo, h *handler.AdminHandler, jwtSecret string) {
	g := e.Group("/v1/admin")
	g.Use(middleware.JWTAuth(jwtSecret))
	g.Use(middleware.RequireRole(model.RoleAdmin))

	g.POST("/scenarios/:id/cancel", h.Cancel)
	g.POST("/accounts/:id/adjust", h.Adjust)
}
