// Package router registers the HTTP routes of report-service and
// notification-service on an Echo instance.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/citizen-report/internal/handler"
	"github.com/iliyamo/citizen-report/internal/middleware"
	"github.com/iliyamo/citizen-report/internal/model"
)

// RegisterHealth exposes /healthz (liveness) and /readyz (readiness over
// checks). Both are unauthenticated.
func RegisterHealth(e *echo.Echo, checks map[string]handler.Check) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(checks))
}

// authenticated returns the /v1 group behind JWTAuth. Only the three known
// roles are admitted.
func authenticated(e *echo.Echo, jwtSecret string) *echo.Group {
	g := e.Group("/v1")
	g.Use(middleware.JWTAuth(jwtSecret))
	g.Use(middleware.RequireRole(model.RoleCitizen, model.RoleDepartment, model.RoleAdmin))
	return g
}

// RegisterReports wires the report endpoints. limiter guards submission
// only; cache fronts the department directory, which needs no token.
func RegisterReports(e *echo.Echo, h *handler.ReportHandler, jwtSecret string, limiter, cache echo.MiddlewareFunc) {
	e.GET("/v1/departments", h.Departments, cache)

	g := authenticated(e, jwtSecret)
	g.POST("/reports", h.Create, limiter)
	g.GET("/reports", h.List)
	g.GET("/reports/:id", h.Get)
	g.GET("/reports/:id/history", h.History)
	g.PATCH("/reports/:id/status", h.ChangeStatus)
	g.POST("/reports/:id/cancel", h.Cancel)
}

// RegisterNotifications wires the notification endpoints.
func RegisterNotifications(e *echo.Echo, h *handler.NotificationHandler, jwtSecret string) {
	g := authenticated(e, jwtSecret)
	g.GET("/notifications", h.List)
	g.PATCH("/notifications/:id/read", h.MarkRead)
	g.POST("/notifications/read-all", h.MarkAllRead)
}
