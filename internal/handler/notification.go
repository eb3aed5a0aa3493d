package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/citizen-report/internal/middleware"
	"github.com/iliyamo/citizen-report/internal/model"
	"github.com/iliyamo/citizen-report/internal/service"
)

// NotificationHandler serves the notification endpoints of
// notification-service.
type NotificationHandler struct {
	svc    *service.NotificationService
	logger *zap.Logger
}

func NewNotificationHandler(svc *service.NotificationService, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{svc: svc, logger: logger.Named("http")}
}

// List handles GET /v1/notifications?status=all|unread&limit=N. Rows
// addressed to the caller's anonymous hash are included.
func (h *NotificationHandler) List(c echo.Context) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return badRequest(c, "limit must be a positive integer")
		}
		limit = n
	}
	page, err := h.svc.List(c.Request().Context(), actor.UserID, c.QueryParam("status"), limit)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	if page.Notifications == nil {
		page.Notifications = []model.Notification{}
	}
	return c.JSON(http.StatusOK, page)
}

// MarkRead handles PATCH /v1/notifications/:id/read. Another user's
// notification answers 404.
func (h *NotificationHandler) MarkRead(c echo.Context) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	if err := h.svc.MarkRead(c.Request().Context(), actor.UserID, c.Param("id")); err != nil {
		return writeError(c, h.logger, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// MarkAllRead handles POST /v1/notifications/read-all.
func (h *NotificationHandler) MarkAllRead(c echo.Context) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	n, err := h.svc.MarkAllRead(c.Request().Context(), actor.UserID)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"updated": n})
}
