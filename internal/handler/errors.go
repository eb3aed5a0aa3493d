package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/citizen-report/internal/repository"
	"github.com/iliyamo/citizen-report/internal/service"
)

// statusFor maps the domain sentinels to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, repository.ErrConflict), errors.Is(err, service.ErrTransitionNotAllowed):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrInvalidStatus):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeError renders err as {"error": "..."}. Internal errors are logged and
// answered with a generic message.
func writeError(c echo.Context, logger *zap.Logger, err error) error {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Error(err))
		return c.JSON(code, echo.Map{"error": "internal error"})
	}
	return c.JSON(code, echo.Map{"error": err.Error()})
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}
