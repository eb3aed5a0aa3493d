package handler

import (
	"context"
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"
)

// Health answers liveness probes. It only proves the process is serving.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Check probes one dependency; a nil error means ready.
type Check func(ctx context.Context) error

// Ready answers readiness probes by running every check. The response lists
// the failing dependencies with 503, or {"status":"ok"} with 200.
func Ready(checks map[string]Check) echo.HandlerFunc {
	return func(c echo.Context) error {
		var failing []string
		for name, check := range checks {
			if err := check(c.Request().Context()); err != nil {
				failing = append(failing, name)
			}
		}
		if len(failing) > 0 {
			sort.Strings(failing)
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "unavailable", "failing": failing})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	}
}
