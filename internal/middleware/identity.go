package middleware

// identity.go holds the accessors handlers and other middleware use to read
// the caller stored by JWTAuth.

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/citizen-report/internal/model"
)

// ActorFrom returns the authenticated caller. ok is false on routes that
// are not behind JWTAuth.
func ActorFrom(c echo.Context) (model.Actor, bool) {
	a, ok := c.Get(ctxActor).(model.Actor)
	if !ok || a.UserID == "" {
		return model.Actor{}, false
	}
	return a, true
}

// currentUserID returns the caller's id, or "anon" when there is none.
func currentUserID(c echo.Context) string {
	if s, ok := c.Get(ctxUserID).(string); ok && s != "" {
		return s
	}
	return "anon"
}
