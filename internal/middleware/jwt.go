package middleware // reusable HTTP middleware for the report and notification APIs

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/citizen-report/internal/model"
)

// Context keys written by JWTAuth.
const (
	ctxUserID     = "user_id"
	ctxRole       = "role"
	ctxDepartment = "department"
	ctxActor      = "actor"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token and
// stores the caller's identity in the request context. Tokens are issued by
// the account service and carry `sub` (user id), `role` and, for department
// staff, `department` (the category the staff member handles).
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// A valid header is "Bearer <jwt>".
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			// Only HMAC signatures are accepted; anything else is rejected
			// before the key is handed out.
			tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, echo.ErrUnauthorized
				}
				return []byte(secret), nil
			})
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			claims, ok := tok.Claims.(jwt.MapClaims)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
			}
			// The subject is the opaque user id; numeric subjects are not
			// accepted because report ownership compares strings.
			sub, _ := claims["sub"].(string)
			if sub == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
			}
			role, _ := claims["role"].(string)
			dept, _ := claims["department"].(string)

			c.Set(ctxUserID, sub)
			c.Set(ctxRole, role)
			c.Set(ctxDepartment, dept)
			c.Set(ctxActor, model.Actor{
				UserID:     sub,
				Role:       role,
				Department: model.Category(strings.ToLower(dept)),
			})
			return next(c)
		}
	}
}
