// Package middleware provides the authentication, admin and rate-limit
// gates wrapped around protected routes.
package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ryokun6/chatsync/internal/auth"
)

// Context keys set by RequireUser for downstream handlers.
const (
	CtxUsername = "username"
	CtxToken    = "token"
)

// identity extracts the caller's claimed username and bearer token from
// the request. The identity rides in the X-Username header because the
// session token is opaque and carries no claims of its own.
func identity(c echo.Context) (username, token string) {
	authz := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		token = strings.TrimPrefix(authz, "Bearer ")
	}
	username = strings.ToLower(strings.TrimSpace(c.Request().Header.Get("X-Username")))
	return username, token
}

// RequireUser validates the session with grace-period tolerance. A
// request accepted through the grace window gets an X-Token-Refresh
// response header telling the client to rotate to a fresh token.
func RequireUser(v *auth.Validator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			username, token := identity(c)
			res := v.Validate(c.Request().Context(), username, token, auth.Options{AllowExpired: true})
			if !res.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
			}
			if res.Expired {
				c.Response().Header().Set("X-Token-Refresh", "true")
			}
			c.Set(CtxUsername, username)
			c.Set(CtxToken, token)
			return next(c)
		}
	}
}

// RequireAdmin gates a route on the distinguished admin account.
// Privilege is rejected before any store mutation is attempted.
func RequireAdmin(v *auth.Validator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			username, token := identity(c)
			if !v.IsAdmin(c.Request().Context(), username, token) {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "admin access required"})
			}
			c.Set(CtxUsername, username)
			c.Set(CtxToken, token)
			return next(c)
		}
	}
}

// Username returns the authenticated username set by RequireUser or
// RequireAdmin, empty when the route is unauthenticated.
func Username(c echo.Context) string {
	if v, ok := c.Get(CtxUsername).(string); ok {
		return v
	}
	return ""
}
