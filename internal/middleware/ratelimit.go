package middleware

import (
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ryokun6/chatsync/internal/auth"
	"github.com/ryokun6/chatsync/internal/ratelimit"
)

// RateLimit bounds a route class with the fixed-window limiter. The
// counter key prefers the authenticated identity; a claimed identity is
// only honored after the validator confirms its token (without sliding
// the TTL), because this middleware can run before the auth gate and a
// bare header would hand every caller a fresh counter per spoofed name.
// Everything else keys on the caller IP, so anonymous traffic shares
// one bounded counter. Rejections carry the configured limit and the
// seconds until the window resets.
//
// A store failure disables the check for that request rather than
// failing it: the limiter protects capacity, it is not an availability
// dependency.
func RateLimit(l *ratelimit.Limiter, v *auth.Validator, class string, window time.Duration, limit int) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := Username(c)
			if key == "" {
				if username, token := identity(c); username != "" && v.Exists(c.Request().Context(), username, token) {
					key = username
				} else {
					key = "ip:" + c.RealIP()
				}
			}
			res, err := l.Check(c.Request().Context(), class, key, window, limit)
			if err != nil {
				log.Printf("[ratelimit] check failed for %s/%s: %v", class, key, err)
				return next(c)
			}
			if !res.Allowed {
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"error":      "rate limit exceeded",
					"limit":      res.Limit,
					"retryAfter": res.ResetSeconds,
				})
			}
			return next(c)
		}
	}
}
