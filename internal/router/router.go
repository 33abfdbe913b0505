package router // package router defines how HTTP routes are registered for the API

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ryokun6/chatsync/internal/auth"
	"github.com/ryokun6/chatsync/internal/handler"
	"github.com/ryokun6/chatsync/internal/middleware"
	"github.com/ryokun6/chatsync/internal/ratelimit"
)

// Handlers bundles everything route registration needs.
type Handlers struct {
	Auth     *handler.AuthHandler
	Rooms    *handler.RoomHandler
	Admin    *handler.AdminHandler
	Realtime *handler.RealtimeHandler

	Validator *auth.Validator
	Limiter   *ratelimit.Limiter

	AdminRateLimit  int
	AdminRateWindow time.Duration
}

// Register wires all routes onto the Echo instance. Unauthenticated
// operations live under /v1/auth; everything else under /v1 requires a
// valid session, and the moderation surface additionally requires the
// admin account and is rate limited per caller.
func Register(e *echo.Echo, h Handlers) {
	e.GET("/healthz", handler.Health)

	// Signup and login mint the session themselves, so they run without
	// the user gate. Refresh and logout need the presented bearer token
	// validated first.
	g := e.Group("/v1/auth")
	g.POST("/signup", h.Auth.Signup)
	g.POST("/login", h.Auth.Login)

	user := e.Group("/v1")
	user.Use(middleware.RequireUser(h.Validator))
	user.POST("/auth/refresh", h.Auth.Refresh)
	user.POST("/auth/logout", h.Auth.Logout)
	user.GET("/me", h.Auth.Me)

	user.GET("/rooms", h.Rooms.List)
	user.POST("/rooms", h.Rooms.Create)
	user.DELETE("/rooms/:id", h.Rooms.Delete)
	user.POST("/rooms/:id/join", h.Rooms.Join)
	user.POST("/rooms/:id/leave", h.Rooms.Leave)
	user.GET("/rooms/:id/messages", h.Rooms.Messages)
	user.POST("/rooms/:id/messages", h.Rooms.Send)
	user.DELETE("/messages/:id", h.Rooms.DeleteMessage)

	user.POST("/realtime/auth", h.Realtime.Authorize)

	// The limiter runs before the admin gate so anonymous and non-admin
	// probing is bounded too, keyed by claimed identity or caller IP.
	admin := e.Group("/v1/admin")
	admin.Use(middleware.RateLimit(h.Limiter, h.Validator, "admin", h.AdminRateWindow, h.AdminRateLimit))
	admin.Use(middleware.RequireAdmin(h.Validator))
	admin.GET("", h.Admin.Query)
	admin.POST("", h.Admin.Mutate)

	// The websocket upgrade authenticates inside the gateway handshake;
	// a failed check downgrades the socket to anonymous rather than
	// rejecting it, so no middleware guards this route.
	e.GET("/v1/realtime", h.Realtime.Websocket)
}
