package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ryokun6/chatsync/internal/repository"
	"github.com/ryokun6/chatsync/internal/service"
)

// AdminHandler exposes the moderation surface as a single action-routed
// endpoint: reads go through GET with an action query parameter, state
// changes through POST with an action body field.
type AdminHandler struct {
	Moderation *service.Moderation
}

func NewAdminHandler(mod *service.Moderation) *AdminHandler {
	return &AdminHandler{Moderation: mod}
}

type adminActionReq struct {
	Action         string `json:"action"`
	TargetUsername string `json:"targetUsername"`
	Reason         string `json:"reason"`
}

// Query dispatches read-only admin actions.
func (h *AdminHandler) Query(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	switch c.QueryParam("action") {
	case "getStats":
		stats, err := h.Moderation.GetStats(ctx)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "stats failed"})
		}
		return c.JSON(http.StatusOK, stats)

	case "getAllUsers":
		return c.JSON(http.StatusOK, echo.Map{"users": h.Moderation.AllUsers(ctx)})

	case "getUserProfile":
		username := c.QueryParam("username")
		profile, err := h.Moderation.UserProfile(ctx, username)
		if err == repository.ErrNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
		}
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "profile failed"})
		}
		return c.JSON(http.StatusOK, profile)

	case "getUserMessages":
		username := c.QueryParam("username")
		limit := 50
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		msgs, err := h.Moderation.UserMessages(ctx, username, limit)
		if err == repository.ErrNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
		}
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "messages failed"})
		}
		return c.JSON(http.StatusOK, echo.Map{"messages": msgs})

	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown action"})
	}
}

// Mutate dispatches state-changing admin actions.
func (h *AdminHandler) Mutate(c echo.Context) error {
	var req adminActionReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	var err error
	switch req.Action {
	case "deleteUser":
		err = h.Moderation.DeleteUser(ctx, req.TargetUsername)
	case "banUser":
		err = h.Moderation.BanUser(ctx, req.TargetUsername, req.Reason)
	case "unbanUser":
		err = h.Moderation.UnbanUser(ctx, req.TargetUsername)
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown action"})
	}

	switch err {
	case nil:
		return c.JSON(http.StatusOK, echo.Map{"ok": true})
	case repository.ErrForbidden:
		return c.JSON(http.StatusForbidden, echo.Map{"error": "the admin account cannot be targeted"})
	case repository.ErrNotFound:
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "moderation action failed"})
	}
}
