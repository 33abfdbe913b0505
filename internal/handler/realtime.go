package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ryokun6/chatsync/internal/middleware"
	"github.com/ryokun6/chatsync/internal/realtime"
	"github.com/ryokun6/chatsync/internal/repository"
)

// grantTTL bounds how long a channel grant stays usable. Grants are
// minted per subscribe attempt, so a short window is enough.
const grantTTL = 2 * time.Minute

// RealtimeHandler authorizes websocket subscriptions to private
// channels and bridges browser connections onto the gateway.
type RealtimeHandler struct {
	Rooms   *repository.RoomRepo
	Gateway *realtime.Gateway
	Secret  string
}

func NewRealtimeHandler(rooms *repository.RoomRepo, gw *realtime.Gateway, secret string) *RealtimeHandler {
	return &RealtimeHandler{Rooms: rooms, Gateway: gw, Secret: secret}
}

type channelAuthReq struct {
	Channel string `json:"channel"`
}

// Authorize issues a signed grant for one private channel if the caller
// is entitled to it. Public channels never need a grant; asking for one
// is answered with the grant anyway so clients can treat all channels
// uniformly.
func (h *RealtimeHandler) Authorize(c echo.Context) error {
	username := middleware.Username(c)

	var req channelAuthReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Channel == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "channel required"})
	}

	if !h.entitled(c.Request().Context(), username, req.Channel) {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "channel not allowed"})
	}
	grant, err := realtime.NewChannelGrant(h.Secret, username, req.Channel, grantTTL)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "grant failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"auth": grant})
}

func (h *RealtimeHandler) entitled(ctx context.Context, username, channel string) bool {
	if channel == realtime.PublicGlobalChannel || channel == realtime.GlobalChannel(username) {
		return true
	}
	roomID, ok := realtime.RoomIDFromChannel(channel)
	if !ok {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	room, err := h.Rooms.Get(ctx, roomID)
	if err != nil {
		return false
	}
	return room.HasMember(username)
}

// Websocket upgrades the request and hands it to the gateway.
func (h *RealtimeHandler) Websocket(c echo.Context) error {
	h.Gateway.Handle(c.Response(), c.Request())
	return nil
}
