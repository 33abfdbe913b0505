package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ryokun6/chatsync/internal/middleware"
	"github.com/ryokun6/chatsync/internal/model"
	"github.com/ryokun6/chatsync/internal/realtime"
	"github.com/ryokun6/chatsync/internal/repository"
)

// defaultMessageLimit bounds message listings when the client does not
// ask for a specific window.
const defaultMessageLimit = 100

// RoomHandler exposes the room and message surface of the registry.
// Mutations publish their realtime events after the store write
// succeeds, so subscribers only ever see confirmed state.
type RoomHandler struct {
	Rooms     *repository.RoomRepo
	Publisher *realtime.Publisher
	Admin     string
}

func NewRoomHandler(rooms *repository.RoomRepo, pub *realtime.Publisher, adminUsername string) *RoomHandler {
	return &RoomHandler{Rooms: rooms, Publisher: pub, Admin: strings.ToLower(adminUsername)}
}

type createRoomReq struct {
	Name string         `json:"name"`
	Type model.RoomType `json:"type"`
}

type sendMessageReq struct {
	Content  string `json:"content"`
	ClientID string `json:"clientId"`
}

// visibleTo narrows a room listing to what username may see: public
// rooms plus the private rooms they belong to. Every listing that leaves
// the server, HTTP response or realtime payload alike, goes through
// this filter so private rooms never leak to non-members.
func visibleTo(rooms []model.Room, username string) []model.Room {
	visible := make([]model.Room, 0, len(rooms))
	for _, r := range rooms {
		if r.Type == model.RoomPublic || r.HasMember(username) {
			visible = append(visible, r)
		}
	}
	return visible
}

// List returns the rooms visible to the caller: all public rooms plus
// the private rooms the caller belongs to.
func (h *RoomHandler) List(c echo.Context) error {
	username := middleware.Username(c)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	rooms, err := h.Rooms.List(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "list rooms failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"rooms": visibleTo(rooms, username)})
}

// Create makes a new room. Public rooms require admin privilege;
// private rooms start with the creator as their only member.
func (h *RoomHandler) Create(c echo.Context) error {
	username := middleware.Username(c)

	var req createRoomReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "room name required"})
	}
	if req.Type != model.RoomPublic && req.Type != model.RoomPrivate {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "room type must be public or private"})
	}
	if req.Type == model.RoomPublic && username != h.Admin {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "public room creation requires admin"})
	}

	room := model.Room{ID: uuid.NewString(), Name: req.Name, Type: req.Type}
	if req.Type == model.RoomPrivate {
		room.Members = []string{username}
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Rooms.Create(ctx, room); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create room failed"})
	}
	h.Publisher.RoomCreated(ctx, room)
	return c.JSON(http.StatusCreated, room)
}

// Delete removes a room. Public rooms require admin privilege; private
// rooms require membership.
func (h *RoomHandler) Delete(c echo.Context) error {
	username := middleware.Username(c)
	roomID := c.Param("id")

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	room, err := h.Rooms.Get(ctx, roomID)
	if err == repository.ErrNotFound {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "room not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load room failed"})
	}
	switch room.Type {
	case model.RoomPublic:
		if username != h.Admin {
			return c.JSON(http.StatusForbidden, echo.Map{"error": "public room deletion requires admin"})
		}
	case model.RoomPrivate:
		if !room.HasMember(username) {
			return c.JSON(http.StatusForbidden, echo.Map{"error": "not a member of this room"})
		}
	}
	if err := h.Rooms.Delete(ctx, roomID); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "delete room failed"})
	}
	h.Publisher.RoomDeleted(ctx, room)
	return c.NoContent(http.StatusNoContent)
}

// Join adds the caller to a private room's member set and sends them the
// bulk room list so their client reconciles in one step.
func (h *RoomHandler) Join(c echo.Context) error {
	username := middleware.Username(c)
	roomID := c.Param("id")

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	room, err := h.Rooms.Get(ctx, roomID)
	if err == repository.ErrNotFound {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "room not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load room failed"})
	}
	if room.Type != model.RoomPrivate {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "public rooms have no membership"})
	}
	if !room.HasMember(username) {
		room.Members = append(room.Members, username)
		if err := h.Rooms.Update(ctx, room); err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update room failed"})
		}
		h.Publisher.RoomUpdated(ctx, room)
	}
	if rooms, err := h.Rooms.List(ctx); err == nil {
		h.Publisher.RoomsUpdated(ctx, username, visibleTo(rooms, username))
	}
	return c.JSON(http.StatusOK, room)
}

// Leave removes the caller from a private room's member set.
func (h *RoomHandler) Leave(c echo.Context) error {
	username := middleware.Username(c)
	roomID := c.Param("id")

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	room, err := h.Rooms.Get(ctx, roomID)
	if err == repository.ErrNotFound {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "room not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load room failed"})
	}
	if room.Type != model.RoomPrivate {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "public rooms have no membership"})
	}
	members := room.Members[:0:0]
	for _, m := range room.Members {
		if m != username {
			members = append(members, m)
		}
	}
	room.Members = members
	if err := h.Rooms.Update(ctx, room); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update room failed"})
	}
	h.Publisher.RoomUpdated(ctx, room)
	return c.NoContent(http.StatusNoContent)
}

// Messages lists the most recent messages of a room the caller can see.
func (h *RoomHandler) Messages(c echo.Context) error {
	username := middleware.Username(c)
	roomID := c.Param("id")
	limit := defaultMessageLimit
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	room, err := h.Rooms.Get(ctx, roomID)
	if err == repository.ErrNotFound {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "room not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load room failed"})
	}
	if !room.HasMember(username) {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not a member of this room"})
	}
	msgs, err := h.Rooms.Messages(ctx, roomID, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "list messages failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"messages": msgs})
}

// Send appends a message to the room list and publishes it on the room
// channel. The client's temporary id is echoed back as clientId so
// optimistic inserts reconcile by id, not content.
func (h *RoomHandler) Send(c echo.Context) error {
	username := middleware.Username(c)
	roomID := c.Param("id")

	var req sendMessageReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "message content required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	room, err := h.Rooms.Get(ctx, roomID)
	if err == repository.ErrNotFound {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "room not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load room failed"})
	}
	if !room.HasMember(username) {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not a member of this room"})
	}

	msg := model.Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Username:  username,
		Content:   req.Content,
		Timestamp: time.Now().UnixMilli(),
		ClientID:  req.ClientID,
	}
	if err := h.Rooms.AppendMessage(ctx, msg); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "store message failed"})
	}
	h.Publisher.RoomMessage(ctx, msg)
	return c.JSON(http.StatusCreated, msg)
}

// DeleteMessage removes one message, allowed for its author or the
// admin, and publishes the tombstone on the room channel.
func (h *RoomHandler) DeleteMessage(c echo.Context) error {
	username := middleware.Username(c)
	roomID := c.QueryParam("roomId")
	messageID := c.Param("id")
	if roomID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "roomId required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	msgs, err := h.Rooms.Messages(ctx, roomID, 0)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load messages failed"})
	}
	var target *model.Message
	for i := range msgs {
		if msgs[i].ID == messageID {
			target = &msgs[i]
			break
		}
	}
	if target == nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "message not found"})
	}
	if target.Username != username && username != h.Admin {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "only the author or admin may delete"})
	}
	if _, err := h.Rooms.DeleteMessage(ctx, roomID, messageID); err != nil && err != repository.ErrNotFound {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "delete message failed"})
	}
	h.Publisher.MessageDeleted(ctx, roomID, messageID)
	return c.NoContent(http.StatusNoContent)
}
