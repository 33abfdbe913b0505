package repository

import (
	"context"
	"encoding/json"

	"github.com/ryokun6/chatsync/internal/model"
)

// RoomRepo is the server-side authority for room metadata, membership,
// presence and the per-room ordered message lists. Rooms live as JSON
// records indexed by a set of ids; messages are an append-only list per
// room, with deletion implemented as removal of the stored entry rather
// than a rewrite of the list.
type RoomRepo struct {
	kv   KV
	keys Keyspace
}

func NewRoomRepo(kv KV, keys Keyspace) *RoomRepo {
	return &RoomRepo{kv: kv, keys: keys}
}

// Create stores the room record and registers its id.
func (r *RoomRepo) Create(ctx context.Context, room model.Room) error {
	raw, err := json.Marshal(room)
	if err != nil {
		return err
	}
	if err := r.kv.Set(ctx, r.keys.Room(room.ID), string(raw), 0); err != nil {
		return err
	}
	return r.kv.SAdd(ctx, r.keys.Rooms(), room.ID)
}

// Get loads one room; ErrNotFound when absent.
func (r *RoomRepo) Get(ctx context.Context, id string) (model.Room, error) {
	raw, err := r.kv.Get(ctx, r.keys.Room(id))
	if err != nil {
		return model.Room{}, err
	}
	var room model.Room
	if err := json.Unmarshal([]byte(raw), &room); err != nil {
		return model.Room{}, err
	}
	return room, nil
}

// Update rewrites the room record in place.
func (r *RoomRepo) Update(ctx context.Context, room model.Room) error {
	raw, err := json.Marshal(room)
	if err != nil {
		return err
	}
	return r.kv.Set(ctx, r.keys.Room(room.ID), string(raw), 0)
}

// Delete removes the room record, its message list, its presence set and
// its id registration.
func (r *RoomRepo) Delete(ctx context.Context, id string) error {
	if err := r.kv.Del(ctx, r.keys.Room(id), r.keys.Messages(id), r.keys.Presence(id)); err != nil {
		return err
	}
	return r.kv.SRem(ctx, r.keys.Rooms(), id)
}

// IDs returns all registered room ids.
func (r *RoomRepo) IDs(ctx context.Context) ([]string, error) {
	return r.kv.SMembers(ctx, r.keys.Rooms())
}

// List loads every room record, filling in the live presence count.
// Ids whose record is missing or malformed are skipped.
func (r *RoomRepo) List(ctx context.Context) ([]model.Room, error) {
	ids, err := r.IDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.keys.Room(id)
	}
	vals, err := r.kv.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}
	rooms := make([]model.Room, 0, len(ids))
	for _, v := range vals {
		if v == nil {
			continue
		}
		var room model.Room
		if json.Unmarshal([]byte(*v), &room) != nil || room.ID == "" {
			continue
		}
		members, err := r.kv.SMembers(ctx, r.keys.Presence(room.ID))
		if err == nil {
			room.Users = len(members)
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}

// AppendMessage pushes one message onto the room's list.
func (r *RoomRepo) AppendMessage(ctx context.Context, msg model.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.kv.RPush(ctx, r.keys.Messages(msg.RoomID), string(raw))
}

// Messages returns up to limit most-recent messages in delivery order.
// limit <= 0 returns the whole list.
func (r *RoomRepo) Messages(ctx context.Context, roomID string, limit int) ([]model.Message, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raws, err := r.kv.LRange(ctx, r.keys.Messages(roomID), start, -1)
	if err != nil {
		return nil, err
	}
	msgs := make([]model.Message, 0, len(raws))
	for _, raw := range raws {
		var m model.Message
		if json.Unmarshal([]byte(raw), &m) == nil && m.ID != "" {
			msgs = append(msgs, m)
		}
	}
	return msgs, nil
}

// MessageCount returns the length of the room's message list.
func (r *RoomRepo) MessageCount(ctx context.Context, roomID string) (int64, error) {
	return r.kv.LLen(ctx, r.keys.Messages(roomID))
}

// DeleteMessage removes the message with the given id from the room's
// list by locating its stored form and removing that exact entry. Absent
// ids are a no-op, so redelivered deletions stay idempotent.
func (r *RoomRepo) DeleteMessage(ctx context.Context, roomID, messageID string) (model.Message, error) {
	raws, err := r.kv.LRange(ctx, r.keys.Messages(roomID), 0, -1)
	if err != nil {
		return model.Message{}, err
	}
	for _, raw := range raws {
		var m model.Message
		if json.Unmarshal([]byte(raw), &m) != nil {
			continue
		}
		if m.ID == messageID {
			return m, r.kv.LRem(ctx, r.keys.Messages(roomID), 1, raw)
		}
	}
	return model.Message{}, ErrNotFound
}

// AddPresence records username as present in the room.
func (r *RoomRepo) AddPresence(ctx context.Context, roomID, username string) error {
	return r.kv.SAdd(ctx, r.keys.Presence(roomID), username)
}

// RemovePresence clears username's presence in the room.
func (r *RoomRepo) RemovePresence(ctx context.Context, roomID, username string) error {
	return r.kv.SRem(ctx, r.keys.Presence(roomID), username)
}
