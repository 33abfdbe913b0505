package realtime

import (
	"context"
	"encoding/json"
	"log"

	"github.com/ryokun6/chatsync/internal/model"
)

// UserLister enumerates known accounts so public-room lifecycle events
// can reach every user's global channel.
type UserLister interface {
	List(ctx context.Context) ([]model.User, error)
}

// Publisher is the registry-side counterpart of the Manager: it emits
// message events on room channels and room lifecycle events on the
// global channels of the affected audience, using the same deterministic
// channel names the subscribers derive.
type Publisher struct {
	transport Transport
	users     UserLister
}

func NewPublisher(t Transport, users UserLister) *Publisher {
	return &Publisher{transport: t, users: users}
}

// RoomMessage publishes a stored message to its room channel.
func (p *Publisher) RoomMessage(ctx context.Context, msg model.Message) {
	p.emit(ctx, RoomChannel(msg.RoomID), EventRoomMessage, msg)
}

// MessageDeleted publishes a deletion tombstone to the room channel.
func (p *Publisher) MessageDeleted(ctx context.Context, roomID, messageID string) {
	p.emit(ctx, RoomChannel(roomID), EventMessageDeleted, wireDeletion{RoomID: roomID, MessageID: messageID})
}

// RoomCreated fans the new room out to its audience's global channels.
func (p *Publisher) RoomCreated(ctx context.Context, room model.Room) {
	p.fanOut(ctx, room, EventRoomCreated, room)
}

// RoomUpdated fans the updated record out to the room's audience.
func (p *Publisher) RoomUpdated(ctx context.Context, room model.Room) {
	p.fanOut(ctx, room, EventRoomUpdated, room)
}

// RoomDeleted fans the deletion out to the room's audience.
func (p *Publisher) RoomDeleted(ctx context.Context, room model.Room) {
	p.fanOut(ctx, room, EventRoomDeleted, model.Room{ID: room.ID})
}

// RoomsUpdated sends the bulk room list to a single user's global
// channel, used after membership changes where diffs would be awkward.
func (p *Publisher) RoomsUpdated(ctx context.Context, username string, rooms []model.Room) {
	p.emit(ctx, GlobalChannel(username), EventRoomsUpdated, wireRoomList{Rooms: &rooms})
}

// fanOut resolves the audience of a room lifecycle event. Private rooms
// reach only their members; public rooms reach the anonymous public
// channel plus every known user's global channel (the user scan is
// already capped at the repository).
func (p *Publisher) fanOut(ctx context.Context, room model.Room, event string, payload any) {
	if room.Type == model.RoomPrivate {
		for _, member := range room.Members {
			p.emit(ctx, GlobalChannel(member), event, payload)
		}
		return
	}
	p.emit(ctx, PublicGlobalChannel, event, payload)
	if p.users == nil {
		return
	}
	users, err := p.users.List(ctx)
	if err != nil {
		log.Printf("[realtime] audience listing failed: %v", err)
		return
	}
	for _, u := range users {
		p.emit(ctx, GlobalChannel(u.Username), event, payload)
	}
}

// emit marshals and publishes one event. Publish failures are logged,
// not propagated: realtime delivery is best-effort on top of the
// authoritative store, and subscribers reconcile on their next fetch.
func (p *Publisher) emit(ctx context.Context, channel, event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[realtime] marshal %s failed: %v", event, err)
		return
	}
	if err := p.transport.Publish(ctx, channel, event, raw); err != nil {
		log.Printf("[realtime] publish %s to %s failed: %v", event, channel, err)
	}
}
