// Package realtime implements the publish/subscribe layer that keeps a
// client's local view of rooms and messages consistent with the backing
// store: a transport contract with AMQP and in-process implementations,
// the server-side event publisher, a websocket gateway for browser
// subscribers, and the client-side channel manager that reconciles
// delivered events into local state.
package realtime

import "context"

// Event names carried over channels. Room lifecycle events travel on
// global channels; message events travel on per-room channels.
const (
	EventRoomCreated    = "room-created"
	EventRoomUpdated    = "room-updated"
	EventRoomDeleted    = "room-deleted"
	EventRoomsUpdated   = "rooms-updated"
	EventRoomMessage    = "room-message"
	EventMessageDeleted = "message-deleted"
)

// Handler processes one delivered payload for a bound event.
type Handler func(payload []byte)

// EventHandler receives every event delivered on a channel.
type EventHandler func(event string, payload []byte)

// Channel is one named pub/sub topic. Handlers bound to the same channel
// are invoked in delivery order; the transport may redeliver, so
// consumers must stay correct under duplicates.
type Channel interface {
	Name() string
	Bind(event string, h Handler)
	// Unbind removes every handler bound to event.
	Unbind(event string)
	UnbindAll()
	// BindAll registers a catch-all handler for every event on the
	// channel, used by fan-out consumers such as the gateway.
	BindAll(h EventHandler)
}

// Transport opens and maintains the underlying connection. Subscribe is
// idempotent: asking for an already-subscribed channel returns the same
// Channel so re-subscription after a reconnect is safe.
type Transport interface {
	Subscribe(name string) (Channel, error)
	Unsubscribe(name string)
	Publish(ctx context.Context, channel, event string, payload []byte) error
	Close() error
}
