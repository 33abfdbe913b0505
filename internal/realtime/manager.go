package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/ryokun6/chatsync/internal/model"
)

// Fetcher loads authoritative state from the registry when an event
// cannot be applied as a local diff or when a backlog must be revealed.
// Implementations must honor context cancellation: the manager aborts
// stale in-flight fetches when the identity or subscription set changes.
type Fetcher interface {
	Rooms(ctx context.Context) ([]model.Room, error)
	Messages(ctx context.Context, roomID string, limit int) ([]model.Message, error)
}

// NotifyFunc surfaces a user-visible notification for a message that
// arrived in an unfocused room.
type NotifyFunc func(roomID string, msg model.Message)

// NotifyPolicy decides whether a message in roomID should notify given
// the currently focused room. The default suppresses notification only
// when the target room is already focused.
type NotifyPolicy func(roomID, focused string) bool

// Manager owns the client's channel subscriptions: one global channel
// derived from the identity plus one channel per visible room. It
// reconciles delivered events into local state (dedupe by server id,
// lifecycle diffs with a full-refetch fallback for malformed payloads)
// and tracks unread counts for rooms that are visible but not focused.
//
// All state is confined to the Manager and guarded by one mutex;
// handlers for a single channel run in delivery order, handlers for
// different channels may interleave.
type Manager struct {
	transport Transport
	fetcher   Fetcher
	notify    NotifyFunc
	policy    NotifyPolicy

	// backlogLimit bounds the bulk fetch on focus switch.
	backlogLimit int

	mu        sync.Mutex
	identity  string
	global    Channel
	roomChans map[string]Channel
	rooms     []model.Room
	messages  map[string][]model.Message
	unread    map[string]int
	focused   string

	// gen invalidates in-flight fetches; ctx aborts them.
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc

	now func() time.Time
}

// NewManager constructs a manager around an open transport. The shared
// transport is never closed by the manager: teardown only unbinds and
// unsubscribes, so repeated mount/unmount cycles do not thrash the
// connection.
func NewManager(t Transport, f Fetcher, notify NotifyFunc) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		transport:    t,
		fetcher:      f,
		notify:       notify,
		policy:       func(roomID, focused string) bool { return roomID != focused },
		backlogLimit: 100,
		roomChans:    make(map[string]Channel),
		messages:     make(map[string][]model.Message),
		unread:       make(map[string]int),
		ctx:          ctx,
		cancel:       cancel,
		now:          time.Now,
	}
}

// WithPolicy replaces the notification policy.
func (m *Manager) WithPolicy(p NotifyPolicy) *Manager {
	m.policy = p
	return m
}

// WithClock overrides the manager's time source.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// SetIdentity switches the global channel to the new identity. The old
// channel is fully unbound before unsubscribing so no handler leaks, and
// any in-flight fetch for the previous identity is aborted before the
// room list is refetched for the new one.
func (m *Manager) SetIdentity(username string) {
	m.mu.Lock()
	name := GlobalChannel(username)
	if m.global != nil && m.global.Name() == name {
		m.mu.Unlock()
		return
	}
	m.abortFetchesLocked()
	if m.global != nil {
		m.global.UnbindAll()
		m.transport.Unsubscribe(m.global.Name())
		m.global = nil
	}
	m.identity = username

	ch, err := m.transport.Subscribe(name)
	if err != nil {
		log.Printf("[realtime] subscribe global %s failed: %v", name, err)
		m.mu.Unlock()
		return
	}
	ch.Bind(EventRoomCreated, m.handleRoomUpsert)
	ch.Bind(EventRoomUpdated, m.handleRoomUpsert)
	ch.Bind(EventRoomDeleted, m.handleRoomDeleted)
	ch.Bind(EventRoomsUpdated, m.handleRoomsUpdated)
	m.global = ch
	m.mu.Unlock()

	m.refetchRooms()
}

// SetVisibleRooms reconciles the per-room subscription set against the
// rooms the client can currently see. All visible rooms stay subscribed,
// not just the focused one, so off-screen notifications keep flowing.
func (m *Manager) SetVisibleRooms(rooms []model.Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconcileLocked(rooms)
}

// reconcileLocked replaces the room list and diffs the subscription set:
// newly visible rooms are subscribed and bound, rooms no longer visible
// are unbound, unsubscribed and have their local caches dropped.
func (m *Manager) reconcileLocked(rooms []model.Room) {
	m.rooms = append([]model.Room(nil), rooms...)

	want := make(map[string]struct{}, len(rooms))
	for _, r := range rooms {
		want[r.ID] = struct{}{}
	}
	for id, ch := range m.roomChans {
		if _, ok := want[id]; ok {
			continue
		}
		ch.UnbindAll()
		m.transport.Unsubscribe(ch.Name())
		delete(m.roomChans, id)
		delete(m.messages, id)
		delete(m.unread, id)
	}
	for id := range want {
		if _, ok := m.roomChans[id]; ok {
			continue
		}
		ch, err := m.transport.Subscribe(RoomChannel(id))
		if err != nil {
			log.Printf("[realtime] subscribe room %s failed: %v", id, err)
			continue
		}
		roomID := id
		ch.Bind(EventRoomMessage, func(p []byte) { m.handleRoomMessage(roomID, p) })
		ch.Bind(EventMessageDeleted, func(p []byte) { m.handleMessageDeleted(roomID, p) })
		m.roomChans[id] = ch
	}
}

// FocusRoom marks the room as active for notification suppression.
// Switching focus never unsubscribes, but a room that had unread
// messages gets a bulk backlog fetch so the view can reveal them.
func (m *Manager) FocusRoom(roomID string) {
	m.mu.Lock()
	m.focused = roomID
	hadUnread := m.unread[roomID] > 0
	m.unread[roomID] = 0
	ctx, gen := m.ctx, m.gen
	m.mu.Unlock()

	if !hadUnread || roomID == "" {
		return
	}
	msgs, err := m.fetcher.Messages(ctx, roomID, m.backlogLimit)
	if err != nil {
		log.Printf("[realtime] backlog fetch for %s failed: %v", roomID, err)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || ctx.Err() != nil {
		return
	}
	if _, ok := m.roomChans[roomID]; ok {
		m.messages[roomID] = msgs
	}
}

// AddLocalMessage inserts an optimistic local message before the server
// echo arrives. Its ID should be the client-generated temporary id (the
// same value sent as clientId); the echo replaces it by ClientID match
// instead of content matching.
func (m *Manager) AddLocalMessage(msg model.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.messages[msg.RoomID] {
		if existing.ID == msg.ID {
			return
		}
	}
	m.messages[msg.RoomID] = append(m.messages[msg.RoomID], msg)
}

// handleRoomMessage applies one delivered message: normalize, reconcile
// any optimistic placeholder, dedupe by id, then append. Unfocused rooms
// get an unread increment and, policy permitting, a notification.
func (m *Manager) handleRoomMessage(chRoomID string, payload []byte) {
	msg, ok := decodeMessage(payload, m.now())
	if !ok {
		// No id to dedupe on; fall back to refetching the room backlog.
		m.refetchMessages(chRoomID)
		return
	}
	if msg.RoomID == "" {
		msg.RoomID = chRoomID
	}

	m.mu.Lock()
	list := m.messages[msg.RoomID]
	if msg.ClientID != "" {
		for i, existing := range list {
			if existing.ID == msg.ClientID {
				// Server confirmation of an optimistic insert: adopt the
				// server-assigned id in place, no unread or notification.
				list[i] = msg
				m.mu.Unlock()
				return
			}
		}
	}
	for _, existing := range list {
		if existing.ID == msg.ID {
			m.mu.Unlock()
			return // duplicate delivery
		}
	}
	m.messages[msg.RoomID] = append(list, msg)

	notify := false
	if msg.RoomID != m.focused {
		m.unread[msg.RoomID]++
		notify = m.notify != nil && m.policy(msg.RoomID, m.focused)
	}
	m.mu.Unlock()

	if notify {
		m.notify(msg.RoomID, msg)
	}
}

// handleMessageDeleted removes the message by id; already-absent ids are
// a no-op so redelivered deletions stay idempotent.
func (m *Manager) handleMessageDeleted(chRoomID string, payload []byte) {
	var w wireDeletion
	if err := json.Unmarshal(payload, &w); err != nil || w.MessageID == "" {
		m.refetchMessages(chRoomID)
		return
	}
	roomID := w.RoomID
	if roomID == "" {
		roomID = chRoomID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.messages[roomID]
	for i, existing := range list {
		if existing.ID == w.MessageID {
			m.messages[roomID] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// handleRoomUpsert applies room-created and room-updated as an
// upsert-by-id diff; a payload without an id falls back to a full
// refetch.
func (m *Manager) handleRoomUpsert(payload []byte) {
	var room model.Room
	if err := json.Unmarshal(payload, &room); err != nil || room.ID == "" {
		m.refetchRooms()
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.rooms {
		if existing.ID == room.ID {
			m.rooms[i] = room
			return
		}
	}
	m.reconcileLocked(append(m.rooms, room))
}

// handleRoomDeleted removes the room by id, tearing down its channel and
// caches; a payload without an id falls back to a full refetch.
func (m *Manager) handleRoomDeleted(payload []byte) {
	var room model.Room
	if err := json.Unmarshal(payload, &room); err != nil || room.ID == "" {
		m.refetchRooms()
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.rooms[:0:0]
	for _, existing := range m.rooms {
		if existing.ID != room.ID {
			next = append(next, existing)
		}
	}
	m.reconcileLocked(next)
}

// handleRoomsUpdated replaces the whole room list from the bulk event;
// a payload without a rooms array falls back to a full refetch.
func (m *Manager) handleRoomsUpdated(payload []byte) {
	var w wireRoomList
	if err := json.Unmarshal(payload, &w); err != nil || w.Rooms == nil {
		m.refetchRooms()
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconcileLocked(*w.Rooms)
}

// refetchRooms reloads the authoritative room list and reconciles
// subscriptions against it. Superseded fetches (identity change,
// teardown) are discarded via the generation counter.
func (m *Manager) refetchRooms() {
	m.mu.Lock()
	ctx, gen := m.ctx, m.gen
	m.mu.Unlock()

	rooms, err := m.fetcher.Rooms(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[realtime] room refetch failed: %v", err)
		}
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || ctx.Err() != nil {
		return
	}
	m.reconcileLocked(rooms)
}

// refetchMessages reloads one room's backlog, the safety net for
// payloads that cannot be applied as a diff.
func (m *Manager) refetchMessages(roomID string) {
	m.mu.Lock()
	ctx, gen := m.ctx, m.gen
	m.mu.Unlock()

	msgs, err := m.fetcher.Messages(ctx, roomID, m.backlogLimit)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[realtime] message refetch for %s failed: %v", roomID, err)
		}
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || ctx.Err() != nil {
		return
	}
	if _, ok := m.roomChans[roomID]; ok {
		m.messages[roomID] = msgs
	}
}

// abortFetchesLocked cancels in-flight fetches and starts a new fetch
// generation. Callers hold mu.
func (m *Manager) abortFetchesLocked() {
	m.cancel()
	m.gen++
	m.ctx, m.cancel = context.WithCancel(context.Background())
}

// Teardown unbinds and unsubscribes every channel and aborts in-flight
// fetches. The shared transport connection stays open deliberately:
// remounting must not thrash it.
func (m *Manager) Teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abortFetchesLocked()
	for id, ch := range m.roomChans {
		ch.UnbindAll()
		m.transport.Unsubscribe(ch.Name())
		delete(m.roomChans, id)
	}
	if m.global != nil {
		m.global.UnbindAll()
		m.transport.Unsubscribe(m.global.Name())
		m.global = nil
	}
	m.rooms = nil
	m.messages = make(map[string][]model.Message)
	m.unread = make(map[string]int)
	m.identity = ""
	m.focused = ""
}

// Rooms returns a copy of the local room list.
func (m *Manager) Rooms() []model.Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Room(nil), m.rooms...)
}

// Messages returns a copy of the local message list for a room.
func (m *Manager) Messages(roomID string) []model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Message(nil), m.messages[roomID]...)
}

// Unread returns the unread count for a room.
func (m *Manager) Unread(roomID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unread[roomID]
}

// Focused returns the currently focused room id.
func (m *Manager) Focused() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.focused
}
