package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/ryokun6/chatsync/internal/model"
)

// fakeFetcher serves canned registry state and counts fetches so tests
// can assert when the manager fell back to a refetch.
type fakeFetcher struct {
	mu        sync.Mutex
	rooms     []model.Room
	msgs      map[string][]model.Message
	roomCalls int
	msgCalls  int
}

func (f *fakeFetcher) Rooms(ctx context.Context) ([]model.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roomCalls++
	return append([]model.Room(nil), f.rooms...), nil
}

func (f *fakeFetcher) Messages(ctx context.Context, roomID string, limit int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgCalls++
	return append([]model.Message(nil), f.msgs[roomID]...), nil
}

func (f *fakeFetcher) calls() (rooms, msgs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roomCalls, f.msgCalls
}

// notifyRecorder captures notification callbacks.
type notifyRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (n *notifyRecorder) fn(roomID string, msg model.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, roomID+"/"+msg.ID)
}

func (n *notifyRecorder) got() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.calls...)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func publish(t *testing.T, tr Transport, channel, event string, payload []byte) {
	t.Helper()
	if err := tr.Publish(context.Background(), channel, event, payload); err != nil {
		t.Fatal(err)
	}
}

func newTestManager(t *testing.T, rooms ...model.Room) (*Manager, *InProcTransport, *fakeFetcher, *notifyRecorder) {
	t.Helper()
	tr := NewInProcTransport()
	f := &fakeFetcher{rooms: rooms, msgs: make(map[string][]model.Message)}
	rec := &notifyRecorder{}
	m := NewManager(tr, f, rec.fn)
	m.SetIdentity("alice")
	return m, tr, f, rec
}

func TestSetIdentitySubscribesVisibleRooms(t *testing.T) {
	m, tr, _, _ := newTestManager(t,
		model.Room{ID: "r1", Name: "general", Type: model.RoomPublic},
		model.Room{ID: "r2", Name: "dev", Type: model.RoomPublic},
	)

	if got := m.Rooms(); len(got) != 2 {
		t.Fatalf("Rooms() = %d entries, want 2", len(got))
	}

	// Messages on a subscribed room channel must land in the local cache.
	msg := model.Message{ID: "m1", RoomID: "r1", Username: "bob", Content: "hi", Timestamp: 1}
	publish(t, tr, RoomChannel("r1"), EventRoomMessage, mustJSON(t, msg))
	if got := m.Messages("r1"); len(got) != 1 || got[0].ID != "m1" {
		t.Fatalf("Messages(r1) = %+v, want the delivered message", got)
	}
}

func TestRoomMessageDedupe(t *testing.T) {
	m, tr, _, _ := newTestManager(t, model.Room{ID: "r1", Type: model.RoomPublic})

	msg := model.Message{ID: "m1", RoomID: "r1", Username: "bob", Content: "hi", Timestamp: 1}
	payload := mustJSON(t, msg)
	publish(t, tr, RoomChannel("r1"), EventRoomMessage, payload)
	publish(t, tr, RoomChannel("r1"), EventRoomMessage, payload)

	if got := m.Messages("r1"); len(got) != 1 {
		t.Fatalf("duplicate delivery produced %d messages, want 1", len(got))
	}
	if m.Unread("r1") != 1 {
		t.Fatalf("Unread(r1) = %d after duplicate, want 1", m.Unread("r1"))
	}
}

func TestOptimisticMessageReconciled(t *testing.T) {
	m, tr, _, rec := newTestManager(t, model.Room{ID: "r1", Type: model.RoomPublic})

	m.AddLocalMessage(model.Message{ID: "tmp-1", RoomID: "r1", Username: "alice", Content: "hi"})

	echo := model.Message{ID: "srv-1", RoomID: "r1", Username: "alice", Content: "hi", Timestamp: 5, ClientID: "tmp-1"}
	publish(t, tr, RoomChannel("r1"), EventRoomMessage, mustJSON(t, echo))

	got := m.Messages("r1")
	if len(got) != 1 {
		t.Fatalf("echo produced %d messages, want the placeholder replaced in place", len(got))
	}
	if got[0].ID != "srv-1" {
		t.Fatalf("message id = %q, want server-assigned srv-1", got[0].ID)
	}
	if m.Unread("r1") != 0 {
		t.Fatal("own echoed message counted as unread")
	}
	if len(rec.got()) != 0 {
		t.Fatal("own echoed message triggered a notification")
	}
}

func TestUnreadAndNotification(t *testing.T) {
	m, tr, _, rec := newTestManager(t,
		model.Room{ID: "r1", Type: model.RoomPublic},
		model.Room{ID: "r2", Type: model.RoomPublic},
	)
	m.FocusRoom("r1")

	publish(t, tr, RoomChannel("r1"), EventRoomMessage,
		mustJSON(t, model.Message{ID: "m1", RoomID: "r1", Content: "focused", Timestamp: 1}))
	publish(t, tr, RoomChannel("r2"), EventRoomMessage,
		mustJSON(t, model.Message{ID: "m2", RoomID: "r2", Content: "background", Timestamp: 2}))

	if m.Unread("r1") != 0 {
		t.Fatalf("Unread(focused) = %d, want 0", m.Unread("r1"))
	}
	if m.Unread("r2") != 1 {
		t.Fatalf("Unread(background) = %d, want 1", m.Unread("r2"))
	}
	if got := rec.got(); len(got) != 1 || got[0] != "r2/m2" {
		t.Fatalf("notifications = %v, want only r2/m2", got)
	}
}

func TestCustomNotifyPolicySuppresses(t *testing.T) {
	m, tr, _, rec := newTestManager(t, model.Room{ID: "r1", Type: model.RoomPublic})
	m.WithPolicy(func(roomID, focused string) bool { return false })
	m.FocusRoom("other")

	publish(t, tr, RoomChannel("r1"), EventRoomMessage,
		mustJSON(t, model.Message{ID: "m1", RoomID: "r1", Timestamp: 1}))

	if m.Unread("r1") != 1 {
		t.Fatal("policy suppression must not affect unread counting")
	}
	if len(rec.got()) != 0 {
		t.Fatal("suppressed policy still notified")
	}
}

func TestFocusRoomRevealsBacklog(t *testing.T) {
	m, tr, f, _ := newTestManager(t, model.Room{ID: "r1", Type: model.RoomPublic})
	m.FocusRoom("other")

	publish(t, tr, RoomChannel("r1"), EventRoomMessage,
		mustJSON(t, model.Message{ID: "m1", RoomID: "r1", Timestamp: 1}))
	if m.Unread("r1") != 1 {
		t.Fatal("setup: expected one unread message")
	}

	f.mu.Lock()
	f.msgs["r1"] = []model.Message{
		{ID: "m0", RoomID: "r1", Timestamp: 0},
		{ID: "m1", RoomID: "r1", Timestamp: 1},
	}
	f.mu.Unlock()

	m.FocusRoom("r1")
	if m.Unread("r1") != 0 {
		t.Fatal("focus did not clear unread")
	}
	if got := m.Messages("r1"); len(got) != 2 {
		t.Fatalf("backlog fetch produced %d messages, want 2", len(got))
	}

	// Focusing again with nothing unread must not refetch.
	_, msgCalls := f.calls()
	m.FocusRoom("r1")
	if _, after := f.calls(); after != msgCalls {
		t.Fatal("focus without unread triggered a backlog fetch")
	}
}

func TestMessageDeletedIdempotent(t *testing.T) {
	m, tr, _, _ := newTestManager(t, model.Room{ID: "r1", Type: model.RoomPublic})

	publish(t, tr, RoomChannel("r1"), EventRoomMessage,
		mustJSON(t, model.Message{ID: "m1", RoomID: "r1", Timestamp: 1}))
	publish(t, tr, RoomChannel("r1"), EventRoomMessage,
		mustJSON(t, model.Message{ID: "m2", RoomID: "r1", Timestamp: 2}))

	del := mustJSON(t, map[string]string{"roomId": "r1", "messageId": "m1"})
	publish(t, tr, RoomChannel("r1"), EventMessageDeleted, del)
	if got := m.Messages("r1"); len(got) != 1 || got[0].ID != "m2" {
		t.Fatalf("after deletion Messages = %+v, want only m2", got)
	}

	// Redelivery of the same tombstone is a no-op.
	publish(t, tr, RoomChannel("r1"), EventMessageDeleted, del)
	if got := m.Messages("r1"); len(got) != 1 {
		t.Fatalf("redelivered deletion changed state: %+v", got)
	}
}

func TestMalformedMessageFallsBackToRefetch(t *testing.T) {
	m, tr, f, _ := newTestManager(t, model.Room{ID: "r1", Type: model.RoomPublic})
	f.mu.Lock()
	f.msgs["r1"] = []model.Message{{ID: "m1", RoomID: "r1", Timestamp: 1}}
	f.mu.Unlock()

	// No id: cannot be deduplicated, so the backlog is reloaded instead.
	publish(t, tr, RoomChannel("r1"), EventRoomMessage, []byte(`{"content":"no id"}`))

	if got := m.Messages("r1"); len(got) != 1 || got[0].ID != "m1" {
		t.Fatalf("after malformed payload Messages = %+v, want refetched backlog", got)
	}
}

func TestRoomLifecycleDiffs(t *testing.T) {
	m, tr, f, _ := newTestManager(t, model.Room{ID: "r1", Name: "general", Type: model.RoomPublic})
	global := GlobalChannel("alice")

	// Created: appears in the list and its channel starts delivering.
	publish(t, tr, global, EventRoomCreated,
		mustJSON(t, model.Room{ID: "r2", Name: "dev", Type: model.RoomPublic}))
	if got := m.Rooms(); len(got) != 2 {
		t.Fatalf("after room-created Rooms = %d entries, want 2", len(got))
	}
	publish(t, tr, RoomChannel("r2"), EventRoomMessage,
		mustJSON(t, model.Message{ID: "m1", RoomID: "r2", Timestamp: 1}))
	if got := m.Messages("r2"); len(got) != 1 {
		t.Fatal("new room's channel not subscribed")
	}

	// Updated: renamed in place.
	publish(t, tr, global, EventRoomUpdated,
		mustJSON(t, model.Room{ID: "r2", Name: "dev-renamed", Type: model.RoomPublic}))
	for _, r := range m.Rooms() {
		if r.ID == "r2" && r.Name != "dev-renamed" {
			t.Fatalf("room-updated not applied: %+v", r)
		}
	}

	// Deleted: removed, caches dropped, channel silenced.
	publish(t, tr, global, EventRoomDeleted, mustJSON(t, model.Room{ID: "r2"}))
	if got := m.Rooms(); len(got) != 1 || got[0].ID != "r1" {
		t.Fatalf("after room-deleted Rooms = %+v, want only r1", got)
	}
	publish(t, tr, RoomChannel("r2"), EventRoomMessage,
		mustJSON(t, model.Message{ID: "m2", RoomID: "r2", Timestamp: 2}))
	if got := m.Messages("r2"); len(got) != 0 {
		t.Fatalf("deleted room still receiving: %+v", got)
	}

	// Malformed lifecycle payload falls back to a full refetch.
	roomCalls, _ := f.calls()
	publish(t, tr, global, EventRoomCreated, []byte(`{"name":"no id"}`))
	if after, _ := f.calls(); after != roomCalls+1 {
		t.Fatal("malformed room payload did not trigger a refetch")
	}
}

func TestRoomsUpdatedBulkReplace(t *testing.T) {
	m, tr, f, _ := newTestManager(t,
		model.Room{ID: "r1", Type: model.RoomPublic},
		model.Room{ID: "r2", Type: model.RoomPublic},
	)
	global := GlobalChannel("alice")

	publish(t, tr, global, EventRoomsUpdated,
		mustJSON(t, map[string]any{"rooms": []model.Room{{ID: "r3", Type: model.RoomPublic}}}))
	if got := m.Rooms(); len(got) != 1 || got[0].ID != "r3" {
		t.Fatalf("bulk replace Rooms = %+v, want only r3", got)
	}

	// A present-but-empty array is a valid replace, not a refetch.
	roomCalls, _ := f.calls()
	publish(t, tr, global, EventRoomsUpdated, []byte(`{"rooms":[]}`))
	if got := m.Rooms(); len(got) != 0 {
		t.Fatalf("empty bulk replace Rooms = %+v, want none", got)
	}
	if after, _ := f.calls(); after != roomCalls {
		t.Fatal("empty rooms array treated as malformed")
	}

	// A missing array is malformed and refetches instead.
	publish(t, tr, global, EventRoomsUpdated, []byte(`{}`))
	if after, _ := f.calls(); after != roomCalls+1 {
		t.Fatal("missing rooms array did not trigger a refetch")
	}
}

func TestSetIdentitySwitchSilencesOldChannel(t *testing.T) {
	m, tr, f, _ := newTestManager(t, model.Room{ID: "r1", Type: model.RoomPublic})

	f.mu.Lock()
	f.rooms = []model.Room{{ID: "r9", Type: model.RoomPublic}}
	f.mu.Unlock()
	m.SetIdentity("bob")

	if got := m.Rooms(); len(got) != 1 || got[0].ID != "r9" {
		t.Fatalf("after identity switch Rooms = %+v, want r9", got)
	}

	// Lifecycle events on alice's old global channel must be ignored.
	publish(t, tr, GlobalChannel("alice"), EventRoomCreated,
		mustJSON(t, model.Room{ID: "r2", Type: model.RoomPublic}))
	if got := m.Rooms(); len(got) != 1 {
		t.Fatalf("old identity channel still bound: %+v", got)
	}

	// Re-setting the same identity is a no-op, not a resubscribe.
	roomCalls, _ := f.calls()
	m.SetIdentity("bob")
	if after, _ := f.calls(); after != roomCalls {
		t.Fatal("repeated SetIdentity with same identity refetched")
	}
}

func TestTeardownLeavesTransportUsable(t *testing.T) {
	m, tr, _, _ := newTestManager(t, model.Room{ID: "r1", Type: model.RoomPublic})

	publish(t, tr, RoomChannel("r1"), EventRoomMessage,
		mustJSON(t, model.Message{ID: "m1", RoomID: "r1", Timestamp: 1}))
	m.Teardown()

	if got := m.Rooms(); len(got) != 0 {
		t.Fatalf("after teardown Rooms = %+v, want none", got)
	}
	if got := m.Messages("r1"); len(got) != 0 {
		t.Fatalf("after teardown Messages = %+v, want none", got)
	}

	// Events after teardown are ignored.
	publish(t, tr, RoomChannel("r1"), EventRoomMessage,
		mustJSON(t, model.Message{ID: "m2", RoomID: "r1", Timestamp: 2}))
	if got := m.Messages("r1"); len(got) != 0 {
		t.Fatal("torn-down manager still receiving")
	}

	// The transport stays open: a fresh mount works on the same instance.
	m.SetIdentity("alice")
	publish(t, tr, RoomChannel("r1"), EventRoomMessage,
		mustJSON(t, model.Message{ID: "m3", RoomID: "r1", Timestamp: 3}))
	if got := m.Messages("r1"); len(got) != 1 || got[0].ID != "m3" {
		t.Fatalf("remount after teardown broken: %+v", got)
	}
}
