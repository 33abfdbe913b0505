package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ryokun6/chatsync/internal/model"
)

func newRoomRepo(t *testing.T) (*RoomRepo, *MemoryKV) {
	t.Helper()
	kv := NewMemoryKV()
	return NewRoomRepo(kv, "chat-test"), kv
}

func TestRoomCreateGetDelete(t *testing.T) {
	repo, kv := newRoomRepo(t)
	ctx := context.Background()

	room := model.Room{ID: "r1", Name: "general", Type: model.RoomPublic}
	if err := repo.Create(ctx, room); err != nil {
		t.Fatal(err)
	}
	got, err := repo.Get(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "general" || got.Type != model.RoomPublic {
		t.Fatalf("Get = %+v", got)
	}

	if err := repo.AppendMessage(ctx, model.Message{ID: "m1", RoomID: "r1", Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	if err := repo.AddPresence(ctx, "r1", "alice"); err != nil {
		t.Fatal(err)
	}

	if err := repo.Delete(ctx, "r1"); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Get(ctx, "r1"); err != ErrNotFound {
		t.Fatalf("Get after delete = %v, want ErrNotFound", err)
	}
	if ids, _ := repo.IDs(ctx); len(ids) != 0 {
		t.Fatalf("IDs after delete = %v, want empty", ids)
	}
	if n, _ := kv.LLen(ctx, "chat-test:messages:r1"); n != 0 {
		t.Fatal("message list survived room deletion")
	}
	if ok, _ := kv.Exists(ctx, "chat-test:presence:r1"); ok {
		t.Fatal("presence set survived room deletion")
	}
}

func TestRoomListFillsPresence(t *testing.T) {
	repo, _ := newRoomRepo(t)
	ctx := context.Background()

	if err := repo.Create(ctx, model.Room{ID: "r1", Name: "general", Type: model.RoomPublic}); err != nil {
		t.Fatal(err)
	}
	if err := repo.Create(ctx, model.Room{ID: "r2", Name: "dev", Type: model.RoomPrivate, Members: []string{"alice"}}); err != nil {
		t.Fatal(err)
	}
	for _, u := range []string{"alice", "bob"} {
		if err := repo.AddPresence(ctx, "r1", u); err != nil {
			t.Fatal(err)
		}
	}

	rooms, err := repo.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 2 {
		t.Fatalf("List = %d rooms, want 2", len(rooms))
	}
	byID := map[string]model.Room{}
	for _, r := range rooms {
		byID[r.ID] = r
	}
	if byID["r1"].Users != 2 {
		t.Fatalf("r1 presence = %d, want 2", byID["r1"].Users)
	}
	if byID["r2"].Users != 0 {
		t.Fatalf("r2 presence = %d, want 0", byID["r2"].Users)
	}

	if err := repo.RemovePresence(ctx, "r1", "bob"); err != nil {
		t.Fatal(err)
	}
	rooms, _ = repo.List(ctx)
	for _, r := range rooms {
		if r.ID == "r1" && r.Users != 1 {
			t.Fatalf("r1 presence after leave = %d, want 1", r.Users)
		}
	}
}

func TestMessagesWindowed(t *testing.T) {
	repo, _ := newRoomRepo(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		msg := model.Message{ID: fmt.Sprintf("m%d", i), RoomID: "r1", Timestamp: int64(i)}
		if err := repo.AppendMessage(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}

	got, err := repo.Messages(ctx, "r1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].ID != "m7" || got[2].ID != "m9" {
		t.Fatalf("Messages(limit=3) = %+v, want the newest three in order", got)
	}

	all, err := repo.Messages(ctx, "r1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 10 {
		t.Fatalf("Messages(limit=0) = %d, want 10", len(all))
	}
	if n, _ := repo.MessageCount(ctx, "r1"); n != 10 {
		t.Fatalf("MessageCount = %d, want 10", n)
	}
}

func TestDeleteMessageRemovesStoredEntry(t *testing.T) {
	repo, _ := newRoomRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		msg := model.Message{ID: fmt.Sprintf("m%d", i), RoomID: "r1", Content: "same", Timestamp: int64(i)}
		if err := repo.AppendMessage(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := repo.DeleteMessage(ctx, "r1", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if removed.ID != "m1" {
		t.Fatalf("removed = %+v, want m1", removed)
	}
	got, _ := repo.Messages(ctx, "r1", 0)
	if len(got) != 2 || got[0].ID != "m0" || got[1].ID != "m2" {
		t.Fatalf("after deletion = %+v, want [m0 m2]", got)
	}

	if _, err := repo.DeleteMessage(ctx, "r1", "m1"); err != ErrNotFound {
		t.Fatalf("second delete = %v, want ErrNotFound", err)
	}
	if _, err := repo.DeleteMessage(ctx, "r1", "ghost"); err != ErrNotFound {
		t.Fatalf("delete of unknown id = %v, want ErrNotFound", err)
	}
}

func TestTokenDeleteAllSweepsEverything(t *testing.T) {
	kv := NewMemoryKV()
	repo := NewTokenRepo(kv, "chat-test", 24*time.Hour, 30*time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := repo.StoreActive(ctx, "alice", fmt.Sprintf("tok-%d", i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := repo.StoreActive(ctx, "bob", "tok-b"); err != nil {
		t.Fatal(err)
	}
	if err := repo.RecordRotation(ctx, "alice", "old-tok", time.Now()); err != nil {
		t.Fatal(err)
	}

	n, err := repo.DeleteAll(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Fatalf("DeleteAll removed %d tokens, want 5", n)
	}
	if ok, _ := repo.Exists(ctx, "alice", "tok-0"); ok {
		t.Fatal("active token survived DeleteAll")
	}
	if _, found, _ := repo.LastToken(ctx, "alice"); found {
		t.Fatal("grace record survived DeleteAll")
	}
	if ok, _ := repo.Exists(ctx, "bob", "tok-b"); !ok {
		t.Fatal("DeleteAll crossed user boundary")
	}
}

func TestLastTokenMalformedIsMiss(t *testing.T) {
	kv := NewMemoryKV()
	repo := NewTokenRepo(kv, "chat-test", 24*time.Hour, 30*time.Minute)
	ctx := context.Background()

	if err := kv.Set(ctx, "chat-test:token:last:user:alice", "{not json", 0); err != nil {
		t.Fatal(err)
	}
	if _, found, err := repo.LastToken(ctx, "alice"); err != nil || found {
		t.Fatalf("LastToken(malformed) = found=%v err=%v, want miss without error", found, err)
	}
}
