package auth

import (
	"context"
	"testing"
	"time"

	"github.com/ryokun6/chatsync/internal/repository"
)

const (
	testSessionTTL = 24 * time.Hour
	testGrace      = 30 * time.Minute
)

// countingKV wraps a KV and counts calls, so tests can assert that
// certain inputs are rejected without the store being consulted.
type countingKV struct {
	repository.KV
	calls int
}

func (c *countingKV) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	c.calls++
	return c.KV.Expire(ctx, key, ttl)
}

func (c *countingKV) Get(ctx context.Context, key string) (string, error) {
	c.calls++
	return c.KV.Get(ctx, key)
}

func (c *countingKV) Exists(ctx context.Context, key string) (bool, error) {
	c.calls++
	return c.KV.Exists(ctx, key)
}

func newTestValidator(t *testing.T) (*Validator, *repository.TokenRepo, *countingKV, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mem := repository.NewMemoryKV()
	mem.Now = func() time.Time { return now }
	kv := &countingKV{KV: mem}
	tokens := repository.NewTokenRepo(kv, "chat-test", testSessionTTL, testGrace)
	v := NewValidator(tokens, "admin", testGrace).WithClock(func() time.Time { return now })
	return v, tokens, kv, &now
}

func TestValidateMissingInputFailsClosed(t *testing.T) {
	v, _, kv, _ := newTestValidator(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		identity string
		token    string
	}{
		{"no identity", "", "tok"},
		{"no token", "alice", ""},
		{"neither", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := v.Validate(ctx, tc.identity, tc.token, Options{AllowExpired: true})
			if res.Valid {
				t.Fatalf("Validate(%q, %q) = valid, want invalid", tc.identity, tc.token)
			}
		})
	}
	if kv.calls != 0 {
		t.Fatalf("store consulted %d times for empty input, want 0", kv.calls)
	}
}

func TestValidateActiveTokenSlidesTTL(t *testing.T) {
	v, tokens, kv, now := newTestValidator(t)
	ctx := context.Background()

	if err := tokens.StoreActive(ctx, "alice", "tok-1"); err != nil {
		t.Fatal(err)
	}

	// Step most of the way to expiry, then validate. The hit should push
	// the deadline back out to the full session lifetime.
	*now = now.Add(testSessionTTL - time.Hour)
	res := v.Validate(ctx, "alice", "tok-1", Options{})
	if !res.Valid || res.Expired {
		t.Fatalf("Validate = %+v, want valid fresh", res)
	}

	ttl, err := kv.KV.TTL(ctx, "chat-test:token:user:alice:tok-1")
	if err != nil {
		t.Fatal(err)
	}
	if ttl != testSessionTTL {
		t.Fatalf("TTL after validation = %v, want %v", ttl, testSessionTTL)
	}
}

func TestValidateIdentityCaseInsensitive(t *testing.T) {
	v, tokens, _, _ := newTestValidator(t)
	ctx := context.Background()

	if err := tokens.StoreActive(ctx, "alice", "tok-1"); err != nil {
		t.Fatal(err)
	}
	if res := v.Validate(ctx, "ALicE", "tok-1", Options{}); !res.Valid {
		t.Fatal("mixed-case identity rejected, want accepted")
	}
}

func TestValidateUnknownToken(t *testing.T) {
	v, tokens, _, _ := newTestValidator(t)
	ctx := context.Background()

	if err := tokens.StoreActive(ctx, "alice", "tok-1"); err != nil {
		t.Fatal(err)
	}
	if res := v.Validate(ctx, "alice", "tok-2", Options{AllowExpired: true}); res.Valid {
		t.Fatal("unknown token accepted, want rejected")
	}
}

func TestValidateGraceWindow(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name         string
		age          time.Duration // time since rotation when validated
		allowExpired bool
		wantValid    bool
	}{
		{"inside window", testGrace - time.Second, true, true},
		{"one ms before boundary", testGrace - time.Millisecond, true, true},
		{"exactly at boundary", testGrace, true, false},
		{"past window", testGrace + time.Minute, true, false},
		{"inside window, opt-out", time.Second, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, tokens, _, now := newTestValidator(t)
			rotated := *now
			if err := tokens.RecordRotation(ctx, "alice", "old-tok", rotated); err != nil {
				t.Fatal(err)
			}
			// The grace record's own TTL would also purge it; keep the
			// store clock at rotation time and move only the validator's
			// clock, so the explicit time comparison is what decides.
			v.WithClock(func() time.Time { return rotated.Add(tc.age) })

			res := v.Validate(ctx, "alice", "old-tok", Options{AllowExpired: tc.allowExpired})
			if res.Valid != tc.wantValid {
				t.Fatalf("Validate at +%v = %+v, want valid=%v", tc.age, res, tc.wantValid)
			}
			if res.Valid && !res.Expired {
				t.Fatal("grace acceptance not flagged Expired")
			}
		})
	}
}

func TestValidateGraceRequiresExactToken(t *testing.T) {
	v, tokens, _, now := newTestValidator(t)
	ctx := context.Background()

	if err := tokens.RecordRotation(ctx, "alice", "old-tok", *now); err != nil {
		t.Fatal(err)
	}
	if res := v.Validate(ctx, "alice", "other-tok", Options{AllowExpired: true}); res.Valid {
		t.Fatal("mismatched grace token accepted, want rejected")
	}
}

func TestIsAdmin(t *testing.T) {
	v, tokens, _, _ := newTestValidator(t)
	ctx := context.Background()

	if err := tokens.StoreActive(ctx, "admin", "admin-tok"); err != nil {
		t.Fatal(err)
	}
	if err := tokens.StoreActive(ctx, "alice", "alice-tok"); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name     string
		identity string
		token    string
		want     bool
	}{
		{"admin with valid token", "admin", "admin-tok", true},
		{"admin mixed case", "ADMIN", "admin-tok", true},
		{"admin with wrong token", "admin", "nope", false},
		{"regular user", "alice", "alice-tok", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := v.IsAdmin(ctx, tc.identity, tc.token); got != tc.want {
				t.Fatalf("IsAdmin(%q) = %v, want %v", tc.identity, got, tc.want)
			}
		})
	}
}

func TestIsAdminAcceptsGraceToken(t *testing.T) {
	v, tokens, _, now := newTestValidator(t)
	ctx := context.Background()

	if err := tokens.RecordRotation(ctx, "admin", "old-tok", *now); err != nil {
		t.Fatal(err)
	}
	if !v.IsAdmin(ctx, "admin", "old-tok") {
		t.Fatal("admin grace token rejected, want accepted")
	}
}

func TestExistsDoesNotSlideTTL(t *testing.T) {
	v, tokens, kv, now := newTestValidator(t)
	ctx := context.Background()

	if err := tokens.StoreActive(ctx, "alice", "tok-1"); err != nil {
		t.Fatal(err)
	}
	*now = now.Add(time.Hour)

	if !v.Exists(ctx, "alice", "tok-1") {
		t.Fatal("Exists = false for active token")
	}
	ttl, err := kv.KV.TTL(ctx, "chat-test:token:user:alice:tok-1")
	if err != nil {
		t.Fatal(err)
	}
	if want := testSessionTTL - time.Hour; ttl != want {
		t.Fatalf("TTL after Exists = %v, want untouched %v", ttl, want)
	}
}
