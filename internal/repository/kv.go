package repository

import (
	"context"
	"time"
)

// Cursor tracks the progress of a keyspace scan. The zero value starts a
// new scan; Done reports that the previous page was the last one. Keeping
// the exhausted flag explicit (rather than overloading a sentinel cursor
// value) lets callers distinguish "more data" from "finished" from
// "invalid", with the page cap in callers acting as a safety valve only.
type Cursor struct {
	pos  uint64
	done bool
}

// ZeroCursor starts a scan from the beginning of the keyspace.
var ZeroCursor = Cursor{}

// Done reports whether the scan has visited the whole keyspace.
func (c Cursor) Done() bool { return c.done }

// KV is the store contract every persisted artifact of the service is
// defined over: TTL-backed token keys, JSON user and room records, the
// room id set and per-room message lists. Implementations must provide
// atomic IncrWindow for the rate limiter; everything else is plain
// key/value, set and list access.
//
// Get returns ErrNotFound for missing keys. MGet returns a nil entry for
// each missing key so results stay aligned with the requested keys.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Scan(ctx context.Context, cur Cursor, pattern string, count int64) (Cursor, []string, error)
	MGet(ctx context.Context, keys ...string) ([]*string, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	RPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LLen(ctx context.Context, key string) (int64, error)
	LRem(ctx context.Context, key string, count int64, value string) error

	// IncrWindow atomically increments a counter and, when the counter is
	// created by this call, sets its TTL to window. The returned value is
	// the counter after the increment.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}
