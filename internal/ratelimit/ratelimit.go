// Package ratelimit bounds write-heavy and privileged operations with a
// fixed-window counter kept in the key/value store. Fixed windows admit
// up to twice the nominal limit across a window boundary (N requests at
// the end of one window and N more at the start of the next); that
// tradeoff is accepted here in exchange for a single atomic
// increment-and-expire per check and no per-key state beyond the counter.
package ratelimit

import (
	"context"
	"time"

	"github.com/ryokun6/chatsync/internal/repository"
)

// Result carries the decision plus enough structure for the caller to
// surface retry guidance: the configured limit and the seconds remaining
// until the window resets.
type Result struct {
	Allowed      bool `json:"allowed"`
	Limit        int  `json:"limit"`
	ResetSeconds int  `json:"resetSeconds"`
}

// Limiter checks counters keyed by operation class plus identity.
type Limiter struct {
	kv   repository.KV
	keys repository.Keyspace
}

func NewLimiter(kv repository.KV, keys repository.Keyspace) *Limiter {
	return &Limiter{kv: kv, keys: keys}
}

// Check atomically increments the counter for (class, identity) in the
// current window, creating it with a TTL of window on first hit, and
// compares the post-increment count against limit. Exactly limit calls
// per window are allowed; the next one is rejected with the remaining
// window time.
func (l *Limiter) Check(ctx context.Context, class, identity string, window time.Duration, limit int) (Result, error) {
	key := l.keys.RateLimit(class, identity)
	n, err := l.kv.IncrWindow(ctx, key, window)
	if err != nil {
		return Result{}, err
	}
	if n <= int64(limit) {
		return Result{Allowed: true, Limit: limit}, nil
	}
	reset := int(window / time.Second)
	if ttl, err := l.kv.TTL(ctx, key); err == nil && ttl > 0 {
		reset = int((ttl + time.Second - 1) / time.Second)
	}
	if reset < 1 {
		reset = 1
	}
	return Result{Allowed: false, Limit: limit, ResetSeconds: reset}, nil
}
