package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ryokun6/chatsync/internal/model"
)

// maxScanPages bounds every keyspace scan so a misbehaving cursor can
// never spin the operation forever.
const maxScanPages = 100

// scanPageSize is the per-page hint passed to SCAN.
const scanPageSize = 100

// TokenRepo manages session tokens: a single TTL-backed active token per
// user plus the "last token" grace record written on rotation.
type TokenRepo struct {
	kv         KV
	keys       Keyspace
	sessionTTL time.Duration
	grace      time.Duration
}

func NewTokenRepo(kv KV, keys Keyspace, sessionTTL, grace time.Duration) *TokenRepo {
	return &TokenRepo{kv: kv, keys: keys, sessionTTL: sessionTTL, grace: grace}
}

// StoreActive writes the active-token key with the full session lifetime.
func (r *TokenRepo) StoreActive(ctx context.Context, username, token string) error {
	return r.kv.Set(ctx, r.keys.UserToken(username, token), "1", r.sessionTTL)
}

// Refresh slides the token's expiry back out to the full session
// lifetime. It reports whether the token existed, so it doubles as the
// primary validation lookup in a single store round trip.
func (r *TokenRepo) Refresh(ctx context.Context, username, token string) (bool, error) {
	return r.kv.Expire(ctx, r.keys.UserToken(username, token), r.sessionTTL)
}

// Exists checks the token without touching its TTL, for call sites that
// must not extend a session as a side effect of a read.
func (r *TokenRepo) Exists(ctx context.Context, username, token string) (bool, error) {
	return r.kv.Exists(ctx, r.keys.UserToken(username, token))
}

// RecordRotation stores the superseded token as the user's last-token
// grace record, stamped with the rotation time. The record's own TTL
// matches the grace period, so the store garbage-collects it; the
// validator still applies the time comparison explicitly.
func (r *TokenRepo) RecordRotation(ctx context.Context, username, prevToken string, at time.Time) error {
	rec := model.LastToken{Token: prevToken, ExpiredAt: at.UnixMilli()}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.kv.Set(ctx, r.keys.LastToken(username), string(raw), r.grace)
}

// LastToken loads the grace record. A missing or malformed record is a
// miss (ok=false), never an error: the validator fails closed on it.
func (r *TokenRepo) LastToken(ctx context.Context, username string) (model.LastToken, bool, error) {
	raw, err := r.kv.Get(ctx, r.keys.LastToken(username))
	if err == ErrNotFound {
		return model.LastToken{}, false, nil
	}
	if err != nil {
		return model.LastToken{}, false, err
	}
	var rec model.LastToken
	if json.Unmarshal([]byte(raw), &rec) != nil || rec.Token == "" {
		return model.LastToken{}, false, nil
	}
	return rec, true, nil
}

// Delete removes one active token.
func (r *TokenRepo) Delete(ctx context.Context, username, token string) error {
	return r.kv.Del(ctx, r.keys.UserToken(username, token))
}

// DeleteAll removes every active token of the user (forced logout on all
// devices) along with the grace record, so no superseded token survives
// a ban or account deletion.
func (r *TokenRepo) DeleteAll(ctx context.Context, username string) (int, error) {
	deleted := 0
	cur := ZeroCursor
	for page := 0; page < maxScanPages && !cur.Done(); page++ {
		next, keys, err := r.kv.Scan(ctx, cur, r.keys.UserTokenPattern(username), scanPageSize)
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			if err := r.kv.Del(ctx, keys...); err != nil {
				return deleted, err
			}
			deleted += len(keys)
		}
		cur = next
	}
	if err := r.kv.Del(ctx, r.keys.LastToken(username)); err != nil {
		return deleted, err
	}
	return deleted, nil
}
