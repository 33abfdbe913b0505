// Package auth implements session-token validation with sliding
// expiration and a bounded grace window for rotated tokens, plus the
// password hashing and token generation helpers the auth endpoints use.
//
// Token rotation is client-driven and asynchronous: a client that has
// just rotated its token can still have in-flight requests carrying the
// old one. The grace path keeps those requests from failing with
// spurious 401s while bounding how long a rotated-out token is honored.
package auth

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/ryokun6/chatsync/internal/repository"
)

// Result reports the outcome of a validation. Expired=true means the
// token matched only through the grace window; callers should accept the
// request but tell the client to refresh its token.
type Result struct {
	Valid   bool
	Expired bool
}

// Options tunes a single validation call.
type Options struct {
	// AllowExpired opts in to the grace-period path for tokens that were
	// rotated out within the grace window.
	AllowExpired bool
}

// Validator decides whether an (identity, token) pair names a live
// session. It never returns errors: store failures and malformed grace
// records degrade to Valid=false so nothing propagates past this
// boundary.
type Validator struct {
	tokens *repository.TokenRepo
	admin  string
	grace  time.Duration

	// now is injectable for boundary tests; defaults to time.Now.
	now func() time.Time
}

func NewValidator(tokens *repository.TokenRepo, adminUsername string, grace time.Duration) *Validator {
	return &Validator{
		tokens: tokens,
		admin:  strings.ToLower(adminUsername),
		grace:  grace,
		now:    time.Now,
	}
}

// WithClock overrides the validator's time source.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// Validate checks the pair against the active-token key, refreshing its
// TTL on a hit (sliding expiration). If the primary path misses and
// opts.AllowExpired is set, the last-issued-token record is consulted:
// the presented token must equal the recorded one and the rotation must
// be strictly younger than the grace period: valid iff
// now < expiredAt + grace.
//
// A missing identity or token fails closed without any store access.
func (v *Validator) Validate(ctx context.Context, identity, token string, opts Options) Result {
	if identity == "" || token == "" {
		return Result{}
	}
	identity = strings.ToLower(identity)

	ok, err := v.tokens.Refresh(ctx, identity, token)
	if err != nil {
		log.Printf("[auth] token refresh lookup failed for %s: %v", identity, err)
		return Result{}
	}
	if ok {
		return Result{Valid: true}
	}

	if !opts.AllowExpired {
		return Result{}
	}
	last, found, err := v.tokens.LastToken(ctx, identity)
	if err != nil {
		log.Printf("[auth] grace record lookup failed for %s: %v", identity, err)
		return Result{}
	}
	if !found || last.Token != token {
		return Result{}
	}
	deadline := time.UnixMilli(last.ExpiredAt).Add(v.grace)
	if !v.now().Before(deadline) {
		return Result{}
	}
	return Result{Valid: true, Expired: true}
}

// IsAdmin reports whether the pair names a valid session for the
// distinguished admin account. Grace-window tokens are accepted so an
// admin mid-rotation is not locked out of moderation tooling.
func (v *Validator) IsAdmin(ctx context.Context, identity, token string) bool {
	res := v.Validate(ctx, identity, token, Options{AllowExpired: true})
	return res.Valid && strings.ToLower(identity) == v.admin
}

// Exists checks token existence without sliding the TTL.
func (v *Validator) Exists(ctx context.Context, identity, token string) bool {
	if identity == "" || token == "" {
		return false
	}
	ok, err := v.tokens.Exists(ctx, strings.ToLower(identity), token)
	if err != nil {
		log.Printf("[auth] token existence check failed for %s: %v", identity, err)
		return false
	}
	return ok
}

// AdminUsername returns the lowercased distinguished admin account name.
func (v *Validator) AdminUsername() string { return v.admin }
