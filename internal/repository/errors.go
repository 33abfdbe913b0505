// Package repository defines the key/value store contract the service is
// built on, its Redis and in-memory implementations, and the token, user
// and room repositories layered on top. Sentinel errors declared here are
// reused across repositories so higher layers such as handlers can
// distinguish failure scenarios: ErrForbidden maps to HTTP 403,
// ErrNotFound to 404, ErrConflict to 409.
package repository

import "errors"

// ErrNotFound is returned when a key, user, room or message does not
// exist. Handlers should translate this into an HTTP 404 response.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the caller attempts an operation they are
// not allowed to perform, such as a non-member deleting a private room or
// a moderation action targeting the distinguished admin account.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an operation cannot proceed because of
// existing state, such as signing up a username that is already taken.
var ErrConflict = errors.New("conflict")

// ErrBadCursor is returned by Scan when the supplied cursor does not
// belong to the current scan sequence or has been corrupted. Callers
// should restart the scan from ZeroCursor.
var ErrBadCursor = errors.New("invalid scan cursor")
