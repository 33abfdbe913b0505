package repository

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/ryokun6/chatsync/internal/model"
)

// UserRepo persists account records and their separately-keyed password
// hashes. All usernames are lowercased before any store access.
type UserRepo struct {
	kv   KV
	keys Keyspace
}

func NewUserRepo(kv KV, keys Keyspace) *UserRepo {
	return &UserRepo{kv: kv, keys: keys}
}

// Get loads one user record; ErrNotFound when absent.
func (r *UserRepo) Get(ctx context.Context, username string) (model.User, error) {
	raw, err := r.kv.Get(ctx, r.keys.User(strings.ToLower(username)))
	if err != nil {
		return model.User{}, err
	}
	var u model.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return model.User{}, err
	}
	return u, nil
}

// Put writes the full record.
func (r *UserRepo) Put(ctx context.Context, u model.User) error {
	u.Username = strings.ToLower(u.Username)
	raw, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return r.kv.Set(ctx, r.keys.User(u.Username), string(raw), 0)
}

// Create inserts a new record, refusing to overwrite an existing one.
func (r *UserRepo) Create(ctx context.Context, username string, now time.Time) (model.User, error) {
	username = strings.ToLower(username)
	exists, err := r.kv.Exists(ctx, r.keys.User(username))
	if err != nil {
		return model.User{}, err
	}
	if exists {
		return model.User{}, ErrConflict
	}
	u := model.User{Username: username, LastActive: now.UnixMilli()}
	return u, r.Put(ctx, u)
}

// Touch updates the last-active timestamp. Missing users are ignored so
// activity tracking never fails a request.
func (r *UserRepo) Touch(ctx context.Context, username string, now time.Time) error {
	u, err := r.Get(ctx, username)
	if err == ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	u.LastActive = now.UnixMilli()
	return r.Put(ctx, u)
}

// Delete removes the user record and password hash.
func (r *UserRepo) Delete(ctx context.Context, username string) error {
	username = strings.ToLower(username)
	return r.kv.Del(ctx, r.keys.User(username), r.keys.Password(username))
}

// SetPassword stores the bcrypt hash under its own key.
func (r *UserRepo) SetPassword(ctx context.Context, username, hash string) error {
	return r.kv.Set(ctx, r.keys.Password(strings.ToLower(username)), hash, 0)
}

// PasswordHash returns the stored hash; ErrNotFound when the user never
// set one.
func (r *UserRepo) PasswordHash(ctx context.Context, username string) (string, error) {
	return r.kv.Get(ctx, r.keys.Password(strings.ToLower(username)))
}

// List aggregates every user record via a capped, paginated scan.
// Malformed records are skipped rather than failing the listing.
func (r *UserRepo) List(ctx context.Context) ([]model.User, error) {
	var users []model.User
	cur := ZeroCursor
	for page := 0; page < maxScanPages && !cur.Done(); page++ {
		next, keys, err := r.kv.Scan(ctx, cur, r.keys.UserPattern(), scanPageSize)
		if err != nil {
			return users, err
		}
		if len(keys) > 0 {
			vals, err := r.kv.MGet(ctx, keys...)
			if err != nil {
				return users, err
			}
			for _, v := range vals {
				if v == nil {
					continue
				}
				var u model.User
				if json.Unmarshal([]byte(*v), &u) == nil && u.Username != "" {
					users = append(users, u)
				}
			}
		}
		cur = next
	}
	return users, nil
}

// Count walks the user keyspace and returns the number of records.
func (r *UserRepo) Count(ctx context.Context) (int, error) {
	total := 0
	cur := ZeroCursor
	for page := 0; page < maxScanPages && !cur.Done(); page++ {
		next, keys, err := r.kv.Scan(ctx, cur, r.keys.UserPattern(), scanPageSize)
		if err != nil {
			return total, err
		}
		total += len(keys)
		cur = next
	}
	return total, nil
}
