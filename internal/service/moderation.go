// Package service implements the privileged moderation operations
// layered on the user, token and room repositories. Every operation here
// assumes the caller has already passed the admin gate and the rate
// limiter; the service still refuses to ban or delete the distinguished
// admin account itself.
//
// Profile, export and stats operations scan across rooms and users; the
// repositories cap those scans, so worst-case latency is bounded even if
// the store's cursor protocol misbehaves. The cost is O(total messages),
// which is acceptable for moderation tooling but not for hot paths.
package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/ryokun6/chatsync/internal/model"
	"github.com/ryokun6/chatsync/internal/repository"
)

// Moderation bundles the collaborators of the admin operations.
type Moderation struct {
	users  *repository.UserRepo
	tokens *repository.TokenRepo
	rooms  *repository.RoomRepo
	admin  string

	now func() time.Time
}

func NewModeration(users *repository.UserRepo, tokens *repository.TokenRepo, rooms *repository.RoomRepo, adminUsername string) *Moderation {
	return &Moderation{
		users:  users,
		tokens: tokens,
		rooms:  rooms,
		admin:  strings.ToLower(adminUsername),
		now:    time.Now,
	}
}

// WithClock overrides the service's time source.
func (s *Moderation) WithClock(now func() time.Time) *Moderation {
	s.now = now
	return s
}

// DeleteUser removes the user record, password hash and every active
// token, logging the user out everywhere. Deleting a nonexistent user is
// a no-op; the distinguished admin account is refused.
func (s *Moderation) DeleteUser(ctx context.Context, username string) error {
	username = strings.ToLower(username)
	if username == "" {
		return repository.ErrNotFound
	}
	if username == s.admin {
		return repository.ErrForbidden
	}
	if _, err := s.tokens.DeleteAll(ctx, username); err != nil {
		return err
	}
	return s.users.Delete(ctx, username)
}

// BanUser sets the ban flag, reason and timestamp and invalidates every
// token of the user (forced logout). The account and its message history
// stay; the distinguished admin account is refused.
func (s *Moderation) BanUser(ctx context.Context, username, reason string) error {
	username = strings.ToLower(username)
	if username == s.admin {
		return repository.ErrForbidden
	}
	u, err := s.users.Get(ctx, username)
	if err != nil {
		return err
	}
	u.Banned = true
	u.BanReason = reason
	u.BannedAt = s.now().UnixMilli()
	if err := s.users.Put(ctx, u); err != nil {
		return err
	}
	_, err = s.tokens.DeleteAll(ctx, username)
	return err
}

// UnbanUser clears the ban state. Tokens are not restored; the user
// must re-authenticate.
func (s *Moderation) UnbanUser(ctx context.Context, username string) error {
	u, err := s.users.Get(ctx, strings.ToLower(username))
	if err != nil {
		return err
	}
	u.Banned = false
	u.BanReason = ""
	u.BannedAt = 0
	return s.users.Put(ctx, u)
}

// AllUsers aggregates username, last-active and ban state across the
// whole user keyspace via the repository's capped scan. Store failures
// degrade to an empty list; the handler decides how to surface that.
func (s *Moderation) AllUsers(ctx context.Context) []model.User {
	users, err := s.users.List(ctx)
	if err != nil {
		return []model.User{}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users
}

// Profile joins one user record with a scan over every room's message
// list: total message count plus the set of rooms the user has posted in.
type Profile struct {
	User         model.User `json:"user"`
	MessageCount int        `json:"messageCount"`
	Rooms        []string   `json:"rooms"`
}

// UserProfile computes the moderation view of one user.
func (s *Moderation) UserProfile(ctx context.Context, username string) (Profile, error) {
	username = strings.ToLower(username)
	u, err := s.users.Get(ctx, username)
	if err != nil {
		return Profile{}, err
	}
	p := Profile{User: u, Rooms: []string{}}
	ids, err := s.rooms.IDs(ctx)
	if err != nil {
		return p, err
	}
	for _, roomID := range ids {
		msgs, err := s.rooms.Messages(ctx, roomID, 0)
		if err != nil {
			continue
		}
		count := 0
		for _, m := range msgs {
			if m.Username == username {
				count++
			}
		}
		if count > 0 {
			p.MessageCount += count
			p.Rooms = append(p.Rooms, roomID)
		}
	}
	sort.Strings(p.Rooms)
	return p, nil
}

// UserMessages exports the user's messages across all rooms, newest
// first, truncated to limit.
func (s *Moderation) UserMessages(ctx context.Context, username string, limit int) ([]model.Message, error) {
	username = strings.ToLower(username)
	ids, err := s.rooms.IDs(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.Message
	for _, roomID := range ids {
		msgs, err := s.rooms.Messages(ctx, roomID, 0)
		if err != nil {
			continue
		}
		for _, m := range msgs {
			if m.Username == username {
				out = append(out, m)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Stats summarizes the deployment for the admin dashboard.
type Stats struct {
	TotalUsers    int   `json:"totalUsers"`
	TotalRooms    int   `json:"totalRooms"`
	TotalMessages int64 `json:"totalMessages"`
	BannedUsers   int   `json:"bannedUsers"`
}

// GetStats counts users by key scan, rooms by set cardinality and
// messages by summing per-room list lengths.
func (s *Moderation) GetStats(ctx context.Context) (Stats, error) {
	var st Stats
	users, err := s.users.List(ctx)
	if err != nil {
		return st, err
	}
	st.TotalUsers = len(users)
	for _, u := range users {
		if u.Banned {
			st.BannedUsers++
		}
	}
	ids, err := s.rooms.IDs(ctx)
	if err != nil {
		return st, err
	}
	st.TotalRooms = len(ids)
	for _, roomID := range ids {
		n, err := s.rooms.MessageCount(ctx, roomID)
		if err != nil {
			continue
		}
		st.TotalMessages += n
	}
	return st, nil
}
