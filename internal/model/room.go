package model

// RoomType distinguishes open rooms from invite-only ones.
type RoomType string

const (
	RoomPublic  RoomType = "public"
	RoomPrivate RoomType = "private"
)

// Room is the authoritative room record stored under `<scope>:room:<id>`.
// Members is populated only for private rooms and decides who may read,
// write and delete. Users carries the live presence count; it is derived
// from the presence set at read time and never persisted.
type Room struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Type    RoomType `json:"type"`
	Members []string `json:"members,omitempty"`
	Users   int      `json:"users"`
}

// HasMember reports whether username belongs to a private room's member set.
// Public rooms admit everyone.
func (r *Room) HasMember(username string) bool {
	if r.Type == RoomPublic {
		return true
	}
	for _, m := range r.Members {
		if m == username {
			return true
		}
	}
	return false
}
