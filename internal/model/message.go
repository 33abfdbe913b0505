package model

// Message is one chat message as stored in the room's append-only list
// under `<scope>:messages:<roomId>`. IDs are server-assigned and globally
// unique so duplicate realtime deliveries can be detected by id equality
// alone. Messages are never edited in place; deletion removes the entry
// from the list.
//
// ClientID is an optional client-generated temporary id carried through
// the server echo so optimistic local inserts can be reconciled with the
// confirmed message instead of matching on content.
type Message struct {
	ID        string `json:"id"`
	RoomID    string `json:"roomId"`
	Username  string `json:"username"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	ClientID  string `json:"clientId,omitempty"`
}
