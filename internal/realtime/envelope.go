package realtime

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/ryokun6/chatsync/internal/model"
)

// Inbound payloads are normalized into typed structures here, at a single
// deserialization boundary, so the rest of the system never branches on
// representation. Timestamps in particular may arrive as epoch millis,
// numeric strings or RFC 3339 strings depending on the producer; anything
// unparseable degrades to zero and callers substitute the receipt time.

// flexTime is an epoch-milliseconds timestamp that tolerates the shapes
// listed above. Unparseable input decodes to 0, never to an error.
type flexTime int64

func (t *flexTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if json.Unmarshal(data, &s) != nil {
			*t = 0
			return nil
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			*t = flexTime(n)
			return nil
		}
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			*t = flexTime(ts.UnixMilli())
			return nil
		}
		*t = 0
		return nil
	}
	var n int64
	if json.Unmarshal(data, &n) != nil {
		*t = 0
		return nil
	}
	*t = flexTime(n)
	return nil
}

type wireMessage struct {
	ID        string   `json:"id"`
	RoomID    string   `json:"roomId"`
	Username  string   `json:"username"`
	Content   string   `json:"content"`
	Timestamp flexTime `json:"timestamp"`
	ClientID  string   `json:"clientId"`
}

// decodeMessage normalizes a room-message payload. ok=false means the
// payload had no usable id and cannot be deduplicated or applied.
func decodeMessage(payload []byte, receivedAt time.Time) (model.Message, bool) {
	var w wireMessage
	if json.Unmarshal(payload, &w) != nil || w.ID == "" {
		return model.Message{}, false
	}
	ts := int64(w.Timestamp)
	if ts <= 0 {
		ts = receivedAt.UnixMilli()
	}
	return model.Message{
		ID:        w.ID,
		RoomID:    w.RoomID,
		Username:  w.Username,
		Content:   w.Content,
		Timestamp: ts,
		ClientID:  w.ClientID,
	}, true
}

type wireDeletion struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
}

// wireRoomList distinguishes a missing rooms array (malformed, triggers
// refetch) from a present-but-empty one (valid bulk replace).
type wireRoomList struct {
	Rooms *[]model.Room `json:"rooms"`
}
