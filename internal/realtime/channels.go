package realtime

import "strings"

// PublicGlobalChannel carries room lifecycle events for anonymous
// clients and for public-room broadcasts.
const PublicGlobalChannel = "chats-public"

const roomChannelPrefix = "room-"

// GlobalChannel names the account channel for an identity. Both
// publisher and subscriber derive the name independently, so it must be
// a pure function of the (lowercased) identity.
func GlobalChannel(username string) string {
	if username == "" {
		return PublicGlobalChannel
	}
	return "chats-" + strings.ToLower(username)
}

// RoomChannel names the per-room channel.
func RoomChannel(roomID string) string {
	return roomChannelPrefix + roomID
}

// RoomIDFromChannel extracts the room id from a room channel name;
// ok=false for non-room channels.
func RoomIDFromChannel(name string) (string, bool) {
	if !strings.HasPrefix(name, roomChannelPrefix) {
		return "", false
	}
	return strings.TrimPrefix(name, roomChannelPrefix), true
}
