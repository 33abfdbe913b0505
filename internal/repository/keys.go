package repository

// Keyspace builds the namespaced keys all repositories share. The scope
// prefix isolates environments (e.g. "chat" vs "chat-test") in one Redis
// database.
type Keyspace string

func (k Keyspace) UserToken(username, token string) string {
	return string(k) + ":token:user:" + username + ":" + token
}

// UserTokenPattern matches every active token key of one user.
func (k Keyspace) UserTokenPattern(username string) string {
	return string(k) + ":token:user:" + username + ":*"
}

func (k Keyspace) LastToken(username string) string {
	return string(k) + ":token:last:user:" + username
}

func (k Keyspace) User(username string) string {
	return string(k) + ":user:" + username
}

// UserPattern matches the whole user-record keyspace for paginated scans.
func (k Keyspace) UserPattern() string { return string(k) + ":user:*" }

func (k Keyspace) Password(username string) string {
	return string(k) + ":password:" + username
}

func (k Keyspace) Rooms() string { return string(k) + ":rooms" }

func (k Keyspace) Room(id string) string { return string(k) + ":room:" + id }

func (k Keyspace) Messages(roomID string) string {
	return string(k) + ":messages:" + roomID
}

func (k Keyspace) Presence(roomID string) string {
	return string(k) + ":presence:" + roomID
}

func (k Keyspace) RateLimit(class, identity string) string {
	return string(k) + ":rl:" + class + ":" + identity
}
