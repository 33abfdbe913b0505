package model

// User represents an account record as stored in the key/value store under
// `<scope>:user:<username>`. Usernames are case-insensitive and stored
// lowercase; the password hash lives under a separate key so that user
// listings never carry credential material.
//
// Fields:
//  Username   – unique, lowercase identifier.
//  LastActive – epoch milliseconds of the last authenticated activity.
//  Banned     – whether the account is currently banned.
//  BanReason  – moderator-supplied reason, empty when not banned.
//  BannedAt   – epoch milliseconds of the ban, zero when not banned.
type User struct {
	Username   string `json:"username"`
	LastActive int64  `json:"lastActive"`
	Banned     bool   `json:"banned,omitempty"`
	BanReason  string `json:"banReason,omitempty"`
	BannedAt   int64  `json:"bannedAt,omitempty"`
}
