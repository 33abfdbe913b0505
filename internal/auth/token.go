package auth

import (
	"crypto/rand"
	"encoding/hex"
)

// NewSessionToken returns a cryptographically random opaque token
// (48 bytes, hex encoded). Tokens carry no claims; their validity lives
// entirely in the store under the per-user active-token key.
func NewSessionToken() (string, error) {
	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
