package realtime

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Channel grants authorize websocket subscribers for channels they do
// not implicitly own: private-room channels and other identities' global
// channels. A grant is a short-lived HS256 JWT binding one subject to
// one channel name; the HTTP layer checks membership before issuing it
// and the gateway only verifies the signature and binding.

// ErrBadGrant is returned when a grant is missing, expired, or bound to
// a different channel.
var ErrBadGrant = errors.New("invalid channel grant")

// NewChannelGrant signs a grant for username on channel.
func NewChannelGrant(secret, username, channel string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub":  username,
		"chan": channel,
		"exp":  now.Add(ttl).Unix(),
		"iat":  now.Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(secret))
}

// VerifyChannelGrant checks signature, expiry and channel binding,
// returning the granted subject.
func VerifyChannelGrant(secret, token, channel string) (string, error) {
	tok, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrBadGrant
		}
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		return "", ErrBadGrant
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrBadGrant
	}
	granted, _ := claims["chan"].(string)
	sub, _ := claims["sub"].(string)
	if granted != channel || sub == "" {
		return "", ErrBadGrant
	}
	return sub, nil
}
