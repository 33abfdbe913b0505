package model

// LastToken records the immediately-previous session token after a
// rotation, stored as JSON under `<scope>:token:last:user:<username>`.
// It backs the grace-period path of the validator: the superseded token
// stays honorable while `now < ExpiredAt + grace`.
type LastToken struct {
	Token     string `json:"token"`
	ExpiredAt int64  `json:"expiredAt"`
}
