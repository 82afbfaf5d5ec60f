package domain

import "time"

// StorageCredentials are delegated object storage keys for one user.
type StorageCredentials struct {
	AccessKey string
	SecretKey string
}

// Session binds an opaque token to a user's delegated credentials.
type Session struct {
	Token       string
	Username    string
	Credentials StorageCredentials
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the session is past its expiry. A session is still
// valid at exactly ExpiresAt.
func (s Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
