package models

import "time"

// Session is a refresh session stored in the database. Token is the signed
// refresh token itself and is the lookup key.
type Session struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the session is no longer usable at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
