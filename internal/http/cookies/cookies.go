// Package cookies writes the auth and text-session cookies.
package cookies

import (
	"net/http"
	"time"

	"quill/internal/services/auth"
)

const (
	AccessToken      = "accessToken"
	RefreshToken     = "refreshToken"
	CurrentSessionID = "currentSessionId"

	CurrentSessionTTL = 7 * 24 * time.Hour
)

// Jar sets cookies that are httpOnly, SameSite=Strict and scoped to "/".
// Secure is set in production.
type Jar struct {
	Secure bool
}

// SetCredentials writes both tokens. The access cookie has no expiry of its
// own and lives until the browser closes; the token inside expires first.
func (j Jar) SetCredentials(w http.ResponseWriter, c *auth.Credentials) {
	if c == nil {
		return
	}

	http.SetCookie(w, j.cookie(AccessToken, c.AccessToken))

	refresh := j.cookie(RefreshToken, c.RefreshToken)
	refresh.Expires = c.RefreshExpiresAt
	refresh.MaxAge = maxAge(c.RefreshExpiresAt)
	http.SetCookie(w, refresh)
}

func (j Jar) ClearCredentials(w http.ResponseWriter) {
	http.SetCookie(w, j.expired(AccessToken))
	http.SetCookie(w, j.expired(RefreshToken))
}

func (j Jar) SetCurrentSession(w http.ResponseWriter, id string) {
	c := j.cookie(CurrentSessionID, id)
	c.MaxAge = int(CurrentSessionTTL / time.Second)
	http.SetCookie(w, c)
}

func (j Jar) ClearCurrentSession(w http.ResponseWriter) {
	http.SetCookie(w, j.expired(CurrentSessionID))
}

// Value returns the named cookie of r, or "" when it is absent.
func Value(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func (j Jar) cookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   j.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

func (j Jar) expired(name string) *http.Cookie {
	c := j.cookie(name, "")
	c.MaxAge = -1
	c.Expires = time.Unix(0, 0)
	return c
}

func maxAge(expiresAt time.Time) int {
	secs := int(time.Until(expiresAt) / time.Second)
	if secs <= 0 {
		return -1
	}
	return secs
}
