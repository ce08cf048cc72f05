package middleware

import (
	"net/http"
)

// SessionStore looks up the access token of the caller's session
type SessionStore interface {
	AccessToken(r *http.Request) (string, bool)
}

// DefaultSessionCookie is the cookie the console login flow stores the access token in
const DefaultSessionCookie = "console_session"

// CookieSessionStore reads the access token straight from a session cookie.
// The login flow that writes the cookie lives elsewhere.
type CookieSessionStore struct {
	name string
}

// NewCookieSessionStore creates a store reading cookie name
func NewCookieSessionStore(name string) *CookieSessionStore {
	if name == "" {
		name = DefaultSessionCookie
	}
	return &CookieSessionStore{name: name}
}

// AccessToken returns the token held in the session cookie, if any
func (s *CookieSessionStore) AccessToken(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(s.name)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}
