package models

import "time"

// Scope limits what a bearer token may be used for.
type Scope string

const (
	ScopeUser  Scope = "user"
	ScopeAdmin Scope = "admin"
)

// Session is the server-side state behind one bearer token.
type Session struct {
	ID        string
	Username  string
	Scope     Scope
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
