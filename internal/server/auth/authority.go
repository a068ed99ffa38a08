// Package auth issues and resolves bearer tokens. A token is an HS256 JWT
// whose ID names a server-side session; revoking or renaming works on the
// session store, so tokens never need to be reissued.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dmitrijs2005/licensekeeper/internal/common"
	"github.com/dmitrijs2005/licensekeeper/internal/server/models"
	"github.com/dmitrijs2005/licensekeeper/internal/server/repositories/sessions"
)

const sessionIDBytes = 32

// Sessions are stored under "<scope>:<username>" so that bulk operations on
// an account never reach an operator session with the same name.
func principal(scope models.Scope, username string) string {
	return string(scope) + ":" + username
}

// withUsername returns a copy of s carrying the plain username.
func withUsername(s *models.Session) (*models.Session, error) {
	name, ok := strings.CutPrefix(s.Username, string(s.Scope)+":")
	if !ok {
		return nil, common.ErrInvalidToken
	}
	c := *s
	c.Username = name
	return &c, nil
}

type Authority struct {
	sessions sessions.Repository
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
}

func NewAuthority(repo sessions.Repository, secret []byte, ttl time.Duration) *Authority {
	return &Authority{sessions: repo, secret: secret, ttl: ttl, now: time.Now}
}

// Issue creates a session for username and returns its signed token.
func (a *Authority) Issue(ctx context.Context, username string, scope models.Scope) (string, *models.Session, error) {
	id, err := common.MakeRandHexString(sessionIDBytes)
	if err != nil {
		return "", nil, err
	}

	now := a.now()
	s := &models.Session{
		ID:        id,
		Username:  principal(scope, username),
		Scope:     scope,
		IssuedAt:  now,
		ExpiresAt: now.Add(a.ttl),
	}
	if err := a.sessions.Create(ctx, s); err != nil {
		return "", nil, err
	}

	token, err := GenerateToken(s.ID, string(s.Scope), a.secret, s.IssuedAt, s.ExpiresAt)
	if err != nil {
		_ = a.sessions.Delete(ctx, s.ID)
		return "", nil, err
	}
	s.Username = username
	return token, s, nil
}

// Resolve returns the live session behind token. Unknown, revoked and
// expired tokens yield errors matching common.ErrUnauthenticated.
func (a *Authority) Resolve(ctx context.Context, token string) (*models.Session, error) {
	if token == "" {
		return nil, common.ErrInvalidToken
	}

	id, scope, err := ParseToken(token, a.secret)
	if err != nil {
		return nil, err
	}

	s, err := a.sessions.Find(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidToken
		}
		return nil, err
	}
	if string(s.Scope) != scope {
		return nil, common.ErrInvalidToken
	}
	if s.Expired(a.now()) {
		return nil, common.ErrTokenExpired
	}
	return withUsername(s)
}

// Revoke ends the session behind token. Invalid tokens are ignored.
func (a *Authority) Revoke(ctx context.Context, token string) error {
	id, _, err := ParseToken(token, a.secret)
	if err != nil {
		return nil
	}
	return a.sessions.Delete(ctx, id)
}

// RevokeUser ends every user-scope session of username. Admin sessions
// are not affected.
func (a *Authority) RevokeUser(ctx context.Context, username string) (int, error) {
	return a.sessions.DeleteByUser(ctx, principal(models.ScopeUser, username))
}

// RenameUser moves every user-scope session of from to to.
func (a *Authority) RenameUser(ctx context.Context, from, to string) (int, error) {
	return a.sessions.Rename(ctx, principal(models.ScopeUser, from), principal(models.ScopeUser, to))
}
