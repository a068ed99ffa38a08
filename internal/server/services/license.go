// Package services contains server-side business logic. LicenseService
// serves end users: registration, login, profile, password changes and
// code redemption. AdminService serves the operator console.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/licensekeeper/internal/common"
	"github.com/dmitrijs2005/licensekeeper/internal/cryptox"
	"github.com/dmitrijs2005/licensekeeper/internal/logging"
	"github.com/dmitrijs2005/licensekeeper/internal/server/auth"
	"github.com/dmitrijs2005/licensekeeper/internal/server/events"
	"github.com/dmitrijs2005/licensekeeper/internal/server/license"
	"github.com/dmitrijs2005/licensekeeper/internal/server/metrics"
	"github.com/dmitrijs2005/licensekeeper/internal/server/models"
	"github.com/dmitrijs2005/licensekeeper/internal/server/repositories/accounts"
	"go.opentelemetry.io/otel/attribute"
)

var (
	hashPassword   = cryptox.HashPassword
	verifyPassword = cryptox.VerifyPassword
)

// Profile is what an authenticated user sees about their entitlement.
type Profile struct {
	Username  string
	Plan      models.Plan
	DaysLeft  int
	PaidUntil *time.Time
}

// Redemption reports the outcome of a redeemed code.
type Redemption struct {
	Days      int
	PaidUntil time.Time
}

type LicenseService struct {
	store     accounts.Store
	engine    *license.Engine
	authority *auth.Authority
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    logging.Logger
}

func NewLicenseService(store accounts.Store, engine *license.Engine, authority *auth.Authority,
	publisher events.Publisher, m *metrics.Metrics, logger logging.Logger) *LicenseService {
	return &LicenseService{
		store:     store,
		engine:    engine,
		authority: authority,
		publisher: publisher,
		metrics:   m,
		logger:    logger.With("module", "license"),
	}
}

// Register creates a trial account pending on fingerprint.
func (s *LicenseService) Register(ctx context.Context, username, password, fingerprint string) (err error) {
	username = common.NormalizeUsername(username)
	fingerprint = common.NormalizeFingerprint(fingerprint)

	ctx, span := startSpan(ctx, "license.Register",
		attribute.String("username", username), attribute.String("fingerprint", fingerprint))
	defer func() { endSpan(span, err) }()

	defer func() { s.metrics.Registrations.WithLabelValues(resultLabel(err)).Inc() }()

	if username == "" || password == "" || fingerprint == "" {
		return common.ErrInvalidInput
	}

	hash, err := hashPassword(password)
	if err != nil {
		return err
	}

	keys := []string{accounts.AccountKey(username), accounts.FingerprintKey(fingerprint)}
	err = s.store.Atomically(ctx, keys, func(ctx context.Context, repo accounts.Repository) error {
		_, err := s.engine.Register(ctx, repo, username, hash, fingerprint)
		return err
	})
	if err != nil {
		s.logDenied(ctx, "registration denied", err, "username", username, "fingerprint", fingerprint)
		return err
	}

	s.logger.Info(ctx, "trial registered", "username", username, "fingerprint", fingerprint)
	s.publish(ctx, events.Event{Type: events.AccountRegistered, Username: username, Fingerprint: fingerprint})
	return nil
}

// Login checks credentials and the binding rules, and returns a user token.
// Credential failures are reported as one opaque error; the reason is only
// logged.
func (s *LicenseService) Login(ctx context.Context, username, password, fingerprint string) (token string, err error) {
	username = common.NormalizeUsername(username)
	fingerprint = common.NormalizeFingerprint(fingerprint)

	ctx, span := startSpan(ctx, "license.Login",
		attribute.String("username", username), attribute.String("fingerprint", fingerprint))
	defer func() { endSpan(span, err) }()

	if username == "" || password == "" || fingerprint == "" {
		return "", common.ErrInvalidInput
	}

	var (
		outcome   license.Outcome
		paidUntil *time.Time
	)
	keys := []string{accounts.AccountKey(username), accounts.FingerprintKey(fingerprint)}
	err = s.store.Atomically(ctx, keys, func(ctx context.Context, repo accounts.Repository) error {
		acct, err := repo.Get(ctx, username)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				outcome = license.OutcomeAccountNotFound
				return common.ErrInvalidCredentials
			}
			outcome = license.OutcomeError
			return err
		}

		ok, err := verifyPassword(acct.CredentialHash, password)
		if err != nil {
			s.logger.Warn(ctx, "stored credential unreadable", "username", username, "error", err)
		}
		if !ok {
			outcome = license.OutcomeBadCredential
			return common.ErrInvalidCredentials
		}

		outcome, err = s.engine.Admit(ctx, repo, acct, fingerprint)
		if err != nil {
			return err
		}
		paidUntil = acct.PaidUntil

		if cryptox.NeedsRehash(acct.CredentialHash) {
			h, err := hashPassword(password)
			if err != nil {
				return err
			}
			acct.CredentialHash = h
			if err := repo.Save(ctx, acct); err != nil {
				return err
			}
			s.logger.Info(ctx, "credential hash upgraded", "username", username)
		}

		// Issued under the account lock so a concurrent delete or rename
		// either sees this session or runs before it exists.
		token, _, err = s.authority.Issue(ctx, username, models.ScopeUser)
		if err != nil {
			s.logger.Error(ctx, "token issue failed", "username", username, "error", err)
			return err
		}
		return nil
	})
	s.metrics.LoginDecisions.WithLabelValues(string(outcome)).Inc()
	span.SetAttributes(attribute.String("outcome", string(outcome)))

	if err != nil {
		if token != "" {
			if rvErr := s.authority.Revoke(context.WithoutCancel(ctx), token); rvErr != nil {
				s.logger.Error(ctx, "revoke after failed login", "username", username, "error", rvErr)
			}
		}
		s.logDenied(ctx, "login denied", err, "username", username, "fingerprint", fingerprint, "reason", string(outcome))
		return "", err
	}

	s.logger.Info(ctx, "login admitted", "username", username, "fingerprint", fingerprint, "reason", string(outcome))
	if outcome == license.OutcomeBound {
		s.publish(ctx, events.Event{Type: events.AccountBound, Username: username, Fingerprint: fingerprint, PaidUntil: paidUntil})
	}
	return token, nil
}

// Authenticate resolves a user token to its username.
func (s *LicenseService) Authenticate(ctx context.Context, token string) (string, error) {
	sess, err := s.authority.Resolve(ctx, token)
	if err != nil {
		return "", err
	}
	if sess.Scope != models.ScopeUser {
		return "", common.ErrInsufficientScope
	}
	return sess.Username, nil
}

// Profile reports the plan and remaining days of username. fingerprint
// may be empty.
func (s *LicenseService) Profile(ctx context.Context, username, fingerprint string) (*Profile, error) {
	acct, err := s.store.Get(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			// the account went away while the session lived on
			return nil, common.ErrInvalidToken
		}
		return nil, err
	}

	return &Profile{
		Username:  acct.Username,
		Plan:      acct.Plan(),
		DaysLeft:  s.engine.DaysLeft(acct, common.NormalizeFingerprint(fingerprint)),
		PaidUntil: acct.PaidUntil,
	}, nil
}

func (s *LicenseService) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) (err error) {
	ctx, span := startSpan(ctx, "license.ChangePassword", attribute.String("username", username))
	defer func() { endSpan(span, err) }()

	if oldPassword == "" || newPassword == "" {
		return common.ErrInvalidInput
	}

	hash, err := hashPassword(newPassword)
	if err != nil {
		return err
	}

	err = s.store.Atomically(ctx, []string{accounts.AccountKey(username)}, func(ctx context.Context, repo accounts.Repository) error {
		acct, err := repo.Get(ctx, username)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrInvalidToken
			}
			return err
		}
		if ok, _ := verifyPassword(acct.CredentialHash, oldPassword); !ok {
			return common.ErrInvalidCredentials
		}
		acct.CredentialHash = hash
		return repo.Save(ctx, acct)
	})
	if err != nil {
		s.logDenied(ctx, "password change denied", err, "username", username)
		return err
	}

	s.logger.Info(ctx, "password changed", "username", username)
	return nil
}

// Redeem converts a code into paid days for username.
func (s *LicenseService) Redeem(ctx context.Context, username, code string) (res *Redemption, err error) {
	ctx, span := startSpan(ctx, "license.Redeem", attribute.String("username", username))
	defer func() { endSpan(span, err) }()

	defer func() { s.metrics.Redemptions.WithLabelValues(resultLabel(err)).Inc() }()

	days, err := s.engine.CodeDays(code)
	if err != nil {
		s.logDenied(ctx, "redeem denied", err, "username", username)
		return nil, err
	}

	err = s.store.Atomically(ctx, []string{accounts.AccountKey(username)}, func(ctx context.Context, repo accounts.Repository) error {
		acct, err := repo.Get(ctx, username)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrInvalidToken
			}
			return err
		}
		if err := s.engine.Extend(acct, days); err != nil {
			return err
		}
		if err := repo.Save(ctx, acct); err != nil {
			return err
		}
		res = &Redemption{Days: days, PaidUntil: *acct.PaidUntil}
		return nil
	})
	if err != nil {
		s.logDenied(ctx, "redeem denied", err, "username", username)
		return nil, err
	}

	s.logger.Info(ctx, "code redeemed", "username", username, "days", days, "paid_until", res.PaidUntil)
	s.publish(ctx, events.Event{Type: events.LicenseRedeemed, Username: username, PaidUntil: &res.PaidUntil})
	return res, nil
}

// Logout revokes the session behind token.
func (s *LicenseService) Logout(ctx context.Context, token string) error {
	return s.authority.Revoke(ctx, token)
}

func (s *LicenseService) publish(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn(ctx, "event publish failed", "type", e.Type, "error", err)
	}
}

// logDenied logs business refusals at Info and everything else at Error.
func (s *LicenseService) logDenied(ctx context.Context, msg string, err error, kv ...any) {
	logDecision(ctx, s.logger, msg, err, kv...)
}

func logDecision(ctx context.Context, l logging.Logger, msg string, err error, kv ...any) {
	kv = append(kv, "error", err)
	if isBusinessError(err) {
		l.Info(ctx, msg, kv...)
		return
	}
	l.Error(ctx, msg, kv...)
}

func isBusinessError(err error) bool {
	return errors.Is(err, common.ErrInvalidInput) ||
		errors.Is(err, common.ErrUnauthenticated) ||
		errors.Is(err, common.ErrForbidden) ||
		errors.Is(err, common.ErrorNotFound) ||
		errors.Is(err, common.ErrConflict) ||
		errors.Is(err, common.ErrBackupNotConfigured)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case isBusinessError(err):
		return "denied"
	default:
		return "error"
	}
}
