package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/licensekeeper/internal/common"
	"github.com/dmitrijs2005/licensekeeper/internal/logging"
	"github.com/dmitrijs2005/licensekeeper/internal/server/auth"
	"github.com/dmitrijs2005/licensekeeper/internal/server/backup"
	"github.com/dmitrijs2005/licensekeeper/internal/server/events"
	"github.com/dmitrijs2005/licensekeeper/internal/server/license"
	"github.com/dmitrijs2005/licensekeeper/internal/server/metrics"
	"github.com/dmitrijs2005/licensekeeper/internal/server/models"
	"github.com/dmitrijs2005/licensekeeper/internal/server/repositories/accounts"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// AccountView is the admin representation of one account.
type AccountView struct {
	Username       string
	Plan           models.Plan
	PaidUntil      *time.Time
	DaysLeft       int
	Machines       []string
	MachineBoundAt map[string]time.Time
	PendingMachine string
	TrialEndsAt    *time.Time
	CreatedAt      time.Time
}

type CreateAccountRequest struct {
	Username       string
	Password       string
	PendingMachine string
	PaidDays       int
}

type AdminCredentials struct {
	Username string
	Password string
}

type AdminService struct {
	store     accounts.Store
	engine    *license.Engine
	authority *auth.Authority
	uploader  *backup.Uploader
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    logging.Logger
	creds     AdminCredentials
}

func NewAdminService(store accounts.Store, engine *license.Engine, authority *auth.Authority, uploader *backup.Uploader,
	publisher events.Publisher, m *metrics.Metrics, logger logging.Logger, creds AdminCredentials) *AdminService {
	return &AdminService{
		store:     store,
		engine:    engine,
		authority: authority,
		uploader:  uploader,
		publisher: publisher,
		metrics:   m,
		logger:    logger.With("module", "admin"),
		creds:     creds,
	}
}

// Login checks the operator credentials and returns an admin token.
func (s *AdminService) Login(ctx context.Context, username, password string) (string, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.creds.Username))
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.creds.Password))
	if userOK&passOK != 1 {
		s.observe(ctx, "login", common.ErrInvalidCredentials, "username", username)
		return "", common.ErrInvalidCredentials
	}

	token, _, err := s.authority.Issue(ctx, username, models.ScopeAdmin)
	s.observe(ctx, "login", err, "username", username)
	if err != nil {
		return "", err
	}
	return token, nil
}

// Authenticate resolves an admin token to the operator name.
func (s *AdminService) Authenticate(ctx context.Context, token string) (string, error) {
	sess, err := s.authority.Resolve(ctx, token)
	if err != nil {
		return "", err
	}
	if sess.Scope != models.ScopeAdmin {
		return "", common.ErrInsufficientScope
	}
	return sess.Username, nil
}

func (s *AdminService) Logout(ctx context.Context, token string) error {
	return s.authority.Revoke(ctx, token)
}

func (s *AdminService) List(ctx context.Context) ([]*AccountView, error) {
	accts, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*AccountView, 0, len(accts))
	for _, a := range accts {
		out = append(out, s.view(a))
	}
	return out, nil
}

func (s *AdminService) Get(ctx context.Context, username string) (*AccountView, error) {
	acct, err := s.store.Get(ctx, common.NormalizeUsername(username))
	if err != nil {
		return nil, err
	}
	return s.view(acct), nil
}

// ExtendPaid adds days of paid time, stacking on a future expiry.
func (s *AdminService) ExtendPaid(ctx context.Context, username string, days int) (*AccountView, error) {
	username = common.NormalizeUsername(username)
	ctx, span := startSpan(ctx, "admin.ExtendPaid", attribute.String("username", username), attribute.Int("days", days))

	acct, err := s.update(ctx, username, func(a *models.Account) error {
		return s.engine.Extend(a, days)
	})
	endSpan(span, err)
	s.observe(ctx, "set_paid", err, "username", username, "days", days)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.Event{Type: events.AdminPaidChanged, Username: username, PaidUntil: acct.PaidUntil, Detail: "extend"})
	return s.view(acct), nil
}

// SetPaidExact sets the expiry to now plus days.
func (s *AdminService) SetPaidExact(ctx context.Context, username string, days int) (*AccountView, error) {
	username = common.NormalizeUsername(username)
	ctx, span := startSpan(ctx, "admin.SetPaidExact", attribute.String("username", username), attribute.Int("days", days))

	acct, err := s.update(ctx, username, func(a *models.Account) error {
		return s.engine.SetExact(a, days)
	})
	endSpan(span, err)
	s.observe(ctx, "set_paid_exact", err, "username", username, "days", days)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.Event{Type: events.AdminPaidChanged, Username: username, PaidUntil: acct.PaidUntil, Detail: "exact"})
	return s.view(acct), nil
}

func (s *AdminService) ResetPassword(ctx context.Context, username, newPassword string) error {
	username = common.NormalizeUsername(username)
	if newPassword == "" {
		return common.ErrInvalidInput
	}

	hash, err := hashPassword(newPassword)
	if err != nil {
		return err
	}

	_, err = s.update(ctx, username, func(a *models.Account) error {
		a.CredentialHash = hash
		return nil
	})
	s.observe(ctx, "reset_password", err, "username", username)
	if err != nil {
		return err
	}

	s.publish(ctx, events.Event{Type: events.AdminPasswordSet, Username: username})
	return nil
}

// Rename moves an account to a new username. Live sessions follow the
// account; if the account move fails after they were moved, they are moved
// back.
func (s *AdminService) Rename(ctx context.Context, oldName, newName string) (err error) {
	oldName = common.NormalizeUsername(oldName)
	newName = common.NormalizeUsername(newName)

	ctx, span := startSpan(ctx, "admin.Rename", attribute.String("from", oldName), attribute.String("to", newName))
	defer func() { endSpan(span, err) }()
	defer func() { s.observe(ctx, "rename", err, "from", oldName, "to", newName) }()

	if oldName == "" || newName == "" {
		return common.ErrInvalidInput
	}
	if oldName == newName {
		return fmt.Errorf("%w: new username equals the old one", common.ErrInvalidInput)
	}

	migrated := false
	keys := []string{accounts.AccountKey(oldName), accounts.AccountKey(newName)}
	err = s.store.Atomically(ctx, keys, func(ctx context.Context, repo accounts.Repository) error {
		acct, err := repo.Get(ctx, oldName)
		if err != nil {
			return err
		}
		if _, err := repo.Get(ctx, newName); err == nil {
			return common.ErrAlreadyExists
		} else if !errors.Is(err, common.ErrorNotFound) {
			return err
		}

		if err := repo.Delete(ctx, oldName); err != nil {
			return err
		}
		acct.Username = newName
		if err := repo.Insert(ctx, acct); err != nil {
			return err
		}

		n, err := s.authority.RenameUser(ctx, oldName, newName)
		if err != nil {
			return fmt.Errorf("migrate sessions: %w", err)
		}
		migrated = true
		s.logger.Debug(ctx, "sessions migrated", "from", oldName, "to", newName, "count", n)
		return nil
	})
	if err != nil {
		if migrated {
			if _, rbErr := s.authority.RenameUser(context.WithoutCancel(ctx), newName, oldName); rbErr != nil {
				s.logger.Error(ctx, "session migration rollback failed", "from", newName, "to", oldName, "error", rbErr)
			}
		}
		return err
	}

	s.publish(ctx, events.Event{Type: events.AdminRenamed, Username: newName, Detail: oldName})
	return nil
}

// Delete removes an account and revokes its sessions.
func (s *AdminService) Delete(ctx context.Context, username string) (err error) {
	username = common.NormalizeUsername(username)

	ctx, span := startSpan(ctx, "admin.Delete", attribute.String("username", username))
	defer func() { endSpan(span, err) }()
	defer func() { s.observe(ctx, "delete", err, "username", username) }()

	err = s.store.Atomically(ctx, []string{accounts.AccountKey(username)}, func(ctx context.Context, repo accounts.Repository) error {
		return repo.Delete(ctx, username)
	})
	if err != nil {
		return err
	}

	n, err := s.authority.RevokeUser(ctx, username)
	if err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	s.logger.Debug(ctx, "sessions revoked", "username", username, "count", n)

	s.publish(ctx, events.Event{Type: events.AdminDeleted, Username: username})
	return nil
}

// Create adds an account outside the registration rules. A trial bound to
// a machine that is already at its quota is still created; the returned
// warning says so.
func (s *AdminService) Create(ctx context.Context, req CreateAccountRequest) (view *AccountView, warning string, err error) {
	username := common.NormalizeUsername(req.Username)
	fp := common.NormalizeFingerprint(req.PendingMachine)

	ctx, span := startSpan(ctx, "admin.Create", attribute.String("username", username))
	defer func() { endSpan(span, err) }()
	defer func() { s.observe(ctx, "create", err, "username", username) }()

	if username == "" || req.Password == "" || req.PaidDays < 0 {
		return nil, "", common.ErrInvalidInput
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return nil, "", err
	}

	keys := []string{accounts.AccountKey(username)}
	if fp != "" {
		keys = append(keys, accounts.FingerprintKey(fp))
	}

	var acct *models.Account
	err = s.store.Atomically(ctx, keys, func(ctx context.Context, repo accounts.Repository) error {
		if _, err := repo.Get(ctx, username); err == nil {
			return common.ErrAlreadyExists
		} else if !errors.Is(err, common.ErrorNotFound) {
			return err
		}

		acct = &models.Account{
			ID:             uuid.NewString(),
			Username:       username,
			CredentialHash: hash,
			Machines:       map[string]time.Time{},
			PendingMachine: fp,
			CreatedAt:      s.engine.Now(),
		}
		if req.PaidDays > 0 {
			if err := s.engine.SetExact(acct, req.PaidDays); err != nil {
				return err
			}
		} else if fp != "" {
			u, err := s.engine.Quota().Usage(ctx, repo, fp)
			if err != nil {
				return err
			}
			if u.Exhausted() {
				warning = fmt.Sprintf("machine %s already holds %d of %d trial accounts", fp, u.Used, u.Limit)
			}
		}
		return repo.Insert(ctx, acct)
	})
	if err != nil {
		return nil, "", err
	}

	if warning != "" {
		s.logger.Warn(ctx, "account created over quota", "username", username, "fingerprint", fp)
	}
	s.publish(ctx, events.Event{Type: events.AdminCreated, Username: username, Fingerprint: fp, PaidUntil: acct.PaidUntil})
	return s.view(acct), warning, nil
}

// Backup uploads a snapshot of every account and returns its object key.
func (s *AdminService) Backup(ctx context.Context) (key string, err error) {
	ctx, span := startSpan(ctx, "admin.Backup")
	defer func() { endSpan(span, err) }()
	defer func() { s.observe(ctx, "backup", err, "key", key) }()

	if !s.uploader.Enabled() {
		return "", common.ErrBackupNotConfigured
	}

	accts, err := s.store.List(ctx)
	if err != nil {
		return "", err
	}

	key, err = s.uploader.Upload(ctx, accts)
	if err != nil {
		return "", err
	}

	s.publish(ctx, events.Event{Type: events.AdminBackup, Detail: key})
	return key, nil
}

// update applies fn to one account inside its critical section.
func (s *AdminService) update(ctx context.Context, username string, fn func(a *models.Account) error) (*models.Account, error) {
	var out *models.Account
	err := s.store.Atomically(ctx, []string{accounts.AccountKey(username)}, func(ctx context.Context, repo accounts.Repository) error {
		acct, err := repo.Get(ctx, username)
		if err != nil {
			return err
		}
		if err := fn(acct); err != nil {
			return err
		}
		if err := repo.Save(ctx, acct); err != nil {
			return err
		}
		out = acct
		return nil
	})
	return out, err
}

func (s *AdminService) view(a *models.Account) *AccountView {
	v := &AccountView{
		Username:       a.Username,
		Plan:           a.Plan(),
		PaidUntil:      a.PaidUntil,
		DaysLeft:       s.engine.DaysLeft(a, ""),
		Machines:       a.MachineList(),
		MachineBoundAt: make(map[string]time.Time, len(a.Machines)),
		PendingMachine: a.PendingMachine,
		CreatedAt:      a.CreatedAt,
	}
	for fp, at := range a.Machines {
		v.MachineBoundAt[fp] = at
	}
	if end, ok := s.engine.TrialEndsAt(a); ok {
		v.TrialEndsAt = &end
	}
	return v
}

func (s *AdminService) observe(ctx context.Context, op string, err error, kv ...any) {
	s.metrics.AdminOps.WithLabelValues(op, resultLabel(err)).Inc()
	if err != nil {
		logDecision(ctx, s.logger, "admin "+op+" failed", err, kv...)
		return
	}
	s.logger.Info(ctx, "admin "+op, kv...)
}

func (s *AdminService) publish(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn(ctx, "event publish failed", "type", e.Type, "error", err)
	}
}
