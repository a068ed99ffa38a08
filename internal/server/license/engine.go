// Package license holds the entitlement state machine: which registrations
// and logins are admitted, when a machine gets bound, how paid time grows
// and how remaining days are reported.
//
// Engine methods that take an accounts.Repository expect to be called
// inside a critical section holding the account key and, where a
// fingerprint is involved, the fingerprint key.
package license

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/dmitrijs2005/licensekeeper/internal/common"
	"github.com/dmitrijs2005/licensekeeper/internal/server/models"
	"github.com/dmitrijs2005/licensekeeper/internal/server/quota"
	"github.com/dmitrijs2005/licensekeeper/internal/server/repositories/accounts"
	"github.com/google/uuid"
)

// TrialPeriod is how long a trial lasts after its machine is bound.
const TrialPeriod = 24 * time.Hour

const day = 24 * time.Hour

// Outcome names a login decision. It is logged and counted, never sent to
// clients on credential failures.
type Outcome string

const (
	OutcomeAdmitted        Outcome = "admitted"
	OutcomeBound           Outcome = "bound"
	OutcomeAccountNotFound Outcome = "account_not_found"
	OutcomeBadCredential   Outcome = "bad_credential"
	OutcomeExpired         Outcome = "expired"
	OutcomeWrongMachine    Outcome = "wrong_machine"
	OutcomeQuotaExceeded   Outcome = "quota_exceeded"
	OutcomeMachineMismatch Outcome = "machine_mismatch"
	OutcomeTrialExpired    Outcome = "trial_expired"
	OutcomeError           Outcome = "error"
)

// OutcomeOf maps an admission error to its outcome label.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeAdmitted
	case errors.Is(err, common.ErrExpired):
		return OutcomeExpired
	case errors.Is(err, common.ErrWrongMachine):
		return OutcomeWrongMachine
	case errors.Is(err, common.ErrQuotaExceeded):
		return OutcomeQuotaExceeded
	case errors.Is(err, common.ErrMachineMismatch):
		return OutcomeMachineMismatch
	case errors.Is(err, common.ErrTrialExpired):
		return OutcomeTrialExpired
	default:
		return OutcomeError
	}
}

type Engine struct {
	quota *quota.Tracker
	codes map[string]int
	now   func() time.Time
}

type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine builds an engine with the given redeem code table. Codes are
// matched after trimming and upper-casing.
func NewEngine(tracker *quota.Tracker, codes map[string]int, opts ...Option) *Engine {
	e := &Engine{
		quota: tracker,
		codes: make(map[string]int, len(codes)),
		now:   time.Now,
	}
	for c, days := range codes {
		e.codes[normalizeCode(c)] = days
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) Now() time.Time {
	return e.now()
}

func (e *Engine) Quota() *quota.Tracker {
	return e.quota
}

// Register creates a trial account pending on fp. Inputs must already be
// normalized.
func (e *Engine) Register(ctx context.Context, repo accounts.Repository, username, credentialHash, fp string) (*models.Account, error) {
	if username == "" || credentialHash == "" || fp == "" {
		return nil, common.ErrInvalidInput
	}

	if _, err := repo.Get(ctx, username); err == nil {
		return nil, common.ErrAlreadyExists
	} else if !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}

	if err := e.quota.CheckNew(ctx, repo, fp); err != nil {
		return nil, err
	}

	acct := &models.Account{
		ID:             uuid.NewString(),
		Username:       username,
		CredentialHash: credentialHash,
		Machines:       map[string]time.Time{},
		PendingMachine: fp,
		CreatedAt:      e.now(),
	}
	if err := repo.Insert(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// Admit applies the login rules that follow a successful credential check,
// in order:
//
//  1. a paid account past its expiry is refused;
//  2. with no bound machine a trial must present its pending machine and
//     still fit the quota, then the presented machine is bound;
//  3. a bound account must present a bound machine;
//  4. a trial is refused once TrialPeriod has passed since binding.
//
// When a binding happens the account is saved through repo and the
// returned outcome is OutcomeBound.
func (e *Engine) Admit(ctx context.Context, repo accounts.Repository, acct *models.Account, fp string) (Outcome, error) {
	if fp == "" {
		return OutcomeError, common.ErrInvalidInput
	}
	now := e.now()

	if acct.PaidUntil != nil && !acct.PaidUntil.After(now) {
		return OutcomeExpired, common.ErrExpired
	}

	outcome := OutcomeAdmitted
	if !acct.HasBinding() {
		if acct.IsTrial() {
			if acct.PendingMachine != "" && acct.PendingMachine != fp {
				return OutcomeWrongMachine, common.ErrWrongMachine
			}
			if err := e.quota.CheckFinalize(ctx, repo, acct, fp); err != nil {
				return OutcomeOf(err), err
			}
		}
		acct.Bind(fp, now)
		if err := repo.Save(ctx, acct); err != nil {
			return OutcomeError, err
		}
		outcome = OutcomeBound
	}

	boundAt, ok := acct.BoundAt(fp)
	if !ok {
		return OutcomeMachineMismatch, common.ErrMachineMismatch
	}

	if acct.IsTrial() && now.After(boundAt.Add(TrialPeriod)) {
		return OutcomeTrialExpired, common.ErrTrialExpired
	}

	return outcome, nil
}

// DaysLeft reports remaining whole days for display. Paid accounts floor
// the remaining time and may go negative. Trials count from the presented
// machine if it is bound, otherwise from the earliest bound machine, and
// report at least 1 while any time remains. A trial with no bound machine
// reports 1.
func (e *Engine) DaysLeft(acct *models.Account, fp string) int {
	now := e.now()

	if acct.PaidUntil != nil {
		return int(math.Floor(acct.PaidUntil.Sub(now).Seconds() / day.Seconds()))
	}

	start, ok := acct.BoundAt(fp)
	if !ok {
		_, start, ok = acct.FirstBinding()
	}
	if !ok {
		return 1
	}

	remaining := start.Add(TrialPeriod).Sub(now)
	days := int(remaining / day)
	if remaining > 0 && days < 1 {
		days = 1
	}
	return days
}

// TrialEndsAt returns when the trial of acct runs out, if a machine is bound.
func (e *Engine) TrialEndsAt(acct *models.Account) (time.Time, bool) {
	if !acct.IsTrial() {
		return time.Time{}, false
	}
	_, start, ok := acct.FirstBinding()
	if !ok {
		return time.Time{}, false
	}
	return start.Add(TrialPeriod), true
}

// Extend adds days of paid time. A future expiry is extended; a past or
// missing one restarts from now. The pending machine is cleared.
func (e *Engine) Extend(acct *models.Account, days int) error {
	if days <= 0 {
		return common.ErrInvalidInput
	}
	now := e.now()
	base := now
	if acct.PaidUntil != nil && acct.PaidUntil.After(now) {
		base = *acct.PaidUntil
	}
	until := base.Add(time.Duration(days) * day)
	acct.PaidUntil = &until
	acct.PendingMachine = ""
	return nil
}

// SetExact sets the expiry to now plus days regardless of the current one.
func (e *Engine) SetExact(acct *models.Account, days int) error {
	if days < 0 {
		return common.ErrInvalidInput
	}
	until := e.now().Add(time.Duration(days) * day)
	acct.PaidUntil = &until
	return nil
}

// CodeDays returns the paid days granted by a redeem code.
func (e *Engine) CodeDays(code string) (int, error) {
	days, ok := e.codes[normalizeCode(code)]
	if !ok || days <= 0 {
		return 0, common.ErrInvalidCode
	}
	return days, nil
}

func normalizeCode(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}
