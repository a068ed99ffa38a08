package license

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/licensekeeper/internal/common"
	"github.com/dmitrijs2005/licensekeeper/internal/server/models"
	"github.com/dmitrijs2005/licensekeeper/internal/server/quota"
	"github.com/dmitrijs2005/licensekeeper/internal/server/repositories/accounts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newEngine(c *clock) *Engine {
	return NewEngine(quota.NewTracker(), map[string]int{"dx7": 7, " DX30 ": 30, "DX365": 365}, WithClock(c.Now))
}

func register(t *testing.T, e *Engine, s accounts.Store, user, fp string) error {
	t.Helper()
	return s.Atomically(context.Background(), []string{accounts.FingerprintKey(fp), accounts.AccountKey(user)}, func(ctx context.Context, repo accounts.Repository) error {
		_, err := e.Register(ctx, repo, user, "hash", fp)
		return err
	})
}

func admit(t *testing.T, e *Engine, s accounts.Store, user, fp string) (Outcome, error) {
	t.Helper()
	var out Outcome
	err := s.Atomically(context.Background(), []string{accounts.FingerprintKey(fp), accounts.AccountKey(user)}, func(ctx context.Context, repo accounts.Repository) error {
		acct, err := repo.Get(ctx, user)
		if err != nil {
			return err
		}
		out, err = e.Admit(ctx, repo, acct, fp)
		return err
	})
	return out, err
}

func TestRegister_QuotaScenario(t *testing.T) {
	c := &clock{now: t0}
	e := newEngine(c)
	s := accounts.NewMemoryStore()

	require.NoError(t, register(t, e, s, "alice", "FP1"))
	require.NoError(t, register(t, e, s, "bob", "FP1"))
	assert.ErrorIs(t, register(t, e, s, "carol", "FP1"), common.ErrQuotaExceeded)
	assert.NoError(t, register(t, e, s, "carol", "FP2"))

	a, err := s.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, models.PlanTrial, a.Plan())
	assert.Equal(t, "FP1", a.PendingMachine)
	assert.Empty(t, a.Machines)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, t0, a.CreatedAt)
}

func TestRegister_Validation(t *testing.T) {
	e := newEngine(&clock{now: t0})
	s := accounts.NewMemoryStore()

	assert.ErrorIs(t, register(t, e, s, "", "FP1"), common.ErrInvalidInput)
	assert.ErrorIs(t, register(t, e, s, "alice", ""), common.ErrInvalidInput)

	require.NoError(t, register(t, e, s, "alice", "FP1"))
	assert.ErrorIs(t, register(t, e, s, "alice", "FP2"), common.ErrAlreadyExists)
}

func TestAdmit_TrialWindowFromBind(t *testing.T) {
	c := &clock{now: t0}
	e := newEngine(c)
	s := accounts.NewMemoryStore()
	require.NoError(t, register(t, e, s, "alice", "FP1"))

	// registration an hour before login does not shorten the trial
	c.now = t0.Add(time.Hour)
	out, err := admit(t, e, s, "alice", "FP1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeBound, out)

	a, _ := s.Get(context.Background(), "alice")
	assert.Empty(t, a.PendingMachine)
	assert.Equal(t, t0.Add(time.Hour), a.Machines["FP1"])

	c.now = t0.Add(time.Hour + 23*time.Hour)
	out, err = admit(t, e, s, "alice", "FP1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdmitted, out)

	c.now = t0.Add(time.Hour + 25*time.Hour)
	out, err = admit(t, e, s, "alice", "FP1")
	assert.ErrorIs(t, err, common.ErrTrialExpired)
	assert.Equal(t, OutcomeTrialExpired, out)
}

func TestAdmit_WrongMachineAndMismatch(t *testing.T) {
	c := &clock{now: t0}
	e := newEngine(c)
	s := accounts.NewMemoryStore()
	require.NoError(t, register(t, e, s, "alice", "FP1"))

	out, err := admit(t, e, s, "alice", "FP2")
	assert.ErrorIs(t, err, common.ErrWrongMachine)
	assert.Equal(t, OutcomeWrongMachine, out)

	_, err = admit(t, e, s, "alice", "FP1")
	require.NoError(t, err)

	out, err = admit(t, e, s, "alice", "FP2")
	assert.ErrorIs(t, err, common.ErrMachineMismatch)
	assert.Equal(t, OutcomeMachineMismatch, out)
}

func TestAdmit_PaidBindsAnyMachineOnceThenMismatch(t *testing.T) {
	c := &clock{now: t0}
	e := newEngine(c)
	s := accounts.NewMemoryStore()
	require.NoError(t, register(t, e, s, "alice", "FP1"))

	err := s.Atomically(context.Background(), []string{accounts.AccountKey("alice")}, func(ctx context.Context, repo accounts.Repository) error {
		a, err := repo.Get(ctx, "alice")
		require.NoError(t, err)
		require.NoError(t, e.Extend(a, 30))
		return repo.Save(ctx, a)
	})
	require.NoError(t, err)

	out, err := admit(t, e, s, "alice", "FP9")
	require.NoError(t, err)
	assert.Equal(t, OutcomeBound, out)

	_, err = admit(t, e, s, "alice", "FP1")
	assert.ErrorIs(t, err, common.ErrMachineMismatch)

	// paid accounts have no 24h limit
	c.now = t0.Add(10 * 24 * time.Hour)
	_, err = admit(t, e, s, "alice", "FP9")
	assert.NoError(t, err)

	c.now = t0.Add(31 * 24 * time.Hour)
	out, err = admit(t, e, s, "alice", "FP9")
	assert.ErrorIs(t, err, common.ErrExpired)
	assert.Equal(t, OutcomeExpired, out)
}

func TestAdmit_ExpiredCheckedBeforeMachine(t *testing.T) {
	c := &clock{now: t0}
	e := newEngine(c)

	past := t0.Add(-time.Minute)
	acct := &models.Account{Username: "a", PaidUntil: &past, Machines: map[string]time.Time{"FP1": t0}}

	out, err := e.Admit(context.Background(), nil, acct, "OTHER")
	assert.ErrorIs(t, err, common.ErrExpired)
	assert.Equal(t, OutcomeExpired, out)

	expiresNow := t0
	acct.PaidUntil = &expiresNow
	_, err = e.Admit(context.Background(), nil, acct, "FP1")
	assert.ErrorIs(t, err, common.ErrExpired, "expiry equal to now is expired")
}

func TestAdmit_QuotaRecheckAtFinalize(t *testing.T) {
	c := &clock{now: t0}
	e := newEngine(c)
	s := accounts.NewMemoryStore()
	ctx := context.Background()

	// an admin-created trial without a machine, then two trials on FP1
	require.NoError(t, s.Atomically(ctx, []string{accounts.AccountKey("zed")}, func(ctx context.Context, repo accounts.Repository) error {
		return repo.Insert(ctx, &models.Account{Username: "zed", CredentialHash: "h", Machines: map[string]time.Time{}})
	}))
	require.NoError(t, register(t, e, s, "alice", "FP1"))
	require.NoError(t, register(t, e, s, "bob", "FP1"))

	out, err := admit(t, e, s, "zed", "FP1")
	assert.ErrorIs(t, err, common.ErrQuotaExceeded)
	assert.Equal(t, OutcomeQuotaExceeded, out)

	a, _ := s.Get(ctx, "zed")
	assert.Empty(t, a.Machines, "rejected login must not bind")

	_, err = admit(t, e, s, "alice", "FP1")
	assert.NoError(t, err, "own slot is excluded")
}

func TestAdmit_EmptyFingerprint(t *testing.T) {
	e := newEngine(&clock{now: t0})
	_, err := e.Admit(context.Background(), nil, &models.Account{}, "")
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestDaysLeft(t *testing.T) {
	c := &clock{now: t0}
	e := newEngine(c)

	paid := func(d time.Duration) *models.Account {
		until := t0.Add(d)
		return &models.Account{PaidUntil: &until}
	}
	bound := func(at time.Time) *models.Account {
		return &models.Account{Machines: map[string]time.Time{"FP1": at}}
	}

	tests := []struct {
		name string
		acct *models.Account
		fp   string
		want int
	}{
		{"paid 30 days", paid(30 * 24 * time.Hour), "", 30},
		{"paid floors partial day", paid(36 * time.Hour), "", 1},
		{"paid under a day", paid(time.Hour), "", 0},
		{"paid expired floors negative", paid(-time.Hour), "", -1},
		{"trial unbound placeholder", &models.Account{PendingMachine: "FP1"}, "FP1", 1},
		{"trial fresh bind", bound(t0), "FP1", 1},
		{"trial minutes left", bound(t0.Add(-23*time.Hour - 59*time.Minute)), "FP1", 1},
		{"trial fallback to bound machine", bound(t0.Add(-time.Hour)), "", 1},
		{"trial other machine falls back", bound(t0.Add(-time.Hour)), "FP2", 1},
		{"trial over", bound(t0.Add(-25 * time.Hour)), "FP1", 0},
		{"trial long over", bound(t0.Add(-73 * time.Hour)), "FP1", -2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, e.DaysLeft(tc.acct, tc.fp))
		})
	}
}

func TestExtend_Stacking(t *testing.T) {
	c := &clock{now: t0}
	e := newEngine(c)
	a := &models.Account{PendingMachine: "FP1"}

	require.NoError(t, e.Extend(a, 30))
	assert.Equal(t, t0.Add(30*24*time.Hour), *a.PaidUntil)
	assert.Empty(t, a.PendingMachine)

	require.NoError(t, e.Extend(a, 7))
	assert.Equal(t, t0.Add(37*24*time.Hour), *a.PaidUntil)

	// a lapsed expiry restarts from now
	c.now = t0.Add(100 * 24 * time.Hour)
	require.NoError(t, e.Extend(a, 7))
	assert.Equal(t, c.now.Add(7*24*time.Hour), *a.PaidUntil)

	assert.ErrorIs(t, e.Extend(a, 0), common.ErrInvalidInput)
	assert.ErrorIs(t, e.Extend(a, -3), common.ErrInvalidInput)
}

func TestSetExact(t *testing.T) {
	c := &clock{now: t0}
	e := newEngine(c)
	until := t0.Add(300 * 24 * time.Hour)
	a := &models.Account{PaidUntil: &until}

	require.NoError(t, e.SetExact(a, 5))
	assert.Equal(t, t0.Add(5*24*time.Hour), *a.PaidUntil)

	require.NoError(t, e.SetExact(a, 0))
	assert.Equal(t, t0, *a.PaidUntil)

	assert.ErrorIs(t, e.SetExact(a, -1), common.ErrInvalidInput)
}

func TestCodeDays(t *testing.T) {
	e := newEngine(&clock{now: t0})

	tests := []struct {
		code string
		want int
		err  error
	}{
		{"DX7", 7, nil},
		{"  dx30 ", 30, nil},
		{"Dx365", 365, nil},
		{"DX1", 0, common.ErrInvalidCode},
		{"", 0, common.ErrInvalidCode},
	}
	for _, tc := range tests {
		got, err := e.CodeDays(tc.code)
		if tc.err != nil {
			assert.ErrorIs(t, err, tc.err, tc.code)
			assert.ErrorIs(t, err, common.ErrInvalidInput)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}

func TestTrialEndsAt(t *testing.T) {
	e := newEngine(&clock{now: t0})

	_, ok := e.TrialEndsAt(&models.Account{})
	assert.False(t, ok)

	end, ok := e.TrialEndsAt(&models.Account{Machines: map[string]time.Time{"FP": t0}})
	assert.True(t, ok)
	assert.Equal(t, t0.Add(TrialPeriod), end)

	until := t0
	_, ok = e.TrialEndsAt(&models.Account{PaidUntil: &until, Machines: map[string]time.Time{"FP": t0}})
	assert.False(t, ok)
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, OutcomeAdmitted, OutcomeOf(nil))
	assert.Equal(t, OutcomeQuotaExceeded, OutcomeOf(common.ErrQuotaExceeded))
	assert.Equal(t, OutcomeError, OutcomeOf(common.ErrorInternal))
}
