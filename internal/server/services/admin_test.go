package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/licensekeeper/internal/common"
	"github.com/dmitrijs2005/licensekeeper/internal/server/events"
	"github.com/dmitrijs2005/licensekeeper/internal/server/models"
	"github.com/dmitrijs2005/licensekeeper/internal/server/repositories/accounts"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.admin.Login(ctx, "admin", "wrong")
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)

	t1, err := f.admin.Login(ctx, "admin", "123456")
	require.NoError(t, err)
	t2, err := f.admin.Login(ctx, "admin", "123456")
	require.NoError(t, err)

	for _, tok := range []string{t1, t2} {
		name, err := f.admin.Authenticate(ctx, tok)
		require.NoError(t, err)
		assert.Equal(t, "admin", name)
	}

	_, err = f.license.Authenticate(ctx, t1)
	assert.ErrorIs(t, err, common.ErrInsufficientScope)

	require.NoError(t, f.admin.Logout(ctx, t1))
	_, err = f.admin.Authenticate(ctx, t1)
	assert.ErrorIs(t, err, common.ErrUnauthenticated)
	_, err = f.admin.Authenticate(ctx, t2)
	assert.NoError(t, err)
}

func TestAdmin_UserTokenCannotAdmin(t *testing.T) {
	fastHashing(t)
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.license.Register(ctx, "alice", "pw", "FP1"))
	tok, err := f.license.Login(ctx, "alice", "pw", "FP1")
	require.NoError(t, err)

	_, err = f.admin.Authenticate(ctx, tok)
	assert.ErrorIs(t, err, common.ErrInsufficientScope)
	assert.ErrorIs(t, err, common.ErrForbidden)
}

func TestAdmin_ExtendAndSetExact(t *testing.T) {
	fastHashing(t)
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.license.Register(ctx, "alice", "pw", "FP1"))
	now := f.clock.Now()

	v, err := f.admin.ExtendPaid(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Equal(t, models.PlanPaid, v.Plan)
	assert.Equal(t, 10, v.DaysLeft)
	assert.Empty(t, v.PendingMachine)

	v, err = f.admin.ExtendPaid(ctx, "ALICE", 5)
	require.NoError(t, err)
	assert.True(t, v.PaidUntil.Equal(now.Add(15*24*time.Hour)))

	v, err = f.admin.SetPaidExact(ctx, "alice", 3)
	require.NoError(t, err)
	assert.True(t, v.PaidUntil.Equal(now.Add(3*24*time.Hour)))

	v, err = f.admin.SetPaidExact(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, v.DaysLeft)

	_, err = f.admin.ExtendPaid(ctx, "alice", 0)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = f.admin.SetPaidExact(ctx, "alice", -1)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = f.admin.ExtendPaid(ctx, "ghost", 1)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.AdminOps.WithLabelValues("set_paid", "ok")))
}

func TestAdmin_ExtendPastExpiryRestartsFromNow(t *testing.T) {
	fastHashing(t)
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.license.Register(ctx, "alice", "pw", "FP1"))

	_, err := f.admin.ExtendPaid(ctx, "alice", 1)
	require.NoError(t, err)
	f.clock.Advance(5 * 24 * time.Hour)

	v, err := f.admin.ExtendPaid(ctx, "alice", 2)
	require.NoError(t, err)
	assert.True(t, v.PaidUntil.Equal(f.clock.Now().Add(2*24*time.Hour)))
}

func TestAdmin_ResetPassword(t *testing.T) {
	fastHashing(t)
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.license.Register(ctx, "alice", "pw", "FP1"))

	assert.ErrorIs(t, f.admin.ResetPassword(ctx, "alice", ""), common.ErrInvalidInput)
	assert.ErrorIs(t, f.admin.ResetPassword(ctx, "ghost", "x"), common.ErrorNotFound)
	require.NoError(t, f.admin.ResetPassword(ctx, "alice", "fresh"))

	_, err := f.license.Login(ctx, "alice", "fresh", "FP1")
	assert.NoError(t, err)
}

func TestAdmin_RenameMigratesSessions(t *testing.T) {
	fastHashing(t)
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.license.Register(ctx, "alice", "pw", "FP1"))
	tok, err := f.license.Login(ctx, "alice", "pw", "FP1")
	require.NoError(t, err)

	require.NoError(t, f.admin.Rename(ctx, "alice", " Alicia "))

	user, err := f.license.Authenticate(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, "alicia", user)

	p, err := f.license.Profile(ctx, user, "FP1")
	require.NoError(t, err)
	assert.Equal(t, "alicia", p.Username)

	_, err = f.license.Login(ctx, "alice", "pw", "FP1")
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)
	_, err = f.license.Login(ctx, "alicia", "pw", "FP1")
	assert.NoError(t, err)

	assert.Contains(t, f.publisher.types(), events.AdminRenamed)
}

func TestAdmin_RenameErrors(t *testing.T) {
	fastHashing(t)
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.license.Register(ctx, "alice", "pw", "FP1"))
	require.NoError(t, f.license.Register(ctx, "bob", "pw", "FP2"))

	assert.ErrorIs(t, f.admin.Rename(ctx, "alice", "bob"), common.ErrConflict)
	assert.ErrorIs(t, f.admin.Rename(ctx, "ghost", "carol"), common.ErrorNotFound)
	assert.ErrorIs(t, f.admin.Rename(ctx, "alice", ""), common.ErrInvalidInput)
	assert.ErrorIs(t, f.admin.Rename(ctx, "alice", "ALICE"), common.ErrInvalidInput)
}

// commitFailingStore runs the critical section and then reports a failed
// commit, the way a durable write error would.
type commitFailingStore struct {
	accounts.Store
}

func (s commitFailingStore) Atomically(ctx context.Context, keys []string, fn func(ctx context.Context, repo accounts.Repository) error) error {
	err := s.Store.Atomically(ctx, keys, func(ctx context.Context, repo accounts.Repository) error {
		if err := fn(ctx, repo); err != nil {
			return err
		}
		return errors.New("persist accounts: disk full")
	})
	return err
}

func TestAdmin_RenameRollsBackSessionsOnCommitFailure(t *testing.T) {
	fastHashing(t)
	inner := accounts.NewMemoryStore()
	ok := newFixtureWithStore(t, inner, nil)
	ctx := context.Background()
	require.NoError(t, ok.license.Register(ctx, "alice", "pw", "FP1"))
	tok, err := ok.license.Login(ctx, "alice", "pw", "FP1")
	require.NoError(t, err)

	broken := newFixtureWithStore(t, commitFailingStore{inner}, nil)
	broken.admin.authority = ok.admin.authority

	err = broken.admin.Rename(ctx, "alice", "alicia")
	require.Error(t, err)

	user, err := ok.license.Authenticate(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", user)

	_, err = inner.Get(ctx, "alice")
	assert.NoError(t, err)
	_, err = inner.Get(ctx, "alicia")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestAdmin_DeleteRevokesSessions(t *testing.T) {
	fastHashing(t)
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.license.Register(ctx, "alice", "pw", "FP1"))
	tok, err := f.license.Login(ctx, "alice", "pw", "FP1")
	require.NoError(t, err)

	require.NoError(t, f.admin.Delete(ctx, "alice"))
	_, err = f.license.Authenticate(ctx, tok)
	assert.ErrorIs(t, err, common.ErrUnauthenticated)

	assert.ErrorIs(t, f.admin.Delete(ctx, "alice"), common.ErrorNotFound)

	require.NoError(t, f.license.Register(ctx, "alice2", "pw", "FP1"), "deleted account frees its slot")
}

func TestAdmin_Create(t *testing.T) {
	fastHashing(t)
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.license.Register(ctx, "a", "pw", "FP1"))
	require.NoError(t, f.license.Register(ctx, "b", "pw", "FP1"))

	v, warning, err := f.admin.Create(ctx, CreateAccountRequest{Username: "C", Password: "pw", PendingMachine: "fp1"})
	require.NoError(t, err)
	assert.Equal(t, "c", v.Username)
	assert.Equal(t, "FP1", v.PendingMachine)
	assert.Contains(t, warning, "FP1")

	v, warning, err = f.admin.Create(ctx, CreateAccountRequest{Username: "d", Password: "pw", PendingMachine: "FP1", PaidDays: 30})
	require.NoError(t, err)
	assert.Empty(t, warning)
	assert.Equal(t, models.PlanPaid, v.Plan)
	assert.Equal(t, "FP1", v.PendingMachine)
	assert.Equal(t, 30, v.DaysLeft)

	v, warning, err = f.admin.Create(ctx, CreateAccountRequest{Username: "e", Password: "pw"})
	require.NoError(t, err)
	assert.Empty(t, warning)
	assert.Equal(t, models.PlanTrial, v.Plan)

	_, _, err = f.admin.Create(ctx, CreateAccountRequest{Username: "e", Password: "pw"})
	assert.ErrorIs(t, err, common.ErrAlreadyExists)
	_, _, err = f.admin.Create(ctx, CreateAccountRequest{Username: "f", Password: "pw", PaidDays: -1})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestAdmin_ListAndGet(t *testing.T) {
	fastHashing(t)
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.license.Register(ctx, "bob", "pw", "FP2"))
	require.NoError(t, f.license.Register(ctx, "alice", "pw", "FP1"))
	_, err := f.license.Login(ctx, "alice", "pw", "FP1")
	require.NoError(t, err)

	list, err := f.admin.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alice", list[0].Username)
	assert.Equal(t, []string{"FP1"}, list[0].Machines)
	require.NotNil(t, list[0].TrialEndsAt)
	assert.True(t, list[0].TrialEndsAt.Equal(f.clock.Now().Add(24*time.Hour)))
	assert.Nil(t, list[1].TrialEndsAt)

	v, err := f.admin.Get(ctx, "BOB")
	require.NoError(t, err)
	assert.Equal(t, "FP2", v.PendingMachine)

	_, err = f.admin.Get(ctx, "ghost")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestAdmin_BackupDisabled(t *testing.T) {
	f := newFixture(t)
	_, err := f.admin.Backup(context.Background())
	assert.ErrorIs(t, err, common.ErrBackupNotConfigured)
}

func TestAdmin_SessionSurvivesSameNamedAccount(t *testing.T) {
	fastHashing(t)
	f := newFixture(t)
	ctx := context.Background()

	adminTok, err := f.admin.Login(ctx, "admin", "123456")
	require.NoError(t, err)

	_, _, err = f.admin.Create(ctx, CreateAccountRequest{Username: "admin", Password: "pw", PendingMachine: "FP1"})
	require.NoError(t, err)
	userTok, err := f.license.Login(ctx, "admin", "pw", "FP1")
	require.NoError(t, err)

	require.NoError(t, f.admin.Rename(ctx, "admin", "former"))
	name, err := f.admin.Authenticate(ctx, adminTok)
	require.NoError(t, err)
	assert.Equal(t, "admin", name)
	name, err = f.license.Authenticate(ctx, userTok)
	require.NoError(t, err)
	assert.Equal(t, "former", name)

	require.NoError(t, f.admin.Rename(ctx, "former", "admin"))
	require.NoError(t, f.admin.Delete(ctx, "admin"))
	_, err = f.license.Authenticate(ctx, userTok)
	assert.ErrorIs(t, err, common.ErrUnauthenticated)
	name, err = f.admin.Authenticate(ctx, adminTok)
	require.NoError(t, err)
	assert.Equal(t, "admin", name)
}
