// Package quota enforces how many trial accounts one machine may hold.
//
// Counts are recomputed from the account table on every call and must be
// taken inside the caller's critical section on the fingerprint key.
package quota

import (
	"context"

	"github.com/dmitrijs2005/licensekeeper/internal/common"
	"github.com/dmitrijs2005/licensekeeper/internal/server/models"
	"github.com/dmitrijs2005/licensekeeper/internal/server/repositories/accounts"
)

// Counter is the part of accounts.Repository the tracker needs.
type Counter interface {
	CountTrialUsers(ctx context.Context, fp string) (int, error)
}

var _ Counter = accounts.Repository(nil)

// Usage describes how many trial slots of a machine are taken.
type Usage struct {
	Fingerprint string
	Used        int
	Limit       int
}

func (u Usage) Exhausted() bool {
	return u.Used >= u.Limit
}

type Tracker struct {
	limit int
}

func NewTracker() *Tracker {
	return &Tracker{limit: common.MaxTrialsPerMachine}
}

func (t *Tracker) Limit() int {
	return t.limit
}

// Usage reports the current tally for fp.
func (t *Tracker) Usage(ctx context.Context, c Counter, fp string) (Usage, error) {
	n, err := c.CountTrialUsers(ctx, fp)
	if err != nil {
		return Usage{}, err
	}
	return Usage{Fingerprint: fp, Used: n, Limit: t.limit}, nil
}

// CheckNew allows a new trial account on fp only while slots remain.
func (t *Tracker) CheckNew(ctx context.Context, c Counter, fp string) error {
	u, err := t.Usage(ctx, c, fp)
	if err != nil {
		return err
	}
	if u.Exhausted() {
		return common.ErrQuotaExceeded
	}
	return nil
}

// CheckFinalize decides whether acct may bind fp at login. The account's
// own slot does not count against it.
func (t *Tracker) CheckFinalize(ctx context.Context, c Counter, acct *models.Account, fp string) error {
	n, err := c.CountTrialUsers(ctx, fp)
	if err != nil {
		return err
	}
	if acct.OccupiesTrialSlot(fp) {
		n--
	}
	if n >= t.limit {
		return common.ErrQuotaExceeded
	}
	return nil
}
