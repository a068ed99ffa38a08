package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAccount_Plan(t *testing.T) {
	a := &Account{}
	assert.Equal(t, PlanTrial, a.Plan())
	assert.True(t, a.IsTrial())

	exp := time.Now()
	a.PaidUntil = &exp
	assert.Equal(t, PlanPaid, a.Plan())
	assert.False(t, a.IsTrial())
}

func TestAccount_OccupiesTrialSlot(t *testing.T) {
	now := time.Now()
	exp := now.Add(time.Hour)

	tests := []struct {
		name string
		acct *Account
		fp   string
		want bool
	}{
		{"pending trial", &Account{PendingMachine: "FP1"}, "FP1", true},
		{"bound trial", &Account{Machines: map[string]time.Time{"FP1": now}}, "FP1", true},
		{"other machine", &Account{PendingMachine: "FP2"}, "FP1", false},
		{"paid pending", &Account{PendingMachine: "FP1", PaidUntil: &exp}, "FP1", false},
		{"paid bound", &Account{Machines: map[string]time.Time{"FP1": now}, PaidUntil: &exp}, "FP1", false},
		{"empty fingerprint", &Account{}, "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.acct.OccupiesTrialSlot(tc.fp))
		})
	}
}

func TestAccount_BindAndFirstBinding(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := &Account{PendingMachine: "FP1"}

	_, _, ok := a.FirstBinding()
	assert.False(t, ok)
	assert.False(t, a.HasBinding())

	a.Bind("FP1", t0)
	assert.Empty(t, a.PendingMachine)
	assert.True(t, a.HasBinding())

	at, ok := a.BoundAt("FP1")
	assert.True(t, ok)
	assert.Equal(t, t0, at)

	a.Machines["FP0"] = t0.Add(time.Hour)
	fp, at, ok := a.FirstBinding()
	assert.True(t, ok)
	assert.Equal(t, "FP1", fp)
	assert.Equal(t, t0, at)
	assert.Equal(t, []string{"FP0", "FP1"}, a.MachineList())
}

func TestAccount_Clone(t *testing.T) {
	exp := time.Now()
	a := &Account{Username: "alice", PaidUntil: &exp, Machines: map[string]time.Time{"FP1": exp}}

	c := a.Clone()
	c.Machines["FP2"] = exp
	*c.PaidUntil = exp.Add(time.Hour)

	assert.Len(t, a.Machines, 1)
	assert.Equal(t, exp, *a.PaidUntil)
	assert.Nil(t, (*Account)(nil).Clone())
}

func TestSession_Expired(t *testing.T) {
	now := time.Now()
	s := &Session{ExpiresAt: now}
	assert.True(t, s.Expired(now))
	assert.False(t, s.Expired(now.Add(-time.Second)))
}
