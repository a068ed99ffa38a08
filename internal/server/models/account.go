// Package models holds the server-side domain records shared by
// repositories, services and transports.
package models

import (
	"sort"
	"time"
)

// Plan is the entitlement kind of an account.
type Plan string

const (
	PlanTrial Plan = "trial"
	PlanPaid  Plan = "paid"
)

// Account is the entitlement record of one username.
//
// The plan is derived from PaidUntil: an account is paid exactly when it
// carries an expiry, so the two can never disagree. Machines maps a bound
// fingerprint to the moment it was bound; once finalized it holds at most
// one entry.
type Account struct {
	ID             string
	Username       string
	CredentialHash string
	PaidUntil      *time.Time
	Machines       map[string]time.Time
	PendingMachine string
	CreatedAt      time.Time
}

func (a *Account) Plan() Plan {
	if a.PaidUntil != nil {
		return PlanPaid
	}
	return PlanTrial
}

func (a *Account) IsTrial() bool {
	return a.PaidUntil == nil
}

// HasBinding reports whether at least one machine is bound.
func (a *Account) HasBinding() bool {
	return len(a.Machines) > 0
}

// BoundAt returns the bind time of fingerprint fp.
func (a *Account) BoundAt(fp string) (time.Time, bool) {
	t, ok := a.Machines[fp]
	return t, ok
}

// FirstBinding returns the earliest bound machine.
func (a *Account) FirstBinding() (string, time.Time, bool) {
	if len(a.Machines) == 0 {
		return "", time.Time{}, false
	}
	fps := a.MachineList()
	first := fps[0]
	for _, fp := range fps[1:] {
		if a.Machines[fp].Before(a.Machines[first]) {
			first = fp
		}
	}
	return first, a.Machines[first], true
}

// MachineList returns the bound fingerprints in ascending order.
func (a *Account) MachineList() []string {
	out := make([]string, 0, len(a.Machines))
	for fp := range a.Machines {
		out = append(out, fp)
	}
	sort.Strings(out)
	return out
}

// OccupiesTrialSlot reports whether the account counts against the trial
// quota of fingerprint fp.
func (a *Account) OccupiesTrialSlot(fp string) bool {
	if !a.IsTrial() || fp == "" {
		return false
	}
	if a.PendingMachine == fp {
		return true
	}
	_, ok := a.Machines[fp]
	return ok
}

// Bind makes fp the only bound machine and clears the pending one.
func (a *Account) Bind(fp string, at time.Time) {
	a.Machines = map[string]time.Time{fp: at}
	a.PendingMachine = ""
}

// Clone returns a deep copy that can be mutated independently.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.PaidUntil != nil {
		t := *a.PaidUntil
		c.PaidUntil = &t
	}
	c.Machines = make(map[string]time.Time, len(a.Machines))
	for k, v := range a.Machines {
		c.Machines[k] = v
	}
	return &c
}
