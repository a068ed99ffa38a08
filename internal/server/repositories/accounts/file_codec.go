package accounts

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/licensekeeper/internal/server/models"
)

// fileRecord is the on-disk layout of one account. The field names match
// the users.json files written by earlier releases, so they load unchanged.
type fileRecord struct {
	ID             string            `json:"id,omitempty"`
	PasswordHash   string            `json:"pw_hash"`
	PaidUntil      *string           `json:"paid_until"`
	Machines       map[string]string `json:"machines"`
	PendingMachine *string           `json:"pending_machine"`
	CreatedAt      string            `json:"created_at,omitempty"`
}

// awareLayouts carry their own UTC offset. The space-separated form is what
// older releases wrote for timezone-aware values.
var awareLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999-07:00",
}

// naiveLayouts have no offset and are read in local time.
var naiveLayouts = []string{
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05.999999",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range awareLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func toFileRecord(a *models.Account) fileRecord {
	r := fileRecord{
		ID:           a.ID,
		PasswordHash: a.CredentialHash,
		Machines:     make(map[string]string, len(a.Machines)),
	}
	if a.PaidUntil != nil {
		s := formatTime(*a.PaidUntil)
		r.PaidUntil = &s
	}
	for fp, at := range a.Machines {
		r.Machines[fp] = formatTime(at)
	}
	if a.PendingMachine != "" {
		p := a.PendingMachine
		r.PendingMachine = &p
	}
	if !a.CreatedAt.IsZero() {
		r.CreatedAt = formatTime(a.CreatedAt)
	}
	return r
}

func fromFileRecord(username string, r fileRecord) (*models.Account, error) {
	a := &models.Account{
		ID:             r.ID,
		Username:       username,
		CredentialHash: r.PasswordHash,
		Machines:       make(map[string]time.Time, len(r.Machines)),
	}
	if r.PaidUntil != nil && *r.PaidUntil != "" {
		t, err := parseTime(*r.PaidUntil)
		if err != nil {
			return nil, fmt.Errorf("account %s: paid_until: %w", username, err)
		}
		a.PaidUntil = &t
	}
	for fp, s := range r.Machines {
		t, err := parseTime(s)
		if err != nil {
			return nil, fmt.Errorf("account %s: machine %s: %w", username, fp, err)
		}
		a.Machines[fp] = t
	}
	if r.PendingMachine != nil {
		a.PendingMachine = *r.PendingMachine
	}
	if r.CreatedAt != "" {
		t, err := parseTime(r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("account %s: created_at: %w", username, err)
		}
		a.CreatedAt = t
	}
	return a, nil
}

func encodeAccounts(accts map[string]*models.Account) ([]byte, error) {
	out := make(map[string]fileRecord, len(accts))
	for name, a := range accts {
		out[name] = toFileRecord(a)
	}
	return json.MarshalIndent(out, "", "  ")
}

func decodeAccounts(b []byte) (map[string]*models.Account, error) {
	var in map[string]fileRecord
	if err := json.Unmarshal(b, &in); err != nil {
		return nil, err
	}
	out := make(map[string]*models.Account, len(in))
	for name, r := range in {
		a, err := fromFileRecord(name, r)
		if err != nil {
			return nil, err
		}
		out[name] = a
	}
	return out, nil
}
