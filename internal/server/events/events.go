// Package events publishes entitlement changes for downstream consumers.
// Publishing is best effort: callers log failures and carry on.
package events

import (
	"context"
	"time"

	"github.com/dmitrijs2005/licensekeeper/internal/logging"
)

const (
	AccountRegistered = "account.registered"
	AccountBound      = "account.bound"
	LicenseRedeemed   = "license.redeemed"
	AdminCreated      = "admin.account_created"
	AdminPaidChanged  = "admin.paid_changed"
	AdminPasswordSet  = "admin.password_reset"
	AdminRenamed      = "admin.account_renamed"
	AdminDeleted      = "admin.account_deleted"
	AdminBackup       = "admin.backup_created"
)

// Event is the JSON body of every published message.
type Event struct {
	Type        string     `json:"type"`
	Username    string     `json:"username"`
	Fingerprint string     `json:"fingerprint,omitempty"`
	PaidUntil   *time.Time `json:"paid_until,omitempty"`
	Detail      string     `json:"detail,omitempty"`
	At          time.Time  `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// LogPublisher writes events to the log instead of a broker.
type LogPublisher struct {
	logger logging.Logger
}

func NewLogPublisher(l logging.Logger) *LogPublisher {
	return &LogPublisher{logger: l.With("module", "events")}
}

func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	p.logger.Info(ctx, "event", "type", e.Type, "username", e.Username, "fingerprint", e.Fingerprint, "detail", e.Detail)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
