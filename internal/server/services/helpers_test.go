package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/licensekeeper/internal/logging"
	"github.com/dmitrijs2005/licensekeeper/internal/server/auth"
	"github.com/dmitrijs2005/licensekeeper/internal/server/backup"
	"github.com/dmitrijs2005/licensekeeper/internal/server/events"
	"github.com/dmitrijs2005/licensekeeper/internal/server/license"
	"github.com/dmitrijs2005/licensekeeper/internal/server/metrics"
	"github.com/dmitrijs2005/licensekeeper/internal/server/models"
	"github.com/dmitrijs2005/licensekeeper/internal/server/quota"
	"github.com/dmitrijs2005/licensekeeper/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/licensekeeper/internal/server/repositories/sessions"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	store     accounts.Store
	sessions  sessions.Repository
	clock     *testClock
	publisher *recordingPublisher
	metrics   *metrics.Metrics
	license   *LicenseService
	admin     *AdminService
}

var testCodes = map[string]int{"DX7": 7, "DX30": 30, "DX365": 365}

// fastHashing swaps argon2 for unsalted sha256, which the verifier still
// accepts, so tests that hash many passwords stay cheap.
func fastHashing(t *testing.T) {
	t.Helper()
	orig := hashPassword
	t.Cleanup(func() { hashPassword = orig })
	hashPassword = func(p string) (string, error) {
		sum := sha256.Sum256([]byte(p))
		return hex.EncodeToString(sum[:]), nil
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, accounts.NewMemoryStore(), backup.NewUploader(backup.Settings{}))
}

func newFixtureWithStore(t *testing.T, store accounts.Store, uploader *backup.Uploader) *fixture {
	t.Helper()
	return newFixtureWithSessions(t, store, uploader, sessions.NewMemoryRepository())
}

func newFixtureWithSessions(t *testing.T, store accounts.Store, uploader *backup.Uploader, repo sessions.Repository) *fixture {
	t.Helper()

	clock := &testClock{t: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	engine := license.NewEngine(quota.NewTracker(), testCodes, license.WithClock(clock.Now))
	authority := auth.NewAuthority(repo, []byte("secret"), 24*time.Hour)
	pub := &recordingPublisher{}
	m := metrics.New()
	logger := logging.Nop()

	return &fixture{
		store:     store,
		sessions:  repo,
		clock:     clock,
		publisher: pub,
		metrics:   m,
		license:   NewLicenseService(store, engine, authority, pub, m, logger),
		admin: NewAdminService(store, engine, authority, uploader, pub, m, logger,
			AdminCredentials{Username: "admin", Password: "123456"}),
	}
}

// hookedSessions runs onCreate after each stored session.
type hookedSessions struct {
	sessions.Repository
	onCreate func(ctx context.Context, s *models.Session)
	created  []string
}

func (r *hookedSessions) Create(ctx context.Context, s *models.Session) error {
	if err := r.Repository.Create(ctx, s); err != nil {
		return err
	}
	r.created = append(r.created, s.ID)
	if r.onCreate != nil {
		r.onCreate(ctx, s)
	}
	return nil
}
