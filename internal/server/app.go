// Package server wires the licensing server together: storage backends,
// the token authority, services, and the HTTP and gRPC listeners, and runs
// them until a shutdown signal arrives.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/licensekeeper/internal/logging"
	"github.com/dmitrijs2005/licensekeeper/internal/server/auth"
	"github.com/dmitrijs2005/licensekeeper/internal/server/backup"
	"github.com/dmitrijs2005/licensekeeper/internal/server/config"
	"github.com/dmitrijs2005/licensekeeper/internal/server/events"
	"github.com/dmitrijs2005/licensekeeper/internal/server/license"
	"github.com/dmitrijs2005/licensekeeper/internal/server/metrics"
	"github.com/dmitrijs2005/licensekeeper/internal/server/quota"
	"github.com/dmitrijs2005/licensekeeper/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/licensekeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/licensekeeper/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/licensekeeper/internal/server/rest"
	"github.com/dmitrijs2005/licensekeeper/internal/server/services"
	"github.com/redis/go-redis/v9"

	gs "github.com/dmitrijs2005/licensekeeper/internal/server/grpc"
)

const redisKeyPrefix = "licensekeeper:"

// openPostgres is a seam for tests.
var openPostgres = repomanager.OpenPostgres

type App struct {
	config         *config.Config
	logger         logging.Logger
	metrics        *metrics.Metrics
	licenseService *services.LicenseService
	adminService   *services.AdminService
	closers        []func() error
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, logging.ParseLevel(c.LogLevel))
	return newApp(ctx, c, logger)
}

func newApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	app := &App{config: c, logger: logger, metrics: metrics.New()}

	if c.UsesDefaultAdminCredentials() {
		logger.Warn(ctx, "default admin credentials in use, set ADMIN_USER and ADMIN_PASS")
	}

	rm, err := repomanager.NewPostgresRepositoryManager(nil)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	if c.StorageBackend == config.BackendPostgres || c.SessionBackend == config.BackendPostgres {
		db, err = openPostgres(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		app.closers = append(app.closers, db.Close)

		if err := rm.RunMigrations(ctx, db); err != nil {
			app.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
	}

	store, err := app.openAccounts(rm, db)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.closers = append(app.closers, store.Close)

	sessionRepo, err := app.openSessions(ctx, rm, db)
	if err != nil {
		app.Close()
		return nil, err
	}

	publisher := app.openPublisher(ctx)
	app.closers = append(app.closers, publisher.Close)

	engine := license.NewEngine(quota.NewTracker(), c.RedeemCodes)
	authority := auth.NewAuthority(sessionRepo, []byte(c.SecretKey), c.TokenTTL)
	uploader := backup.NewUploader(backup.Settings{
		Bucket:       c.S3Bucket,
		Region:       c.S3Region,
		AccessKey:    c.S3RootUser,
		SecretKey:    c.S3RootPassword,
		BaseEndpoint: c.S3BaseEndpoint,
	})

	app.licenseService = services.NewLicenseService(store, engine, authority, publisher, app.metrics, logger)
	app.adminService = services.NewAdminService(store, engine, authority, uploader, publisher, app.metrics, logger,
		services.AdminCredentials{Username: c.AdminUser, Password: c.AdminPassword})

	return app, nil
}

func (app *App) openAccounts(rm repomanager.RepositoryManager, db *sql.DB) (accounts.Store, error) {
	switch app.config.StorageBackend {
	case config.BackendPostgres:
		return rm.Accounts(db), nil
	case config.BackendMemory:
		return accounts.NewMemoryStore(), nil
	case config.BackendFile, "":
		store, err := accounts.NewFileStore(app.config.DataFile)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", app.config.DataFile, err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", app.config.StorageBackend)
	}
}

func (app *App) openSessions(ctx context.Context, rm repomanager.RepositoryManager, db *sql.DB) (sessions.Repository, error) {
	switch app.config.SessionBackend {
	case config.BackendPostgres:
		return rm.Sessions(db), nil
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     app.config.RedisAddr,
			Password: app.config.RedisPassword,
			DB:       app.config.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		app.closers = append(app.closers, client.Close)
		return sessions.NewRedisRepository(client, redisKeyPrefix), nil
	case config.BackendMemory, "":
		return sessions.NewMemoryRepository(), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", app.config.SessionBackend)
	}
}

// openPublisher falls back to logging events when no broker is configured
// or reachable.
func (app *App) openPublisher(ctx context.Context) events.Publisher {
	if app.config.AMQPURL == "" {
		return events.NewLogPublisher(app.logger)
	}
	p, err := events.DialAMQP(app.config.AMQPURL, app.config.EventsExchange)
	if err != nil {
		app.logger.Warn(ctx, "amqp unavailable, events will only be logged", "error", err)
		return events.NewLogPublisher(app.logger)
	}
	return p
}

// Close releases backends in reverse order of opening.
func (app *App) Close() error {
	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		errs = append(errs, app.closers[i]())
	}
	app.closers = nil
	return errors.Join(errs...)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.GRPCAddr, app.logger, app.licenseService, app.metrics)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	h := rest.NewHandler(app.licenseService, app.adminService, app.logger)
	router := rest.NewRouter(h, app.metrics, rest.RouterOptions{
		RateLimitRPS:   app.config.RateLimitRPS,
		RateLimitBurst: app.config.RateLimitBurst,
		AllowedOrigins: app.config.CORSAllowedOrigins,
		TrustProxy:     app.config.TrustProxyHeaders,
	})
	if err := rest.NewServer(app.config.HTTPAddr, router, app.logger).Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run serves until ctx is cancelled, a signal arrives or a listener fails.
func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.Close(); err != nil {
		app.logger.Error(ctx, "shutdown", "error", err)
	}
	app.logger.Info(ctx, "Stopped")
}
