// Package server initializes and runs the authnzerver: it wires the
// configuration, credential store, domain services, dispatcher, and HTTP
// frontend together, and handles graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/waqasbhatti/authnzerver/internal/account"
	"github.com/waqasbhatti/authnzerver/internal/apikeys"
	"github.com/waqasbhatti/authnzerver/internal/auth"
	"github.com/waqasbhatti/authnzerver/internal/authdb"
	"github.com/waqasbhatti/authnzerver/internal/config"
	"github.com/waqasbhatti/authnzerver/internal/dispatch"
	"github.com/waqasbhatti/authnzerver/internal/emailer"
	"github.com/waqasbhatti/authnzerver/internal/envelope"
	"github.com/waqasbhatti/authnzerver/internal/frontend"
	"github.com/waqasbhatti/authnzerver/internal/logging"
	"github.com/waqasbhatti/authnzerver/internal/passwd"
	"github.com/waqasbhatti/authnzerver/internal/ratelimit"
	"github.com/waqasbhatti/authnzerver/internal/session"
)

// sweepInterval is how often the stale-session sweeper runs.
const sweepInterval = time.Hour

// App is the assembled server.
type App struct {
	config   *config.Config
	logger   logging.Logger
	store    *authdb.Store
	sessions *session.Service
	frontend *frontend.Frontend
	rdb      *redis.Client
}

// NewApp wires a runnable server from the configuration. The envelope
// secret file must already exist (see Autosetup).
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, slog.LevelInfo)

	key, err := envelope.LoadKeyFile(cfg.SecretFile)
	if err != nil {
		return nil, fmt.Errorf("loading envelope secret: %w", err)
	}

	store, err := authdb.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("opening credential store: %w", err)
	}

	hasher := passwd.NewArgon2(passwd.DefaultArgon2Params())
	policy := passwd.DefaultPolicy(cfg.ServerHostname)

	sessions := session.NewService(store, logger)
	svcs := dispatch.Services{
		Sessions: sessions,
		Auth:     auth.NewService(store, hasher, logger),
		Accounts: account.NewService(store, hasher, policy,
			emailer.NewLogSender(logger), logger),
	}
	// The pre-shared envelope key also signs API key bundles: one secret
	// to provision, one to rotate.
	svcs.APIKeys, err = apikeys.NewService(store, key, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	limiter := ratelimit.New(rdb, logger)

	dispatcher := dispatch.New(svcs, logger, dispatch.Options{
		Workers:           cfg.Workers,
		SessionExpiryDays: cfg.SessionExpiryDays,
	})

	return &App{
		config:   cfg,
		logger:   logger,
		store:    store,
		sessions: sessions,
		frontend: frontend.New(key, dispatcher, limiter, logger),
		rdb:      rdb,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// runSweeper deletes stale sessions on a fixed interval until ctx ends.
func (app *App) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := app.sessions.Sweep(ctx, app.config.SessionRetentionDays); err != nil {
				app.logger.Error(ctx, "session sweep failed", "error", err)
			}
		}
	}
}

// Run serves until the context is canceled or a termination signal arrives,
// then shuts down cleanly.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting authnzerver", "addr", app.config.ListenAddr)
	app.initSignalHandler(cancelFunc)

	srv := &http.Server{
		Addr:              app.config.ListenAddr,
		Handler:           app.frontend.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		app.runSweeper(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	var err error
	select {
	case err = <-serveErr:
		cancelFunc()
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		err = srv.Shutdown(shutdownCtx)
	}
	wg.Wait()

	if closeErr := app.store.Close(); closeErr != nil {
		app.logger.Error(ctx, "credential store close failed", "error", closeErr)
	}
	if app.rdb != nil {
		_ = app.rdb.Close()
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	app.logger.Info(ctx, "authnzerver stopped")
	return nil
}
