// Package app wires the pwa-chat channel runtime: config, logging, the
// history store, the push sink, the relay, and the HTTP surface.
package app

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/junyoung-robin-kim/openclaw-pwa-chat/internal/agentruntime"
	"github.com/junyoung-robin-kim/openclaw-pwa-chat/internal/history"
	"github.com/junyoung-robin-kim/openclaw-pwa-chat/internal/push"
	"github.com/junyoung-robin-kim/openclaw-pwa-chat/internal/relay"
)

// App is the channel runtime: it owns the HTTP server wiring and the relay
// dependencies.
type App struct {
	cfg Config
	log Logger

	store     history.Store
	dbPool    *pgxpool.Pool
	dbEnabled bool

	sink    *push.Sink
	relay   *relay.Relay
	auth    *relay.AuthGate
	gateway *relay.Gateway
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogPretty)
	}

	store, dbPool, dbEnabled, err := newHistoryStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	sink, err := push.NewSink(log, filepath.Join(cfg.StateDir, "pwa-chat-push"))
	if err != nil {
		store.Close()
		if dbPool != nil {
			dbPool.Close()
		}
		return nil, err
	}

	rl := relay.New(log, store, sink, relay.Options{})
	auth := relay.NewAuthGate(cfg.AuthToken)
	gw := relay.NewGateway(log, rl, auth)

	return &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		sink:      sink,
		relay:     rl,
		auth:      auth,
		gateway:   gw,
	}, nil
}

// Relay exposes the relay engine so the host can feed outbound messages in.
func (a *App) Relay() *relay.Relay { return a.relay }

// Run starts the HTTP server and blocks until context cancellation or fatal
// server error.
func (a *App) Run(ctx context.Context) error {
	if !a.cfg.Enabled {
		a.log.Info("server.disabled")
		return nil
	}
	if !agentruntime.Configured() {
		a.log.Warn("server.agent_runtime.missing")
	}

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.dbPool, a.dbEnabled, a.gateway, a.auth, a.sink)

	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", srv.Addr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.store.Close(); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newHistoryStore decides between the default JSON file store and the
// optional Postgres backend.
func newHistoryStore(ctx context.Context, cfg Config, log Logger) (history.Store, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		dir := filepath.Join(cfg.StateDir, "pwa-chat-history")
		store, err := history.NewFileStore(dir)
		if err != nil {
			return nil, nil, false, err
		}
		log.Info("history.file_store", "dir", dir)
		return store, nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, err
	}

	store, err := history.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, false, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, false, err
	}

	log.Info("history.postgres_store")
	return store, pool, true, nil
}
