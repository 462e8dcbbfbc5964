// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initInfra: Redis and Postgres connections, schema migrations
//  2. initServices: metrics, store facade, graph resolver, usage tracker
//  3. initRecorder: request-log pipeline and its sinks
//  4. initServer: HTTP surface
//
// Close releases everything in reverse order; a failed init step closes
// whatever came up before it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/errgroup"

	"github.com/nulpointcorp/llmur/internal/config"
	"github.com/nulpointcorp/llmur/internal/crypto"
	"github.com/nulpointcorp/llmur/internal/graph"
	"github.com/nulpointcorp/llmur/internal/metrics"
	"github.com/nulpointcorp/llmur/internal/reqlog"
	"github.com/nulpointcorp/llmur/internal/store"
	"github.com/nulpointcorp/llmur/internal/usage"
)

// drainTimeout bounds the graceful shutdown after the context is cancelled.
const drainTimeout = 10 * time.Second

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	log     *slog.Logger

	// secret is the pepper derived from the configured application secret.
	secret uuid.UUID

	rdb *redis.Client
	db  *store.Postgres

	st       *store.Store
	resolver *graph.Resolver
	tracker  *usage.Tracker

	chSink   *reqlog.ClickHouse
	recorder *reqlog.Recorder

	prom *metrics.Registry

	srv *fasthttp.Server
}

// New initialises all subsystems and returns a ready-to-run App.
// All resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}

	a := &App{
		version: version,
		cfg:     cfg,
		log:     log,
		secret:  crypto.DeriveID(cfg.ApplicationSecret),
	}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"infra", a.initInfra},
		{"services", a.initServices},
		{"recorder", a.initRecorder},
		{"server", a.initServer},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails. On cancellation in-flight requests get drainTimeout to
// finish.
func (a *App) Run(ctx context.Context) error {
	addr := a.cfg.ListenAddr()

	a.log.Info("server_starting",
		slog.String("version", a.version),
		slog.String("addr", addr),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.srv.ListenAndServe(addr); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server_draining")
		drain, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		return a.srv.ShutdownWithContext(drain)
	})

	return g.Wait()
}

// Close releases all resources in reverse-init order. Safe to call multiple
// times. The recorder goes first so its final flush still reaches the store.
func (a *App) Close() {
	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			a.log.Error("recorder_close_error", slog.String("error", err.Error()))
		}
		a.recorder = nil
	}
	if a.chSink != nil {
		if err := a.chSink.Close(); err != nil {
			a.log.Error("clickhouse_close_error", slog.String("error", err.Error()))
		}
		a.chSink = nil
	}
	if a.st != nil {
		// The store owns the database handle.
		if err := a.st.Close(); err != nil {
			a.log.Error("store_close_error", slog.String("error", err.Error()))
		}
		a.st = nil
		a.db = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Error("database_close_error", slog.String("error", err.Error()))
		}
		a.db = nil
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis_close_error", slog.String("error", err.Error()))
		}
		a.rdb = nil
	}
}

// connectRedis builds the client and verifies connectivity with a PING.
func connectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Username: cfg.Cache.Username,
		Password: cfg.Cache.Password,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return rdb, nil
}
