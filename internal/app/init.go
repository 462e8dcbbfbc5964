package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/llmur/internal/graph"
	"github.com/nulpointcorp/llmur/internal/metrics"
	"github.com/nulpointcorp/llmur/internal/proxy"
	"github.com/nulpointcorp/llmur/internal/reqlog"
	"github.com/nulpointcorp/llmur/internal/store"
	"github.com/nulpointcorp/llmur/internal/usage"
)

// initInfra connects the hard dependencies. Both are required: the store
// runs on Postgres and the shared cache and usage counters on Redis.
func (a *App) initInfra(ctx context.Context) error {
	a.log.Info("connecting_redis", slog.String("addr", a.cfg.RedisAddr()))
	rdb, err := connectRedis(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	a.rdb = rdb
	a.log.Info("redis_connected")

	db, err := store.NewPostgres(store.PostgresConfig{
		Host:           a.cfg.Database.Host,
		Port:           a.cfg.Database.Port,
		Database:       a.cfg.Database.Database,
		Username:       a.cfg.Database.Username,
		Password:       a.cfg.Database.Password,
		MinConnections: a.cfg.Database.MinConnections,
		MaxConnections: a.cfg.Database.MaxConnections,
	}, a.log)
	if err != nil {
		return err
	}
	a.db = db

	return db.Migrate()
}

// initServices builds the metrics registry, the store facade and the
// layers reading through it.
func (a *App) initServices(_ context.Context) error {
	a.prom = metrics.New()

	a.st = store.New(a.db, store.Options{
		Redis:  a.rdb,
		Secret: a.secret,
		Logger: a.log,
	})
	a.db.SetQueryObserver(a.prom.ObserveDatabaseRequest)

	a.resolver = graph.NewResolver(a.st, a.cfg.Graph.TTL, a.log)
	a.tracker = usage.NewTracker(a.rdb)

	return nil
}

// initRecorder assembles the request-log pipeline: Postgres as the primary
// sink, usage counters and ClickHouse as best-effort mirrors.
func (a *App) initRecorder(ctx context.Context) error {
	mirrors := []reqlog.Sink{reqlog.SinkFunc(a.tracker.Record)}

	if a.cfg.ClickHouse.Enabled() {
		ch, err := reqlog.NewClickHouse(ctx, reqlog.ClickHouseConfig{
			Addr:     a.cfg.ClickHouse.Addr,
			Database: a.cfg.ClickHouse.Database,
			Username: a.cfg.ClickHouse.Username,
			Password: a.cfg.ClickHouse.Password,
		}, a.log)
		if err != nil {
			return err
		}
		a.chSink = ch
		mirrors = append(mirrors, ch)
	}

	// The recorder outlives the signal context: Close drains after
	// cancellation, and those final flushes need a live parent.
	rec, err := reqlog.New(context.Background(), a.st, reqlog.Options{
		Capacity: a.cfg.RequestLog.Capacity,
		Mirrors:  mirrors,
		Logger:   a.log,
	})
	if err != nil {
		return err
	}
	a.recorder = rec
	a.prom.RegisterDroppedLogs(rec.Dropped)

	return nil
}

// initServer assembles the HTTP surface on top of everything above.
func (a *App) initServer(_ context.Context) error {
	gw := proxy.NewGateway(a.resolver, proxy.GatewayOptions{
		Logger:         a.log,
		Metrics:        a.prom,
		Recorder:       a.recorder,
		AttemptTimeout: a.cfg.Failover.AttemptTimeout,
		RequestBudget:  a.cfg.Failover.RequestBudget,
	})

	admin := proxy.NewAdmin(a.st, a.resolver, a.secret, proxy.AdminOptions{
		Logger: a.log,
		Usage:  a.tracker,
	})

	auth := proxy.NewAuthenticator(a.st, a.cfg.MasterKeys)

	server := proxy.NewServer(gw, admin, auth, proxy.ServerOptions{
		Logger:      a.log,
		Metrics:     a.prom,
		HealthCheck: a.st.Ping,
	})

	// No WriteTimeout: streamed completions hold the response open past
	// any fixed bound.
	a.srv = &fasthttp.Server{
		Handler:     server.Handler(),
		Name:        "llmur",
		ReadTimeout: 60 * time.Second,
		IdleTimeout: time.Minute,
	}

	return nil
}
