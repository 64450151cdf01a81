// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/waitgate/waitgate/internal/api"
	"github.com/waitgate/waitgate/internal/bus"
	"github.com/waitgate/waitgate/internal/cache"
	"github.com/waitgate/waitgate/internal/config"
	"github.com/waitgate/waitgate/internal/engine"
	wglog "github.com/waitgate/waitgate/internal/log"
	"github.com/waitgate/waitgate/internal/push"
	"github.com/waitgate/waitgate/internal/ratelimit"
	"github.com/waitgate/waitgate/internal/store"
	"github.com/waitgate/waitgate/internal/store/postgres"
	"github.com/waitgate/waitgate/internal/store/sqlite"
	"github.com/waitgate/waitgate/internal/webhook"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	wglog.Configure(wglog.Config{
		Level:   "info",
		Service: "waitgate",
		Version: version,
	})
	logger := wglog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}
	if lvl, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", cfg.Server.Listen).
		Str("store", cfg.Store.Driver).
		Msg("starting waitgate")

	st, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "store.open_failed").
			Msg("failed to open store")
	}
	defer func() { _ = st.Close() }()

	positions, limitStore, redisClient := openRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	b := bus.New()
	defer func() { _ = b.Close() }()

	engines, err := engine.NewManager(engine.ManagerConfig{
		Store:     st,
		Bus:       b,
		Positions: positions,
		Interval:  cfg.Engine.TickInterval,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build controller manager")
	}
	if err := engines.Start(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "engine.start_failed").
			Msg("failed to start release controllers")
	}
	defer engines.Shutdown()

	hub := push.NewHub(func(tenantID, queueID string) (int, bool) {
		if ctrl, ok := engines.Get(tenantID, queueID); ok {
			return ctrl.Waiting(), true
		}
		return 0, false
	})
	hub.Run(ctx, b)
	defer hub.Close()

	dispatcher := webhook.New(webhook.Config{
		Workers:        cfg.Webhook.Workers,
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		InitialBackoff: cfg.Webhook.InitialBackoff,
		Timeout:        cfg.Webhook.Timeout,
		RatePerSecond:  cfg.Webhook.RatePerSecond,
	}, st, nil)
	dispatcher.Start(ctx, b)
	defer dispatcher.Close()

	server := api.New(api.Config{
		Store:   st,
		Engines: engines,
		Bus:     b,
		Limiter: ratelimit.New(limitStore),
		Hub:     hub,
	})
	httpServer := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.Server.Listen).Msg("http server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "server.failed").
			Msg("http server failed")
	}
	logger.Info().Msg("server exiting")
}

// openStore selects the configured persistence backend, running the sqlite
// integrity check first when one is configured.
func openStore(cfg config.Config, logger zerolog.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		return postgres.New(cfg.Store.PostgresDSN)
	default:
		if cfg.Store.VerifyIntegrity != config.VerifyOff {
			if _, err := os.Stat(cfg.Store.SQLitePath); err == nil {
				rows, err := sqlite.VerifyIntegrity(cfg.Store.SQLitePath, cfg.Store.VerifyIntegrity)
				if err != nil {
					return nil, fmt.Errorf("integrity check: %w", err)
				}
				if len(rows) > 0 {
					return nil, fmt.Errorf("integrity check reported %d problems, first: %s", len(rows), rows[0])
				}
				logger.Info().
					Str("path", cfg.Store.SQLitePath).
					Str("mode", cfg.Store.VerifyIntegrity).
					Msg("sqlite integrity verified")
			}
		}
		return sqlite.New(cfg.Store.SQLitePath)
	}
}

// openRedis connects the position cache and rate-limit counters to Redis
// when an address is configured, and falls back to process memory otherwise.
func openRedis(ctx context.Context, cfg config.Config, logger zerolog.Logger) (cache.Cache, ratelimit.Store, *redis.Client) {
	if cfg.Redis.Addr == "" {
		return cache.NewMemoryCache(time.Minute), ratelimit.NewMemoryStore(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "redis.unreachable").
			Str("addr", cfg.Redis.Addr).
			Msg("redis configured but unreachable")
	}
	logger.Info().Str("addr", cfg.Redis.Addr).Msg("redis connected")
	return cache.NewRedisCacheFromClient(client, wglog.WithComponent("cache")), ratelimit.NewRedisStore(client), client
}
