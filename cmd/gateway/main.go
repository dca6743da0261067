// Package main provides the entry point for the content gateway.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tidestore/tidestore/internal/api"
	"github.com/tidestore/tidestore/internal/api/handlers"
	"github.com/tidestore/tidestore/internal/api/health"
	"github.com/tidestore/tidestore/internal/api/middleware"
	"github.com/tidestore/tidestore/internal/auth"
	"github.com/tidestore/tidestore/internal/gateway"
	"github.com/tidestore/tidestore/internal/metrics"
	"github.com/tidestore/tidestore/internal/ratelimit"
	"github.com/tidestore/tidestore/internal/shutdown"
	pgstore "github.com/tidestore/tidestore/internal/store/postgres"
	"github.com/tidestore/tidestore/internal/usage"
	"github.com/tidestore/tidestore/pkg/config"
	"github.com/tidestore/tidestore/pkg/logger"
)

func main() {
	// Local development convenience; absence of a .env file is fine.
	_ = godotenv.Load()

	log := logger.New(slog.LevelInfo, true)
	slog.SetDefault(log.Logger)

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	storeCfg := pgstore.DefaultConfig(cfg.DatabaseDSN)
	store, err := pgstore.NewPostgresStore(storeCfg, log.Logger)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	rl := cfg.RateLimit
	normalPolicy := ratelimit.NewPolicy(
		ratelimit.New(rl.NormalPerMinute, time.Minute, rl.SweepInterval),
		ratelimit.New(rl.BurstLimit, rl.BurstWindow, rl.SweepInterval),
	)
	suspiciousLimiter := ratelimit.New(rl.SuspiciousPerMinute, time.Minute, rl.SweepInterval)
	secretLimiter := ratelimit.New(rl.DefaultSecretPerMin, time.Minute, rl.SweepInterval)

	verifier := auth.NewHMACVerifier([]byte(cfg.JWTSecret))
	resolver := auth.NewResolver(verifier, store.Secrets(), secretLimiter, log.Logger)

	recorder := usage.NewRecorder(store.Usage(), store.Secrets(), log.Logger,
		usage.WithQueueSize(cfg.Usage.QueueSize),
		usage.WithWriteTimeout(cfg.Usage.WriteTimeout),
		usage.WithDroppedCounter(m.UsageEventsDropped),
	)

	backend := gateway.NewClient(cfg.StoreEndpoint, cfg.StoreHeaderTimeout, log.Logger)

	gate := middleware.NewGate(resolver, normalPolicy, suspiciousLimiter, m, log.Logger)

	checker := health.NewChecker(api.Version)
	checker.Register("database", store)

	contentHandler := handlers.NewContentHandler(store.Content(), backend, recorder, m, log.Logger)
	secretsHandler := handlers.NewSecretsHandler(store.Secrets(), store.Usage(), rl.DefaultSecretPerMin, log.Logger)

	server := api.NewServer(cfg, api.Deps{
		Gate:     gate,
		Content:  contentHandler,
		Secrets:  secretsHandler,
		Checker:  checker,
		Registry: registry,
	}, log.Logger)

	coordinator := shutdown.NewCoordinator(
		shutdown.WithTimeout(cfg.ShutdownTimeout),
		shutdown.WithLogger(log.Logger),
	)
	// Reverse order: the server stops producing work first, then the queues
	// drain, then the store closes.
	coordinator.Register(shutdown.NewCloserComponent("database", store))
	coordinator.Register(shutdown.NewFuncComponent("limiters", func(ctx context.Context) error {
		normalPolicy.Close()
		suspiciousLimiter.Close()
		secretLimiter.Close()
		return nil
	}))
	coordinator.Register(recorder)
	coordinator.Register(resolver)
	coordinator.Register(server)

	go coordinator.WaitForSignal()

	if err := server.Start(); err != nil {
		log.Error("server error", "error", err)
		coordinator.Shutdown()
		coordinator.Wait()
		os.Exit(1)
	}

	coordinator.Wait()
	log.Info("gateway stopped")
	os.Exit(coordinator.ExitCode())
}
