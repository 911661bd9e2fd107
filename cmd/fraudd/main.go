// fraudd is the fraud and multi-account detection service for the trading
// competition platform.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quantarena/arena/internal/api"
	"github.com/quantarena/arena/internal/fraud"
	"github.com/quantarena/arena/internal/fraud/alerts"
	"github.com/quantarena/arena/internal/fraud/engine"
	"github.com/quantarena/arena/internal/fraud/profile"
	"github.com/quantarena/arena/internal/fraud/scoring"
	"github.com/quantarena/arena/internal/fraud/similarity"
	"github.com/quantarena/arena/internal/fraud/storage"
	"github.com/quantarena/arena/internal/fraud/sweep"
	"github.com/quantarena/arena/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := fraud.LoadConfig()
	if err != nil {
		panic(err)
	}

	zl := logger.New(cfg.LogLevel)
	defer func() { _ = zl.Sync() }()
	log := zl.Sugar()

	if err := run(log, cfg); err != nil {
		log.Fatalw("fraudd exited", "error", err)
	}
}

func run(log *zap.SugaredLogger, cfg *fraud.Config) error {
	db, err := storage.OpenDatabase(cfg.Database)
	if err != nil {
		return err
	}
	store, err := storage.NewGormStore(db)
	if err != nil {
		return err
	}
	log.Infow("database ready", "driver", cfg.Database.Driver)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := fraud.NewMetrics(registry)

	var profileStore fraud.ProfileStore = store
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return err
		}
		profileStore = storage.NewCachedProfileStore(log, store, client, cfg.Redis.TTL)
		log.Infow("profile cache enabled", "addr", cfg.Redis.Addr)
	}

	profiles := profile.NewStore(log, profileStore, cfg.Similarity.MinTrades)
	sim := similarity.NewEngine(log, store, cfg.Similarity)
	scores := scoring.NewEngine(log, store, cfg.Scoring,
		fraud.NoopRestrictionService{Logger: log},
		fraud.ZapAuditLogger{Logger: log},
		metrics,
	)
	alertMgr := alerts.NewManager(log, store, metrics)
	eng := engine.New(log, cfg, store, profiles, sim, scores, alertMgr, metrics)

	sweeper := sweep.NewSweeper(log, profileStore, eng, cfg.Sweep, metrics)
	if err := sweeper.Start(); err != nil {
		return err
	}
	defer sweeper.Stop()

	var sweepRunner api.SweepRunner
	if cfg.Sweep.Enabled {
		sweepRunner = sweeper
	}
	server := api.NewServer(log, eng, sweepRunner, registry, cfg.ListenAddr)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Infow("shutting down", "signal", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
