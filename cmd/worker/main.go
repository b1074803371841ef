package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/medifusion/triage-api/internal/config"
	"github.com/medifusion/triage-api/internal/repository/postgres"
	"github.com/medifusion/triage-api/internal/scoring"
	"github.com/medifusion/triage-api/internal/worker"
	"github.com/medifusion/triage-api/pkg/logger"
	"github.com/medifusion/triage-api/pkg/messaging"
	redisBroker "github.com/medifusion/triage-api/pkg/messaging/redis"
	"github.com/medifusion/triage-api/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(nil)
	zl := log.Zerolog()

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	m := metrics.NewMetrics("medifusion", "worker")

	var broker messaging.Broker
	if cfg.Redis.URL != "" {
		broker, err = redisBroker.NewRedisBroker(redisBroker.Config{
			URL:          cfg.Redis.URL,
			MaxRetries:   cfg.Redis.MaxRetries,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		}, zl)
		if err != nil {
			log.Error(err, "failed to connect to Redis, polling only")
			broker = nil
		} else {
			defer broker.Close()
		}
	}

	scorer := scoring.NewClient(scoring.Config{
		BaseURL:     cfg.Scoring.BaseURL,
		APIKey:      cfg.Scoring.APIKey,
		Timeout:     time.Duration(cfg.Scoring.TimeoutSeconds) * time.Second,
		MaxFailures: cfg.Scoring.MaxFailures,
	}, zl, m)

	caseRepo := postgres.NewCaseRepository(db)
	reprocessor := worker.NewReprocessor(caseRepo, scorer, broker, zl, m)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info("shutting down worker...")
		cancel()
	}()

	log.Info("starting reprocessor worker")
	if err := reprocessor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err, "worker stopped")
	}
	log.Info("worker exited properly")
}
