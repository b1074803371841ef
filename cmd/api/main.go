package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/medifusion/triage-api/internal/config"
	authHandler "github.com/medifusion/triage-api/internal/handler/auth"
	doctorHandler "github.com/medifusion/triage-api/internal/handler/doctor"
	labHandler "github.com/medifusion/triage-api/internal/handler/lab"
	patientHandler "github.com/medifusion/triage-api/internal/handler/patient"
	wsHandler "github.com/medifusion/triage-api/internal/handler/ws"
	"github.com/medifusion/triage-api/internal/email"
	"github.com/medifusion/triage-api/internal/middleware"
	"github.com/medifusion/triage-api/internal/notification"
	"github.com/medifusion/triage-api/internal/repository/postgres"
	"github.com/medifusion/triage-api/internal/router"
	"github.com/medifusion/triage-api/internal/scoring"
	authService "github.com/medifusion/triage-api/internal/service/auth"
	triageService "github.com/medifusion/triage-api/internal/service/triage"
	"github.com/medifusion/triage-api/pkg/auth"
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

	m := metrics.NewMetrics("medifusion", "api")

	caseRepo := postgres.NewCaseRepository(db)
	userRepo := postgres.NewUserRepository(db)
	labRepo := postgres.NewLabRepository(db)

	var broker messaging.Broker
	if cfg.Redis.URL != "" {
		broker, err = redisBroker.NewRedisBroker(redisBroker.Config{
			URL:          cfg.Redis.URL,
			MaxRetries:   cfg.Redis.MaxRetries,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		}, zl)
		if err != nil {
			// Reprocessing degrades to the worker's poll loop.
			log.Error(err, "failed to connect to Redis, continuing without broker")
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

	hub := notification.NewHub(zl, m)

	jwtSvc := auth.NewJWTService(cfg.JWT.Secret, time.Duration(cfg.JWT.ExpiryHours)*time.Hour, "triage-api")
	mailer := email.NewSMTPService(cfg.SMTP)

	authSvc := authService.NewService(userRepo, jwtSvc, mailer, zl)
	triageSvc := triageService.NewService(caseRepo, userRepo, labRepo, scorer, hub, broker, zl, m, triageService.Config{
		AssignmentTimeout: cfg.Triage.AssignmentTimeout(),
	})

	authMiddleware := middleware.NewAuthMiddleware(jwtSvc)

	r := router.NewRouter(
		authMiddleware,
		authHandler.NewHandler(authSvc),
		patientHandler.NewHandler(triageSvc, cfg.Uploads.Dir, cfg.Uploads.MaxSizeMB),
		doctorHandler.NewHandler(triageSvc),
		labHandler.NewHandler(triageSvc, cfg.Uploads.Dir),
		wsHandler.NewHandler(hub, jwtSvc, zl),
		db,
		router.Config{RateLimit: rate.Limit(100), RateBurst: 200},
	)
	r.Setup()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r.Engine(),
	}

	go func() {
		log.Info("starting server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err, "failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal(err, "server forced to shutdown")
	}

	log.Info("server exited properly")
}
