package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/nichepass/nichepass/internal/config"
	"github.com/nichepass/nichepass/internal/mailer"
	"github.com/nichepass/nichepass/internal/pkg/distlock"
	"github.com/nichepass/nichepass/internal/pkg/logger"
	"github.com/nichepass/nichepass/internal/repository/postgres"
	"github.com/nichepass/nichepass/internal/worker"
)

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	if err := db.Ping(); err != nil {
		logger.Error("ping database", "error", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	provider, err := buildProvider(cfg.Email)
	if err != nil {
		logger.Error("build email provider", "error", err)
		os.Exit(1)
	}

	storeRepo := postgres.NewStoreRepo(db)
	var throttle mailer.Throttler
	if redisClient != nil {
		throttle = mailer.NewRedisThrottler(redisClient, 10)
	} else {
		throttle = mailer.NewDelayThrottler(cfg.Email.SendDelay())
	}
	dispatcher := mailer.NewDispatcher(provider, mailer.NewTemplateEngine(), throttle,
		storeRepo, mailer.Sender{FromName: cfg.Email.FromName, FromEmail: cfg.Email.FromEmail})

	drainLock := distlock.NewLock(redisClient, db, "worker:sendtasks", time.Minute)

	w := worker.New(
		postgres.NewTaskRepo(db),
		postgres.NewMemberRepo(db),
		postgres.NewAutomationRepo(db),
		dispatcher,
		drainLock,
		cfg.Worker.TickInterval(),
		cfg.Worker.BatchSize,
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-done
		logger.Info("worker shutting down")
		cancel()
	}()

	w.Run(ctx)
}

func buildProvider(cfg config.EmailConfig) (mailer.Provider, error) {
	if cfg.Provider == "ses" {
		return mailer.NewSESProvider(cfg.SESAccessKey, cfg.SESSecretKey, cfg.SESRegion)
	}
	return mailer.NewHTTPProvider(cfg.HTTPBaseURL, cfg.HTTPAPIKey, cfg.Timeout()), nil
}
