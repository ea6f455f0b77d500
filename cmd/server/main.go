package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/nichepass/nichepass/internal/api"
	"github.com/nichepass/nichepass/internal/billing"
	"github.com/nichepass/nichepass/internal/config"
	"github.com/nichepass/nichepass/internal/mailer"
	"github.com/nichepass/nichepass/internal/pkg/distlock"
	"github.com/nichepass/nichepass/internal/pkg/logger"
	"github.com/nichepass/nichepass/internal/repository/postgres"
	"github.com/nichepass/nichepass/internal/scheduler"
	"github.com/nichepass/nichepass/internal/service/automation"
	"github.com/nichepass/nichepass/internal/service/campaign"
	"github.com/nichepass/nichepass/internal/service/member"
	"github.com/nichepass/nichepass/internal/service/plan"
	"github.com/nichepass/nichepass/internal/service/store"
	"github.com/nichepass/nichepass/internal/shopify"
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

	// Repositories.
	storeRepo := postgres.NewStoreRepo(db)
	memberRepo := postgres.NewMemberRepo(db)
	campaignRepo := postgres.NewCampaignRepo(db)
	automationRepo := postgres.NewAutomationRepo(db)
	billingRepo := postgres.NewBillingRepo(db)
	usageRepo := postgres.NewUsageRepo(db)

	// Plan gate with a per-store distributed lock.
	locks := func(key string) distlock.DistLock {
		return distlock.NewLock(redisClient, db, key, 30*time.Second)
	}
	gate := plan.NewGate(usageRepo, locks)

	// Outbound email.
	provider, err := buildProvider(cfg.Email)
	if err != nil {
		logger.Error("build email provider", "error", err)
		os.Exit(1)
	}
	var throttle mailer.Throttler
	if redisClient != nil {
		throttle = mailer.NewRedisThrottler(redisClient, 10)
	} else {
		throttle = mailer.NewDelayThrottler(cfg.Email.SendDelay())
	}
	dispatcher := mailer.NewDispatcher(provider, mailer.NewTemplateEngine(), throttle,
		storeRepo, mailer.Sender{FromName: cfg.Email.FromName, FromEmail: cfg.Email.FromEmail})

	// Services.
	clients := func(shopDomain, accessToken string) store.AdminAPI {
		return shopify.NewClient(shopDomain, accessToken, cfg.Shopify.APIVersion, nil)
	}
	storeSvc := store.NewService(storeRepo, clients, cfg.Server.PublicBaseURL)
	memberSvc := member.NewService(memberRepo, gate)
	campaignSvc := campaign.NewService(campaignRepo, memberRepo, gate, dispatcher)
	automationSvc := automation.NewService(automationRepo)
	billingSvc := billing.NewService(billingRepo)

	// Scheduled jobs, invoked by the queue provider over HTTP.
	syncClients := func(shopDomain, accessToken string) member.CustomerLister {
		return shopify.NewClient(shopDomain, accessToken, cfg.Shopify.APIVersion, nil)
	}
	jobs := scheduler.NewHandler(
		cfg.Scheduler.CurrentSigningKey,
		cfg.Scheduler.NextSigningKey,
		scheduler.NewRunner(billingSvc, storeRepo, storeSvc, memberSvc, syncClients),
	)

	handlers := api.NewHandlers(storeSvc, memberSvc, campaignSvc, automationSvc, cfg.Shopify.APIVersion)
	webhooks := api.NewWebhookHandlers(storeRepo, memberSvc, campaignSvc, automationSvc,
		billingSvc, cfg.Billing.WebhookSecret)

	var oauthHandlers *api.OAuthHandlers
	if cfg.Shopify.APIKey != "" {
		oauthHandlers = api.NewOAuthHandlers(&shopify.OAuth{
			APIKey:      cfg.Shopify.APIKey,
			APISecret:   cfg.Shopify.APISecret,
			Scopes:      cfg.Shopify.Scopes,
			RedirectURL: cfg.Server.PublicBaseURL + "/oauth/callback",
		}, storeSvc, cfg.Shopify.APISecret)
	}

	server := api.NewServer(cfg.Server, api.SetupRoutes(handlers, oauthHandlers, webhooks, jobs))

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", "host", cfg.Server.GetHost(), "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	logger.Info("server stopped")
}

func buildProvider(cfg config.EmailConfig) (mailer.Provider, error) {
	if cfg.Provider == "ses" {
		return mailer.NewSESProvider(cfg.SESAccessKey, cfg.SESSecretKey, cfg.SESRegion)
	}
	return mailer.NewHTTPProvider(cfg.HTTPBaseURL, cfg.HTTPAPIKey, cfg.Timeout()), nil
}
