package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Shopify   ShopifyConfig   `yaml:"shopify"`
	Email     EmailConfig     `yaml:"email"`
	Billing   BillingConfig   `yaml:"billing"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Worker    WorkerConfig    `yaml:"worker"`
}

// ServerConfig holds HTTP server configuration. PublicBaseURL is the
// externally reachable address Shopify webhooks are registered against.
type ServerConfig struct {
	Port          int    `yaml:"port"`
	Host          string `yaml:"host"`
	PublicBaseURL string `yaml:"public_base_url"`
}

// GetHost returns the server host, with container detection.
func (c ServerConfig) GetHost() string {
	// In a container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds Redis settings for throttling and distributed locks.
// Redis is optional; everything degrades to Postgres advisory locks and
// in-process delays when Addr is empty.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ShopifyConfig holds the Shopify app credentials and API settings.
type ShopifyConfig struct {
	APIKey         string `yaml:"api_key"`
	APISecret      string `yaml:"api_secret"`
	APIVersion     string `yaml:"api_version"`
	RedirectBase   string `yaml:"redirect_base"`
	Scopes         string `yaml:"scopes"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration.
func (c ShopifyConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// EmailConfig holds the outbound email provider settings.
// Provider selects the implementation: "ses" or "http".
type EmailConfig struct {
	Provider       string `yaml:"provider"`
	FromName       string `yaml:"from_name"`
	FromEmail      string `yaml:"from_email"`
	SESRegion      string `yaml:"ses_region"`
	SESAccessKey   string `yaml:"ses_access_key"`
	SESSecretKey   string `yaml:"ses_secret_key"`
	HTTPBaseURL    string `yaml:"http_base_url"`
	HTTPAPIKey     string `yaml:"http_api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	SendDelayMS    int    `yaml:"send_delay_ms"`
}

// Timeout returns the configured timeout as a duration.
func (c EmailConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SendDelay returns the fixed inter-send delay.
func (c EmailConfig) SendDelay() time.Duration {
	return time.Duration(c.SendDelayMS) * time.Millisecond
}

// BillingConfig holds the payment provider settings.
type BillingConfig struct {
	Provider      string `yaml:"provider"`
	WebhookSecret string `yaml:"webhook_secret"`
}

// SchedulerConfig holds the queue/cron provider's signing keys.
// Keys rotate: inbound signatures are accepted against the current key
// first, then the next key.
type SchedulerConfig struct {
	CurrentSigningKey string `yaml:"current_signing_key"`
	NextSigningKey    string `yaml:"next_signing_key"`
}

// WorkerConfig holds the send-task worker settings.
type WorkerConfig struct {
	TickIntervalSeconds int `yaml:"tick_interval_seconds"`
	BatchSize           int `yaml:"batch_size"`
}

// TickInterval returns the worker polling interval.
func (c WorkerConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}

// Load reads and parses the configuration file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Shopify.APIVersion == "" {
		cfg.Shopify.APIVersion = "2024-10"
	}
	if cfg.Shopify.Scopes == "" {
		cfg.Shopify.Scopes = "read_customers,read_orders,write_price_rules"
	}
	if cfg.Shopify.TimeoutSeconds == 0 {
		cfg.Shopify.TimeoutSeconds = 30
	}
	if cfg.Email.Provider == "" {
		cfg.Email.Provider = "http"
	}
	if cfg.Email.SESRegion == "" {
		cfg.Email.SESRegion = "us-east-1"
	}
	if cfg.Email.TimeoutSeconds == 0 {
		cfg.Email.TimeoutSeconds = 30
	}
	if cfg.Email.SendDelayMS == 0 {
		cfg.Email.SendDelayMS = 100
	}
	if cfg.Worker.TickIntervalSeconds == 0 {
		cfg.Worker.TickIntervalSeconds = 30
	}
	if cfg.Worker.BatchSize == 0 {
		cfg.Worker.BatchSize = 100
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("PUBLIC_BASE_URL"); v != "" {
		cfg.Server.PublicBaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SHOPIFY_API_KEY"); v != "" {
		cfg.Shopify.APIKey = v
	}
	if v := os.Getenv("SHOPIFY_API_SECRET"); v != "" {
		cfg.Shopify.APISecret = v
	}
	if v := os.Getenv("SHOPIFY_API_VERSION"); v != "" {
		cfg.Shopify.APIVersion = v
	}
	if v := os.Getenv("SHOPIFY_REDIRECT_BASE"); v != "" {
		cfg.Shopify.RedirectBase = v
	}
	if v := os.Getenv("EMAIL_PROVIDER"); v != "" {
		cfg.Email.Provider = v
	}
	if v := os.Getenv("EMAIL_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}
	if v := os.Getenv("EMAIL_HTTP_API_KEY"); v != "" {
		cfg.Email.HTTPAPIKey = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Email.SESAccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Email.SESSecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Email.SESRegion = v
	}
	if v := os.Getenv("BILLING_WEBHOOK_SECRET"); v != "" {
		cfg.Billing.WebhookSecret = v
	}
	if v := os.Getenv("SCHEDULER_CURRENT_SIGNING_KEY"); v != "" {
		cfg.Scheduler.CurrentSigningKey = v
	}
	if v := os.Getenv("SCHEDULER_NEXT_SIGNING_KEY"); v != "" {
		cfg.Scheduler.NextSigningKey = v
	}

	return cfg, nil
}
