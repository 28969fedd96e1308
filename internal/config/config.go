// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Webhook       WebhookConfig       `mapstructure:"webhook"`
	EmailProvider EmailProviderConfig `mapstructure:"email_provider"`
	Crawl         CrawlConfig         `mapstructure:"crawl"`
	AI            AIConfig            `mapstructure:"ai"`
	Intelligence  IntelligenceConfig  `mapstructure:"intelligence"`
	Storage       StorageConfig       `mapstructure:"storage"`
	PubSub        PubSubConfig        `mapstructure:"pubsub"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig holds the shared admin key.
type AuthConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DatabaseConfig controls access to Postgres. An empty DSN selects in-memory stores.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// WebhookConfig configures inbound webhook verification.
type WebhookConfig struct {
	Secret           string `mapstructure:"secret"`
	ToleranceSeconds int    `mapstructure:"tolerance_seconds"`
}

// EmailProviderConfig configures the transactional email API.
type EmailProviderConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	APIKey      string `mapstructure:"api_key"`
	FromAddress string `mapstructure:"from_address"`
}

// CrawlConfig configures the crawl provider and poll budget.
type CrawlConfig struct {
	Provider            string `mapstructure:"provider"`
	BaseURL             string `mapstructure:"base_url"`
	APIKey              string `mapstructure:"api_key"`
	UserAgent           string `mapstructure:"user_agent"`
	WarmupSeconds       int    `mapstructure:"warmup_seconds"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`
	MaxWaitSeconds      int    `mapstructure:"max_wait_seconds"`
	DefaultPageLimit    int    `mapstructure:"default_page_limit"`
	MaxPageLimit        int    `mapstructure:"max_page_limit"`
	MaxDepth            int    `mapstructure:"max_depth"`
	RespectRobots       bool   `mapstructure:"respect_robots"`
}

// AIConfig configures the generative-text endpoint.
type AIConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	APIKey         string  `mapstructure:"api_key"`
	Model          string  `mapstructure:"model"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	Temperature    float64 `mapstructure:"temperature"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
}

// IntelligenceConfig tunes competitor analysis.
type IntelligenceConfig struct {
	MaxMarkdownChars int `mapstructure:"max_markdown_chars"`
}

// StorageConfig selects the blob backend used for crawl snapshots.
type StorageConfig struct {
	Backend string      `mapstructure:"backend"`
	Bucket  string      `mapstructure:"bucket"`
	Prefix  string      `mapstructure:"prefix"`
	Local   LocalConfig `mapstructure:"local"`
}

// LocalConfig configures the filesystem blob store.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// RateLimitConfig throttles outbound provider calls per host.
type RateLimitConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
}

// TelemetryConfig names the service for tracing.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
}

// providerCallSeconds matches the per-call timeout of the upstream clients.
// adminSlackSeconds covers snapshot writes and the competitor row update.
const (
	providerCallSeconds = 30
	adminSlackSeconds   = 10
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITECORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 240)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("database.auto_migrate", false)
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.tolerance_seconds", 300)
	v.SetDefault("email_provider.base_url", "https://api.resend.com")
	v.SetDefault("email_provider.api_key", "")
	v.SetDefault("email_provider.from_address", "")
	v.SetDefault("crawl.provider", "firecrawl")
	v.SetDefault("crawl.base_url", "https://api.firecrawl.dev")
	v.SetDefault("crawl.api_key", "")
	v.SetDefault("crawl.user_agent", "sitecore-intel/0.1")
	v.SetDefault("crawl.warmup_seconds", 5)
	v.SetDefault("crawl.poll_interval_seconds", 5)
	v.SetDefault("crawl.max_wait_seconds", 120)
	v.SetDefault("crawl.default_page_limit", 10)
	v.SetDefault("crawl.max_page_limit", 50)
	v.SetDefault("crawl.max_depth", 2)
	v.SetDefault("crawl.respect_robots", true)
	v.SetDefault("ai.base_url", "https://api.openai.com/v1")
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.max_tokens", 1024)
	v.SetDefault("ai.temperature", 0.2)
	v.SetDefault("ai.timeout_seconds", 60)
	v.SetDefault("intelligence.max_markdown_chars", 30000)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("storage.local.base_dir", "data/snapshots")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.default_rps", 2.0)
	v.SetDefault("rate_limit.default_burst", 4)
	v.SetDefault("telemetry.service_name", "sitecore")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Webhook.ToleranceSeconds <= 0 {
		return fmt.Errorf("webhook.tolerance_seconds must be > 0")
	}
	switch c.Crawl.Provider {
	case "firecrawl":
		if c.Crawl.BaseURL == "" {
			return fmt.Errorf("crawl.base_url must be set for the firecrawl provider")
		}
	case "colly":
	default:
		return fmt.Errorf("unknown crawl.provider %q", c.Crawl.Provider)
	}
	if c.Crawl.PollIntervalSeconds <= 0 {
		return fmt.Errorf("crawl.poll_interval_seconds must be > 0")
	}
	if c.Crawl.MaxWaitSeconds <= 0 {
		return fmt.Errorf("crawl.max_wait_seconds must be > 0")
	}
	if c.Crawl.DefaultPageLimit <= 0 || c.Crawl.MaxPageLimit < c.Crawl.DefaultPageLimit {
		return fmt.Errorf("crawl.default_page_limit must be > 0 and <= crawl.max_page_limit")
	}
	if c.Intelligence.MaxMarkdownChars <= 0 {
		return fmt.Errorf("intelligence.max_markdown_chars must be > 0")
	}
	if c.Storage.Backend == "gcs" && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket must be set when storage.backend is gcs")
	}
	if c.Server.RequestTimeoutSeconds > 0 && c.Server.RequestTimeoutSeconds <= c.AdminBudgetSeconds() {
		return fmt.Errorf("server.request_timeout_seconds must exceed %ds "+
			"(crawl.max_wait_seconds + final status fetch + ai.timeout_seconds + slack)", c.AdminBudgetSeconds())
	}
	return nil
}

// AdminBudgetSeconds is the worst-case duration of an analyze or refresh call:
// the crawl wait, one final status fetch, the model call, and persistence.
func (c Config) AdminBudgetSeconds() int {
	ai := c.AI.TimeoutSeconds
	if ai <= 0 {
		ai = providerCallSeconds
	}
	return c.Crawl.MaxWaitSeconds + providerCallSeconds + ai + adminSlackSeconds
}

// CrawlBudget returns the warm-up, poll interval, and maximum wait durations.
func (c Config) CrawlBudget() (warmup, interval, maxWait time.Duration) {
	return time.Duration(c.Crawl.WarmupSeconds) * time.Second,
		time.Duration(c.Crawl.PollIntervalSeconds) * time.Second,
		time.Duration(c.Crawl.MaxWaitSeconds) * time.Second
}

// WebhookTolerance returns the accepted clock skew for webhook timestamps.
func (c Config) WebhookTolerance() time.Duration {
	return time.Duration(c.Webhook.ToleranceSeconds) * time.Second
}

// RequestTimeout returns the per-request HTTP handler budget.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}
