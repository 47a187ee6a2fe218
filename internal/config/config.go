// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/voxelpromo/voxelpromo/internal/validate"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Scraper    ScraperConfig    `mapstructure:"scraper"`
	Affiliate  AffiliateConfig  `mapstructure:"affiliate"`
	Channels   ChannelsConfig   `mapstructure:"channels"`
	Copywriter CopywriterConfig `mapstructure:"copywriter"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	Redis      RedisConfig      `mapstructure:"redis"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	ShortLink  ShortLinkConfig  `mapstructure:"shortlink"`
	Poster     PosterConfig     `mapstructure:"poster"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int     `mapstructure:"port"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ScraperConfig governs fetch behavior shared by all marketplace scrapers.
type ScraperConfig struct {
	UserAgent          string  `mapstructure:"user_agent"`
	TimeoutSeconds     int     `mapstructure:"timeout_seconds"`
	RequestsPerSecond  float64 `mapstructure:"requests_per_second"`
	Burst              int     `mapstructure:"burst"`
	MaxRetries         int     `mapstructure:"max_retries"`
	BackoffInitialMs   int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs       int     `mapstructure:"backoff_max_ms"`
	HeadlessParallel   int     `mapstructure:"headless_parallel"`
	HeadlessTimeoutSec int     `mapstructure:"headless_timeout_seconds"`
	SnapshotsEnabled   bool    `mapstructure:"snapshots_enabled"`
}

// AffiliateConfig holds per-marketplace affiliate identifiers.
type AffiliateConfig struct {
	AmazonTag        string `mapstructure:"amazon_tag"`
	MercadoLivreWord string `mapstructure:"mercadolivre_word"`
	MercadoLivreTool string `mapstructure:"mercadolivre_tool"`
	ShopeeAffID      string `mapstructure:"shopee_aff_id"`
	AliExpressAffID  string `mapstructure:"aliexpress_aff_id"`
}

// ChannelsConfig enables and configures publishing channels.
type ChannelsConfig struct {
	PostRPS   float64         `mapstructure:"post_rps"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	WhatsApp  WhatsAppConfig  `mapstructure:"whatsapp"`
	Instagram InstagramConfig `mapstructure:"instagram"`
	X         XConfig         `mapstructure:"x"`
}

// TelegramConfig configures the Telegram Bot API channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// WhatsAppConfig configures the WhatsApp Cloud API channel.
type WhatsAppConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	AccessToken   string `mapstructure:"access_token"`
	PhoneNumberID string `mapstructure:"phone_number_id"`
	RecipientE164 string `mapstructure:"recipient"`
}

// InstagramConfig configures the Instagram Graph API channel.
type InstagramConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	AccessToken string `mapstructure:"access_token"`
	UserID      string `mapstructure:"user_id"`
}

// XConfig configures the X API v2 channel.
type XConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ClientID     string `mapstructure:"client_id"`
	RefreshToken string `mapstructure:"refresh_token"`
}

// CopywriterConfig configures the AI copywriter client.
type CopywriterConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	BaseURL        string  `mapstructure:"base_url"`
	APIKey         string  `mapstructure:"api_key"`
	Model          string  `mapstructure:"model"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	Temperature    float64 `mapstructure:"temperature"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
}

// StorageConfig selects and configures the snapshot blob store.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// RedisConfig configures the short-link cache.
type RedisConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
}

// ShortLinkConfig configures short-link generation.
type ShortLinkConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	CodeLength int    `mapstructure:"code_length"`
}

// PosterConfig governs the collection worker pool.
type PosterConfig struct {
	Workers    int `mapstructure:"workers"`
	QueueDepth int `mapstructure:"queue_depth"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VOXELPROMO")
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
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("server.rate_limit_rps", 10)
	v.SetDefault("server.rate_limit_burst", 20)
	v.SetDefault("scraper.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0 Safari/537.36")
	v.SetDefault("scraper.timeout_seconds", 15)
	v.SetDefault("scraper.requests_per_second", 0.5)
	v.SetDefault("scraper.burst", 1)
	v.SetDefault("scraper.max_retries", 2)
	v.SetDefault("scraper.backoff_initial_ms", 500)
	v.SetDefault("scraper.backoff_max_ms", 5000)
	v.SetDefault("scraper.headless_parallel", 1)
	v.SetDefault("scraper.headless_timeout_seconds", 25)
	v.SetDefault("scraper.snapshots_enabled", true)
	v.SetDefault("channels.post_rps", 1)
	v.SetDefault("copywriter.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("copywriter.model", "llama-3.1-8b-instant")
	v.SetDefault("copywriter.max_tokens", 256)
	v.SetDefault("copywriter.temperature", 0.7)
	v.SetDefault("copywriter.timeout_seconds", 20)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.local_dir", "snapshots")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.ttl_seconds", 3600)
	v.SetDefault("shortlink.code_length", 8)
	v.SetDefault("poster.workers", 2)
	v.SetDefault("poster.queue_depth", 64)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scraper.TimeoutSeconds <= 0 {
		return fmt.Errorf("scraper.timeout_seconds must be > 0")
	}
	if c.Scraper.HeadlessParallel <= 0 {
		return fmt.Errorf("scraper.headless_parallel must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Poster.Workers <= 0 {
		return fmt.Errorf("poster.workers must be > 0")
	}
	switch c.Storage.Provider {
	case "memory", "local", "gcs":
	default:
		return fmt.Errorf("storage.provider must be one of memory, local, gcs")
	}
	if c.Storage.Provider == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set when storage.provider is gcs")
	}
	if c.DB.Enabled && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when db is enabled")
	}
	if c.Copywriter.Enabled && c.Copywriter.APIKey == "" {
		return fmt.Errorf("copywriter.api_key must be set when copywriter is enabled")
	}
	if c.Channels.Telegram.Enabled {
		if !validate.BotToken(c.Channels.Telegram.BotToken) {
			return fmt.Errorf("channels.telegram.bot_token is missing or malformed")
		}
		if !validate.ChatID(c.Channels.Telegram.ChatID) {
			return fmt.Errorf("channels.telegram.chat_id is missing or malformed")
		}
	}
	if c.Channels.WhatsApp.Enabled && !validate.Phone(c.Channels.WhatsApp.RecipientE164) {
		return fmt.Errorf("channels.whatsapp.recipient must be an E.164 phone number")
	}
	if c.ShortLink.BaseURL != "" && !validate.HTTPURL(c.ShortLink.BaseURL) {
		return fmt.Errorf("shortlink.base_url must be an absolute http(s) url")
	}
	if c.PubSub.Enabled && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub is enabled")
	}
	return nil
}

// ScrapeTimeout converts the scraper timeout into a duration.
func (c Config) ScrapeTimeout() time.Duration {
	return time.Duration(c.Scraper.TimeoutSeconds) * time.Second
}

// RequestTimeout converts the server timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}
