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
	Server      ServerConfig      `mapstructure:"server"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Bus         BusConfig         `mapstructure:"bus"`
	Marketplace MarketplaceConfig `mapstructure:"marketplace"`
	ListCrawl   ListCrawlConfig   `mapstructure:"list_crawl"`
	DetailCrawl DetailCrawlConfig `mapstructure:"detail_crawl"`
	PriceUpdate PriceUpdateConfig `mapstructure:"price_update"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Provider is "postgres" or "memory".
	Provider string   `mapstructure:"provider"`
	DB       DBConfig `mapstructure:"db"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int    `mapstructure:"max_conns"`
	MinConns        int    `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// BusConfig selects the task bus backend.
type BusConfig struct {
	// Provider is "pubsub" or "memory".
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
}

// MarketplaceConfig points the crawlers at the remote catalog API.
type MarketplaceConfig struct {
	ListingURL     string `mapstructure:"listing_url"`
	DetailURL      string `mapstructure:"detail_url"`
	Category       string `mapstructure:"category"`
	URLKey         string `mapstructure:"url_key"`
	Origin         string `mapstructure:"origin"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
}

// ListCrawlConfig governs list-crawl pagination and batching.
type ListCrawlConfig struct {
	Source           string `mapstructure:"source"`
	MaxPages         int    `mapstructure:"max_pages"`
	PageSize         int    `mapstructure:"page_size"`
	BulkBatchSize    int    `mapstructure:"bulk_batch_size"`
	InterPageDelayMs int    `mapstructure:"inter_page_delay_ms"`
}

// DetailCrawlConfig governs detail-crawl retry behavior.
type DetailCrawlConfig struct {
	MaxRetryAttempts  int `mapstructure:"max_retry_attempts"`
	RetryBaseDelaySec int `mapstructure:"retry_base_delay_seconds"`
	RecrawlBatchLimit int `mapstructure:"recrawl_batch_limit"`
}

// PriceUpdateConfig governs price fan-out batching and the recurring trigger.
type PriceUpdateConfig struct {
	BatchSize         int    `mapstructure:"batch_size"`
	InterBatchDelayMs int    `mapstructure:"inter_batch_delay_ms"`
	CronSpec          string `mapstructure:"cron_spec"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INGEST")
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
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.db.max_conns", 10)
	v.SetDefault("storage.db.min_conns", 2)
	v.SetDefault("storage.db.conn_lifetime_minutes", 30)
	v.SetDefault("bus.provider", "memory")
	v.SetDefault("marketplace.listing_url", "https://tiki.vn/api/personalish/v1/blocks/listings")
	v.SetDefault("marketplace.detail_url", "https://tiki.vn/api/v2/products")
	v.SetDefault("marketplace.category", "8322")
	v.SetDefault("marketplace.url_key", "nha-sach-tiki")
	v.SetDefault("marketplace.origin", "https://tiki.vn")
	v.SetDefault("marketplace.timeout_seconds", 10)
	v.SetDefault("marketplace.max_retries", 2)
	v.SetDefault("list_crawl.source", "Tiki")
	v.SetDefault("list_crawl.max_pages", 3)
	v.SetDefault("list_crawl.page_size", 40)
	v.SetDefault("list_crawl.bulk_batch_size", 100)
	v.SetDefault("list_crawl.inter_page_delay_ms", 500)
	v.SetDefault("detail_crawl.max_retry_attempts", 3)
	v.SetDefault("detail_crawl.retry_base_delay_seconds", 5)
	v.SetDefault("detail_crawl.recrawl_batch_limit", 50)
	v.SetDefault("price_update.batch_size", 100)
	v.SetDefault("price_update.inter_batch_delay_ms", 2000)
	v.SetDefault("price_update.cron_spec", "0 2 * * *")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Storage.Provider {
	case "postgres":
		if c.Storage.DB.DSN == "" {
			return fmt.Errorf("storage.db.dsn is required when storage.provider is postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	switch c.Bus.Provider {
	case "pubsub":
		if c.Bus.ProjectID == "" {
			return fmt.Errorf("bus.project_id is required when bus.provider is pubsub")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown bus.provider %q", c.Bus.Provider)
	}
	if c.Marketplace.ListingURL == "" || c.Marketplace.DetailURL == "" {
		return fmt.Errorf("marketplace.listing_url and marketplace.detail_url are required")
	}
	if c.ListCrawl.MaxPages <= 0 {
		return fmt.Errorf("list_crawl.max_pages must be > 0")
	}
	if c.ListCrawl.PageSize <= 0 {
		return fmt.Errorf("list_crawl.page_size must be > 0")
	}
	if c.DetailCrawl.MaxRetryAttempts <= 0 {
		return fmt.Errorf("detail_crawl.max_retry_attempts must be > 0")
	}
	if c.PriceUpdate.BatchSize <= 0 {
		return fmt.Errorf("price_update.batch_size must be > 0")
	}
	return nil
}

// HTTPTimeout converts the marketplace timeout into a duration.
func (c MarketplaceConfig) HTTPTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// InterPageDelay converts the configured delay into a duration.
func (c ListCrawlConfig) InterPageDelay() time.Duration {
	return time.Duration(c.InterPageDelayMs) * time.Millisecond
}

// RetryBaseDelay converts the configured delay into a duration.
func (c DetailCrawlConfig) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelaySec) * time.Second
}

// InterBatchDelay converts the configured delay into a duration.
func (c PriceUpdateConfig) InterBatchDelay() time.Duration {
	return time.Duration(c.InterBatchDelayMs) * time.Millisecond
}

// ConnLifetime converts the configured lifetime into a duration.
func (c DBConfig) ConnLifetime() time.Duration {
	return time.Duration(c.ConnLifetimeMin) * time.Minute
}
