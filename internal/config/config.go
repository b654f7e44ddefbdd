package config

import (
	"encoding/json"
	"fmt"
	"os"
)

type Config struct {
	Scheduler SchedulerConfig         `json:"scheduler"`
	Sources   map[string]SourceConfig `json:"sources"`
	Venues    map[string]VenueConfig  `json:"venues"`
	Pipeline  PipelineConfig          `json:"pipeline"`
	Catalog   CatalogConfig           `json:"catalog"`
	Proxy     ProxyConfig             `json:"proxy"`
	API       APIConfig               `json:"api"`
	Storage   StorageConfig           `json:"storage"`
	Metrics   MetricsConfig           `json:"metrics"`
	Logging   LoggingConfig           `json:"logging"`
}

type SchedulerConfig struct {
	PollIntervalSeconds int `json:"poll_interval_seconds"`
}

type SourceConfig struct {
	Enabled         bool   `json:"enabled"`
	IntervalSeconds int    `json:"interval_seconds"`
	RequestDelayMs  int    `json:"request_delay_ms"`
	MaxRetries      int    `json:"max_retries"`
	FeedURL         string `json:"feed_url,omitempty"`
}

type VenueConfig struct {
	FeeRate         float64 `json:"fee_rate"`
	DefaultShipping float64 `json:"default_shipping"`
}

type PipelineConfig struct {
	MinDealScore float64 `json:"min_deal_score"`
	PriceFloor   float64 `json:"price_floor"`
	PriceCeiling float64 `json:"price_ceiling"`
}

type CatalogConfig struct {
	Path string `json:"path"`
}

type ProxyConfig struct {
	Enabled         bool     `json:"enabled"`
	Provider        string   `json:"provider"` // brightdata, oxylabs, smartproxy, iproyal, custom
	ServiceURL      string   `json:"service_url"`
	APIKey          string   `json:"api_key"`
	Username        string   `json:"username"`
	Password        string   `json:"password"`
	Country         string   `json:"country"`
	CooldownSeconds int      `json:"cooldown_seconds"`
	StaticPool      []string `json:"static_pool,omitempty"`
	TestURL         string   `json:"test_url"`
}

type APIConfig struct {
	Addr               string `json:"addr"`
	APIKeyEnv          string `json:"api_key_env"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute"`
	EnableAPIKeyAuth   bool   `json:"enable_api_key_auth"`
	EnableIPRateLimit  bool   `json:"enable_ip_rate_limit"`
}

type StorageConfig struct {
	Type string `json:"type"` // "file", "sqlite", "redis"
	Path string `json:"path"`
}

type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Endpoint  string `json:"endpoint"`
	Namespace string `json:"namespace"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// DefaultVenues is the built-in venue fee/shipping table (GBP).
func DefaultVenues() map[string]VenueConfig {
	return map[string]VenueConfig{
		"ebay":          {FeeRate: 0.128, DefaultShipping: 1.50},
		"cardmarket":    {FeeRate: 0.05, DefaultShipping: 1.20},
		"vinted":        {FeeRate: 0.05, DefaultShipping: 2.50},
		"facebook":      {FeeRate: 0.0, DefaultShipping: 0.0},
		"magicmadhouse": {FeeRate: 0.0, DefaultShipping: 1.99},
		"chaoscards":    {FeeRate: 0.0, DefaultShipping: 1.49},
	}
}

// Load reads configuration from a JSON file and fills in defaults.
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config JSON: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Scheduler.PollIntervalSeconds == 0 {
		c.Scheduler.PollIntervalSeconds = 10
	}
	if c.Sources == nil {
		c.Sources = map[string]SourceConfig{}
	}
	for name, src := range c.Sources {
		if src.IntervalSeconds == 0 {
			src.IntervalSeconds = 60
		}
		if src.RequestDelayMs == 0 {
			src.RequestDelayMs = 1000
		}
		if src.MaxRetries == 0 {
			src.MaxRetries = 3
		}
		c.Sources[name] = src
	}
	if len(c.Venues) == 0 {
		c.Venues = DefaultVenues()
	}
	if c.Pipeline.MinDealScore == 0 {
		c.Pipeline.MinDealScore = 15
	}
	if c.Pipeline.PriceFloor == 0 {
		c.Pipeline.PriceFloor = 10.0
	}
	if c.Pipeline.PriceCeiling == 0 {
		c.Pipeline.PriceCeiling = 10000.0
	}
	if c.Proxy.Country == "" {
		c.Proxy.Country = "GB"
	}
	if c.Proxy.CooldownSeconds == 0 {
		c.Proxy.CooldownSeconds = 30
	}
	if c.Proxy.TestURL == "" {
		c.Proxy.TestURL = "https://www.google.com/generate_204"
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8084"
	}
	if c.API.RateLimitPerMinute == 0 {
		c.API.RateLimitPerMinute = 600
	}
	if c.Storage.Type == "" {
		c.Storage.Type = "file"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "/data/deals.json"
	}
	if c.Metrics.Endpoint == "" {
		c.Metrics.Endpoint = "/metrics"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "dealscout"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Scheduler.PollIntervalSeconds < 1 {
		return fmt.Errorf("poll_interval_seconds must be at least 1")
	}
	for name, src := range c.Sources {
		if src.IntervalSeconds < 30 {
			return fmt.Errorf("source %s: interval_seconds must be at least 30", name)
		}
	}
	for name, venue := range c.Venues {
		if venue.FeeRate < 0 || venue.FeeRate >= 1 {
			return fmt.Errorf("venue %s: fee_rate must be in [0,1)", name)
		}
		if venue.DefaultShipping < 0 {
			return fmt.Errorf("venue %s: default_shipping must not be negative", name)
		}
	}
	if c.Pipeline.PriceFloor > c.Pipeline.PriceCeiling {
		return fmt.Errorf("price_floor must not exceed price_ceiling")
	}
	if c.Storage.Type != "file" && c.Storage.Type != "sqlite" && c.Storage.Type != "redis" {
		return fmt.Errorf("storage type must be 'file', 'sqlite', or 'redis'")
	}
	return nil
}
