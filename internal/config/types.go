package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds every server-level option for the feedstack process.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Storage StorageConfig `koanf:"storage"`
	Cache   CacheConfig   `koanf:"cache"`
	NewsAPI NewsAPIConfig `koanf:"newsapi"`
}

// ServerConfig collects the HTTP listener and logging knobs.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level, format, and correlation ID wiring.
type LoggingConfig struct {
	Level             string `koanf:"level"`
	Format            string `koanf:"format"`
	CorrelationHeader string `koanf:"correlationHeader"`
}

// StorageConfig selects the key-value backend shared by the cache and user data.
type StorageConfig struct {
	Backend string            `koanf:"backend"`
	SQLite  SQLiteStoreConfig `koanf:"sqlite"`
	Redis   RedisStoreConfig  `koanf:"redis"`
}

type SQLiteStoreConfig struct {
	Path string `koanf:"path"`
}

type RedisStoreConfig struct {
	Address  string         `koanf:"address"`
	Username string         `koanf:"username"`
	Password string         `koanf:"password"`
	DB       int            `koanf:"db"`
	TLS      RedisTLSConfig `koanf:"tls"`
}

type RedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// CacheConfig tunes the article cache engine. Durations are strings ("1h", "90s").
type CacheConfig struct {
	DefaultTTL         string  `koanf:"defaultTTL"`
	MaxTTL             string  `koanf:"maxTTL"`
	MaxSizeBytes       int64   `koanf:"maxSizeBytes"`
	LowWaterRatio      float64 `koanf:"lowWaterRatio"`
	JanitorInterval    string  `koanf:"janitorInterval"`
	FollowCacheControl bool    `koanf:"followCacheControl"`
}

// NewsAPIConfig describes the upstream newsapi.org client.
type NewsAPIConfig struct {
	BaseURL   string `koanf:"baseURL"`
	APIKey    string `koanf:"apiKey"`
	Timeout   string `koanf:"timeout"`
	RetryMax  int    `koanf:"retryMax"`
	UserAgent string `koanf:"userAgent"`
}

// DefaultTTLDuration parses DefaultTTL; Validate guarantees it parses.
func (c CacheConfig) DefaultTTLDuration() time.Duration {
	return parseDurationOr(c.DefaultTTL, time.Hour)
}

// MaxTTLDuration returns the TTL ceiling, zero meaning no ceiling.
func (c CacheConfig) MaxTTLDuration() time.Duration {
	return parseDurationOr(c.MaxTTL, 0)
}

// JanitorIntervalDuration returns how often expired and oversized entries are swept.
func (c CacheConfig) JanitorIntervalDuration() time.Duration {
	return parseDurationOr(c.JanitorInterval, 15*time.Minute)
}

// TimeoutDuration returns the per-request upstream timeout.
func (c NewsAPIConfig) TimeoutDuration() time.Duration {
	return parseDurationOr(c.Timeout, 10*time.Second)
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// Validate enforces invariants that keep the runtime predictable before serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port < 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	backend := strings.TrimSpace(strings.ToLower(c.Storage.Backend))
	switch backend {
	case "", "memory":
	case "sqlite":
		if strings.TrimSpace(c.Storage.SQLite.Path) == "" {
			return errors.New("config: storage.sqlite.path required for sqlite backend")
		}
	case "redis":
		if strings.TrimSpace(c.Storage.Redis.Address) == "" {
			return errors.New("config: storage.redis.address required for redis backend")
		}
	default:
		return fmt.Errorf("config: storage.backend unsupported: %s", c.Storage.Backend)
	}
	if c.Cache.MaxSizeBytes <= 0 {
		return fmt.Errorf("config: cache.maxSizeBytes invalid: %d", c.Cache.MaxSizeBytes)
	}
	if c.Cache.LowWaterRatio <= 0 || c.Cache.LowWaterRatio > 1 {
		return fmt.Errorf("config: cache.lowWaterRatio must be in (0,1]: %v", c.Cache.LowWaterRatio)
	}
	durations := map[string]string{
		"cache.defaultTTL":      c.Cache.DefaultTTL,
		"cache.maxTTL":          c.Cache.MaxTTL,
		"cache.janitorInterval": c.Cache.JanitorInterval,
		"newsapi.timeout":       c.NewsAPI.Timeout,
	}
	for name, value := range durations {
		if strings.TrimSpace(value) == "" {
			continue
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("config: %s invalid: %w", name, err)
		}
		if d < 0 {
			return fmt.Errorf("config: %s negative: %s", name, value)
		}
	}
	if c.Cache.DefaultTTLDuration() <= 0 {
		return errors.New("config: cache.defaultTTL must be positive")
	}
	if c.NewsAPI.RetryMax < 0 {
		return fmt.Errorf("config: newsapi.retryMax invalid: %d", c.NewsAPI.RetryMax)
	}
	return nil
}

// DefaultConfig returns the baseline values that align with the design defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:             "info",
				Format:            "json",
				CorrelationHeader: "X-Request-ID",
			},
		},
		Storage: StorageConfig{
			Backend: "sqlite",
			SQLite:  SQLiteStoreConfig{Path: "./data/feedstack.db"},
		},
		Cache: CacheConfig{
			DefaultTTL:         "1h",
			MaxSizeBytes:       50 * 1024 * 1024,
			LowWaterRatio:      0.8,
			JanitorInterval:    "15m",
			FollowCacheControl: true,
			MaxTTL:             "6h",
		},
		NewsAPI: NewsAPIConfig{
			BaseURL:   "https://newsapi.org",
			Timeout:   "10s",
			RetryMax:  2,
			UserAgent: "feedstack/1.0",
		},
	}
}
