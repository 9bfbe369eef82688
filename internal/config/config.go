// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/sitesearch/internal/coordinator"
	"github.com/JakeFAU/sitesearch/internal/lemma"
)

// EnvPrefix prefixes every environment override, e.g. SITESEARCH_SERVER_PORT.
const EnvPrefix = "SITESEARCH"

// Storage and archive backends.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageBadger   = "badger"

	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig             `mapstructure:"server"`
	Auth       AuthConfig               `mapstructure:"auth"`
	Logging    LoggingConfig            `mapstructure:"logging"`
	Crawler    CrawlerConfig            `mapstructure:"crawler"`
	HTTP       HTTPConfig               `mapstructure:"http"`
	Lemmatizer LemmatizerConfig         `mapstructure:"lemmatizer"`
	Storage    StorageConfig            `mapstructure:"storage"`
	Archive    ArchiveConfig            `mapstructure:"archive"`
	PubSub     PubSubConfig             `mapstructure:"pubsub"`
	Search     SearchConfig             `mapstructure:"search"`
	Sites      []coordinator.SiteConfig `mapstructure:"sites"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig governs the worker pool and per-request politeness.
type CrawlerConfig struct {
	Concurrency      int      `mapstructure:"concurrency"`
	UserAgent        string   `mapstructure:"user_agent"`
	Referrer         string   `mapstructure:"referrer"`
	DelayMs          int      `mapstructure:"delay_ms"`
	RateLimitRPS     float64  `mapstructure:"rate_limit_rps"`
	RateLimitBurst   int      `mapstructure:"rate_limit_burst"`
	RespectRobots    bool     `mapstructure:"respect_robots"`
	ExcludedSuffixes []string `mapstructure:"excluded_suffixes"`
}

// HTTPConfig configures the fetch client.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// LemmatizerConfig selects the morphological backend.
type LemmatizerConfig struct {
	Language string `mapstructure:"language"`
}

// StorageConfig selects and tunes the index repository.
type StorageConfig struct {
	Backend        string `mapstructure:"backend"`
	DSN            string `mapstructure:"dsn"`
	MaxConns       int32  `mapstructure:"max_conns"`
	BadgerPath     string `mapstructure:"badger_path"`
	BadgerInMemory bool   `mapstructure:"badger_in_memory"`
}

// ArchiveConfig selects where raw page markup is copied.
type ArchiveConfig struct {
	Backend     string `mapstructure:"backend"`
	BaseDir     string `mapstructure:"base_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PubSubConfig holds metadata for site lifecycle notifications.
// Events go to the in-memory publisher when ProjectID is empty.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// SearchConfig tunes query responses.
type SearchConfig struct {
	DefaultLimit int `mapstructure:"default_limit"`
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("crawler.concurrency", 16)
	v.SetDefault("crawler.user_agent", "SiteSearchBot/1.0")
	v.SetDefault("crawler.referrer", "https://www.google.com")
	v.SetDefault("crawler.delay_ms", 45)
	v.SetDefault("crawler.rate_limit_rps", 0)
	v.SetDefault("crawler.rate_limit_burst", 1)
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("lemmatizer.language", "english")
	v.SetDefault("storage.backend", StorageMemory)
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.max_conns", 10)
	v.SetDefault("storage.badger_path", "data/badger")
	v.SetDefault("storage.badger_in_memory", false)
	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.base_dir", "data/pages")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.content_type", "text/html; charset=utf-8")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "site-events")
	v.SetDefault("search.default_limit", 20)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Crawler.Concurrency <= 0 {
		errs = append(errs, errors.New("crawler.concurrency must be > 0"))
	}
	if c.Crawler.DelayMs < 0 {
		errs = append(errs, errors.New("crawler.delay_ms must be >= 0"))
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("http.timeout_seconds must be > 0"))
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		errs = append(errs, errors.New("auth.api_key must be set when auth is enabled"))
	}
	if !slices.Contains(lemma.Languages(), c.Lemmatizer.Language) {
		errs = append(errs, fmt.Errorf("lemmatizer.language %q is not one of %v", c.Lemmatizer.Language, lemma.Languages()))
	}

	switch c.Storage.Backend {
	case StorageMemory:
	case StoragePostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn must be set for the postgres backend"))
		}
	case StorageBadger:
		if c.Storage.BadgerPath == "" && !c.Storage.BadgerInMemory {
			errs = append(errs, errors.New("storage.badger_path must be set unless badger_in_memory"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}

	switch c.Archive.Backend {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Archive.BaseDir == "" {
			errs = append(errs, errors.New("archive.base_dir must be set for the local archive"))
		}
	case ArchiveGCS:
		if c.Archive.GCSBucket == "" {
			errs = append(errs, errors.New("archive.gcs_bucket must be set for the gcs archive"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown archive.backend %q", c.Archive.Backend))
	}

	for i, site := range c.Sites {
		u, err := url.Parse(site.URL)
		if site.URL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("sites[%d].url %q must be an absolute http(s) url", i, site.URL))
		}
	}
	return errors.Join(errs...)
}

// Delay returns the politeness delay between link batches.
func (c Config) Delay() time.Duration {
	return time.Duration(c.Crawler.DelayMs) * time.Millisecond
}

// FetchTimeout returns the per-request fetch timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RequestTimeout returns the HTTP handler timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
