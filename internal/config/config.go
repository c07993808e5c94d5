// Package config loads harvester configuration from files and environment
// variables using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the harvester.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	AI         AIConfig         `mapstructure:"ai"`
	DB         DBConfig         `mapstructure:"db"`
	Storage    StorageConfig    `mapstructure:"storage"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds API server settings.
type ServerConfig struct {
	Port      int    `mapstructure:"port"`
	SecretKey string `mapstructure:"secret_key"`
}

// CrawlerConfig controls scheduling and crawl concurrency.
type CrawlerConfig struct {
	CronSpec            string        `mapstructure:"cron_spec"`
	MaxConcurrentSites  int           `mapstructure:"max_concurrent_sites"`
	MaxLinksPerSource   int           `mapstructure:"max_links_per_source"`
	LockHolder          string        `mapstructure:"lock_holder"`
	AutoPauseFailures   int           `mapstructure:"auto_pause_failures"`
	DefaultFrequency    time.Duration `mapstructure:"default_frequency"`
	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`
}

// HTTPConfig controls outbound fetch behavior.
type HTTPConfig struct {
	UserAgent          string        `mapstructure:"user_agent"`
	Timeout            time.Duration `mapstructure:"timeout"`
	MaxRetries         int           `mapstructure:"max_retries"`
	RetryBaseDelay     time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay      time.Duration `mapstructure:"retry_max_delay"`
	PerHostInterval    time.Duration `mapstructure:"per_host_interval"`
	PerHostConcurrency int           `mapstructure:"per_host_concurrency"`
	GlobalConcurrency  int           `mapstructure:"global_concurrency"`
	MaxBodyBytes       int           `mapstructure:"max_body_bytes"`
	RobotsTTL          time.Duration `mapstructure:"robots_ttl"`
}

// ExtractionConfig controls the pipeline rollout and routing.
type ExtractionConfig struct {
	UseNewExtractor     bool     `mapstructure:"use_new_extractor"`
	ShadowMode          bool     `mapstructure:"shadow_mode"`
	DomainAllowlist     []string `mapstructure:"domain_allowlist"`
	RolloutPercent      int      `mapstructure:"rollout_percent"`
	SmokeLimit          int      `mapstructure:"smoke_limit"`
	UseStorage          bool     `mapstructure:"use_storage"`
	JobsTable           string   `mapstructure:"jobs_table"`
	ClassifierThreshold float64  `mapstructure:"classifier_threshold"`
}

// AIConfig controls the budgeted AI extraction fallback.
type AIConfig struct {
	APIKey      string `mapstructure:"api_key"`
	Model       string `mapstructure:"model"`
	DailyBudget int    `mapstructure:"daily_budget"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RedisURL    string `mapstructure:"redis_url"`
}

// DBConfig holds the Postgres connection settings.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int           `mapstructure:"max_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// StorageConfig selects the raw-page blob store provider.
type StorageConfig struct {
	Provider    string `mapstructure:"provider"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	BaseDir     string `mapstructure:"base_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PubSubConfig selects the ingest event publisher.
type PubSubConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// MonitorConfig controls the failure-rate monitor.
type MonitorConfig struct {
	WindowMinutes    int     `mapstructure:"window_minutes"`
	ThresholdPercent float64 `mapstructure:"threshold_percent"`
	MinSample        int     `mapstructure:"min_sample"`
	IntervalMinutes  int     `mapstructure:"interval_minutes"`
	IncidentDir      string  `mapstructure:"incident_dir"`
}

// LoggingConfig controls logger construction.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load reads configuration from config.yaml (optional) and the environment.
// Environment variables map to keys with dots replaced by underscores, e.g.
// EXTRACTION_USE_NEW_EXTRACTOR binds to extraction.use_new_extractor.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Legacy names kept for operator compatibility.
	_ = v.BindEnv("extraction.jobs_table", "JOBS_TABLE", "EXTRACTION_JOBS_TABLE")
	_ = v.BindEnv("db.dsn", "DATABASE_URL", "DB_DSN")
	_ = v.BindEnv("ai.api_key", "GOOGLE_AI_API_KEY", "AI_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.secret_key", "")

	v.SetDefault("crawler.cron_spec", "*/10 * * * *")
	v.SetDefault("crawler.max_concurrent_sites", 4)
	v.SetDefault("crawler.max_links_per_source", 25)
	v.SetDefault("crawler.lock_holder", "")
	v.SetDefault("crawler.auto_pause_failures", 5)
	v.SetDefault("crawler.default_frequency", "6h")
	v.SetDefault("crawler.shutdown_grace_period", "30s")

	v.SetDefault("http.user_agent", "ReliefWorksHarvester/1.0 (+https://reliefworks.org/bot)")
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.retry_base_delay", "1s")
	v.SetDefault("http.retry_max_delay", "30s")
	v.SetDefault("http.per_host_interval", "3s")
	v.SetDefault("http.per_host_concurrency", 2)
	v.SetDefault("http.global_concurrency", 10)
	v.SetDefault("http.max_body_bytes", 5*1024*1024)
	v.SetDefault("http.robots_ttl", "12h")

	v.SetDefault("extraction.use_new_extractor", false)
	v.SetDefault("extraction.shadow_mode", false)
	v.SetDefault("extraction.domain_allowlist", []string{})
	v.SetDefault("extraction.rollout_percent", 0)
	v.SetDefault("extraction.smoke_limit", 0)
	v.SetDefault("extraction.use_storage", true)
	v.SetDefault("extraction.jobs_table", "jobs")
	v.SetDefault("extraction.classifier_threshold", 0.35)

	v.SetDefault("ai.model", "gemini-1.5-flash")
	v.SetDefault("ai.daily_budget", 2000)
	v.SetDefault("ai.timeout", "20s")
	v.SetDefault("ai.redis_url", "")

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.conn_max_lifetime", "30m")

	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.base_dir", "/tmp/jobharvester/pages")
	v.SetDefault("storage.prefix", "raw-pages")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")

	v.SetDefault("pubsub.provider", "memory")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_id", "job-ingest-events")

	v.SetDefault("monitor.window_minutes", 60)
	v.SetDefault("monitor.threshold_percent", 5.0)
	v.SetDefault("monitor.min_sample", 10)
	v.SetDefault("monitor.interval_minutes", 5)
	v.SetDefault("monitor.incident_dir", "/tmp/jobharvester/incidents")

	v.SetDefault("logging.development", false)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535], got %d", c.Server.Port)
	}
	if c.Extraction.RolloutPercent < 0 || c.Extraction.RolloutPercent > 100 {
		return fmt.Errorf("extraction.rollout_percent must be in [0, 100], got %d", c.Extraction.RolloutPercent)
	}
	if c.Extraction.JobsTable == "" {
		return fmt.Errorf("extraction.jobs_table must not be empty")
	}
	if c.Extraction.ClassifierThreshold < 0 || c.Extraction.ClassifierThreshold > 1 {
		return fmt.Errorf("extraction.classifier_threshold must be in [0, 1], got %f", c.Extraction.ClassifierThreshold)
	}
	if c.Monitor.ThresholdPercent <= 0 {
		return fmt.Errorf("monitor.threshold_percent must be positive, got %f", c.Monitor.ThresholdPercent)
	}
	if c.Monitor.MinSample < 1 {
		return fmt.Errorf("monitor.min_sample must be at least 1, got %d", c.Monitor.MinSample)
	}
	switch c.Storage.Provider {
	case "memory", "local", "gcs":
	default:
		return fmt.Errorf("storage.provider must be one of memory, local, gcs; got %q", c.Storage.Provider)
	}
	switch c.PubSub.Provider {
	case "memory", "pubsub":
	default:
		return fmt.Errorf("pubsub.provider must be one of memory, pubsub; got %q", c.PubSub.Provider)
	}
	if c.Storage.Provider == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket is required when storage.provider is gcs")
	}
	if c.PubSub.Provider == "pubsub" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.provider is pubsub")
	}
	return nil
}
