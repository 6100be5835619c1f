// Package config loads pipeline settings from YAML with environment overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend types.
const (
	BackendPostgres = "postgres"
	BackendBigQuery = "bigquery"
	BackendMemory   = "memory"
)

// Config is the root configuration document.
type Config struct {
	Log      LogConfig       `yaml:"log"`
	Download DownloadConfig  `yaml:"download"`
	Loader   LoaderConfig    `yaml:"loader"`
	Mapping  MappingConfig   `yaml:"mapping"`
	Backend  BackendConfig   `yaml:"backend"`
	Staging  StagingConfig   `yaml:"staging"`
	Notify   NotifyConfig    `yaml:"notify"`
	Metrics  MetricsConfig   `yaml:"metrics"`
	Server   ServerConfig    `yaml:"server"`
	Profiles []ProfileConfig `yaml:"profiles"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// DownloadConfig controls the source-file transfer.
type DownloadConfig struct {
	URL         string        `yaml:"url"` // overrides the HITSS_DOWNLOAD_URL secret when set
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffCap  time.Duration `yaml:"backoff_cap"`
}

// LoaderConfig controls fact persistence.
type LoaderConfig struct {
	ChunkSize  int `yaml:"chunk_size"`
	MaxErrors  int `yaml:"max_errors"` // cap on per-record errors carried in results
	MaxRetries int `yaml:"max_retries"`
}

type MappingConfig struct {
	Profile      string `yaml:"profile"`
	StrictPeriod bool   `yaml:"strict_period"`
}

// BackendConfig selects and configures the persistence backend.
type BackendConfig struct {
	Type     string         `yaml:"type"`
	Postgres PostgresConfig `yaml:"postgres"`
	BigQuery BigQueryConfig `yaml:"bigquery"`
}

type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
}

type BigQueryConfig struct {
	ProjectID string `yaml:"project_id"`
	DatasetID string `yaml:"dataset_id"`
}

// StagingConfig controls upload of the raw artifact to object storage.
type StagingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
}

// NotifyConfig controls the completion webhook. An empty WebhookURL disables it.
type NotifyConfig struct {
	WebhookURL   string        `yaml:"webhook_url"`
	Token        string        `yaml:"token"`
	OnlyFailures bool          `yaml:"only_failures"`
	Timeout      time.Duration `yaml:"timeout"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type ServerConfig struct {
	Port      string `yaml:"port"`
	Workers   int    `yaml:"workers"`
	QueueSize int    `yaml:"queue_size"`
}

// ProfileConfig declares or extends a header dictionary.
// Headers maps a raw header (normalized on load) to a canonical field name.
type ProfileConfig struct {
	Name     string            `yaml:"name"`
	Extends  string            `yaml:"extends"`
	Headers  map[string]string `yaml:"headers"`
	Required []string          `yaml:"required"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the YAML file at path (optional), applies defaults and
// environment overrides, then validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parsing %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Download.Timeout == 0 {
		c.Download.Timeout = 7 * time.Minute
	}
	if c.Download.MaxRetries == 0 {
		c.Download.MaxRetries = 3
	}
	if c.Download.BackoffBase == 0 {
		c.Download.BackoffBase = 5 * time.Second
	}
	if c.Download.BackoffCap == 0 {
		c.Download.BackoffCap = 60 * time.Second
	}
	if c.Loader.ChunkSize == 0 {
		c.Loader.ChunkSize = 500
	}
	if c.Loader.MaxErrors == 0 {
		c.Loader.MaxErrors = 50
	}
	if c.Loader.MaxRetries == 0 {
		c.Loader.MaxRetries = 2
	}
	if c.Mapping.Profile == "" {
		c.Mapping.Profile = "dre"
	}
	if c.Backend.Type == "" {
		c.Backend.Type = BackendPostgres
	}
	if c.Backend.Postgres.MaxConns == 0 {
		c.Backend.Postgres.MaxConns = 10
	}
	if c.Backend.BigQuery.DatasetID == "" {
		c.Backend.BigQuery.DatasetID = "dre"
	}
	if c.Notify.Timeout == 0 {
		c.Notify.Timeout = 10 * time.Second
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.Workers == 0 {
		c.Server.Workers = 2
	}
	if c.Server.QueueSize == 0 {
		c.Server.QueueSize = 100
	}
}

func (c *Config) applyEnv() {
	setString(&c.Backend.Type, "DRE_BACKEND")
	setString(&c.Backend.Postgres.DSN, "DATABASE_URL")
	setString(&c.Backend.BigQuery.ProjectID, "BQ_PROJECT")
	setString(&c.Backend.BigQuery.DatasetID, "BQ_DATASET")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Mapping.Profile, "DRE_PROFILE")
	setString(&c.Notify.WebhookURL, "DRE_NOTIFY_WEBHOOK")
	setString(&c.Notify.Token, "DRE_NOTIFY_TOKEN")
	if setString(&c.Staging.Bucket, "GCS_BUCKET") {
		c.Staging.Enabled = true
	}
	if v := os.Getenv("DRE_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Loader.ChunkSize = n
		}
	}
}

func setString(dst *string, env string) bool {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		*dst = v
		return true
	}
	return false
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Backend.Type {
	case BackendPostgres:
		if c.Backend.Postgres.DSN == "" {
			return fmt.Errorf("backend.postgres.dsn is required for the postgres backend")
		}
	case BackendBigQuery:
		if c.Backend.BigQuery.ProjectID == "" {
			return fmt.Errorf("backend.bigquery.project_id is required for the bigquery backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown backend type %q", c.Backend.Type)
	}

	if c.Loader.ChunkSize < 1 {
		return fmt.Errorf("loader.chunk_size must be positive, got %d", c.Loader.ChunkSize)
	}
	if c.Download.MaxRetries < 0 {
		return fmt.Errorf("download.max_retries must not be negative")
	}
	if c.Download.BackoffCap < c.Download.BackoffBase {
		return fmt.Errorf("download.backoff_cap (%s) is below backoff_base (%s)", c.Download.BackoffCap, c.Download.BackoffBase)
	}
	if c.Notify.WebhookURL != "" {
		u, err := url.Parse(c.Notify.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("notify.webhook_url must be an absolute http(s) URL")
		}
	}
	if c.Staging.Enabled && c.Staging.Bucket == "" {
		return fmt.Errorf("staging.bucket is required when staging is enabled")
	}

	seen := make(map[string]bool)
	for i, p := range c.Profiles {
		if p.Name == "" {
			return fmt.Errorf("profiles[%d]: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("profiles[%d]: duplicate profile %q", i, p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}
