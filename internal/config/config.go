// Package config loads and validates ingestion configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata" // distroless images ship without a zone database

	"github.com/spf13/viper"

	"github.com/JakeFAU/tdnet-ingest/internal/classify"
	"github.com/JakeFAU/tdnet-ingest/internal/disclosure"
	"github.com/JakeFAU/tdnet-ingest/internal/listing"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Listing  ListingConfig  `mapstructure:"listing"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Registry RegistryConfig `mapstructure:"registry"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                int `mapstructure:"port"`
	ShutdownTimeoutSecs int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ListingConfig configures access to the disclosure listing portal.
type ListingConfig struct {
	BaseURL            string `mapstructure:"base_url"`
	UserAgent          string `mapstructure:"user_agent"`
	TimeoutSeconds     int    `mapstructure:"timeout_seconds"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
	MaxPages           int    `mapstructure:"max_pages"`
}

// PipelineConfig governs the worker pool and document filtering.
type PipelineConfig struct {
	MaxWorkers          int      `mapstructure:"max_workers"`
	PerWorkerRateLimit  int      `mapstructure:"per_worker_rate_limit"`
	BatchSize           int      `mapstructure:"batch_size"`
	FetchTimeoutSeconds int      `mapstructure:"fetch_timeout_seconds"`
	ExcludedMarkets     []string `mapstructure:"excluded_markets"`
	TempDir             string   `mapstructure:"temp_dir"`
	Timezone            string   `mapstructure:"timezone"`
}

// RegistryConfig points at the listed-company CSV.
type RegistryConfig struct {
	Path string `mapstructure:"path"`
}

// StorageConfig selects the durable store and its key layout.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	LocalDir    string `mapstructure:"local_dir"`
	BasePath    string `mapstructure:"base_path"`
	Layout      string `mapstructure:"layout"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls access to the run ledger database.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// TracingConfig controls span sampling.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// RunOptions are the knobs a date run recognizes.
type RunOptions struct {
	MaxWorkers          int
	PerWorkerRateLimit  int
	BatchSize           int
	FetchTimeoutSeconds int
	BasePath            string
	ExcludedMarkets     []string
}

// Load builds a Config from disk/environment. Without an explicit path it
// looks for tdnet-ingest.{yaml,json,toml} in the working directory and
// /etc/tdnet-ingest/, and falls back to defaults plus TDNET_* variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TDNET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("tdnet-ingest")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tdnet-ingest/")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
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
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("listing.base_url", listing.DefaultBaseURL)
	v.SetDefault("listing.user_agent", "tdnet-ingest/0.1")
	v.SetDefault("listing.timeout_seconds", 15)
	v.SetDefault("listing.insecure_skip_verify", false)
	v.SetDefault("listing.max_pages", 200)
	v.SetDefault("pipeline.max_workers", 5)
	v.SetDefault("pipeline.per_worker_rate_limit", 5)
	v.SetDefault("pipeline.batch_size", 50)
	v.SetDefault("pipeline.fetch_timeout_seconds", 30)
	v.SetDefault("pipeline.excluded_markets", classify.DefaultExcludedMarkets)
	v.SetDefault("pipeline.timezone", "Asia/Tokyo")
	v.SetDefault("registry.path", "data/companies.csv")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.local_dir", "data/store")
	v.SetDefault("storage.base_path", "tdnet_pdfs")
	v.SetDefault("storage.layout", string(disclosure.LayoutFlat))
	v.SetDefault("storage.content_type", "application/pdf")
	v.SetDefault("db.table", "tdnet_runs")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.ensure_schema", true)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "tdnet-ingest")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if u, err := url.Parse(c.Listing.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("listing.base_url must be an absolute URL")
	}
	if c.Listing.TimeoutSeconds <= 0 {
		return fmt.Errorf("listing.timeout_seconds must be > 0")
	}
	if c.Listing.MaxPages <= 0 {
		return fmt.Errorf("listing.max_pages must be > 0")
	}
	if c.Pipeline.MaxWorkers <= 0 {
		return fmt.Errorf("pipeline.max_workers must be > 0")
	}
	if c.Pipeline.PerWorkerRateLimit <= 0 {
		return fmt.Errorf("pipeline.per_worker_rate_limit must be > 0")
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline.batch_size must be > 0")
	}
	if c.Pipeline.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("pipeline.fetch_timeout_seconds must be > 0")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("pipeline.timezone must be a valid IANA zone: %w", err)
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if strings.TrimSpace(c.Storage.LocalDir) == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, local, gcs")
	}
	if strings.Trim(c.Storage.BasePath, "/ ") == "" {
		return fmt.Errorf("storage.base_path must not be empty")
	}
	switch disclosure.Layout(c.Storage.Layout) {
	case disclosure.LayoutFlat, disclosure.LayoutByType:
	default:
		return fmt.Errorf("storage.layout must be flat or by_type")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	return nil
}

// Location returns the zone used to resolve "today".
func (c Config) Location() (*time.Location, error) {
	if c.Pipeline.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Pipeline.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load location: %w", err)
	}
	return loc, nil
}

// Keys returns the storage key scheme.
func (c Config) Keys() disclosure.KeyScheme {
	return disclosure.KeyScheme{
		BasePath: strings.Trim(c.Storage.BasePath, "/ "),
		Layout:   disclosure.Layout(c.Storage.Layout),
	}
}

// Options projects the run options out of the pipeline and storage sections.
func (c Config) Options() RunOptions {
	return RunOptions{
		MaxWorkers:          c.Pipeline.MaxWorkers,
		PerWorkerRateLimit:  c.Pipeline.PerWorkerRateLimit,
		BatchSize:           c.Pipeline.BatchSize,
		FetchTimeoutSeconds: c.Pipeline.FetchTimeoutSeconds,
		BasePath:            c.Keys().BasePath,
		ExcludedMarkets:     append([]string(nil), c.Pipeline.ExcludedMarkets...),
	}
}

// FetchTimeout converts the per-document timeout into a duration.
func (o RunOptions) FetchTimeout() time.Duration {
	return time.Duration(o.FetchTimeoutSeconds) * time.Second
}
