// Package config loads and validates the service runtime configuration
// from TOML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultHTTPListen  = ":8080"
	defaultAlertsPath  = "/api/v1/alerts"
	defaultHealthPath  = "/healthz"
	defaultReadyPath   = "/readyz"
	defaultMetricsPath = "/metrics"

	defaultNATSURL            = "nats://127.0.0.1:4222"
	defaultNATSSubject        = "amroute.alerts"
	defaultNATSIngestStream   = "AMROUTE_ALERTS"
	defaultNATSIngestConsumer = "amroute-ingest"
	defaultNATSIngestGroup    = "amroute-workers"
	defaultNATSIngestWorkers  = 1
	defaultNATSAckWaitSec     = 30
	defaultNATSDataBucket     = "amroute_data"
	defaultNATSAlarmBucket    = "amroute_alarms"

	defaultAccountsDir = "accounts"
	defaultFilesDir    = "files"

	defaultMaxRetries          = 10
	defaultRetryInitialDelayMS = 200
	defaultAlarmRetryDelayMS   = 5000
	defaultFlushPageSize       = 0

	// ServiceModeNATS keeps NATS-backed storage and queue ingest settings.
	ServiceModeNATS = "nats"
	// ServiceModeSingle keeps single-instance mode without NATS dependencies.
	ServiceModeSingle = "single"
)

// Config holds service runtime settings.
// Params: TOML sections from the config file.
// Returns: validated runtime configuration.
type Config struct {
	Service  ServiceConfig  `toml:"service"`
	Log      LogConfig      `toml:"log"`
	Ingest   IngestConfig   `toml:"ingest"`
	Store    StoreConfig    `toml:"store"`
	Accounts AccountsConfig `toml:"accounts"`
	Dispatch DispatchConfig `toml:"dispatch"`
}

// ServiceConfig holds process-level settings.
// Params: deployment mode and shutdown budget.
// Returns: service section values.
type ServiceConfig struct {
	Mode                   string `toml:"mode"`
	ShutdownTimeoutSeconds int    `toml:"shutdown_timeout_seconds"`
}

// LogConfig holds logging sink settings.
// Params: level, formats, and optional file sink.
// Returns: log section values.
type LogConfig struct {
	Level         string `toml:"level"`
	ConsoleFormat string `toml:"console_format"`
	File          string `toml:"file"`
	FileFormat    string `toml:"file_format"`
}

// IngestConfig holds HTTP and NATS ingestion settings.
// Params: HTTP listener paths and queue consumer settings.
// Returns: ingest section values.
type IngestConfig struct {
	HTTPListen  string           `toml:"http_listen"`
	AlertsPath  string           `toml:"alerts_path"`
	HealthPath  string           `toml:"health_path"`
	ReadyPath   string           `toml:"ready_path"`
	MetricsPath string           `toml:"metrics_path"`
	NATS        NATSIngestConfig `toml:"nats"`
}

// NATSIngestConfig holds queue-based ingestion settings.
// Params: JetStream subject/stream/consumer identifiers and worker count.
// Returns: NATS ingest values, active only in NATS mode.
type NATSIngestConfig struct {
	Enabled        bool     `toml:"enabled"`
	URL            []string `toml:"url"`
	Subject        string   `toml:"subject"`
	Stream         string   `toml:"stream"`
	ConsumerName   string   `toml:"consumer_name"`
	DeliverGroup   string   `toml:"deliver_group"`
	Workers        int      `toml:"workers"`
	AckWaitSeconds int      `toml:"ack_wait_seconds"`
}

// StoreConfig selects the durable storage backend.
// Params: NATS KV settings for NATS mode.
// Returns: store section values.
type StoreConfig struct {
	NATS NATSStoreConfig `toml:"nats"`
}

// NATSStoreConfig holds JetStream KV storage settings.
// Params: server URLs, bucket names, and bucket-creation flag.
// Returns: NATS store values.
type NATSStoreConfig struct {
	URL                []string `toml:"url"`
	DataBucket         string   `toml:"data_bucket"`
	AlarmBucket        string   `toml:"alarm_bucket"`
	AllowCreateBuckets bool     `toml:"allow_create_buckets"`
}

// AccountsConfig locates per-account configuration on disk.
// Params: account YAML directory and uploaded-files directory.
// Returns: accounts section values.
type AccountsConfig struct {
	Dir      string `toml:"dir"`
	FilesDir string `toml:"files_dir"`
}

// DispatchConfig tunes notification dispatch behavior.
// Params: flush paging, retry policy, and alarm redelivery delay.
// Returns: dispatch section values.
type DispatchConfig struct {
	FlushPageSize       int `toml:"flush_page_size"`
	MaxRetries          int `toml:"max_retries"`
	RetryInitialDelayMS int `toml:"retry_initial_delay_ms"`
	AlarmRetryDelayMS   int `toml:"alarm_retry_delay_ms"`
}

// RetryInitialDelay converts the configured initial delay to a duration.
// Params: none.
// Returns: first backoff delay for failed notifications.
func (d DispatchConfig) RetryInitialDelay() time.Duration {
	return time.Duration(d.RetryInitialDelayMS) * time.Millisecond
}

// AlarmRetryDelay converts the configured alarm retry delay to a duration.
// Params: none.
// Returns: reschedule delay after a failed alarm callback.
func (d DispatchConfig) AlarmRetryDelay() time.Duration {
	return time.Duration(d.AlarmRetryDelayMS) * time.Millisecond
}

// Load reads, decodes, and validates the config file.
// Params: TOML file path.
// Returns: validated config with defaults applied, or load error.
func Load(path string) (Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(body, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %q: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config %q: %w", path, err)
	}
	return cfg, nil
}

// Default returns the built-in single-instance configuration.
// Params: none.
// Returns: config with every default applied.
func Default() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills unset fields with built-in values.
// Params: none.
// Returns: nothing, mutates receiver.
func (c *Config) applyDefaults() {
	if c.Service.Mode == "" {
		c.Service.Mode = ServiceModeSingle
	}
	if c.Service.ShutdownTimeoutSeconds <= 0 {
		c.Service.ShutdownTimeoutSeconds = 10
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.ConsoleFormat == "" {
		c.Log.ConsoleFormat = "line"
	}
	if c.Log.FileFormat == "" {
		c.Log.FileFormat = "json"
	}

	if c.Ingest.HTTPListen == "" {
		c.Ingest.HTTPListen = defaultHTTPListen
	}
	if c.Ingest.AlertsPath == "" {
		c.Ingest.AlertsPath = defaultAlertsPath
	}
	if c.Ingest.HealthPath == "" {
		c.Ingest.HealthPath = defaultHealthPath
	}
	if c.Ingest.ReadyPath == "" {
		c.Ingest.ReadyPath = defaultReadyPath
	}
	if c.Ingest.MetricsPath == "" {
		c.Ingest.MetricsPath = defaultMetricsPath
	}

	if len(c.Ingest.NATS.URL) == 0 {
		c.Ingest.NATS.URL = []string{defaultNATSURL}
	}
	if c.Ingest.NATS.Subject == "" {
		c.Ingest.NATS.Subject = defaultNATSSubject
	}
	if c.Ingest.NATS.Stream == "" {
		c.Ingest.NATS.Stream = defaultNATSIngestStream
	}
	if c.Ingest.NATS.ConsumerName == "" {
		c.Ingest.NATS.ConsumerName = defaultNATSIngestConsumer
	}
	if c.Ingest.NATS.DeliverGroup == "" {
		c.Ingest.NATS.DeliverGroup = defaultNATSIngestGroup
	}
	if c.Ingest.NATS.Workers <= 0 {
		c.Ingest.NATS.Workers = defaultNATSIngestWorkers
	}
	if c.Ingest.NATS.AckWaitSeconds <= 0 {
		c.Ingest.NATS.AckWaitSeconds = defaultNATSAckWaitSec
	}

	if len(c.Store.NATS.URL) == 0 {
		c.Store.NATS.URL = []string{defaultNATSURL}
	}
	if c.Store.NATS.DataBucket == "" {
		c.Store.NATS.DataBucket = defaultNATSDataBucket
	}
	if c.Store.NATS.AlarmBucket == "" {
		c.Store.NATS.AlarmBucket = defaultNATSAlarmBucket
	}

	if c.Accounts.Dir == "" {
		c.Accounts.Dir = defaultAccountsDir
	}
	if c.Accounts.FilesDir == "" {
		c.Accounts.FilesDir = defaultFilesDir
	}

	if c.Dispatch.FlushPageSize < 0 {
		c.Dispatch.FlushPageSize = defaultFlushPageSize
	}
	if c.Dispatch.MaxRetries <= 0 {
		c.Dispatch.MaxRetries = defaultMaxRetries
	}
	if c.Dispatch.RetryInitialDelayMS <= 0 {
		c.Dispatch.RetryInitialDelayMS = defaultRetryInitialDelayMS
	}
	if c.Dispatch.AlarmRetryDelayMS <= 0 {
		c.Dispatch.AlarmRetryDelayMS = defaultAlarmRetryDelayMS
	}
}

// Validate checks cross-field consistency after defaults.
// Params: none.
// Returns: first validation error.
func (c Config) Validate() error {
	switch c.Service.Mode {
	case ServiceModeSingle, ServiceModeNATS:
	default:
		return fmt.Errorf("service.mode %q: must be %q or %q",
			c.Service.Mode, ServiceModeSingle, ServiceModeNATS)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q: must be debug, info, warn, or error", c.Log.Level)
	}
	if err := validateLogFormat(c.Log.ConsoleFormat); err != nil {
		return fmt.Errorf("log.console_format: %w", err)
	}
	if err := validateLogFormat(c.Log.FileFormat); err != nil {
		return fmt.Errorf("log.file_format: %w", err)
	}

	if c.Service.Mode == ServiceModeSingle && c.Ingest.NATS.Enabled {
		return errors.New("ingest.nats.enabled requires service.mode = \"nats\"")
	}
	if c.Store.NATS.DataBucket == c.Store.NATS.AlarmBucket {
		return fmt.Errorf("store.nats: data_bucket and alarm_bucket must differ, both %q",
			c.Store.NATS.DataBucket)
	}
	return nil
}

// validateLogFormat checks one log sink format value.
// Params: format string.
// Returns: error unless line or json.
func validateLogFormat(format string) error {
	if format != "line" && format != "json" {
		return fmt.Errorf("%q: must be line or json", format)
	}
	return nil
}
