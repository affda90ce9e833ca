package shared

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Storage     StorageConfig     `toml:"storage"`
	Database    DatabaseConfig    `toml:"database"`
	Acquisition AcquisitionConfig `toml:"acquisition"`
	Fallback    FallbackConfig    `toml:"fallback"`
	Download    DownloadConfig    `toml:"download"`
	Pipeline    PipelineConfig    `toml:"pipeline"`
	Retry       RetryConfig       `toml:"retry"`
	Server      ServerConfig      `toml:"server"`
}

// StorageConfig contains object store (MinIO / S3 compatible) settings.
type StorageConfig struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	UseSSL    bool   `toml:"use_ssl"`
	Region    string `toml:"region"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// AcquisitionConfig drives the conversion site state machine.
type AcquisitionConfig struct {
	EntryURL        string   `toml:"entry_url"`
	MaxRetries      int      `toml:"max_retries"`
	BackoffMin      Duration `toml:"backoff_min"`
	BackoffMax      Duration `toml:"backoff_max"`
	NavigateTimeout Duration `toml:"navigate_timeout"`
	ConsentTimeout  Duration `toml:"consent_timeout"`
	SubmitTimeout   Duration `toml:"submit_timeout"`
	ResultTimeout   Duration `toml:"result_timeout"`
	LinkTimeout     Duration `toml:"link_timeout"`
	ReadyTimeout    Duration `toml:"ready_timeout"`
	QualityLabel    string   `toml:"quality_label"`
	Headless        bool     `toml:"headless"`
	ChromePath      string   `toml:"chrome_path"`
	UserAgents      []string `toml:"user_agents"`
	BlockedDomains  []string `toml:"blocked_domains"`
}

// FallbackConfig configures the extractor binary used when the converter cannot find a source.
type FallbackConfig struct {
	Enabled     bool     `toml:"enabled"`
	Binary      string   `toml:"binary"`
	Timeout     Duration `toml:"timeout"`
	AudioFormat string   `toml:"audio_format"`
}

// DownloadConfig contains local artifact settings.
type DownloadConfig struct {
	Dir       string   `toml:"dir"`
	Extension string   `toml:"extension"`
	Timeout   Duration `toml:"timeout"`
}

// PipelineConfig contains orchestrator settings.
type PipelineConfig struct {
	Workers       int     `toml:"workers"`
	SnapshotEvery int     `toml:"snapshot_every"`
	StartRate     float64 `toml:"start_rate"`
}

// RetryConfig contains sweeper settings. A MaxAttempts of 0 never abandons a record.
type RetryConfig struct {
	Interval    Duration `toml:"interval"`
	MaxAttempts int      `toml:"max_attempts"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Duration is a [time.Duration] that decodes from TOML strings like "15s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("failed to parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements [encoding.TextMarshaler].
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep the embedded defaults. Environment overrides are applied last.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingConfig, path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.ApplyEnv(os.Getenv)
	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides secrets and paths from the environment. lookup is usually [os.Getenv].
func (c *Config) ApplyEnv(lookup func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(lookup(key)); v != "" {
			*dst = v
		}
	}

	set(&c.Storage.Endpoint, "MINIO_ENDPOINT")
	set(&c.Storage.AccessKey, "MINIO_ACCESS_KEY")
	set(&c.Storage.SecretKey, "MINIO_SECRET_KEY")
	set(&c.Storage.Bucket, "MINIO_BUCKET")
	set(&c.Database.Path, "DB_PATH")
	set(&c.Acquisition.ChromePath, "CHROME_PATH")
}

// Validate checks every required field once, reporting all problems together.
func (c *Config) Validate() error {
	var problems []string
	req := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	req(c.Storage.Endpoint != "", "storage.endpoint is required")
	req(c.Storage.Bucket != "", "storage.bucket is required")
	req(c.Database.Path != "", "database.path is required")
	req(c.Acquisition.EntryURL != "", "acquisition.entry_url is required")
	req(c.Acquisition.MaxRetries > 0, "acquisition.max_retries must be positive")
	req(c.Acquisition.BackoffMin.Duration <= c.Acquisition.BackoffMax.Duration, "acquisition.backoff_min must not exceed backoff_max")
	req(len(c.Acquisition.UserAgents) > 0, "acquisition.user_agents must not be empty")
	req(c.Download.Dir != "", "download.dir is required")
	req(strings.HasPrefix(c.Download.Extension, "."), "download.extension must start with a dot")
	req(c.Pipeline.Workers > 0, "pipeline.workers must be positive")
	req(c.Pipeline.SnapshotEvery > 0, "pipeline.snapshot_every must be positive")
	req(c.Retry.MaxAttempts >= 0, "retry.max_attempts must not be negative")
	req(!c.Fallback.Enabled || c.Fallback.Binary != "", "fallback.binary is required when fallback is enabled")

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Addr returns the status server listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
