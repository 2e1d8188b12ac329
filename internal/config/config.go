// Package config loads the daemon configuration from a JSON file and fills
// in defaults for fields the operator left out. Relative paths are resolved
// against the directory holding the config file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config describes everything the daemon needs at startup.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Logging  LoggingConfig  `json:"logging"`
	Auth     AuthConfig     `json:"auth"`
	Proof    ProofConfig    `json:"proof"`
	Jobs     JobsConfig     `json:"jobs"`
	Archive  ArchiveConfig  `json:"archive"`
	Ledger   LedgerConfig   `json:"ledger"`
	Alerting AlertingConfig `json:"alerting"`
	Runtime  RuntimeConfig  `json:"runtime"`
}

// ServerConfig controls the HTTP API listener.
type ServerConfig struct {
	Address string `json:"address"`
}

// AuthConfig declares the API authentication mode and its static tokens.
type AuthConfig struct {
	Mode   string      `json:"mode"`
	Tokens []AuthToken `json:"tokens"`
}

// AuthToken is one static bearer token and the scopes it grants.
type AuthToken struct {
	Token       string   `json:"token"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	Disabled    bool     `json:"disabled"`
}

// LoggingConfig mirrors the logger package configuration.
type LoggingConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig controls the rotating audit trail.
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// ProofConfig tunes the generation and verification engines.
type ProofConfig struct {
	ProofCacheTTL        string  `json:"proof_cache_ttl"`
	VerificationCacheTTL string  `json:"verification_cache_ttl"`
	TrustThreshold       float64 `json:"trust_threshold"`
	BatchWorkers         int     `json:"batch_workers"`
	FlushLinger          string  `json:"flush_linger"`
}

// JobsConfig configures the asynchronous proof job subsystem.
type JobsConfig struct {
	Store      JobStoreConfig `json:"store"`
	Queue      QueueConfig    `json:"queue"`
	Workers    int            `json:"workers"`
	MaxRetries int            `json:"max_retries"`
}

// JobStoreConfig selects the job store backend.
type JobStoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// QueueConfig selects the job queue backend.
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig holds connection parameters for the Redis queue.
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Queue    string `json:"queue"`
}

// RabbitMQConfig holds connection parameters for the RabbitMQ queue.
type RabbitMQConfig struct {
	URL      string `json:"url"`
	Queue    string `json:"queue"`
	Prefetch int    `json:"prefetch"`
	Durable  bool   `json:"durable"`
}

// ArchiveConfig selects the proof archive backend.
type ArchiveConfig struct {
	Driver string       `json:"driver"`
	Dir    string       `json:"dir"`
	MySQL  ArchiveMySQL `json:"mysql"`
}

// ArchiveMySQL holds pool parameters for the MySQL archive.
type ArchiveMySQL struct {
	DSN             string `json:"dsn"`
	MaxOpenConns    int    `json:"max_open_conns"`
	MaxIdleConns    int    `json:"max_idle_conns"`
	ConnMaxLifetime string `json:"conn_max_lifetime"`
}

// LedgerConfig points at the on-chain anchoring setup. When Enabled is
// false the daemon runs without an anchor ledger and on-chain checks are
// skipped.
type LedgerConfig struct {
	Enabled      bool   `json:"enabled"`
	ChainConfig  string `json:"chain_config"`
	DefaultChain string `json:"default_chain"`
}

// AlertingConfig wires the optional alert notifiers.
type AlertingConfig struct {
	Email   EmailAlertConfig   `json:"email"`
	Slack   SlackAlertConfig   `json:"slack"`
	Webhook WebhookAlertConfig `json:"webhook"`
}

// EmailAlertConfig configures the email notifier.
type EmailAlertConfig struct {
	Enabled bool     `json:"enabled"`
	To      []string `json:"to"`
}

// SlackAlertConfig configures the Slack notifier.
type SlackAlertConfig struct {
	Enabled bool   `json:"enabled"`
	Channel string `json:"channel"`
}

// WebhookAlertConfig configures the webhook notifier.
type WebhookAlertConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
}

// RuntimeConfig holds general runtime parameters.
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load parses the JSON config at path and applies defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

func (c *Config) validate() error {
	for field, value := range map[string]string{
		"proof.proof_cache_ttl":           c.Proof.ProofCacheTTL,
		"proof.verification_cache_ttl":    c.Proof.VerificationCacheTTL,
		"proof.flush_linger":              c.Proof.FlushLinger,
		"archive.mysql.conn_max_lifetime": c.Archive.MySQL.ConnMaxLifetime,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", field, err)
		}
	}
	if c.Proof.TrustThreshold < 0 || c.Proof.TrustThreshold > 1 {
		return fmt.Errorf("trust threshold %v out of range [0,1]", c.Proof.TrustThreshold)
	}
	switch c.Auth.Mode {
	case "", "disabled":
	case "token":
		if len(c.Auth.Tokens) == 0 {
			return fmt.Errorf("auth mode token requires at least one token")
		}
	default:
		return fmt.Errorf("unknown auth mode %q", c.Auth.Mode)
	}
	return nil
}

// applyDefaults fills unset fields with workable defaults.
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}

	if c.Jobs.Store.Driver == "" {
		c.Jobs.Store.Driver = "memory"
	}
	if c.Jobs.Queue.Driver == "" {
		c.Jobs.Queue.Driver = "memory"
	}
	if c.Jobs.Workers <= 0 {
		c.Jobs.Workers = 4
	}
	if c.Jobs.MaxRetries <= 0 {
		c.Jobs.MaxRetries = 3
	}

	if c.Archive.Driver == "" {
		c.Archive.Driver = "file"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	if c.Archive.Dir == "" {
		c.Archive.Dir = filepath.Join(c.Runtime.DataDir, "archive")
	} else if !filepath.IsAbs(c.Archive.Dir) {
		c.Archive.Dir = filepath.Join(baseDir, c.Archive.Dir)
	}

	if c.Ledger.ChainConfig != "" && !filepath.IsAbs(c.Ledger.ChainConfig) {
		c.Ledger.ChainConfig = filepath.Join(baseDir, c.Ledger.ChainConfig)
	}
	if c.Logging.Audit.Path != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
	}
}

// ProofCacheTTLDuration returns the parsed proof cache TTL, or zero when
// unset so the proof package default applies.
func (c *Config) ProofCacheTTLDuration() time.Duration {
	return parseDuration(c.Proof.ProofCacheTTL)
}

// VerificationCacheTTLDuration returns the parsed verification cache TTL.
func (c *Config) VerificationCacheTTLDuration() time.Duration {
	return parseDuration(c.Proof.VerificationCacheTTL)
}

// FlushLingerDuration returns the parsed batch flush linger interval.
func (c *Config) FlushLingerDuration() time.Duration {
	return parseDuration(c.Proof.FlushLinger)
}

// ConnMaxLifetimeDuration returns the parsed MySQL connection lifetime.
func (c *ArchiveMySQL) ConnMaxLifetimeDuration() time.Duration {
	return parseDuration(c.ConnMaxLifetime)
}

func parseDuration(value string) time.Duration {
	if value == "" {
		return 0
	}
	d, _ := time.ParseDuration(value)
	return d
}
