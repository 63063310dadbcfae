// Package config loads the service configuration from YAML and resolves
// per-tenant overrides for the governance parameters the pipeline consults:
// trust gates, in-flight caps, namespace routing, redaction paths, and
// deduplication settings.
package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Queue      QueueConfig      `yaml:"queue"`
	Intent     IntentConfig     `yaml:"intent"`
	Escalation EscalationConfig `yaml:"escalation"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Security   SecurityConfig   `yaml:"security"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

// Production reports whether error messages must be sanitized.
func (s ServerConfig) Production() bool { return s.Env == "production" }

// Durations are expressed in whole seconds in the YAML so the file stays
// human-editable; accessors convert.

type DatabaseConfig struct {
	DSN                     string `yaml:"dsn"`
	MaxOpenConns            int    `yaml:"max_open_conns"`
	StatementTimeoutSeconds int    `yaml:"statement_timeout_seconds"`
	RetentionDays           int    `yaml:"retention_days"`
}

func (d DatabaseConfig) StatementTimeout() time.Duration {
	return time.Duration(d.StatementTimeoutSeconds) * time.Second
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type QueueConfig struct {
	// Project/Location/DefaultQueue identify the Cloud Tasks queue family;
	// empty project selects the in-memory queue.
	Project      string `yaml:"project"`
	Location     string `yaml:"location"`
	DefaultQueue string `yaml:"default_queue"`
	// TargetURL is the worker endpoint submission jobs are delivered to.
	TargetURL string `yaml:"target_url"`
	// Topic is the Pub/Sub topic lifecycle events fan out on; empty disables
	// the bus.
	Topic string `yaml:"topic"`
}

type IntentConfig struct {
	DefaultMinTrustLevel int `yaml:"default_min_trust_level"`
	DefaultMaxInFlight   int `yaml:"default_max_in_flight"`
	// DedupeSecret keys the HMAC fingerprint; empty falls back to plain
	// SHA-256 with a warning.
	DedupeSecret           string            `yaml:"dedupe_secret"`
	DedupeWindowSeconds    int               `yaml:"dedupe_window_seconds"`
	DedupeMarkerTTLSeconds int               `yaml:"dedupe_marker_ttl_seconds"`
	RedactPaths            []string          `yaml:"redact_paths"`
	EncryptAtRest          bool              `yaml:"encrypt_at_rest"`
	EncryptionKeyHex       string            `yaml:"encryption_key_hex"`
	MaxContextBytes        int               `yaml:"max_context_bytes"`
	DefaultNamespace       string            `yaml:"default_namespace"`
	NamespaceRouting       map[string]string `yaml:"namespace_routing"`
	TrustGates             map[string]int    `yaml:"trust_gates"`
}

func (i IntentConfig) DedupeWindow() time.Duration {
	return time.Duration(i.DedupeWindowSeconds) * time.Second
}

func (i IntentConfig) DedupeMarkerTTL() time.Duration {
	return time.Duration(i.DedupeMarkerTTLSeconds) * time.Second
}

type EscalationConfig struct {
	DefaultTimeout  string `yaml:"default_timeout"` // ISO-8601
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
}

func (e EscalationConfig) CacheTTL() time.Duration {
	return time.Duration(e.CacheTTLSeconds) * time.Second
}

type SchedulerConfig struct {
	SweepIntervalSeconds   int    `yaml:"sweep_interval_seconds"`
	CleanupIntervalSeconds int    `yaml:"cleanup_interval_seconds"`
	LeaderKey              string `yaml:"leader_key"`
	LeaderLeaseSeconds     int    `yaml:"leader_lease_seconds"`
}

func (s SchedulerConfig) SweepInterval() time.Duration {
	return time.Duration(s.SweepIntervalSeconds) * time.Second
}

func (s SchedulerConfig) CleanupInterval() time.Duration {
	return time.Duration(s.CleanupIntervalSeconds) * time.Second
}

func (s SchedulerConfig) LeaderLease() time.Duration {
	return time.Duration(s.LeaderLeaseSeconds) * time.Second
}

type SecurityConfig struct {
	// AuditSigningSeedHex restores the Ed25519 audit key across restarts;
	// empty generates an ephemeral key.
	AuditSigningSeedHex string `yaml:"audit_signing_seed_hex"`
	// APIKeyHashes maps tenant ID to a bcrypt hash of that tenant's API key.
	APIKeyHashes map[string]string `yaml:"api_key_hashes"`
}

// LoadConfig reads a YAML file and applies defaults.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Validate rejects configurations that are unsafe to run. A production
// deployment must key the dedupe fingerprint; development tolerates the
// unkeyed fallback.
func (c *Config) Validate() error {
	if c.Server.Production() && c.Intent.DedupeSecret == "" {
		return errors.New("intent.dedupe_secret is required when server.env is production")
	}
	return nil
}

// ApplyDefaults fills in every zero-valued knob.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.Env == "" {
		c.Server.Env = "development"
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.StatementTimeoutSeconds <= 0 {
		c.Database.StatementTimeoutSeconds = 5
	}
	if c.Database.RetentionDays <= 0 {
		c.Database.RetentionDays = 30
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Queue.DefaultQueue == "" {
		c.Queue.DefaultQueue = "intent-submissions"
	}
	if c.Intent.DefaultMinTrustLevel <= 0 {
		c.Intent.DefaultMinTrustLevel = 1
	}
	if c.Intent.DefaultMaxInFlight <= 0 {
		c.Intent.DefaultMaxInFlight = 100
	}
	if c.Intent.DedupeWindowSeconds <= 0 {
		c.Intent.DedupeWindowSeconds = 300
	}
	if c.Intent.DedupeMarkerTTLSeconds <= 0 {
		c.Intent.DedupeMarkerTTLSeconds = 300
	}
	if c.Intent.MaxContextBytes <= 0 {
		c.Intent.MaxContextBytes = 64 * 1024
	}
	if c.Intent.DefaultNamespace == "" {
		c.Intent.DefaultNamespace = "default"
	}
	if c.Escalation.DefaultTimeout == "" {
		c.Escalation.DefaultTimeout = "PT1H"
	}
	if c.Escalation.CacheTTLSeconds <= 0 {
		c.Escalation.CacheTTLSeconds = 300
	}
	if c.Scheduler.SweepIntervalSeconds <= 0 {
		c.Scheduler.SweepIntervalSeconds = 300
	}
	if c.Scheduler.CleanupIntervalSeconds <= 0 {
		c.Scheduler.CleanupIntervalSeconds = 24 * 60 * 60
	}
	if c.Scheduler.LeaderKey == "" {
		c.Scheduler.LeaderKey = "scheduler:leader"
	}
	if c.Scheduler.LeaderLeaseSeconds <= 0 {
		c.Scheduler.LeaderLeaseSeconds = 15
	}
}
