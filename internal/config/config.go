// Copyright 2025 AgentLens Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config provides the layered, validated configuration for AgentLens.
//
// Precedence, highest first: explicit options > environment variables
// (TRACE_*) > config file > profile preset > built-in defaults. A Config is
// immutable after Load returns; share it freely.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultBlobSizeLimit is the maximum size of a single encoded event blob.
// Events producing a larger blob are dropped rather than stored truncated.
const DefaultBlobSizeLimit = 10 << 20

// RedactionMarker replaces redacted values in stored payloads.
const RedactionMarker = "***REDACTED***"

// Config holds all AgentLens settings. Construct with Load; do not mutate
// after construction.
type Config struct {
	// Sampling.
	SampleRate  float64 `yaml:"sample_rate"`
	OnlyOnError bool    `yaml:"only_on_error"`

	// Queue and batching.
	QueueSize          int           `yaml:"queue_size"`
	BatchSize          int           `yaml:"batch_size"`
	BatchTimeout       time.Duration `yaml:"batch_timeout"`
	BlockOnRunEnd      bool          `yaml:"block_on_run_end"`
	RunEndBlockTimeout time.Duration `yaml:"run_end_block_timeout"`

	// Redaction. Keys match payload map keys exactly (case-sensitive);
	// patterns replace string values they match in full.
	RedactKeys     []string `yaml:"redact_keys"`
	RedactPatterns []string `yaml:"redact_patterns"`

	// Pipeline stages.
	CompressionEnabled bool   `yaml:"compression_enabled"`
	CompressionLevel   int    `yaml:"compression_level"`
	EncryptionEnabled  bool   `yaml:"encryption_enabled"`
	EncryptionKey      string `yaml:"encryption_key"`

	// Storage.
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`
	BlobSizeLimit int64  `yaml:"blob_size_limit"`

	// API server.
	APIHost            string   `yaml:"api_host"`
	APIPort            int      `yaml:"api_port"`
	APIKeyRequired     bool     `yaml:"api_key_required"`
	APIKey             string   `yaml:"api_key"`
	CORSOrigins        []string `yaml:"cors_origins"`
	RateLimitEnabled   bool     `yaml:"rate_limit_enabled"`
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute"`

	// Optional OTLP fan-out for the write path.
	OTLPEnabled  bool   `yaml:"otlp_enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPProtocol string `yaml:"otlp_protocol"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`

	// Logging.
	LogLevel string `yaml:"log_level"`
}

// Option applies an explicit override on top of env/profile/defaults.
type Option func(*Config)

// WithSampleRate sets the fraction of runs recorded.
func WithSampleRate(rate float64) Option { return func(c *Config) { c.SampleRate = rate } }

// WithOnlyOnError buffers run events in memory and persists them only when
// the run fails.
func WithOnlyOnError(v bool) Option { return func(c *Config) { c.OnlyOnError = v } }

// WithQueueSize sets the ingestion channel capacity.
func WithQueueSize(n int) Option { return func(c *Config) { c.QueueSize = n } }

// WithBatchSize sets the maximum events per exporter call.
func WithBatchSize(n int) Option { return func(c *Config) { c.BatchSize = n } }

// WithBatchTimeout sets the maximum staleness of a partial batch.
func WithBatchTimeout(d time.Duration) Option { return func(c *Config) { c.BatchTimeout = d } }

// WithRedactKeys sets the payload keys whose values are replaced with the
// redaction marker.
func WithRedactKeys(keys ...string) Option { return func(c *Config) { c.RedactKeys = keys } }

// WithRedactPatterns sets regex patterns applied to string payload values.
func WithRedactPatterns(patterns ...string) Option {
	return func(c *Config) { c.RedactPatterns = patterns }
}

// WithCompression enables or disables the gzip stage.
func WithCompression(enabled bool, level int) Option {
	return func(c *Config) {
		c.CompressionEnabled = enabled
		if level != 0 {
			c.CompressionLevel = level
		}
	}
}

// WithEncryption enables the encryption stage with the given key material
// (base64-encoded 32-byte key, or a passphrase to derive one from).
func WithEncryption(key string) Option {
	return func(c *Config) {
		c.EncryptionEnabled = true
		c.EncryptionKey = key
	}
}

// WithDBPath sets the storage file path.
func WithDBPath(path string) Option { return func(c *Config) { c.DBPath = path } }

// WithRetentionDays sets the prune horizon.
func WithRetentionDays(days int) Option { return func(c *Config) { c.RetentionDays = days } }

// WithBlockOnRunEnd allows run_end submissions to wait for queue capacity.
func WithBlockOnRunEnd(timeout time.Duration) Option {
	return func(c *Config) {
		c.BlockOnRunEnd = true
		if timeout > 0 {
			c.RunEndBlockTimeout = timeout
		}
	}
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		SampleRate:         0.1,
		QueueSize:          1000,
		BatchSize:          50,
		BatchTimeout:       time.Second,
		RunEndBlockTimeout: 5 * time.Second,
		RedactKeys: []string{
			"password", "api_key", "token", "secret", "credential",
			"access_key", "private_key", "auth_token", "session_token",
			"authorization", "bearer",
		},
		RedactPatterns: []string{
			`\d{3}-\d{2}-\d{4}`,                         // SSN
			`\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}`,    // credit card
			`Bearer\s+[A-Za-z0-9\-._~+/]+=*`,            // bearer token
			`eyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]*`, // JWT
		},
		CompressionEnabled: true,
		CompressionLevel:   6,
		DBPath:             "agentlens.db",
		RetentionDays:      30,
		BlobSizeLimit:      DefaultBlobSizeLimit,
		APIHost:            "127.0.0.1",
		APIPort:            8000,
		CORSOrigins:        []string{"*"},
		RateLimitEnabled:   false,
		RateLimitPerMinute: 100,
		OTLPProtocol:       "grpc",
		LogLevel:           "info",
	}
}

// Load builds a Config: defaults, then the profile named by TRACE_PROFILE
// (if any), then the config file at path (if non-empty), then TRACE_*
// environment variables, then explicit options. The result is validated.
func Load(path string, opts ...Option) (*Config, error) {
	cfg := Default()

	if name := os.Getenv("TRACE_PROFILE"); name != "" {
		profile, err := ParseProfile(name)
		if err != nil {
			return nil, err
		}
		profile.apply(cfg)
	}

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad is Load for tests and examples; it panics on error.
func MustLoad(opts ...Option) *Config {
	cfg, err := Load("", opts...)
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks all settings and returns the first violation found.
func (c *Config) Validate() error {
	if c.SampleRate < 0.0 || c.SampleRate > 1.0 {
		return fmt.Errorf("sample_rate must be between 0.0 and 1.0, got %v", c.SampleRate)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", c.QueueSize)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1, got %d", c.BatchSize)
	}
	if c.BatchTimeout < time.Millisecond {
		return fmt.Errorf("batch_timeout must be at least 1ms, got %v", c.BatchTimeout)
	}
	if c.CompressionLevel < 1 || c.CompressionLevel > 9 {
		return fmt.Errorf("compression_level must be between 1 and 9, got %d", c.CompressionLevel)
	}
	for _, pattern := range c.RedactPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid redact pattern %q: %w", pattern, err)
		}
	}
	if c.EncryptionEnabled {
		if _, err := c.ResolveEncryptionKey(); err != nil {
			return err
		}
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.BlobSizeLimit < 1 {
		return fmt.Errorf("blob_size_limit must be positive, got %d", c.BlobSizeLimit)
	}
	if c.APIPort < 0 || c.APIPort > 65535 {
		return fmt.Errorf("api_port must be a valid port, got %d", c.APIPort)
	}
	if c.APIKeyRequired && c.APIKey == "" {
		return fmt.Errorf("api_key is required when api_key_required is set")
	}
	if c.RateLimitPerMinute < 1 {
		return fmt.Errorf("rate_limit_per_minute must be positive, got %d", c.RateLimitPerMinute)
	}
	switch c.OTLPProtocol {
	case "grpc", "http", "stdout":
	default:
		return fmt.Errorf("otlp_protocol must be grpc, http or stdout, got %q", c.OTLPProtocol)
	}
	if c.OTLPEnabled && c.OTLPProtocol != "stdout" && c.OTLPEndpoint == "" {
		return fmt.Errorf("otlp_endpoint is required when otlp_enabled is set")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return nil
}

// ResolveEncryptionKey returns the 32-byte AES-256 key derived from
// EncryptionKey: either a base64-encoded 32-byte key, or a passphrase run
// through SHA-256. Weak or missing key material is rejected.
func (c *Config) ResolveEncryptionKey() ([]byte, error) {
	material := c.EncryptionKey
	if material == "" {
		material = os.Getenv("TRACE_ENCRYPTION_KEY")
	}
	if material == "" {
		return nil, fmt.Errorf("encryption_key is required when encryption is enabled")
	}

	if decoded, err := base64.StdEncoding.DecodeString(material); err == nil && len(decoded) == 32 {
		return decoded, nil
	}

	// Treat the string as a passphrase; require a minimum length so a typo'd
	// key does not silently weaken encryption at rest.
	if len(material) < 8 {
		return nil, fmt.Errorf("encryption key too weak: want base64-encoded 32 bytes or a passphrase of at least 8 characters")
	}
	return DeriveKey(material), nil
}

// Redacted returns a copy safe for display: key material is masked.
func (c *Config) Redacted() *Config {
	clone := *c
	if clone.EncryptionKey != "" {
		clone.EncryptionKey = "***"
	}
	if clone.APIKey != "" {
		clone.APIKey = "***"
	}
	return &clone
}

// Dump renders the redacted configuration as YAML, for `config --show`.
func (c *Config) Dump() (string, error) {
	out, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(out), nil
}
