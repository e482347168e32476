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

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnv overlays TRACE_* environment variables. Malformed values are
// rejected so misconfiguration fails at startup instead of being silently
// ignored.
func (c *Config) applyEnv() error {
	var err error

	if err = envFloat("TRACE_SAMPLE_RATE", &c.SampleRate); err != nil {
		return err
	}
	if err = envBool("TRACE_ONLY_ON_ERROR", &c.OnlyOnError); err != nil {
		return err
	}
	if err = envInt("TRACE_QUEUE_SIZE", &c.QueueSize); err != nil {
		return err
	}
	if err = envInt("TRACE_BATCH_SIZE", &c.BatchSize); err != nil {
		return err
	}
	if err = envDurationMS("TRACE_BATCH_TIMEOUT_MS", &c.BatchTimeout); err != nil {
		return err
	}
	if err = envBool("TRACE_BLOCK_ON_RUN_END", &c.BlockOnRunEnd); err != nil {
		return err
	}
	if err = envDurationMS("TRACE_RUN_END_BLOCK_TIMEOUT_MS", &c.RunEndBlockTimeout); err != nil {
		return err
	}
	envList("TRACE_REDACT_KEYS", &c.RedactKeys)
	envList("TRACE_REDACT_PATTERNS", &c.RedactPatterns)
	if err = envBool("TRACE_COMPRESSION_ENABLED", &c.CompressionEnabled); err != nil {
		return err
	}
	if err = envInt("TRACE_COMPRESSION_LEVEL", &c.CompressionLevel); err != nil {
		return err
	}
	if err = envBool("TRACE_ENCRYPTION_ENABLED", &c.EncryptionEnabled); err != nil {
		return err
	}
	envString("TRACE_ENCRYPTION_KEY", &c.EncryptionKey)
	envString("TRACE_DB_PATH", &c.DBPath)
	if err = envInt("TRACE_RETENTION_DAYS", &c.RetentionDays); err != nil {
		return err
	}
	if err = envInt64("TRACE_BLOB_SIZE_LIMIT", &c.BlobSizeLimit); err != nil {
		return err
	}

	envString("TRACE_API_HOST", &c.APIHost)
	if err = envInt("TRACE_API_PORT", &c.APIPort); err != nil {
		return err
	}
	if err = envBool("TRACE_API_KEY_REQUIRED", &c.APIKeyRequired); err != nil {
		return err
	}
	envString("TRACE_API_KEY", &c.APIKey)
	envList("TRACE_CORS_ORIGINS", &c.CORSOrigins)
	if err = envBool("TRACE_RATE_LIMIT_ENABLED", &c.RateLimitEnabled); err != nil {
		return err
	}
	if err = envInt("TRACE_RATE_LIMIT_PER_MINUTE", &c.RateLimitPerMinute); err != nil {
		return err
	}

	if err = envBool("TRACE_OTLP_ENABLED", &c.OTLPEnabled); err != nil {
		return err
	}
	envString("TRACE_OTLP_ENDPOINT", &c.OTLPEndpoint)
	envString("TRACE_OTLP_PROTOCOL", &c.OTLPProtocol)
	if err = envBool("TRACE_OTLP_INSECURE", &c.OTLPInsecure); err != nil {
		return err
	}

	envString("TRACE_LOG_LEVEL", &c.LogLevel)
	c.LogLevel = strings.ToLower(c.LogLevel)

	return nil
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envList(name string, dst *[]string) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}

func envBool(name string, dst *bool) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: invalid boolean %q", name, v)
	}
	*dst = parsed
	return nil
}

func envInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", name, v)
	}
	*dst = parsed
	return nil
}

func envInt64(name string, dst *int64) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", name, v)
	}
	*dst = parsed
	return nil
}

func envFloat(name string, dst *float64) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: invalid float %q", name, v)
	}
	*dst = parsed
	return nil
}

func envDurationMS(name string, dst *time.Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed < 0 {
		return fmt.Errorf("%s: invalid millisecond value %q", name, v)
	}
	*dst = time.Duration(parsed) * time.Millisecond
	return nil
}
