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
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SampleRate != 0.1 {
		t.Errorf("sample_rate = %v", cfg.SampleRate)
	}
	if cfg.QueueSize != 1000 || cfg.BatchSize != 50 {
		t.Errorf("queue/batch = %d/%d", cfg.QueueSize, cfg.BatchSize)
	}
	if !cfg.CompressionEnabled || cfg.CompressionLevel != 6 {
		t.Errorf("compression = %v level %d", cfg.CompressionEnabled, cfg.CompressionLevel)
	}
	if cfg.EncryptionEnabled {
		t.Error("encryption should default off")
	}
	if cfg.BlobSizeLimit != DefaultBlobSizeLimit {
		t.Errorf("blob_size_limit = %d", cfg.BlobSizeLimit)
	}
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"sample rate too high", WithSampleRate(1.5)},
		{"sample rate negative", WithSampleRate(-0.1)},
		{"queue size zero", WithQueueSize(0)},
		{"batch size zero", WithBatchSize(0)},
		{"compression level", WithCompression(true, 12)},
		{"bad pattern", WithRedactPatterns("(")},
		{"db path empty", WithDBPath("")},
		{"weak encryption key", WithEncryption("short")},
		{"missing encryption key", WithEncryption("")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load("", tt.opt); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TRACE_SAMPLE_RATE", "0.25")
	t.Setenv("TRACE_QUEUE_SIZE", "64")
	t.Setenv("TRACE_BATCH_TIMEOUT_MS", "250")
	t.Setenv("TRACE_REDACT_KEYS", "alpha, beta ,gamma")
	t.Setenv("TRACE_DB_PATH", "/tmp/env.db")
	t.Setenv("TRACE_BLOCK_ON_RUN_END", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SampleRate != 0.25 {
		t.Errorf("sample_rate = %v", cfg.SampleRate)
	}
	if cfg.QueueSize != 64 {
		t.Errorf("queue_size = %d", cfg.QueueSize)
	}
	if cfg.BatchTimeout != 250*time.Millisecond {
		t.Errorf("batch_timeout = %v", cfg.BatchTimeout)
	}
	if len(cfg.RedactKeys) != 3 || cfg.RedactKeys[1] != "beta" {
		t.Errorf("redact_keys = %v", cfg.RedactKeys)
	}
	if cfg.DBPath != "/tmp/env.db" {
		t.Errorf("db_path = %q", cfg.DBPath)
	}
	if !cfg.BlockOnRunEnd {
		t.Error("block_on_run_end not applied")
	}
}

func TestLoad_MalformedEnvRejected(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"TRACE_SAMPLE_RATE", "lots"},
		{"TRACE_QUEUE_SIZE", "many"},
		{"TRACE_BATCH_TIMEOUT_MS", "-5"},
		{"TRACE_ONLY_ON_ERROR", "maybe"},
		{"TRACE_PROFILE", "staging"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(""); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_ExplicitBeatsEnv(t *testing.T) {
	t.Setenv("TRACE_SAMPLE_RATE", "0.9")
	cfg, err := Load("", WithSampleRate(0.2))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SampleRate != 0.2 {
		t.Errorf("explicit option should win over env, got %v", cfg.SampleRate)
	}
}

func TestProfiles(t *testing.T) {
	t.Run("debug", func(t *testing.T) {
		t.Setenv("TRACE_PROFILE", "debug")
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.SampleRate != 1.0 || cfg.CompressionEnabled || cfg.BatchSize != 1 {
			t.Errorf("debug profile not applied: %+v", cfg)
		}
	})

	t.Run("development", func(t *testing.T) {
		t.Setenv("TRACE_PROFILE", "development")
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.SampleRate != 0.5 || !cfg.CompressionEnabled || cfg.EncryptionEnabled {
			t.Errorf("development profile not applied: %+v", cfg)
		}
	})

	t.Run("production requires key", func(t *testing.T) {
		t.Setenv("TRACE_PROFILE", "production")
		t.Setenv("TRACE_ENCRYPTION_KEY", "a sufficiently long passphrase")
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.SampleRate != 0.01 || !cfg.EncryptionEnabled || cfg.LogLevel != "warn" {
			t.Errorf("production profile not applied: %+v", cfg)
		}
	})
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentlens.yaml")
	content := "sample_rate: 0.33\nqueue_size: 7\ndb_path: from-file.db\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SampleRate != 0.33 || cfg.QueueSize != 7 || cfg.DBPath != "from-file.db" {
		t.Errorf("file values not applied: %+v", cfg)
	}
}

func TestResolveEncryptionKey(t *testing.T) {
	t.Run("base64 key", func(t *testing.T) {
		raw := bytes.Repeat([]byte{42}, 32)
		cfg := Default()
		cfg.EncryptionEnabled = true
		cfg.EncryptionKey = base64.StdEncoding.EncodeToString(raw)

		key, err := cfg.ResolveEncryptionKey()
		if err != nil {
			t.Fatalf("ResolveEncryptionKey: %v", err)
		}
		if !bytes.Equal(key, raw) {
			t.Error("decoded key mismatch")
		}
	})

	t.Run("passphrase derivation is deterministic", func(t *testing.T) {
		cfg := Default()
		cfg.EncryptionEnabled = true
		cfg.EncryptionKey = "a sufficiently long passphrase"

		k1, err := cfg.ResolveEncryptionKey()
		if err != nil {
			t.Fatalf("ResolveEncryptionKey: %v", err)
		}
		k2 := DeriveKey("a sufficiently long passphrase")
		if !bytes.Equal(k1, k2) {
			t.Error("passphrase derivation not deterministic")
		}
		if len(k1) != 32 {
			t.Errorf("key length = %d", len(k1))
		}
	})
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.EncryptionKey = "topsecret"
	cfg.APIKey = "apikey123"

	masked := cfg.Redacted()
	if masked.EncryptionKey != "***" || masked.APIKey != "***" {
		t.Errorf("keys not masked: %+v", masked)
	}
	if cfg.EncryptionKey != "topsecret" {
		t.Error("original mutated")
	}
}
