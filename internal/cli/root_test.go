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

package cli

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	SetVersion("1.2.3", "abc", "today")
	out, err := runCommand(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "1.2.3") {
		t.Errorf("output = %q", out)
	}
}

func TestConfigShow(t *testing.T) {
	t.Setenv("TRACE_DB_PATH", filepath.Join(t.TempDir(), "x.db"))
	out, err := runCommand(t, "config", "--show")
	if err != nil {
		t.Fatalf("config --show: %v", err)
	}
	if !strings.Contains(out, "sample_rate") {
		t.Errorf("expected resolved config, got %q", out)
	}
}

func TestConfigRejectsUnknownProfile(t *testing.T) {
	if _, err := runCommand(t, "config", "--profile", "staging"); err == nil {
		t.Fatal("expected error for unknown profile")
	}
}

func TestStatsAgainstFreshStore(t *testing.T) {
	t.Setenv("TRACE_DB_PATH", filepath.Join(t.TempDir(), "stats.db"))
	out, err := runCommand(t, "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(out, "Runs") {
		t.Errorf("output = %q", out)
	}
}

func TestInitCreatesConfigAndStore(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "agentlens.yaml")
	dbPath := filepath.Join(dir, "agentlens.db")
	t.Setenv("TRACE_DB_PATH", dbPath)

	out, err := runCommand(t, "init", "--config", cfgPath)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out, "initialized store") {
		t.Errorf("output = %q", out)
	}
}

func TestExportRequiresTarget(t *testing.T) {
	t.Setenv("TRACE_DB_PATH", filepath.Join(t.TempDir(), "x.db"))
	if _, err := runCommand(t, "export"); err == nil {
		t.Fatal("expected error without run_id or --all")
	}
}
