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

// Package cli implements the agentlens command tree.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentlens/agentlens/internal/config"
	"github.com/agentlens/agentlens/internal/log"
	"github.com/agentlens/agentlens/internal/pipeline"
	"github.com/agentlens/agentlens/internal/storage"
)

// Version information (injected via ldflags at build time).
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// SetVersion sets the version information (called from main).
func SetVersion(v, c, b string) {
	version, commit, buildDate = v, c, b
}

// NewRootCommand creates the root cobra command for agentlens.
func NewRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "agentlens",
		Short: "AgentLens - local-first observability for AI agents",
		Long: `AgentLens captures semantic events from AI agent runs (LLM calls, tool
invocations, memory operations, errors) into a local SQLite store and serves
them back through a query API and web UI.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // main prints the error and sets the exit code
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: agentlens.yaml if present)")

	cmd.AddCommand(
		newInitCommand(),
		newServerCommand(),
		newStatsCommand(),
		newPruneCommand(),
		newVacuumCommand(),
		newBackupCommand(),
		newExportCommand(),
		newConfigCommand(),
		newVersionCommand(),
	)

	return cmd
}

// loadConfig resolves the configuration for a command invocation. With no
// --config flag, agentlens.yaml in the working directory is used if present.
func loadConfig(cmd *cobra.Command, opts ...config.Option) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}
	return config.Load(path, opts...)
}

// openStore opens the durable store with a decode pipeline built from cfg.
func openStore(cfg *config.Config, logger *slog.Logger) (*storage.SQLiteStore, error) {
	pipe, err := pipeline.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	return storage.Open(storage.Options{Path: cfg.DBPath}, pipe, logger)
}

func newLogger(cfg *config.Config) *slog.Logger {
	logCfg := log.FromEnv()
	if cfg != nil && cfg.LogLevel != "" {
		logCfg.Level = cfg.LogLevel
	}
	return log.New(logCfg)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "agentlens %s (commit: %s, built: %s)\n", version, commit, buildDate)
			return nil
		},
	}
}
