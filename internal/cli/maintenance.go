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
	"fmt"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	statsHeaderStyle = lipgloss.NewStyle().Bold(true)
	statsLabelStyle  = lipgloss.NewStyle().Width(24).Faint(true)
)

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			store, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, statsHeaderStyle.Render("Runs"))
			fmt.Fprintf(out, "%s%d\n", statsLabelStyle.Render("total"), stats.TotalRuns)
			for _, status := range sortedKeys(stats.RunsByStatus) {
				fmt.Fprintf(out, "%s%d\n", statsLabelStyle.Render(status), stats.RunsByStatus[status])
			}
			fmt.Fprintf(out, "%s%d\n", statsLabelStyle.Render("last 24h"), stats.RecentRuns24h)

			fmt.Fprintln(out, statsHeaderStyle.Render("Steps"))
			fmt.Fprintf(out, "%s%d\n", statsLabelStyle.Render("total"), stats.TotalSteps)
			for _, eventType := range sortedKeys(stats.StepsByType) {
				fmt.Fprintf(out, "%s%d\n", statsLabelStyle.Render(eventType), stats.StepsByType[eventType])
			}

			fmt.Fprintln(out, statsHeaderStyle.Render("Storage"))
			fmt.Fprintf(out, "%s%s\n", statsLabelStyle.Render("path"), cfg.DBPath)
			fmt.Fprintf(out, "%s%d bytes\n", statsLabelStyle.Render("size"), stats.DBSizeBytes)
			return nil
		},
	}
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func newPruneCommand() *cobra.Command {
	var (
		retentionDays int
		runVacuum     bool
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete runs older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if retentionDays == 0 {
				retentionDays = cfg.RetentionDays
			}
			logger := newLogger(cfg)
			store, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			deleted, err := store.Prune(cmd.Context(), retentionDays)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d runs older than %d days\n", deleted, retentionDays)

			if runVacuum {
				if err := store.Vacuum(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "vacuum completed")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&retentionDays, "retention-days", 0, "Retention period in days (default from config)")
	cmd.Flags().BoolVar(&runVacuum, "vacuum", false, "Reclaim free space after pruning")
	return cmd
}

func newVacuumCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "vacuum",
		Short: "Reclaim free space in the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			store, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Vacuum(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "vacuum completed")
			return nil
		},
	}
}

func newBackupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backup <path>",
		Short: "Write an atomic snapshot of the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			store, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Backup(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "backup written to %s\n", args[0])
			return nil
		},
	}
}
