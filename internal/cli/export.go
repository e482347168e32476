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
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentlens/agentlens/internal/storage"
)

func newExportCommand() *cobra.Command {
	var (
		all    bool
		limit  int
		output string
	)

	cmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "Export runs with decoded payloads as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !all {
				return fmt.Errorf("provide a run_id or --all")
			}

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

			var out io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}

			encoder := json.NewEncoder(out)
			encoder.SetIndent("", "  ")

			if !all {
				export, err := store.ExportRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return encoder.Encode(export)
			}

			runs, _, err := store.ListRuns(cmd.Context(), storage.RunFilter{Limit: limit})
			if err != nil {
				return err
			}
			exports := make([]*storage.RunExport, 0, len(runs))
			for _, run := range runs {
				export, err := store.ExportRun(cmd.Context(), run.ID)
				if err != nil {
					return err
				}
				exports = append(exports, export)
			}
			return encoder.Encode(exports)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Export the most recent runs instead of one run")
	cmd.Flags().IntVar(&limit, "limit", storage.MaxListLimit, "Maximum runs to export with --all")
	cmd.Flags().StringVar(&output, "output", "", "Write to file instead of stdout")
	return cmd
}
