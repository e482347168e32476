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
	"os"

	"github.com/spf13/cobra"

	"github.com/agentlens/agentlens/internal/config"
)

func newConfigCommand() *cobra.Command {
	var (
		show    bool
		profile string
	)

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if profile != "" {
				if _, err := config.ParseProfile(profile); err != nil {
					return err
				}
				os.Setenv("TRACE_PROFILE", profile)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if show || profile != "" {
				dump, err := cfg.Dump()
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), dump)
				return nil
			}

			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	}

	cmd.Flags().BoolVar(&show, "show", false, "Print the resolved configuration as YAML")
	cmd.Flags().StringVar(&profile, "profile", "", "Resolve with the given profile (production, development, debug)")
	return cmd
}
