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

const defaultConfigFile = "agentlens.yaml"

func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the config file and initialize the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			if path == "" {
				path = defaultConfigFile
			}

			// The file may not exist yet; resolve from env/defaults then.
			loadPath := path
			if _, err := os.Stat(loadPath); os.IsNotExist(err) {
				loadPath = ""
			}
			cfg, err := config.Load(loadPath)
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); os.IsNotExist(err) {
				dump, err := cfg.Dump()
				if err != nil {
					return err
				}
				if err := os.WriteFile(path, []byte(dump), 0o644); err != nil {
					return fmt.Errorf("write config file: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already exists, leaving it untouched\n", path)
			}

			// Opening the store creates the schema.
			logger := newLogger(cfg)
			store, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "initialized store at %s\n", cfg.DBPath)
			return nil
		},
	}
}
