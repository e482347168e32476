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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentlens/agentlens/internal/log"
	"github.com/agentlens/agentlens/internal/server"
	"github.com/agentlens/agentlens/internal/storage"
)

func newServerCommand() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Serve the query API over the local store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if host != "" {
				cfg.APIHost = host
			}
			if port != 0 {
				cfg.APIPort = port
			}

			logger := newLogger(cfg)
			slog.SetDefault(logger)

			store, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Periodic retention so a long-lived server prunes without cron.
			if cfg.RetentionDays > 0 {
				go retentionLoop(ctx, store, cfg.RetentionDays, logger)
			}

			srv := server.New(cfg, store, version, logger)
			addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
			if err := srv.ListenAndServe(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Bind address (default from config)")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (default from config)")
	return cmd
}

// retentionLoop prunes expired runs once an hour until ctx is cancelled.
func retentionLoop(ctx context.Context, store *storage.SQLiteStore, retentionDays int, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	prune := func() {
		pruneCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		if _, err := store.Prune(pruneCtx, retentionDays); err != nil {
			logger.Error("retention prune failed", log.Error(err))
		}
	}

	prune()
	for {
		select {
		case <-ticker.C:
			prune()
		case <-ctx.Done():
			return
		}
	}
}
