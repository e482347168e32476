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

package exporter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/agentlens/agentlens/internal/config"
	"github.com/agentlens/agentlens/internal/event"
	"github.com/agentlens/agentlens/internal/log"
)

// Composite fans batches out to multiple exporters in order. One failing
// exporter does not prevent the others from receiving the batch.
type Composite struct {
	exporters []Exporter
	logger    *slog.Logger
}

// NewComposite creates a composite over the given exporters. At least one is
// required.
func NewComposite(logger *slog.Logger, exporters ...Exporter) (*Composite, error) {
	if len(exporters) == 0 {
		return nil, fmt.Errorf("composite exporter requires at least one exporter")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Composite{exporters: exporters, logger: logger}, nil
}

// Initialize initializes every child. An initialization failure is fatal:
// starting with a half-configured fan-out would silently lose data.
func (c *Composite) Initialize(ctx context.Context, cfg *config.Config) error {
	for i, exp := range c.exporters {
		if err := exp.Initialize(ctx, cfg); err != nil {
			return fmt.Errorf("initialize exporter %d: %w", i, err)
		}
	}
	return nil
}

// ExportBatch forwards the batch to every exporter, logging per-exporter
// failures and continuing.
func (c *Composite) ExportBatch(ctx context.Context, events []*event.Event) error {
	for i, exp := range c.exporters {
		if err := exp.ExportBatch(ctx, events); err != nil {
			c.logger.Error("exporter failed on batch",
				slog.Int("exporter", i),
				slog.Int(log.BatchSizeKey, len(events)),
				log.Error(err))
		}
	}
	return nil
}

// Shutdown shuts children down in reverse order, reporting the first error
// after all have been attempted.
func (c *Composite) Shutdown(ctx context.Context) error {
	var firstErr error
	for i := len(c.exporters) - 1; i >= 0; i-- {
		if err := c.exporters[i].Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("shutdown exporter %d: %w", i, err)
		}
	}
	return firstErr
}
