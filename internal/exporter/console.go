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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/agentlens/agentlens/internal/config"
	"github.com/agentlens/agentlens/internal/event"
)

// Console prints events to a writer for development and debugging.
type Console struct {
	mu          sync.Mutex
	writer      io.Writer
	prettyPrint bool
}

// ConsoleConfig holds configuration for the console exporter.
type ConsoleConfig struct {
	// Writer is the output destination (default: os.Stdout).
	Writer io.Writer

	// PrettyPrint enables indented output.
	PrettyPrint bool
}

// NewConsole creates a console exporter.
func NewConsole(cfg ConsoleConfig) *Console {
	writer := cfg.Writer
	if writer == nil {
		writer = os.Stdout
	}
	return &Console{writer: writer, prettyPrint: cfg.PrettyPrint}
}

// Initialize implements Exporter.
func (c *Console) Initialize(ctx context.Context, cfg *config.Config) error {
	return nil
}

// ExportBatch writes each event as one JSON document.
func (c *Console) ExportBatch(ctx context.Context, events []*event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ev := range events {
		var (
			data []byte
			err  error
		)
		if c.prettyPrint {
			data, err = json.MarshalIndent(ev.Document(), "", "  ")
		} else {
			data, err = json.Marshal(ev.Document())
		}
		if err != nil {
			return fmt.Errorf("marshal event %d: %w", ev.EventID, err)
		}
		if _, err := fmt.Fprintf(c.writer, "%s\n", data); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown implements Exporter.
func (c *Console) Shutdown(ctx context.Context) error {
	return nil
}
