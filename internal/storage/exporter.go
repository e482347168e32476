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

package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/agentlens/agentlens/internal/config"
	"github.com/agentlens/agentlens/internal/event"
	"github.com/agentlens/agentlens/internal/log"
	"github.com/agentlens/agentlens/internal/pipeline"
)

// Exporter maps event batches onto runs and steps rows. Each event runs
// through the processing pipeline; all rows of one batch commit in a single
// transaction, retried (at most three attempts) while the store reports busy
// or locked, and dropped whole once retries run out or on any other store
// error. No batch is ever partially persisted.
type Exporter struct {
	store         *SQLiteStore
	pipe          *pipeline.Pipeline
	blobSizeLimit int64
	logger        *slog.Logger

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewExporter creates a storage exporter over an open store. The exporter
// takes ownership of the store and closes it on Shutdown.
func NewExporter(store *SQLiteStore, pipe *pipeline.Pipeline, cfg *config.Config, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.BlobSizeLimit
	if limit <= 0 {
		limit = config.DefaultBlobSizeLimit
	}
	return &Exporter{
		store:         store,
		pipe:          pipe,
		blobSizeLimit: limit,
		logger:        logger,
	}
}

// Initialize implements exporter.Exporter. The store schema is migrated at
// Open, so Initialize only checks that the store answers a ping.
func (e *Exporter) Initialize(ctx context.Context, cfg *config.Config) error {
	return e.store.Ping(ctx)
}

// ExportBatch encodes and commits one batch.
func (e *Exporter) ExportBatch(ctx context.Context, events []*event.Event) error {
	if len(events) == 0 {
		return nil
	}

	ops := make([]batchOp, 0, len(events))
	for _, ev := range events {
		op, ok := e.buildOp(ev)
		if !ok {
			continue
		}
		ops = append(ops, op)
	}
	if len(ops) == 0 {
		return nil
	}

	if err := e.store.commitBatch(ctx, ops); err != nil {
		droppedBatches.Inc()
		e.logger.Error("dropping batch after store retries",
			slog.Int(log.BatchSizeKey, len(events)), log.Error(err))
		return fmt.Errorf("commit batch of %d events: %w", len(events), err)
	}

	exportedEvents.Add(float64(len(ops)))
	return nil
}

// buildOp turns one event into its batch operation. Returns false when the
// event must be dropped (pipeline failure or oversized blob).
func (e *Exporter) buildOp(ev *event.Event) (batchOp, bool) {
	blob, codec, err := e.pipe.Encode(ev)
	if err != nil {
		droppedEvents.WithLabelValues("pipeline").Inc()
		e.logger.Warn("dropping event: pipeline failure",
			slog.String(log.RunIDKey, ev.RunID),
			slog.Int64(log.EventIDKey, ev.EventID),
			log.Error(err))
		return batchOp{}, false
	}
	if int64(len(blob)) > e.blobSizeLimit {
		droppedEvents.WithLabelValues("oversize").Inc()
		e.logger.Warn("dropping event: blob exceeds size limit",
			slog.String(log.RunIDKey, ev.RunID),
			slog.Int64(log.EventIDKey, ev.EventID),
			slog.Int("blob_bytes", len(blob)),
			slog.Int64("limit_bytes", e.blobSizeLimit))
		return batchOp{}, false
	}

	step := &stepInsert{
		RunID:         ev.RunID,
		EventID:       ev.EventID,
		Type:          ev.Type,
		Name:          ev.Name,
		Status:        ev.Status,
		TimestampMS:   ev.TimestampMS,
		DurationMS:    ev.DurationMS,
		ParentEventID: ev.ParentEventID,
		Blob:          blob,
		Codec:         codec,
	}

	op := batchOp{Step: step}
	switch payload := ev.Payload.(type) {
	case event.RunStart:
		op.InsertRun = &runInsert{
			ID:          ev.RunID,
			Name:        payload.RunName,
			StartedAtMS: ev.TimestampMS,
			AgentType:   payload.AgentType,
			UserID:      payload.UserID,
			SessionID:   payload.SessionID,
			ParentRunID: parentRunID(ev),
			Metadata:    ev.Metadata,
		}
	case event.RunEnd:
		update := &runEndUpdate{
			RunID:     ev.RunID,
			Status:    payload.FinalStatus,
			EndedAtMS: ev.TimestampMS,
		}
		if payload.StartedAtMS > 0 {
			update.DurationMS = ev.TimestampMS - payload.StartedAtMS
		}
		op.UpdateRun = update
	}
	return op, true
}

func parentRunID(ev *event.Event) string {
	if ev.Metadata == nil {
		return ""
	}
	if parent, ok := ev.Metadata["parent_run_id"].(string); ok {
		return parent
	}
	return ""
}

// Shutdown closes the underlying store. Idempotent.
func (e *Exporter) Shutdown(ctx context.Context) error {
	e.shutdownOnce.Do(func() {
		e.shutdownErr = e.store.Close()
	})
	return e.shutdownErr
}
