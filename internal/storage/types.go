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

// Package storage provides the durable run/step store, the storage exporter
// that feeds it, and the read contract consumed by the API and CLI.
package storage

import (
	"context"
	"errors"

	"github.com/agentlens/agentlens/internal/event"
)

// ErrNotFound is returned by read operations for unknown runs or steps.
var ErrNotFound = errors.New("not found")

// MaxListLimit caps list_runs page sizes.
const MaxListLimit = 100

// DefaultListLimit is the page size when the caller does not specify one.
const DefaultListLimit = 20

// Run is one row of the runs table.
type Run struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Status      event.RunStatus `json:"status"`
	StartedAtMS int64           `json:"started_at_ms"`
	EndedAtMS   *int64          `json:"ended_at_ms"`
	DurationMS  *int64          `json:"duration_ms"`
	AgentType   string          `json:"agent_type,omitempty"`
	UserID      string          `json:"user_id,omitempty"`
	SessionID   string          `json:"session_id,omitempty"`
	ParentRunID string          `json:"parent_run_id,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// RunDetail is a run plus its aggregate step counts.
type RunDetail struct {
	Run
	StepCount  int `json:"step_count"`
	ErrorCount int `json:"error_count"`
}

// Step is one stored event with its decoded payload document.
type Step struct {
	ID            int64          `json:"id"`
	RunID         string         `json:"run_id"`
	EventID       int64          `json:"event_id"`
	Type          event.Type     `json:"type"`
	Name          string         `json:"name,omitempty"`
	Status        event.Status   `json:"status"`
	TimestampMS   int64          `json:"timestamp_ms"`
	DurationMS    int64          `json:"duration_ms,omitempty"`
	ParentEventID int64          `json:"parent_event_id,omitempty"`
	BlobCodec     string         `json:"blob_codec"`
	Data          map[string]any `json:"data,omitempty"`
}

// TimelineEntry is the compact per-event summary used by the UI timeline.
type TimelineEntry struct {
	ID            int64        `json:"id"`
	EventID       int64        `json:"event_id"`
	Type          event.Type   `json:"type"`
	Name          string       `json:"name,omitempty"`
	TimestampMS   int64        `json:"timestamp_ms"`
	DurationMS    int64        `json:"duration_ms,omitempty"`
	Status        event.Status `json:"status"`
	ParentEventID int64        `json:"parent_event_id,omitempty"`
}

// RunExport is a run with its full decoded timeline, for JSON dumps.
type RunExport struct {
	Run   RunDetail `json:"run"`
	Steps []Step    `json:"steps"`
}

// Stats aggregates store contents.
type Stats struct {
	TotalRuns     int64            `json:"total_runs"`
	RunsByStatus  map[string]int64 `json:"runs_by_status"`
	TotalSteps    int64            `json:"total_steps"`
	StepsByType   map[string]int64 `json:"steps_by_type"`
	RecentRuns24h int64            `json:"recent_runs_24h"`
	DBSizeBytes   int64            `json:"db_size_bytes"`
}

// RunFilter narrows list_runs.
type RunFilter struct {
	Status        string
	UserID        string
	SessionID     string
	Search        string
	StartedAfter  int64
	StartedBefore int64
	Limit         int
	Offset        int
}

// StepFilter narrows get_steps.
type StepFilter struct {
	EventType string
	Limit     int
	Offset    int
}

// ReadStore is the query surface consumed by the HTTP API and the CLI.
type ReadStore interface {
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, int64, error)
	GetRun(ctx context.Context, runID string) (*RunDetail, error)
	GetSteps(ctx context.Context, runID string, filter StepFilter) ([]Step, error)
	GetTimeline(ctx context.Context, runID string) ([]TimelineEntry, error)
	GetStepData(ctx context.Context, runID string, stepID int64) (map[string]any, error)
	ExportRun(ctx context.Context, runID string) (*RunExport, error)
	DeleteRun(ctx context.Context, runID string) error
	Stats(ctx context.Context) (*Stats, error)
	Prune(ctx context.Context, olderThanDays int) (int64, error)
	Vacuum(ctx context.Context) error
	Backup(ctx context.Context, path string) error
	Ping(ctx context.Context) error
}
