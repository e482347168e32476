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

// Package exporter defines the batch export contract and its non-storage
// implementations. The storage exporter lives in internal/storage.
package exporter

import (
	"context"

	"github.com/agentlens/agentlens/internal/config"
	"github.com/agentlens/agentlens/internal/event"
)

// Exporter consumes event batches drained from the queue by the worker.
//
// ExportBatch must be safe to call repeatedly and must tolerate partial
// failures internally: it reports per-batch success, logging individual
// event failures rather than failing the batch for one bad event.
type Exporter interface {
	// Initialize prepares exporter resources. Called once before the first
	// batch.
	Initialize(ctx context.Context, cfg *config.Config) error

	// ExportBatch delivers a batch of events in emission order.
	ExportBatch(ctx context.Context, events []*event.Event) error

	// Shutdown flushes and releases resources. Must be idempotent.
	Shutdown(ctx context.Context) error
}
