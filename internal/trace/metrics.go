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

package trace

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// enqueuedEvents counts events accepted onto the queue.
	enqueuedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentlens_trace_enqueued_events_total",
			Help: "Total events accepted onto the ingestion queue, by event type",
		},
		[]string{"event_type"},
	)

	// droppedEvents counts queue-overflow drops.
	droppedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentlens_trace_dropped_events_total",
			Help: "Total events dropped on queue overflow, by event type",
		},
		[]string{"event_type"},
	)

	// exportedBatches counts batches handed to the exporter.
	exportedBatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentlens_trace_exported_batches_total",
			Help: "Total batches drained from the queue and exported",
		},
	)

	// batchFailures counts exporter errors observed by the worker.
	batchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentlens_trace_batch_failures_total",
			Help: "Total exporter failures observed by the worker",
		},
	)
)
