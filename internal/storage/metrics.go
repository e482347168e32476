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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// exportedEvents counts events durably committed to the store.
	exportedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentlens_storage_exported_events_total",
			Help: "Total events committed to the durable store",
		},
	)

	// droppedEvents counts events dropped before commit, by reason.
	droppedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentlens_storage_dropped_events_total",
			Help: "Total events dropped by the storage exporter, by reason",
		},
		[]string{"reason"},
	)

	// droppedBatches counts batches abandoned after retries.
	droppedBatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentlens_storage_dropped_batches_total",
			Help: "Total batches dropped after exhausting store retries",
		},
	)
)
