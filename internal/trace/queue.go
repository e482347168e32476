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
	"sync/atomic"
	"time"

	"github.com/agentlens/agentlens/internal/event"
)

// Queue is the bounded, non-blocking submission channel between producers
// and the worker. Submission never blocks on I/O or held locks; when the
// channel is full the event is dropped and counted. All counters are
// pre-allocated so the hot path does not allocate after construction.
type Queue struct {
	ch     chan *event.Event
	closed atomic.Bool

	queued    atomic.Int64
	processed atomic.Int64
	drops     map[event.Type]*atomic.Int64
}

// QueueStats is a point-in-time snapshot of queue counters.
type QueueStats struct {
	Queued    int64                `json:"events_queued"`
	Processed int64                `json:"events_processed"`
	Dropped   map[event.Type]int64 `json:"events_dropped"`
	Depth     int                  `json:"queue_depth"`
	Capacity  int                  `json:"queue_capacity"`
}

// NewQueue creates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue{
		ch:    make(chan *event.Event, capacity),
		drops: make(map[event.Type]*atomic.Int64, len(event.Types())),
	}
	for _, t := range event.Types() {
		q.drops[t] = &atomic.Int64{}
	}
	return q
}

// TryPut submits without blocking. Returns false when the event was dropped
// (queue full or queue closed).
func (q *Queue) TryPut(ev *event.Event) bool {
	if q.closed.Load() {
		q.drop(ev.Type)
		return false
	}
	select {
	case q.ch <- ev:
		q.queued.Add(1)
		enqueuedEvents.WithLabelValues(string(ev.Type)).Inc()
		return true
	default:
		q.drop(ev.Type)
		return false
	}
}

// PutWait submits, waiting up to timeout for capacity. Used only for
// run_end when block_on_run_end is configured; all other submissions must
// use TryPut.
func (q *Queue) PutWait(ev *event.Event, timeout time.Duration) bool {
	if q.closed.Load() {
		q.drop(ev.Type)
		return false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case q.ch <- ev:
		q.queued.Add(1)
		enqueuedEvents.WithLabelValues(string(ev.Type)).Inc()
		return true
	case <-timer.C:
		q.drop(ev.Type)
		return false
	}
}

func (q *Queue) drop(t event.Type) {
	if counter, ok := q.drops[t]; ok {
		counter.Add(1)
	}
	droppedEvents.WithLabelValues(string(t)).Inc()
}

// Close refuses all further submissions. Events already queued remain
// drainable. Idempotent.
func (q *Queue) Close() {
	q.closed.Store(true)
}

// Dropped returns the drop counter for one event type.
func (q *Queue) Dropped(t event.Type) int64 {
	if counter, ok := q.drops[t]; ok {
		return counter.Load()
	}
	return 0
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() QueueStats {
	dropped := make(map[event.Type]int64, len(q.drops))
	for t, counter := range q.drops {
		if n := counter.Load(); n > 0 {
			dropped[t] = n
		}
	}
	return QueueStats{
		Queued:    q.queued.Load(),
		Processed: q.processed.Load(),
		Dropped:   dropped,
		Depth:     len(q.ch),
		Capacity:  cap(q.ch),
	}
}
