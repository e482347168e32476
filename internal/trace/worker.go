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
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentlens/agentlens/internal/event"
	"github.com/agentlens/agentlens/internal/exporter"
	"github.com/agentlens/agentlens/internal/log"
)

// DefaultDrainTimeout bounds the shutdown flush.
const DefaultDrainTimeout = 5 * time.Second

// Worker states.
const (
	workerStarting int32 = iota
	workerRunning
	workerDraining
	workerStopped
)

// Worker is the single background task that drains the queue in batches and
// hands them to the exporter. Exporter errors are logged and never kill the
// worker; a failed batch does not delay the next one.
type Worker struct {
	queue        *Queue
	exp          exporter.Exporter
	batchSize    int
	batchTimeout time.Duration
	drainTimeout time.Duration
	logger       *slog.Logger

	state        atomic.Int32
	stopCh       chan struct{}
	doneCh       chan struct{}
	startOnce    sync.Once
	shutdownOnce sync.Once
}

// NewWorker creates a worker over the queue and exporter.
func NewWorker(queue *Queue, exp exporter.Exporter, batchSize int, batchTimeout time.Duration, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize < 1 {
		batchSize = 1
	}
	return &Worker{
		queue:        queue,
		exp:          exp,
		batchSize:    batchSize,
		batchTimeout: batchTimeout,
		drainTimeout: DefaultDrainTimeout,
		logger:       logger,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start launches the background loop. Safe to call once; later calls are
// no-ops.
func (w *Worker) Start() {
	w.startOnce.Do(func() {
		w.state.Store(workerRunning)
		go w.loop()
	})
}

// Running reports whether the worker accepts new events.
func (w *Worker) Running() bool {
	return w.state.Load() == workerRunning
}

func (w *Worker) loop() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			w.drain()
			return
		case ev := <-w.queue.ch:
			w.export(w.fillBatch(ev))
		}
	}
}

// fillBatch collects up to batchSize events, waiting at most batchTimeout
// after the first one.
func (w *Worker) fillBatch(first *event.Event) []*event.Event {
	batch := make([]*event.Event, 0, w.batchSize)
	batch = append(batch, first)

	if w.batchSize == 1 {
		return batch
	}

	timer := time.NewTimer(w.batchTimeout)
	defer timer.Stop()

	for len(batch) < w.batchSize {
		select {
		case ev := <-w.queue.ch:
			batch = append(batch, ev)
		case <-timer.C:
			return batch
		case <-w.stopCh:
			// Flush what we have; drain picks up the rest.
			return batch
		}
	}
	return batch
}

func (w *Worker) export(batch []*event.Event) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	exportedBatches.Inc()
	if err := w.exp.ExportBatch(ctx, batch); err != nil {
		batchFailures.Inc()
		w.logger.Error("export batch failed",
			slog.Int(log.BatchSizeKey, len(batch)), log.Error(err))
		return
	}
	w.queue.processed.Add(int64(len(batch)))
}

// drain flushes every event still queued, bounded by the drain timeout, then
// shuts the exporter down.
func (w *Worker) drain() {
	w.state.Store(workerDraining)
	deadline := time.Now().Add(w.drainTimeout)

	for time.Now().Before(deadline) {
		batch := make([]*event.Event, 0, w.batchSize)
	fill:
		for len(batch) < w.batchSize {
			select {
			case ev := <-w.queue.ch:
				batch = append(batch, ev)
			default:
				break fill
			}
		}
		if len(batch) == 0 {
			break
		}
		w.export(batch)
	}

	if remaining := len(w.queue.ch); remaining > 0 {
		w.logger.Warn("drain timeout reached, dropping remaining events",
			slog.Int("remaining", remaining))
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.drainTimeout)
	defer cancel()
	if err := w.exp.Shutdown(ctx); err != nil {
		w.logger.Error("exporter shutdown failed", log.Error(err))
	}

	w.state.Store(workerStopped)
}

// Shutdown stops accepting new events, drains the queue up to the drain
// timeout and stops the worker. Idempotent; concurrent callers all wait for
// completion.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() {
		w.queue.Close()
		// If Start was never called, run the drain in its own goroutine so
		// queued events still reach the exporter exactly once.
		w.startOnce.Do(func() {
			w.state.Store(workerDraining)
			go func() {
				defer close(w.doneCh)
				w.drain()
			}()
		})
		close(w.stopCh)
	})

	select {
	case <-w.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
