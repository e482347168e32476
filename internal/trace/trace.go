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

// Package trace is the public tracing facade: run contexts, event emitters,
// the sampler, the bounded ingestion queue and the background export worker.
//
// The active run context rides on context.Context, so nested scopes and
// goroutines each observe their own run; sibling tasks never share state.
package trace

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentlens/agentlens/internal/config"
	"github.com/agentlens/agentlens/internal/event"
	"github.com/agentlens/agentlens/internal/exporter"
	"github.com/agentlens/agentlens/internal/log"
	"github.com/agentlens/agentlens/internal/pipeline"
	"github.com/agentlens/agentlens/internal/storage"
)

// Trace owns one ingestion pipeline: queue, worker and exporter. Construct
// once per process (or use Default) and share; all methods are safe for
// concurrent use.
type Trace struct {
	cfg     *config.Config
	logger  *slog.Logger
	sampler Sampler
	exp     exporter.Exporter
	queue   *Queue
	worker  *Worker

	initOnce sync.Once
	initErr  error
}

// Option customizes a Trace.
type Option func(*Trace)

// WithExporter overrides the default storage exporter. Use
// exporter.NewComposite to fan out to several backends.
func WithExporter(exp exporter.Exporter) Option {
	return func(t *Trace) { t.exp = exp }
}

// WithSampler overrides the default deterministic hash sampler.
func WithSampler(s Sampler) Option {
	return func(t *Trace) { t.sampler = s }
}

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Trace) { t.logger = logger }
}

// New builds a Trace from the configuration. Unless overridden, events are
// exported to the SQLite store at cfg.DBPath, fanned out to OTLP when
// configured.
func New(cfg *config.Config, opts ...Option) (*Trace, error) {
	if cfg == nil {
		loaded, err := config.Load("")
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	t := &Trace{
		cfg:     cfg,
		sampler: HashSampler{},
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = log.WithComponent(log.New(log.FromEnv()), "trace")
	}

	if t.exp == nil {
		exp, err := defaultExporter(cfg, t.logger)
		if err != nil {
			return nil, err
		}
		t.exp = exp
	}

	t.queue = NewQueue(cfg.QueueSize)
	t.worker = NewWorker(t.queue, t.exp, cfg.BatchSize, cfg.BatchTimeout, t.logger)
	return t, nil
}

func defaultExporter(cfg *config.Config, logger *slog.Logger) (exporter.Exporter, error) {
	pipe, err := pipeline.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Options{Path: cfg.DBPath}, pipe, logger)
	if err != nil {
		return nil, err
	}
	storageExp := storage.NewExporter(store, pipe, cfg, logger)

	if !cfg.OTLPEnabled {
		return storageExp, nil
	}
	composite, err := exporter.NewComposite(logger, storageExp, exporter.NewOTLP())
	if err != nil {
		return nil, err
	}
	return composite, nil
}

// ensureInit lazily initializes the exporter and starts the worker on the
// first sampled run.
func (t *Trace) ensureInit() error {
	t.initOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := t.exp.Initialize(ctx, t.cfg); err != nil {
			t.initErr = fmt.Errorf("initialize exporter: %w", err)
			return
		}
		t.worker.Start()
	})
	return t.initErr
}

// RunOption annotates a new run.
type RunOption func(*Run)

// WithAgentType labels the agent framework emitting the run.
func WithAgentType(agentType string) RunOption {
	return func(r *Run) { r.agentType = agentType }
}

// WithUserID attributes the run to a user.
func WithUserID(userID string) RunOption {
	return func(r *Run) { r.userID = userID }
}

// WithSessionID groups related runs.
func WithSessionID(sessionID string) RunOption {
	return func(r *Run) { r.sessionID = sessionID }
}

// WithMetadata attaches envelope metadata to the run_start event.
func WithMetadata(metadata map[string]any) RunOption {
	return func(r *Run) { r.metadata = metadata }
}

// Run opens a run scope: generates the run_id, consults the sampler once,
// installs the run on the returned context and emits run_start. Release with
// End on every exit path:
//
//	ctx, run := tr.Run(ctx, "checkout-agent")
//	defer run.End()
//
// A nested Run call observes the enclosing run through ctx and records it as
// the parent run.
func (t *Trace) Run(ctx context.Context, name string, opts ...RunOption) (context.Context, *Run) {
	runID := uuid.NewString()

	run := &Run{
		t:       t,
		id:      runID,
		name:    name,
		parent:  FromContext(ctx),
		startMS: event.NowMS(),
	}
	for _, opt := range opts {
		opt(run)
	}

	run.sampled = t.sampler.ShouldSample(runID, name, t.cfg)
	ctx = context.WithValue(ctx, runContextKey{}, run)
	run.ctx = ctx

	if run.sampled {
		if err := t.ensureInit(); err != nil {
			t.logger.Error("trace initialization failed, run will not record",
				log.Error(err))
			run.sampled = false
			return ctx, run
		}
		run.emitRunStart()
	}

	return ctx, run
}

// QueueStats returns a snapshot of the ingestion queue counters.
func (t *Trace) QueueStats() QueueStats {
	return t.queue.Stats()
}

// Shutdown stops accepting events, drains the queue (bounded by the worker
// drain timeout) and shuts the exporter down. Idempotent.
func (t *Trace) Shutdown(ctx context.Context) error {
	return t.worker.Shutdown(ctx)
}

// runContextKey carries the active *Run on a context.Context.
type runContextKey struct{}

// FromContext returns the innermost active run on ctx, or nil.
func FromContext(ctx context.Context) *Run {
	if ctx == nil {
		return nil
	}
	run, _ := ctx.Value(runContextKey{}).(*Run)
	return run
}

// Default returns the process-wide Trace, creating it lazily from the
// environment on first use. Use SetDefault to inject a configured instance
// (primarily in tests).
func Default() (*Trace, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultTrace == nil {
		t, err := New(nil)
		if err != nil {
			return nil, err
		}
		defaultTrace = t
	}
	return defaultTrace, nil
}

// SetDefault replaces the process-wide Trace. Pass nil to reset so the next
// Default call constructs a fresh instance.
func SetDefault(t *Trace) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultTrace = t
}

var (
	defaultMu    sync.Mutex
	defaultTrace *Trace
)
