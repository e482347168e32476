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
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentlens/agentlens/internal/config"
	"github.com/agentlens/agentlens/internal/event"
	"github.com/agentlens/agentlens/internal/pipeline"
	"github.com/agentlens/agentlens/internal/storage"
)

func fileConfig(t *testing.T, opts ...config.Option) *config.Config {
	t.Helper()
	base := []config.Option{
		config.WithDBPath(filepath.Join(t.TempDir(), "trace.db")),
		config.WithSampleRate(1.0),
		config.WithBatchSize(10),
		config.WithBatchTimeout(20 * time.Millisecond),
	}
	cfg, err := config.Load("", append(base, opts...)...)
	require.NoError(t, err)
	return cfg
}

// reopenStore opens a fresh read handle after the trace shut down and closed
// its own.
func reopenStore(t *testing.T, cfg *config.Config) *storage.SQLiteStore {
	t.Helper()
	pipe, err := pipeline.New(cfg, nil)
	require.NoError(t, err)
	store, err := storage.Open(storage.Options{Path: cfg.DBPath}, pipe, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestHappyPathSingleRun(t *testing.T) {
	cfg := fileConfig(t,
		config.WithRedactKeys("api_key"),
		config.WithRedactPatterns(),
	)
	tr, err := New(cfg)
	require.NoError(t, err)

	ctx, run := tr.Run(context.Background(), "demo")
	require.True(t, run.Sampled())

	run.LLM(event.LLMCall{Model: "m", Prompt: "hi", Response: "hello"})
	run.Tool(event.ToolCall{
		ToolName:   "search",
		ToolArgs:   map[string]any{"q": "x", "api_key": "SEKRET"},
		ToolResult: map[string]any{"hits": float64(1)},
	})
	run.Final("done")
	run.End()
	_ = ctx

	require.NoError(t, tr.Shutdown(context.Background()))

	store := reopenStore(t, cfg)
	detail, err := store.GetRun(context.Background(), run.ID())
	require.NoError(t, err)

	assert.Equal(t, event.RunCompleted, detail.Status)
	assert.Equal(t, "demo", detail.Name)
	assert.NotNil(t, detail.EndedAtMS)
	assert.Equal(t, 5, detail.StepCount)
	assert.Equal(t, 0, detail.ErrorCount)

	steps, err := store.GetSteps(context.Background(), run.ID(), storage.StepFilter{})
	require.NoError(t, err)
	require.Len(t, steps, 5)

	wantOrder := []event.Type{
		event.TypeRunStart, event.TypeLLMCall, event.TypeToolCall,
		event.TypeFinalAnswer, event.TypeRunEnd,
	}
	for i, want := range wantOrder {
		assert.Equal(t, want, steps[i].Type, "step %d", i)
	}

	toolPayload := steps[2].Data["payload"].(map[string]any)
	args := toolPayload["tool_args"].(map[string]any)
	assert.Equal(t, config.RedactionMarker, args["api_key"])
	assert.Equal(t, "x", args["q"])

	// Invariant: emission order is storage order.
	for i := 1; i < len(steps); i++ {
		assert.GreaterOrEqual(t, steps[i].EventID, steps[i-1].EventID)
	}
}

func TestOnlyOnError(t *testing.T) {
	t.Run("completed run leaves nothing", func(t *testing.T) {
		cfg := fileConfig(t, config.WithOnlyOnError(true))
		tr, err := New(cfg)
		require.NoError(t, err)

		_, run := tr.Run(context.Background(), "clean")
		run.LLM(event.LLMCall{Model: "m", Prompt: "p", Response: "r"})
		run.Final("ok")
		run.End()

		require.NoError(t, tr.Shutdown(context.Background()))

		store := reopenStore(t, cfg)
		runs, total, err := store.ListRuns(context.Background(), storage.RunFilter{})
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, runs)
	})

	t.Run("failed run persists the whole buffer in order", func(t *testing.T) {
		cfg := fileConfig(t, config.WithOnlyOnError(true))
		tr, err := New(cfg)
		require.NoError(t, err)

		_, run := tr.Run(context.Background(), "doomed")
		run.LLM(event.LLMCall{Model: "m", Prompt: "p", Response: "r"})
		run.Error(event.ErrorDetail{ErrorType: "ToolError", ErrorMessage: "exploded", Critical: true})
		run.End()

		require.NoError(t, tr.Shutdown(context.Background()))

		store := reopenStore(t, cfg)
		detail, err := store.GetRun(context.Background(), run.ID())
		require.NoError(t, err)
		assert.Equal(t, event.RunFailed, detail.Status)
		assert.Equal(t, 1, detail.ErrorCount)

		steps, err := store.GetSteps(context.Background(), run.ID(), storage.StepFilter{})
		require.NoError(t, err)
		require.Len(t, steps, 4)
		assert.Equal(t, event.TypeRunStart, steps[0].Type)
		assert.Equal(t, event.TypeLLMCall, steps[1].Type)
		assert.Equal(t, event.TypeError, steps[2].Type)
		assert.Equal(t, event.TypeRunEnd, steps[3].Type)
	})
}

func TestSamplingCutoff(t *testing.T) {
	cfg := fileConfig(t, config.WithSampleRate(0.0))
	tr, err := New(cfg)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		_, run := tr.Run(context.Background(), fmt.Sprintf("run-%d", i))
		assert.False(t, run.Sampled())
		run.LLM(event.LLMCall{Model: "m", Prompt: "p", Response: "r"})
		run.Final("x")
		run.End()
	}

	require.NoError(t, tr.Shutdown(context.Background()))

	store := reopenStore(t, cfg)
	_, total, err := store.ListRuns(context.Background(), storage.RunFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalSteps)
}

func TestEmitAfterEndIsDropped(t *testing.T) {
	cfg := fileConfig(t)
	tr, err := New(cfg)
	require.NoError(t, err)

	_, run := tr.Run(context.Background(), "demo")
	run.End()

	assert.Nil(t, run.LLM(event.LLMCall{Model: "m", Prompt: "p", Response: "r"}))
	run.End() // idempotent

	require.NoError(t, tr.Shutdown(context.Background()))

	store := reopenStore(t, cfg)
	detail, err := store.GetRun(context.Background(), run.ID())
	require.NoError(t, err)
	assert.Equal(t, 2, detail.StepCount, "only run_start and run_end")
}

func TestCancelledContextFailsRun(t *testing.T) {
	cfg := fileConfig(t)
	tr, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	_, run := tr.Run(ctx, "cancelled")
	run.LLM(event.LLMCall{Model: "m", Prompt: "p", Response: "r"})
	cancel()
	run.End()

	require.NoError(t, tr.Shutdown(context.Background()))

	store := reopenStore(t, cfg)
	detail, err := store.GetRun(context.Background(), run.ID())
	require.NoError(t, err)
	assert.Equal(t, event.RunFailed, detail.Status)

	steps, err := store.GetSteps(context.Background(), run.ID(), storage.StepFilter{})
	require.NoError(t, err)
	require.Len(t, steps, 4)
	assert.Equal(t, event.TypeError, steps[2].Type)
	assert.Equal(t, event.TypeRunEnd, steps[3].Type)
}

func TestNestedRunsRecordParent(t *testing.T) {
	cfg := fileConfig(t)
	tr, err := New(cfg)
	require.NoError(t, err)

	ctx, parent := tr.Run(context.Background(), "parent")
	childCtx, child := tr.Run(ctx, "child")
	assert.Same(t, child, FromContext(childCtx))
	assert.Same(t, parent, FromContext(ctx))

	child.Final("inner")
	child.End()
	parent.End()

	require.NoError(t, tr.Shutdown(context.Background()))

	store := reopenStore(t, cfg)
	childDetail, err := store.GetRun(context.Background(), child.ID())
	require.NoError(t, err)
	assert.Equal(t, parent.ID(), childDetail.ParentRunID)
}

func TestNestedEventsCarryParentEventID(t *testing.T) {
	cfg := fileConfig(t)
	tr, err := New(cfg)
	require.NoError(t, err)

	_, run := tr.Run(context.Background(), "nested")
	tool := run.Tool(event.ToolCall{ToolName: "planner", ToolArgs: map[string]any{}})
	done := run.Nest(tool)
	inner := run.LLM(event.LLMCall{Model: "m", Prompt: "p", Response: "r"})
	done()
	after := run.Final("x")
	run.End()

	assert.Equal(t, tool.EventID, inner.ParentEventID)
	assert.Zero(t, after.ParentEventID)

	require.NoError(t, tr.Shutdown(context.Background()))
}

func TestQueueOverflowScenario(t *testing.T) {
	// Worker deliberately not started: the queue fills to capacity, the
	// remaining submissions drop, then a late worker drains exactly the
	// accepted events.
	cfg := fileConfig(t, config.WithQueueSize(4), config.WithBatchSize(1000))
	pipe, err := pipeline.New(cfg, nil)
	require.NoError(t, err)
	store, err := storage.Open(storage.Options{Path: cfg.DBPath}, pipe, nil)
	require.NoError(t, err)
	exp := storage.NewExporter(store, pipe, cfg, nil)

	q := NewQueue(cfg.QueueSize)

	runStart := event.New("run-c", 1, 0, event.RunStart{RunName: "overflow"})
	require.True(t, q.TryPut(runStart))

	for i := int64(2); i <= 11; i++ {
		q.TryPut(event.New("run-c", i, 0, event.ToolCall{
			ToolName: "t", ToolArgs: map[string]any{},
		}))
	}

	assert.Equal(t, int64(7), q.Dropped(event.TypeToolCall))

	w := NewWorker(q, exp, cfg.BatchSize, cfg.BatchTimeout, nil)
	w.Start()
	require.NoError(t, w.Shutdown(context.Background()))

	readStore := reopenStore(t, cfg)
	steps, err := readStore.GetSteps(context.Background(), "run-c", storage.StepFilter{})
	require.NoError(t, err)
	assert.Len(t, steps, 4, "run_start plus the three tool calls that fit")
}

func TestShutdownIsIdempotent(t *testing.T) {
	cfg := fileConfig(t)
	tr, err := New(cfg)
	require.NoError(t, err)

	_, run := tr.Run(context.Background(), "demo")
	run.End()

	require.NoError(t, tr.Shutdown(context.Background()))
	require.NoError(t, tr.Shutdown(context.Background()))
}

func TestSetDefault(t *testing.T) {
	cfg := fileConfig(t)
	tr, err := New(cfg)
	require.NoError(t, err)

	SetDefault(tr)
	t.Cleanup(func() { SetDefault(nil) })

	got, err := Default()
	require.NoError(t, err)
	assert.Same(t, tr, got)
}
