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

	"github.com/agentlens/agentlens/internal/event"
	"github.com/agentlens/agentlens/internal/log"
)

// Only-on-error buffer states.
const (
	bufferOpen = iota
	bufferFlushed
	bufferDiscarded
)

// Run is the context of one traced agent run. All emitters are safe for
// concurrent use; none of them ever surfaces an error into agent code.
//
// A Run must be released exactly once with End (typically deferred). Events
// emitted after End are dropped with a warning.
type Run struct {
	t   *Trace
	ctx context.Context

	id        string
	name      string
	agentType string
	userID    string
	sessionID string
	metadata  map[string]any
	parent    *Run

	sampled bool
	startMS int64

	mu          sync.Mutex
	seq         int64
	ended       bool
	failed      bool
	parentStack []int64
	buffer      []*event.Event
	bufferState int
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Name returns the run name.
func (r *Run) Name() string { return r.name }

// Sampled reports whether this run is being recorded. An unsampled run
// accepts every emitter call and records nothing.
func (r *Run) Sampled() bool { return r.sampled }

// LLM records a model invocation.
func (r *Run) LLM(p event.LLMCall) *event.Event {
	return r.emit(p)
}

// Tool records a tool invocation.
func (r *Run) Tool(p event.ToolCall) *event.Event {
	return r.emit(p)
}

// MemoryRead records a memory retrieval.
func (r *Run) MemoryRead(key string, value any, memoryType string) *event.Event {
	return r.emit(event.MemoryRead{MemoryKey: key, MemoryValue: value, MemoryType: memoryType})
}

// MemoryWrite records a memory store.
func (r *Run) MemoryWrite(key string, value any, memoryType string, overwrite bool) *event.Event {
	return r.emit(event.MemoryWrite{MemoryKey: key, MemoryValue: value, MemoryType: memoryType, Overwrite: overwrite})
}

// Error records a failure. Any error event marks the run as failed for the
// purposes of run_end status and only-on-error buffering.
func (r *Run) Error(p event.ErrorDetail) *event.Event {
	r.mu.Lock()
	r.failed = true
	r.mu.Unlock()
	return r.emit(p)
}

// Final records the run's answer.
func (r *Run) Final(answer string) *event.Event {
	return r.emit(event.FinalAnswer{Answer: answer})
}

// Emit records an arbitrary payload, including Custom events.
func (r *Run) Emit(payload event.Payload) *event.Event {
	return r.emit(payload)
}

// Nest makes ev the parent of events emitted until the returned function is
// called. Nesting forms a stack per run.
func (r *Run) Nest(ev *event.Event) func() {
	if ev == nil || !r.sampled {
		return func() {}
	}
	r.mu.Lock()
	r.parentStack = append(r.parentStack, ev.EventID)
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		if n := len(r.parentStack); n > 0 {
			r.parentStack = r.parentStack[:n-1]
		}
		r.mu.Unlock()
	}
}

// emit stamps the envelope and submits the event. Hot path: no I/O, no
// blocking; under queue overflow the event is dropped and counted.
func (r *Run) emit(payload event.Payload) *event.Event {
	return r.emitWith(payload, nil)
}

// emitWith is emit with envelope metadata attached before submission; once
// an event is enqueued the worker owns it exclusively.
func (r *Run) emitWith(payload event.Payload, metadata map[string]any) *event.Event {
	if r == nil || !r.sampled {
		return nil
	}

	r.mu.Lock()
	if r.ended {
		r.mu.Unlock()
		log.WithRun(r.t.logger, r.id).Warn("event emitted after run end, dropping",
			slog.String(log.EventTypeKey, string(payload.EventType())))
		return nil
	}
	r.seq++
	seq := r.seq
	var parentID int64
	if n := len(r.parentStack); n > 0 {
		parentID = r.parentStack[n-1]
	}
	ev := event.New(r.id, seq, parentID, payload)
	if len(metadata) > 0 {
		ev.Metadata = metadata
	}
	if r.t.cfg.OnlyOnError {
		r.buffer = append(r.buffer, ev)
		r.mu.Unlock()
		return ev
	}
	r.mu.Unlock()

	r.t.queue.TryPut(ev)
	return ev
}

// emitRunStart queues the run_start event that brackets the run.
func (r *Run) emitRunStart() {
	payload := event.RunStart{
		RunName:   r.name,
		AgentType: r.agentType,
		UserID:    r.userID,
		SessionID: r.sessionID,
	}
	var metadata map[string]any
	if len(r.metadata) > 0 || r.parent != nil {
		metadata = make(map[string]any, len(r.metadata)+1)
		for k, v := range r.metadata {
			metadata[k] = v
		}
		if r.parent != nil {
			metadata["parent_run_id"] = r.parent.id
		}
	}
	r.emitWith(payload, metadata)
}

// End releases the run. On a clean exit it emits run_end(completed); after a
// recorded error, or when the run's context was cancelled, it takes the
// abnormal path: error (for cancellation) then run_end(failed). End is
// idempotent and is the only event allowed a bounded wait on the queue.
func (r *Run) End() {
	if r == nil || !r.sampled {
		return
	}

	r.mu.Lock()
	if r.ended {
		r.mu.Unlock()
		return
	}

	// A cancelled caller is an abnormal exit even if no error was recorded.
	var cancelErr error
	if r.ctx != nil {
		cancelErr = r.ctx.Err()
	}

	var cancelEv *event.Event
	if cancelErr != nil && !r.failed {
		r.failed = true
		r.seq++
		cancelEv = event.New(r.id, r.seq, 0, event.ErrorDetail{
			ErrorType:    "ContextCancelled",
			ErrorMessage: cancelErr.Error(),
			Critical:     true,
		})
		if r.t.cfg.OnlyOnError {
			r.buffer = append(r.buffer, cancelEv)
			cancelEv = nil
		}
	}

	status := event.RunCompleted
	if r.failed {
		status = event.RunFailed
	}

	r.seq++
	endEv := event.New(r.id, r.seq, 0, event.RunEnd{
		FinalStatus: status,
		StartedAtMS: r.startMS,
	})
	endEv.DurationMS = endEv.TimestampMS - r.startMS

	onlyOnError := r.t.cfg.OnlyOnError
	var flush []*event.Event
	if onlyOnError {
		if r.failed {
			flush = r.buffer
			r.bufferState = bufferFlushed
		} else {
			r.bufferState = bufferDiscarded
		}
		r.buffer = nil
	}
	r.ended = true
	r.mu.Unlock()

	if onlyOnError && flush == nil {
		// Clean run under only_on_error: nothing is persisted, not even the
		// terminator.
		return
	}

	if cancelEv != nil {
		r.t.queue.TryPut(cancelEv)
	}
	for _, ev := range flush {
		r.t.queue.TryPut(ev)
	}

	if r.t.cfg.BlockOnRunEnd {
		r.t.queue.PutWait(endEv, r.t.cfg.RunEndBlockTimeout)
	} else {
		r.t.queue.TryPut(endEv)
	}
}
