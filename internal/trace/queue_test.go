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
	"testing"
	"time"

	"github.com/agentlens/agentlens/internal/event"
)

func toolEvent(id int64) *event.Event {
	return event.New("run-q", id, 0, event.ToolCall{
		ToolName: "search",
		ToolArgs: map[string]any{"q": "x"},
	})
}

func TestQueue_OverflowDropsAndCounts(t *testing.T) {
	q := NewQueue(4)

	accepted := 0
	for i := int64(1); i <= 10; i++ {
		if q.TryPut(toolEvent(i)) {
			accepted++
		}
	}

	if accepted != 4 {
		t.Errorf("accepted = %d, want 4", accepted)
	}
	if got := q.Dropped(event.TypeToolCall); got != 6 {
		t.Errorf("dropped(tool_call) = %d, want 6", got)
	}
	if got := q.Dropped(event.TypeLLMCall); got != 0 {
		t.Errorf("dropped(llm_call) = %d, want 0", got)
	}

	stats := q.Stats()
	if stats.Depth != 4 || stats.Capacity != 4 {
		t.Errorf("depth/capacity = %d/%d", stats.Depth, stats.Capacity)
	}
	if stats.Queued != 4 {
		t.Errorf("queued = %d", stats.Queued)
	}
}

func TestQueue_TryPutReturnsImmediately(t *testing.T) {
	q := NewQueue(1)
	q.TryPut(toolEvent(1))

	start := time.Now()
	q.TryPut(toolEvent(2))
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("TryPut blocked for %v", elapsed)
	}
}

func TestQueue_PutWaitTimesOut(t *testing.T) {
	q := NewQueue(1)
	q.TryPut(toolEvent(1))

	endEv := event.New("run-q", 2, 0, event.RunEnd{FinalStatus: event.RunCompleted})

	start := time.Now()
	ok := q.PutWait(endEv, 30*time.Millisecond)
	elapsed := time.Since(start)

	if ok {
		t.Error("PutWait should fail on a full queue")
	}
	if elapsed < 25*time.Millisecond {
		t.Errorf("PutWait returned after %v, should have waited", elapsed)
	}
	if got := q.Dropped(event.TypeRunEnd); got != 1 {
		t.Errorf("dropped(run_end) = %d, want 1", got)
	}
}

func TestQueue_PutWaitSucceedsWhenDrained(t *testing.T) {
	q := NewQueue(1)
	q.TryPut(toolEvent(1))

	go func() {
		time.Sleep(10 * time.Millisecond)
		<-q.ch
	}()

	endEv := event.New("run-q", 2, 0, event.RunEnd{FinalStatus: event.RunCompleted})
	if !q.PutWait(endEv, 500*time.Millisecond) {
		t.Error("PutWait should succeed once capacity frees up")
	}
}

func TestQueue_CloseRefusesSubmissions(t *testing.T) {
	q := NewQueue(4)
	q.Close()

	if q.TryPut(toolEvent(1)) {
		t.Error("TryPut should fail after Close")
	}
	if q.PutWait(toolEvent(2), 10*time.Millisecond) {
		t.Error("PutWait should fail after Close")
	}
	if got := q.Dropped(event.TypeToolCall); got != 2 {
		t.Errorf("dropped = %d, want 2", got)
	}
}
