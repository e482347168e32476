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

// Package event defines the semantic event model captured during agent runs.
//
// Every event shares a common envelope (identifiers, timestamp, status) and
// carries one tag-specific payload variant. Events serialize to a canonical
// compact JSON form with stable key order.
package event

import "time"

// Type tags an event variant.
type Type string

// Event type tags.
const (
	TypeRunStart    Type = "run_start"
	TypeRunEnd      Type = "run_end"
	TypeLLMCall     Type = "llm_call"
	TypeToolCall    Type = "tool_call"
	TypeMemoryRead  Type = "memory_read"
	TypeMemoryWrite Type = "memory_write"
	TypeError       Type = "error"
	TypeFinalAnswer Type = "final_answer"
	TypeCustom      Type = "custom"
)

// Types lists every known event type tag, in timeline order of a typical run.
func Types() []Type {
	return []Type{
		TypeRunStart, TypeLLMCall, TypeToolCall, TypeMemoryRead,
		TypeMemoryWrite, TypeError, TypeFinalAnswer, TypeCustom, TypeRunEnd,
	}
}

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	switch t {
	case TypeRunStart, TypeRunEnd, TypeLLMCall, TypeToolCall, TypeMemoryRead,
		TypeMemoryWrite, TypeError, TypeFinalAnswer, TypeCustom:
		return true
	}
	return false
}

// Status classifies the outcome recorded by an event.
type Status string

// Event statuses.
const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
	StatusInfo  Status = "info"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

// Run statuses. The only legal transitions are running → completed and
// running → failed.
const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Event is one observation within a run: a shared envelope plus a
// tag-specific payload.
type Event struct {
	// EventID is monotonic within a run, starting at 1.
	EventID int64
	// RunID identifies the run this event belongs to.
	RunID string
	// ParentEventID links nested events; 0 means no parent.
	ParentEventID int64
	// Type tags the payload variant.
	Type Type
	// Name is a short human-readable label (model name, tool name, ...).
	Name string
	// TimestampMS is the emission time in Unix milliseconds.
	TimestampMS int64
	// DurationMS is the observed duration; 0 means not recorded.
	DurationMS int64
	// Status classifies the outcome.
	Status Status
	// Metadata carries caller-supplied envelope annotations. It is not part
	// of the payload and is not subject to redaction.
	Metadata map[string]any
	// Payload is the variant data. Nil only for zero-value events.
	Payload Payload
}

// Payload is implemented by every event variant.
type Payload interface {
	// EventType returns the tag of this variant.
	EventType() Type
	// payloadMap renders the variant as a generic document for the
	// processing pipeline. Nested maps participate in key redaction; string
	// scalars in pattern redaction.
	payloadMap() map[string]any
}

// RunStart marks the beginning of a run.
type RunStart struct {
	RunName   string
	AgentType string
	UserID    string
	SessionID string
}

// RunEnd terminates a run.
type RunEnd struct {
	// FinalStatus is RunCompleted or RunFailed.
	FinalStatus RunStatus
	// StartedAtMS echoes the run start time so storage can derive duration.
	StartedAtMS int64
}

// LLMCall captures one model invocation. Prompt and Response may be plain
// strings or structured message arrays.
type LLMCall struct {
	Model            string
	Prompt           any
	Response         any
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	LatencyMS        int64
	Temperature      float64
	MaxTokens        int
}

// ToolCall captures one tool or function invocation.
type ToolCall struct {
	ToolName   string
	ToolType   string
	ToolArgs   map[string]any
	ToolResult any
}

// MemoryRead captures a memory retrieval.
type MemoryRead struct {
	MemoryKey   string
	MemoryValue any
	MemoryType  string
}

// MemoryWrite captures a memory store.
type MemoryWrite struct {
	MemoryKey   string
	MemoryValue any
	MemoryType  string
	Overwrite   bool
}

// ErrorDetail captures a failure observed during the run.
type ErrorDetail struct {
	ErrorType    string
	ErrorMessage string
	Critical     bool
	Stack        string
}

// FinalAnswer carries the run's result.
type FinalAnswer struct {
	Answer     string
	AnswerType string
}

// Custom is the escape hatch for user-defined events. Custom events travel
// through the full pipeline like any built-in variant.
type Custom struct {
	Name    string
	Payload map[string]any
}

// EventType implementations.
func (RunStart) EventType() Type    { return TypeRunStart }
func (RunEnd) EventType() Type      { return TypeRunEnd }
func (LLMCall) EventType() Type     { return TypeLLMCall }
func (ToolCall) EventType() Type    { return TypeToolCall }
func (MemoryRead) EventType() Type  { return TypeMemoryRead }
func (MemoryWrite) EventType() Type { return TypeMemoryWrite }
func (ErrorDetail) EventType() Type { return TypeError }
func (FinalAnswer) EventType() Type { return TypeFinalAnswer }
func (Custom) EventType() Type      { return TypeCustom }

// NowMS returns the current time in Unix milliseconds.
func NowMS() int64 {
	return time.Now().UnixMilli()
}

// New stamps an envelope around a payload. Name and status are derived from
// the variant; callers adjust afterwards if needed.
func New(runID string, eventID int64, parentEventID int64, payload Payload) *Event {
	ev := &Event{
		EventID:       eventID,
		RunID:         runID,
		ParentEventID: parentEventID,
		Type:          payload.EventType(),
		TimestampMS:   NowMS(),
		Status:        StatusOK,
		Payload:       payload,
	}
	switch p := payload.(type) {
	case RunStart:
		ev.Name = p.RunName
		ev.Status = StatusInfo
	case RunEnd:
		ev.Name = "run_end"
		ev.Status = StatusInfo
	case LLMCall:
		ev.Name = p.Model
		ev.DurationMS = p.LatencyMS
	case ToolCall:
		ev.Name = p.ToolName
	case MemoryRead:
		ev.Name = p.MemoryKey
	case MemoryWrite:
		ev.Name = p.MemoryKey
	case ErrorDetail:
		ev.Name = p.ErrorType
		ev.Status = StatusError
	case FinalAnswer:
		ev.Name = "final_answer"
	case Custom:
		ev.Name = p.Name
	}
	return ev
}
