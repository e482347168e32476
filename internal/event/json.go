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

package event

import (
	"encoding/json"
	"fmt"
)

// Document renders the event as a generic JSON document. The envelope fields
// live at the top level; the variant data lives under "payload". Zero-valued
// optional fields are omitted so the canonical form stays compact and stable.
//
// encoding/json marshals map keys in sorted order, which gives the canonical
// stable-key-order serialization without further work.
func (e *Event) Document() map[string]any {
	doc := map[string]any{
		"event_id":     e.EventID,
		"run_id":       e.RunID,
		"type":         string(e.Type),
		"timestamp_ms": e.TimestampMS,
		"status":       string(e.Status),
	}
	if e.Name != "" {
		doc["name"] = e.Name
	}
	if e.ParentEventID != 0 {
		doc["parent_event_id"] = e.ParentEventID
	}
	if e.DurationMS != 0 {
		doc["duration_ms"] = e.DurationMS
	}
	if len(e.Metadata) > 0 {
		doc["metadata"] = e.Metadata
	}
	if e.Payload != nil {
		doc["payload"] = e.Payload.payloadMap()
	}
	return doc
}

func (p RunStart) payloadMap() map[string]any {
	m := map[string]any{"run_name": p.RunName}
	if p.AgentType != "" {
		m["agent_type"] = p.AgentType
	}
	if p.UserID != "" {
		m["user_id"] = p.UserID
	}
	if p.SessionID != "" {
		m["session_id"] = p.SessionID
	}
	return m
}

func (p RunEnd) payloadMap() map[string]any {
	m := map[string]any{"final_status": string(p.FinalStatus)}
	if p.StartedAtMS != 0 {
		m["started_at_ms"] = p.StartedAtMS
	}
	return m
}

func (p LLMCall) payloadMap() map[string]any {
	m := map[string]any{
		"model":    p.Model,
		"prompt":   p.Prompt,
		"response": p.Response,
	}
	if p.PromptTokens != 0 {
		m["prompt_tokens"] = p.PromptTokens
	}
	if p.CompletionTokens != 0 {
		m["completion_tokens"] = p.CompletionTokens
	}
	if p.TotalTokens != 0 {
		m["total_tokens"] = p.TotalTokens
	}
	if p.LatencyMS != 0 {
		m["latency_ms"] = p.LatencyMS
	}
	if p.Temperature != 0 {
		m["temperature"] = p.Temperature
	}
	if p.MaxTokens != 0 {
		m["max_tokens"] = p.MaxTokens
	}
	return m
}

func (p ToolCall) payloadMap() map[string]any {
	m := map[string]any{
		"tool_name":   p.ToolName,
		"tool_args":   p.ToolArgs,
		"tool_result": p.ToolResult,
	}
	if p.ToolType != "" {
		m["tool_type"] = p.ToolType
	}
	return m
}

func (p MemoryRead) payloadMap() map[string]any {
	m := map[string]any{
		"memory_key":   p.MemoryKey,
		"memory_value": p.MemoryValue,
	}
	if p.MemoryType != "" {
		m["memory_type"] = p.MemoryType
	}
	return m
}

func (p MemoryWrite) payloadMap() map[string]any {
	m := map[string]any{
		"memory_key":   p.MemoryKey,
		"memory_value": p.MemoryValue,
		"overwrite":    p.Overwrite,
	}
	if p.MemoryType != "" {
		m["memory_type"] = p.MemoryType
	}
	return m
}

func (p ErrorDetail) payloadMap() map[string]any {
	m := map[string]any{
		"error_type":    p.ErrorType,
		"error_message": p.ErrorMessage,
		"critical":      p.Critical,
	}
	if p.Stack != "" {
		m["stack"] = p.Stack
	}
	return m
}

func (p FinalAnswer) payloadMap() map[string]any {
	m := map[string]any{"answer": p.Answer}
	if p.AnswerType != "" {
		m["answer_type"] = p.AnswerType
	}
	return m
}

func (p Custom) payloadMap() map[string]any {
	return map[string]any{
		"name":    p.Name,
		"payload": p.Payload,
	}
}

// envelope mirrors Document for decoding.
type envelope struct {
	EventID       int64           `json:"event_id"`
	RunID         string          `json:"run_id"`
	ParentEventID int64           `json:"parent_event_id"`
	Type          Type            `json:"type"`
	Name          string          `json:"name"`
	TimestampMS   int64           `json:"timestamp_ms"`
	DurationMS    int64           `json:"duration_ms"`
	Status        Status          `json:"status"`
	Metadata      map[string]any  `json:"metadata"`
	Payload       json.RawMessage `json:"payload"`
}

type runStartDoc struct {
	RunName   string `json:"run_name"`
	AgentType string `json:"agent_type"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

type runEndDoc struct {
	FinalStatus RunStatus `json:"final_status"`
	StartedAtMS int64     `json:"started_at_ms"`
}

type llmCallDoc struct {
	Model            string  `json:"model"`
	Prompt           any     `json:"prompt"`
	Response         any     `json:"response"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	LatencyMS        int64   `json:"latency_ms"`
	Temperature      float64 `json:"temperature"`
	MaxTokens        int     `json:"max_tokens"`
}

type toolCallDoc struct {
	ToolName   string         `json:"tool_name"`
	ToolType   string         `json:"tool_type"`
	ToolArgs   map[string]any `json:"tool_args"`
	ToolResult any            `json:"tool_result"`
}

type memoryReadDoc struct {
	MemoryKey   string `json:"memory_key"`
	MemoryValue any    `json:"memory_value"`
	MemoryType  string `json:"memory_type"`
}

type memoryWriteDoc struct {
	MemoryKey   string `json:"memory_key"`
	MemoryValue any    `json:"memory_value"`
	MemoryType  string `json:"memory_type"`
	Overwrite   bool   `json:"overwrite"`
}

type errorDoc struct {
	ErrorType    string `json:"error_type"`
	ErrorMessage string `json:"error_message"`
	Critical     bool   `json:"critical"`
	Stack        string `json:"stack"`
}

type finalAnswerDoc struct {
	Answer     string `json:"answer"`
	AnswerType string `json:"answer_type"`
}

type customDoc struct {
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload"`
}

// Parse decodes a serialized event document back into a typed Event. Unknown
// event types are rejected rather than silently mapped to an empty variant.
func Parse(data []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse event: %w", err)
	}
	if !env.Type.Valid() {
		return nil, fmt.Errorf("parse event: unknown type %q", env.Type)
	}

	ev := &Event{
		EventID:       env.EventID,
		RunID:         env.RunID,
		ParentEventID: env.ParentEventID,
		Type:          env.Type,
		Name:          env.Name,
		TimestampMS:   env.TimestampMS,
		DurationMS:    env.DurationMS,
		Status:        env.Status,
		Metadata:      env.Metadata,
	}

	if len(env.Payload) == 0 {
		return ev, nil
	}

	var err error
	switch env.Type {
	case TypeRunStart:
		var d runStartDoc
		err = json.Unmarshal(env.Payload, &d)
		ev.Payload = RunStart(d)
	case TypeRunEnd:
		var d runEndDoc
		err = json.Unmarshal(env.Payload, &d)
		ev.Payload = RunEnd(d)
	case TypeLLMCall:
		var d llmCallDoc
		err = json.Unmarshal(env.Payload, &d)
		ev.Payload = LLMCall(d)
	case TypeToolCall:
		var d toolCallDoc
		err = json.Unmarshal(env.Payload, &d)
		ev.Payload = ToolCall(d)
	case TypeMemoryRead:
		var d memoryReadDoc
		err = json.Unmarshal(env.Payload, &d)
		ev.Payload = MemoryRead(d)
	case TypeMemoryWrite:
		var d memoryWriteDoc
		err = json.Unmarshal(env.Payload, &d)
		ev.Payload = MemoryWrite(d)
	case TypeError:
		var d errorDoc
		err = json.Unmarshal(env.Payload, &d)
		ev.Payload = ErrorDetail(d)
	case TypeFinalAnswer:
		var d finalAnswerDoc
		err = json.Unmarshal(env.Payload, &d)
		ev.Payload = FinalAnswer(d)
	case TypeCustom:
		var d customDoc
		err = json.Unmarshal(env.Payload, &d)
		ev.Payload = Custom(d)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s payload: %w", env.Type, err)
	}
	return ev, nil
}
