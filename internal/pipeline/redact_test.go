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

package pipeline

import (
	"testing"

	"github.com/agentlens/agentlens/internal/config"
)

func TestRedactor_KeyMatch(t *testing.T) {
	r, err := NewRedactor([]string{"api_key", "password"}, nil)
	if err != nil {
		t.Fatalf("NewRedactor: %v", err)
	}

	input := map[string]any{
		"api_key": "SEKRET",
		"query":   "flights to NYC",
		"nested": map[string]any{
			"password": map[string]any{"inner": "value"},
			"keep":     42,
		},
	}

	out, err := r.Redact(input)
	if err != nil {
		t.Fatalf("Redact: %v", err)
	}
	m := out.(map[string]any)

	if m["api_key"] != config.RedactionMarker {
		t.Errorf("expected api_key redacted, got %v", m["api_key"])
	}
	if m["query"] != "flights to NYC" {
		t.Errorf("expected query untouched, got %v", m["query"])
	}

	nested := m["nested"].(map[string]any)
	// The replacement must not recurse into the replaced value: the whole
	// map under "password" becomes the marker.
	if nested["password"] != config.RedactionMarker {
		t.Errorf("expected nested password replaced with marker, got %v", nested["password"])
	}
	if nested["keep"] != 42 {
		t.Errorf("expected non-sensitive sibling untouched, got %v", nested["keep"])
	}
}

func TestRedactor_KeyMatchIsCaseSensitive(t *testing.T) {
	r, err := NewRedactor([]string{"password"}, nil)
	if err != nil {
		t.Fatalf("NewRedactor: %v", err)
	}

	out, err := r.Redact(map[string]any{"Password": "hunter2", "password": "hunter2"})
	if err != nil {
		t.Fatalf("Redact: %v", err)
	}
	m := out.(map[string]any)
	if m["Password"] != "hunter2" {
		t.Errorf("Password (different case) should not be redacted, got %v", m["Password"])
	}
	if m["password"] != config.RedactionMarker {
		t.Errorf("password should be redacted, got %v", m["password"])
	}
}

func TestRedactor_PatternFullMatchOnly(t *testing.T) {
	r, err := NewRedactor(nil, []string{`\d{3}-\d{2}-\d{4}`})
	if err != nil {
		t.Fatalf("NewRedactor: %v", err)
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"full match", "123-45-6789", config.RedactionMarker},
		{"substring only", "ssn is 123-45-6789 ok", "ssn is 123-45-6789 ok"},
		{"no match", "hello", "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := r.Redact(tt.in)
			if err != nil {
				t.Fatalf("Redact: %v", err)
			}
			if out != tt.want {
				t.Errorf("Redact(%q) = %v, want %v", tt.in, out, tt.want)
			}
		})
	}
}

func TestRedactor_ListsTraversedElementWise(t *testing.T) {
	r, err := NewRedactor([]string{"token"}, []string{`sk-[a-z0-9]+`})
	if err != nil {
		t.Fatalf("NewRedactor: %v", err)
	}

	out, err := r.Redact([]any{
		"sk-abc123",
		map[string]any{"token": "t"},
		7,
		3.14,
		true,
	})
	if err != nil {
		t.Fatalf("Redact: %v", err)
	}
	list := out.([]any)

	if list[0] != config.RedactionMarker {
		t.Errorf("expected pattern-matched element redacted, got %v", list[0])
	}
	if list[1].(map[string]any)["token"] != config.RedactionMarker {
		t.Errorf("expected token key redacted inside list element")
	}
	if list[2] != 7 || list[3] != 3.14 || list[4] != true {
		t.Errorf("non-string scalars must be untouched, got %v", list[2:])
	}
}

func TestRedactor_DoesNotMutateInput(t *testing.T) {
	r, err := NewRedactor([]string{"secret"}, nil)
	if err != nil {
		t.Fatalf("NewRedactor: %v", err)
	}

	input := map[string]any{"secret": "original"}
	if _, err := r.Redact(input); err != nil {
		t.Fatalf("Redact: %v", err)
	}
	if input["secret"] != "original" {
		t.Errorf("input was mutated: %v", input["secret"])
	}
}

func TestRedactor_DepthLimit(t *testing.T) {
	r, err := NewRedactor([]string{"k"}, nil)
	if err != nil {
		t.Fatalf("NewRedactor: %v", err)
	}

	deep := map[string]any{}
	leaf := deep
	for i := 0; i < maxRedactDepth+2; i++ {
		next := map[string]any{}
		leaf["child"] = next
		leaf = next
	}

	if _, err := r.Redact(deep); err == nil {
		t.Fatal("expected depth limit error, got nil")
	}
}

func TestRedactor_InvalidPattern(t *testing.T) {
	if _, err := NewRedactor(nil, []string{"("}); err == nil {
		t.Fatal("expected compile error for invalid pattern")
	}
}
