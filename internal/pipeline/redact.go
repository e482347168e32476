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
	"fmt"
	"regexp"

	"github.com/agentlens/agentlens/internal/config"
)

// maxRedactDepth bounds payload traversal so a pathological or cyclic value
// fails the redaction stage instead of recursing forever. A failed redaction
// drops the event; the original data never reaches storage.
const maxRedactDepth = 64

// Redactor removes sensitive values from event payloads. Key matching is
// exact and case-sensitive; a replaced value is not traversed further.
// Pattern matching replaces string scalars that a pattern matches in full.
type Redactor struct {
	keys     map[string]struct{}
	patterns []*regexp.Regexp
}

// NewRedactor compiles the configured keys and patterns.
func NewRedactor(keys, patterns []string) (*Redactor, error) {
	r := &Redactor{keys: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		r.keys[k] = struct{}{}
	}
	for _, p := range patterns {
		compiled, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile redact pattern %q: %w", p, err)
		}
		r.patterns = append(r.patterns, compiled)
	}
	return r, nil
}

// Active reports whether any redaction rule is configured.
func (r *Redactor) Active() bool {
	return len(r.keys) > 0 || len(r.patterns) > 0
}

// Redact returns a redacted copy of v. The input is never mutated: payload
// values are owned by the producer until enqueue and may be inspected later
// by tests or adapters.
func (r *Redactor) Redact(v any) (any, error) {
	if !r.Active() {
		return v, nil
	}
	return r.redactValue(v, 0)
}

func (r *Redactor) redactValue(v any, depth int) (any, error) {
	if depth > maxRedactDepth {
		return nil, fmt.Errorf("payload nesting exceeds %d levels", maxRedactDepth)
	}

	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if _, hit := r.keys[k]; hit {
				out[k] = config.RedactionMarker
				continue
			}
			redacted, err := r.redactValue(item, depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = redacted
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			redacted, err := r.redactValue(item, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = redacted
		}
		return out, nil
	case string:
		return r.redactString(val), nil
	default:
		// Non-string scalars (and opaque values headed for the serializer's
		// fallback rendering) are untouched.
		return v, nil
	}
}

func (r *Redactor) redactString(s string) string {
	for _, p := range r.patterns {
		if loc := p.FindStringIndex(s); loc != nil && loc[0] == 0 && loc[1] == len(s) {
			return config.RedactionMarker
		}
	}
	return s
}
