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

// Package server exposes the read store over a versioned JSON HTTP API.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/agentlens/agentlens/internal/log"
	"github.com/agentlens/agentlens/internal/storage"
)

// writeJSON writes a JSON response body. Decoded step payloads carry prompts
// and tool output, so HTML escaping is disabled: `<`, `>` and `&` must reach
// the UI byte-exact, not as JSON unicode escape sequences.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		slog.Error("failed to write JSON response", log.Error(err))
	}
}

// writeError writes the API error envelope.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeStoreError maps read-store failures onto API status codes: unknown
// runs and steps answer 404 with the store's message, anything else is an
// internal error whose detail stays in the log.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeInternalError(w, "store query", err)
}

// writeInternalError logs the failure and answers 500 without leaking the
// underlying error text to API clients.
func (s *Server) writeInternalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("request failed", slog.String("op", op), log.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
