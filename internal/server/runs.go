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

package server

import (
	"net/http"
	"strconv"

	"github.com/agentlens/agentlens/internal/storage"
)

// handleListRuns handles GET /v1/runs.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := storage.RunFilter{
		Status:    q.Get("status"),
		UserID:    q.Get("user_id"),
		SessionID: q.Get("session_id"),
		Search:    q.Get("search"),
	}

	var err error
	if filter.StartedAfter, err = queryInt64(q.Get("started_after")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid started_after")
		return
	}
	if filter.StartedBefore, err = queryInt64(q.Get("started_before")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid started_before")
		return
	}

	limit := storage.DefaultListLimit
	if raw := q.Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if limit > storage.MaxListLimit {
			limit = storage.MaxListLimit
		}
	}
	filter.Limit = limit

	if raw := q.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			writeError(w, http.StatusBadRequest, "invalid page")
			return
		}
		filter.Offset = (page - 1) * limit
	} else if raw := q.Get("offset"); raw != "" {
		if filter.Offset, err = strconv.Atoi(raw); err != nil || filter.Offset < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
	}

	runs, total, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		s.writeInternalError(w, "list runs", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":      runs,
		"total":     total,
		"page":      filter.Offset/limit + 1,
		"page_size": limit,
	})
}

// handleGetRun handles GET /v1/runs/{run_id}.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	detail, err := s.store.GetRun(r.Context(), r.PathValue("run_id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// handleDeleteRun handles DELETE /v1/runs/{run_id}.
func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	if err := s.store.DeleteRun(r.Context(), runID); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": runID})
}

// handleGetSteps handles GET /v1/runs/{run_id}/steps.
func (s *Server) handleGetSteps(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.StepFilter{EventType: q.Get("event_type")}

	var err error
	if raw := q.Get("limit"); raw != "" {
		if filter.Limit, err = strconv.Atoi(raw); err != nil || filter.Limit < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if filter.Offset, err = strconv.Atoi(raw); err != nil || filter.Offset < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
	}

	steps, err := s.store.GetSteps(r.Context(), r.PathValue("run_id"), filter)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"steps": steps})
}

// handleGetTimeline handles GET /v1/runs/{run_id}/timeline.
func (s *Server) handleGetTimeline(w http.ResponseWriter, r *http.Request) {
	timeline, err := s.store.GetTimeline(r.Context(), r.PathValue("run_id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"timeline": timeline})
}

// handleGetStepData handles GET /v1/runs/{run_id}/steps/{step_id}/data.
func (s *Server) handleGetStepData(w http.ResponseWriter, r *http.Request) {
	stepID, err := strconv.ParseInt(r.PathValue("step_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid step id")
		return
	}
	data, err := s.store.GetStepData(r.Context(), r.PathValue("run_id"), stepID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// handleExportRun handles GET /v1/runs/{run_id}/export.
func (s *Server) handleExportRun(w http.ResponseWriter, r *http.Request) {
	export, err := s.store.ExportRun(r.Context(), r.PathValue("run_id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, export)
}

// handleStats handles GET /v1/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.writeInternalError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func queryInt64(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
