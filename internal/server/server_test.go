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
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentlens/agentlens/internal/config"
	"github.com/agentlens/agentlens/internal/event"
	"github.com/agentlens/agentlens/internal/pipeline"
	"github.com/agentlens/agentlens/internal/storage"
)

func newTestServer(t *testing.T, opts ...config.Option) (*httptest.Server, *storage.Exporter, *config.Config) {
	t.Helper()
	cfg, err := config.Load("", append([]config.Option{config.WithDBPath(":memory:")}, opts...)...)
	require.NoError(t, err)

	pipe, err := pipeline.New(cfg, nil)
	require.NoError(t, err)
	store, err := storage.Open(storage.Options{Path: ":memory:"}, pipe, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	exp := storage.NewExporter(store, pipe, cfg, nil)
	srv := httptest.NewServer(New(cfg, store, "test", nil).Handler())
	t.Cleanup(srv.Close)
	return srv, exp, cfg
}

func seedRun(t *testing.T, exp *storage.Exporter, runID string) {
	t.Helper()
	start := event.New(runID, 1, 0, event.RunStart{RunName: "demo", UserID: "u1"})
	llm := event.New(runID, 2, 0, event.LLMCall{Model: "m", Prompt: "hi", Response: "hello"})
	llm.TimestampMS = start.TimestampMS + 1
	end := event.New(runID, 3, 0, event.RunEnd{FinalStatus: event.RunCompleted, StartedAtMS: start.TimestampMS})
	end.TimestampMS = start.TimestampMS + 2

	require.NoError(t, exp.ExportBatch(context.Background(), []*event.Event{start, llm, end}))
}

func getJSON(t *testing.T, url string, want int) map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, want, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	body := getJSON(t, srv.URL+"/health", http.StatusOK)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["database"])
	assert.Equal(t, "test", body["version"])
	assert.NotZero(t, body["timestamp"])
}

func TestListRuns(t *testing.T) {
	srv, exp, _ := newTestServer(t)
	seedRun(t, exp, "run-1")
	seedRun(t, exp, "run-2")

	body := getJSON(t, srv.URL+"/v1/runs", http.StatusOK)
	assert.EqualValues(t, 2, body["total"])
	assert.Len(t, body["runs"], 2)
	assert.EqualValues(t, 1, body["page"])

	body = getJSON(t, srv.URL+"/v1/runs?status=failed", http.StatusOK)
	assert.EqualValues(t, 0, body["total"])

	body = getJSON(t, srv.URL+"/v1/runs?user_id=u1&limit=1", http.StatusOK)
	assert.EqualValues(t, 2, body["total"])
	assert.Len(t, body["runs"], 1)
}

func TestListRuns_BadParams(t *testing.T) {
	srv, _, _ := newTestServer(t)
	for _, q := range []string{"limit=zero", "offset=-1", "started_after=yesterday", "page=0"} {
		resp, err := http.Get(srv.URL + "/v1/runs?" + q)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "query %q", q)
	}
}

func TestGetRun(t *testing.T) {
	srv, exp, _ := newTestServer(t)
	seedRun(t, exp, "run-1")

	body := getJSON(t, srv.URL+"/v1/runs/run-1", http.StatusOK)
	assert.Equal(t, "run-1", body["id"])
	assert.Equal(t, "completed", body["status"])
	assert.EqualValues(t, 3, body["step_count"])

	getJSON(t, srv.URL+"/v1/runs/missing", http.StatusNotFound)
}

func TestGetSteps(t *testing.T) {
	srv, exp, _ := newTestServer(t)
	seedRun(t, exp, "run-1")

	body := getJSON(t, srv.URL+"/v1/runs/run-1/steps", http.StatusOK)
	steps := body["steps"].([]any)
	require.Len(t, steps, 3)

	first := steps[0].(map[string]any)
	assert.Equal(t, "run_start", first["type"])
	assert.NotNil(t, first["data"], "blob should be decoded")

	body = getJSON(t, srv.URL+"/v1/runs/run-1/steps?event_type=llm_call", http.StatusOK)
	assert.Len(t, body["steps"], 1)
}

func TestGetTimeline(t *testing.T) {
	srv, exp, _ := newTestServer(t)
	seedRun(t, exp, "run-1")

	body := getJSON(t, srv.URL+"/v1/runs/run-1/timeline", http.StatusOK)
	timeline := body["timeline"].([]any)
	require.Len(t, timeline, 3)

	entry := timeline[0].(map[string]any)
	assert.NotNil(t, entry["timestamp_ms"])
	_, hasData := entry["data"]
	assert.False(t, hasData, "timeline entries carry no payloads")
}

func TestGetStepData(t *testing.T) {
	srv, exp, _ := newTestServer(t)
	seedRun(t, exp, "run-1")

	steps := getJSON(t, srv.URL+"/v1/runs/run-1/steps?event_type=llm_call", http.StatusOK)["steps"].([]any)
	stepID := int64(steps[0].(map[string]any)["id"].(float64))

	body := getJSON(t, fmt.Sprintf("%s/v1/runs/run-1/steps/%d/data", srv.URL, stepID), http.StatusOK)
	payload := body["payload"].(map[string]any)
	assert.Equal(t, "hi", payload["prompt"])
	assert.Equal(t, "hello", payload["response"])
}

func TestExportRun(t *testing.T) {
	srv, exp, _ := newTestServer(t)
	seedRun(t, exp, "run-1")

	body := getJSON(t, srv.URL+"/v1/runs/run-1/export", http.StatusOK)
	run := body["run"].(map[string]any)
	assert.Equal(t, "run-1", run["id"])
	assert.Len(t, body["steps"], 3)
}

func TestDeleteRun(t *testing.T) {
	srv, exp, _ := newTestServer(t)
	seedRun(t, exp, "run-1")

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/runs/run-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	getJSON(t, srv.URL+"/v1/runs/run-1", http.StatusNotFound)
}

func TestStats(t *testing.T) {
	srv, exp, _ := newTestServer(t)
	seedRun(t, exp, "run-1")

	body := getJSON(t, srv.URL+"/v1/stats", http.StatusOK)
	assert.EqualValues(t, 1, body["total_runs"])
	assert.EqualValues(t, 3, body["total_steps"])
}

func TestAPIKeyAuth(t *testing.T) {
	srv, exp, cfg := newTestServer(t)
	cfg.APIKeyRequired = true
	cfg.APIKey = "sekret"
	seedRun(t, exp, "run-1")

	resp, err := http.Get(srv.URL + "/v1/runs")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/runs", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "sekret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Health stays open for probes.
	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	srv, _, _ := newTestServer(t, func(c *config.Config) {
		c.RateLimitEnabled = true
		c.RateLimitPerMinute = 5
	})

	var last *http.Response
	limited := false
	for i := 0; i < 10; i++ {
		resp, err := http.Get(srv.URL + "/v1/runs")
		require.NoError(t, err)
		resp.Body.Close()
		last = resp
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	require.True(t, limited, "rate limit never kicked in")
	assert.Equal(t, "60", last.Header.Get("Retry-After"))
}
