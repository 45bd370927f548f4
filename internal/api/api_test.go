package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rachelqdao/PipelineTaskScheduling/internal/cache"
	"github.com/rachelqdao/PipelineTaskScheduling/internal/reporter"
	"github.com/rachelqdao/PipelineTaskScheduling/internal/runner"
	"github.com/rachelqdao/PipelineTaskScheduling/internal/state"
)

const serialBody = `{
  "machine": {"cpus": 1, "memory": 100},
  "samples": [10, 5],
  "tasks": [{"name": "align", "step": 0, "time_factor": 2, "space_factor": 1, "cpus": 1}]
}`

func newServer(t *testing.T) (*httptest.Server, *state.Store) {
	t.Helper()
	dir := t.TempDir()
	c, err := cache.Open(filepath.Join(dir, "cache"), time.Hour)
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	store := state.NewStore(filepath.Join(dir, "state"))
	h := NewHandler(&runner.Runner{Cache: c, Store: store}, store)
	srv := httptest.NewServer(NewRouter(h))
	t.Cleanup(srv.Close)
	return srv, store
}

func post(t *testing.T, srv *httptest.Server, path, body string, v interface{}) int {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestMakespan(t *testing.T) {
	srv, _ := newServer(t)

	var got makespanResponse
	if code := post(t, srv, "/api/v1/makespan", serialBody, &got); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if got.Makespan != 30 || got.Cached {
		t.Errorf("unexpected first response: %+v", got)
	}

	var again makespanResponse
	post(t, srv, "/api/v1/makespan", serialBody, &again)
	if !again.Cached || again.Makespan != 30 {
		t.Errorf("expected cached makespan 30, got %+v", again)
	}
	if again.RunID == got.RunID {
		t.Error("expected a new run ID for each request")
	}
}

func TestSchedule(t *testing.T) {
	srv, _ := newServer(t)

	var got reporter.Output
	if code := post(t, srv, "/api/v1/schedule?trace=true", serialBody, &got); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if got.Makespan != 30 || len(got.Jobs) != 2 {
		t.Fatalf("unexpected schedule: %+v", got)
	}
	if got.Jobs[1].Start != 20 || got.Jobs[1].End != 30 {
		t.Errorf("expected second job at [20,30), got [%d,%d)", got.Jobs[1].Start, got.Jobs[1].End)
	}
	if len(got.Ticks) == 0 {
		t.Error("expected ticks with trace=true")
	}
}

func TestMakespan_Errors(t *testing.T) {
	srv, _ := newServer(t)

	cases := []struct {
		name string
		body string
		code int
		kind string
	}{
		{"malformed", `{"machine": 1`, http.StatusBadRequest, "bad_request"},
		{"gap", `{"machine": {"cpus": 1, "memory": 1}, "samples": [1],
			"tasks": [{"name": "a", "step": 1, "time_factor": 1, "space_factor": 1, "cpus": 1}]}`,
			http.StatusUnprocessableEntity, "invalid_step_sequence"},
		{"infeasible", `{"machine": {"cpus": 1, "memory": 1}, "samples": [5],
			"tasks": [{"name": "a", "step": 0, "time_factor": 1, "space_factor": 1, "cpus": 1}]}`,
			http.StatusUnprocessableEntity, "infeasible_job"},
		{"unknown duration", `{"machine": {"cpus": 1, "memory": 1}, "samples": [1],
			"tasks": [{"name": "a", "step": 0, "time_factor": 1, "space_factor": 1, "cpus": 1, "duration": "cubic"}]}`,
			http.StatusUnprocessableEntity, "unknown_duration"},
		{"cost overflow", `{"machine": {"cpus": 1, "memory": 10}, "samples": [4611686018427387904],
			"tasks": [{"name": "a", "step": 0, "time_factor": 4, "space_factor": 4, "cpus": 1}]}`,
			http.StatusUnprocessableEntity, "invalid_sample"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got errorResponse
			code := post(t, srv, "/api/v1/makespan", tc.body, &got)
			if code != tc.code {
				t.Errorf("expected %d, got %d", tc.code, code)
			}
			if got.Kind != tc.kind {
				t.Errorf("expected kind %s, got %s (%s)", tc.kind, got.Kind, got.Error)
			}
			if got.Makespan != -1 {
				t.Errorf("expected -1 sentinel, got %d", got.Makespan)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	srv, store := newServer(t)

	var got map[string]interface{}
	if code := post(t, srv, "/api/v1/validate", serialBody, &got); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if got["valid"] != true {
		t.Errorf("expected valid=true, got %v", got)
	}

	if _, err := store.Last(); err == nil {
		t.Error("validate must not record a run")
	}
}

func TestSweep(t *testing.T) {
	srv, _ := newServer(t)

	var got sweepResponse
	if code := post(t, srv, "/api/v1/sweep?cpus=1-2&memory=5,100", serialBody, &got); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(got.Points) != 4 {
		t.Fatalf("expected 4 points, got %d", len(got.Points))
	}
	// memory 5 cannot hold the size-10 sample
	if got.Points[0].Makespan != -1 {
		t.Errorf("cpus=1 memory=5: expected -1, got %d", got.Points[0].Makespan)
	}
	if got.Points[1].Makespan != 30 || got.Points[3].Makespan != 20 {
		t.Errorf("unexpected makespans: %+v", got.Points)
	}
	if got.Best == nil || got.Best.Machine.MaxCPUs != 2 || got.Best.Makespan != 20 {
		t.Errorf("expected best cpus=2 makespan=20, got %+v", got.Best)
	}

	if code := post(t, srv, "/api/v1/sweep?cpus=x", serialBody, nil); code != http.StatusBadRequest {
		t.Errorf("bad range: expected 400, got %d", code)
	}

	var tooBig errorResponse
	if code := post(t, srv, "/api/v1/sweep?cpus=1-50000000", serialBody, &tooBig); code != http.StatusBadRequest {
		t.Errorf("huge range: expected 400, got %d", code)
	}
	if tooBig.Makespan != -1 {
		t.Errorf("huge range: expected makespan -1, got %d", tooBig.Makespan)
	}

	// Each axis is within its cap but the grid is not.
	var grid errorResponse
	if code := post(t, srv, "/api/v1/sweep?cpus=1-1000&memory=1-1000", serialBody, &grid); code != http.StatusUnprocessableEntity {
		t.Errorf("huge grid: expected 422, got %d", code)
	}
	if grid.Kind != "grid_too_large" {
		t.Errorf("huge grid: expected kind grid_too_large, got %q", grid.Kind)
	}
}

func TestGetRun(t *testing.T) {
	srv, _ := newServer(t)

	var created makespanResponse
	post(t, srv, "/api/v1/makespan", serialBody, &created)

	resp, err := http.Get(srv.URL + "/api/v1/runs/" + created.RunID)
	if err != nil {
		t.Fatalf("GET run: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var rec state.RunRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.ID != created.RunID || rec.Makespan != 30 || rec.Input != "api" {
		t.Errorf("unexpected run: %+v", rec)
	}

	missing, err := http.Get(srv.URL + "/api/v1/runs/nope")
	if err != nil {
		t.Fatalf("GET missing: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", missing.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}
