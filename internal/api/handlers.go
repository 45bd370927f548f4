package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rachelqdao/PipelineTaskScheduling/internal/input"
	"github.com/rachelqdao/PipelineTaskScheduling/internal/pipeline"
	"github.com/rachelqdao/PipelineTaskScheduling/internal/reporter"
	"github.com/rachelqdao/PipelineTaskScheduling/internal/runner"
	"github.com/rachelqdao/PipelineTaskScheduling/internal/sim"
	"github.com/rachelqdao/PipelineTaskScheduling/internal/state"
	"github.com/rachelqdao/PipelineTaskScheduling/internal/sweep"
)

const maxBodyBytes = 4 << 20

// Handler serves makespan calculations.
type Handler struct {
	runner *runner.Runner
	store  *state.Store
}

// NewHandler creates a Handler. store may be nil.
func NewHandler(r *runner.Runner, store *state.Store) *Handler {
	return &Handler{runner: r, store: store}
}

type makespanResponse struct {
	RunID          string `json:"run_id"`
	Makespan       int    `json:"makespan"`
	CriticalSample int    `json:"critical_sample"`
	Cached         bool   `json:"cached"`
}

type errorResponse struct {
	Error    string `json:"error"`
	Kind     string `json:"kind"`
	Makespan int    `json:"makespan"`
}

// Makespan returns only the makespan, served from the cache when possible.
func (h *Handler) Makespan(w http.ResponseWriter, r *http.Request) {
	def, ok := decodeDefinition(w, r)
	if !ok {
		return
	}

	out, err := h.runner.Makespan(def, "api")
	if err != nil {
		writeError(w, err)
		return
	}

	json.NewEncoder(w).Encode(makespanResponse{
		RunID:          out.Record.ID,
		Makespan:       out.Record.Makespan,
		CriticalSample: out.Record.CriticalSample,
		Cached:         out.Record.CacheHit,
	})
}

// Schedule simulates and returns every job's start and end.
func (h *Handler) Schedule(w http.ResponseWriter, r *http.Request) {
	def, ok := decodeDefinition(w, r)
	if !ok {
		return
	}

	var opts []sim.Option
	if r.URL.Query().Get("trace") == "true" {
		opts = append(opts, sim.WithTrace())
	}

	out, err := h.runner.Schedule(def, "api", opts...)
	if err != nil {
		writeError(w, err)
		return
	}

	json.NewEncoder(w).Encode(reporter.New(out.Result, out.Record.ID).Output())
}

// Validate checks a definition without recording a run.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	def, ok := decodeDefinition(w, r)
	if !ok {
		return
	}

	tasks, err := def.BuildTasks(h.runner.Registry)
	if err == nil {
		_, err = sim.Simulate(def.Samples, def.Machine, tasks)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"valid":       true,
		"fingerprint": def.Fingerprint(),
	})
}

type sweepResponse struct {
	Points []sweep.Point `json:"points"`
	Best   *sweep.Point  `json:"best"`
}

// Sweep simulates the definition on every machine in the cpus x memory
// grid given by the query string, e.g. ?cpus=1-8&memory=64,128.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	def, ok := decodeDefinition(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	cfg := sweep.Config{}
	var err error
	if cfg.CPUs, err = sweep.ParseRange(q.Get("cpus")); err != nil {
		writeStatus(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: "bad_request", Makespan: -1})
		return
	}
	if cfg.Memory, err = sweep.ParseRange(q.Get("memory")); err != nil {
		writeStatus(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: "bad_request", Makespan: -1})
		return
	}
	if p := q.Get("parallel"); p != "" {
		if cfg.MaxParallel, err = strconv.Atoi(p); err != nil {
			writeStatus(w, http.StatusBadRequest, errorResponse{Error: "parallel must be an integer", Kind: "bad_request", Makespan: -1})
			return
		}
	}

	points, err := sweep.New(def, h.runner.Registry, cfg).Run(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	resp := sweepResponse{Points: points}
	if best, ok := sweep.Best(points); ok {
		resp.Best = &best
	}
	json.NewEncoder(w).Encode(resp)
}

// GetRun returns a recorded run by ID.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeStatus(w, http.StatusNotFound, map[string]string{"error": "run history disabled"})
		return
	}
	rec, err := h.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeStatus(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	json.NewEncoder(w).Encode(rec)
}

func decodeDefinition(w http.ResponseWriter, r *http.Request) (*input.Definition, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeStatus(w, http.StatusBadRequest, errorResponse{Error: "failed to read request body", Kind: "bad_request", Makespan: -1})
		return nil, false
	}
	def, err := input.Parse(body, input.FormatJSON)
	if err != nil {
		writeStatus(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: "bad_request", Makespan: -1})
		return nil, false
	}
	return def, true
}

// ErrorKind classifies a simulation error for API clients.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, pipeline.ErrInvalidStepSequence):
		return "invalid_step_sequence"
	case errors.Is(err, sim.ErrInfeasibleJob):
		return "infeasible_job"
	case errors.Is(err, pipeline.ErrInvalidTask):
		return "invalid_task"
	case errors.Is(err, pipeline.ErrUnknownDuration):
		return "unknown_duration"
	case errors.Is(err, sim.ErrInvalidMachine):
		return "invalid_machine"
	case errors.Is(err, sim.ErrInvalidSample):
		return "invalid_sample"
	case errors.Is(err, sweep.ErrGridTooLarge):
		return "grid_too_large"
	default:
		return "internal"
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := ErrorKind(err)
	status := http.StatusUnprocessableEntity
	if kind == "internal" {
		status = http.StatusInternalServerError
	}
	writeStatus(w, status, errorResponse{Error: err.Error(), Kind: kind, Makespan: -1})
}

func writeStatus(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
