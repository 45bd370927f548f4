package runner

import (
	"log"
	"time"

	"github.com/rachelqdao/PipelineTaskScheduling/internal/cache"
	"github.com/rachelqdao/PipelineTaskScheduling/internal/input"
	"github.com/rachelqdao/PipelineTaskScheduling/internal/pipeline"
	"github.com/rachelqdao/PipelineTaskScheduling/internal/sim"
	"github.com/rachelqdao/PipelineTaskScheduling/internal/state"
)

// Runner ties the engine to the result cache and the run history. Cache
// and Store are optional.
type Runner struct {
	Registry *pipeline.Registry
	Cache    *cache.Cache
	Store    *state.Store
	Logger   *log.Logger
}

// Outcome is what a run produced. Result is nil when the makespan came
// from the cache.
type Outcome struct {
	Record *state.RunRecord
	Result *sim.Result
}

// Makespan is the outcome's makespan, or -1 when the run failed.
func (o *Outcome) Makespan() int {
	if o.Record.Status != state.StatusCompleted {
		return -1
	}
	return o.Record.Makespan
}

// Schedule always simulates, so the full schedule is available. The
// makespan is stored in the cache for later Makespan calls.
func (r *Runner) Schedule(def *input.Definition, source string, opts ...sim.Option) (*Outcome, error) {
	return r.run(def, source, false, opts...)
}

// Makespan answers from the cache when it can and simulates otherwise.
func (r *Runner) Makespan(def *input.Definition, source string) (*Outcome, error) {
	return r.run(def, source, true)
}

func (r *Runner) run(def *input.Definition, source string, useCache bool, opts ...sim.Option) (*Outcome, error) {
	fp := def.Fingerprint()
	rec := state.NewRecord(source, fp)
	rec.Samples = len(def.Samples)
	rec.Tasks = len(def.Tasks)
	out := &Outcome{Record: rec}

	if useCache && r.Cache != nil {
		entry, ok, err := r.Cache.Get(fp)
		if err != nil {
			r.logf("warning: cache lookup for %s failed: %v", fp[:12], err)
		}
		if ok {
			rec.Status = state.StatusCompleted
			rec.Makespan = entry.Makespan
			rec.CriticalSample = entry.CriticalSample
			rec.CacheHit = true
			rec.Elapsed = time.Since(rec.StartedAt)
			r.record(rec)
			return out, nil
		}
	}

	if r.Logger != nil {
		opts = append(opts, sim.WithLogger(r.Logger))
	}
	result, err := def.Simulate(r.Registry, opts...)
	rec.Elapsed = time.Since(rec.StartedAt)
	if err != nil {
		rec.Status = state.StatusFailed
		rec.Makespan = -1
		rec.CriticalSample = -1
		rec.Error = err.Error()
		r.record(rec)
		return out, err
	}

	rec.Status = state.StatusCompleted
	rec.Makespan = result.Makespan
	rec.CriticalSample = result.CriticalSample
	out.Result = result

	if r.Cache != nil {
		entry := cache.Entry{
			Makespan:       result.Makespan,
			CriticalSample: result.CriticalSample,
			Jobs:           result.JobCount(),
			RunID:          rec.ID,
			ComputedAt:     rec.StartedAt,
		}
		if err := r.Cache.Put(fp, entry); err != nil {
			r.logf("warning: cache store for %s failed: %v", fp[:12], err)
		}
	}
	r.record(rec)
	return out, nil
}

// record persists rec; history is best effort and never fails a run.
func (r *Runner) record(rec *state.RunRecord) {
	if r.Store == nil {
		return
	}
	if err := r.Store.Record(rec); err != nil {
		r.logf("warning: failed to record run %s: %v", rec.ID, err)
	}
}

func (r *Runner) logf(format string, args ...interface{}) {
	if r.Logger != nil {
		r.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
