package sim

import (
	"fmt"
	"log"
	"math"

	"github.com/rachelqdao/PipelineTaskScheduling/internal/pipeline"
)

// Option configures a simulation.
type Option func(*engine)

// WithTrace records a Tick for every settled clock value.
func WithTrace() Option {
	return func(e *engine) { e.trace = true }
}

// WithLogger logs every admission and retirement.
func WithLogger(l *log.Logger) Option {
	return func(e *engine) { e.logger = l }
}

// Simulate runs the greedy discrete-event schedule for the given samples and
// tasks on machine m. Steps are validated before any job is built, and every
// job is checked against the machine before the clock starts, so a failed
// call never yields a partial schedule.
func Simulate(sizes []int, m Machine, tasks []*pipeline.TaskDef, opts ...Option) (*Result, error) {
	sorted := pipeline.SortTasks(tasks)
	if err := pipeline.ValidateSteps(sorted); err != nil {
		return nil, err
	}
	if err := pipeline.ValidateTasks(sorted); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	samples := make([]*pipeline.Sample, len(sizes))
	for i, size := range sizes {
		if size < 0 {
			return nil, fmt.Errorf("%w: sample %d has negative size %d", ErrInvalidSample, i, size)
		}
		samples[i] = &pipeline.Sample{ID: i, Size: size}
	}

	if err := checkCosts(samples, sorted); err != nil {
		return nil, err
	}

	// Row i holds task i applied to every sample, in input order
	jobs := make([][]*pipeline.Job, len(sorted))
	total := 0
	for i, task := range sorted {
		jobs[i] = make([]*pipeline.Job, len(samples))
		for k, s := range samples {
			j := pipeline.NewJob(s, task)
			if j.Duration < 0 {
				return nil, fmt.Errorf("%w: task %q gives sample %d a negative duration %d",
					pipeline.ErrInvalidTask, task.Name, s.ID, j.Duration)
			}
			// The makespan never exceeds the summed durations.
			if j.Duration > math.MaxInt-total {
				return nil, fmt.Errorf("%w: total work overflows at sample %d, task %q",
					ErrInvalidSample, s.ID, task.Name)
			}
			total += j.Duration
			jobs[i][k] = j
		}
	}

	if err := checkFeasible(jobs, m); err != nil {
		return nil, err
	}

	e := &engine{
		machine:   m,
		jobs:      jobs,
		availCPUs: m.MaxCPUs,
		availMem:  m.MaxMemory,
		remaining: len(sorted) * len(samples),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.run()

	result := &Result{
		Machine:        m,
		Makespan:       e.makespan,
		Tasks:          sorted,
		Samples:        samples,
		Jobs:           jobs,
		Ticks:          e.ticks,
		CriticalSample: criticalSample(jobs, e.makespan),
	}
	result.Waves = computeWaves(jobs)
	return result, nil
}

// Makespan is the sentinel form of Simulate: it returns -1 on any failure.
func Makespan(sizes []int, m Machine, tasks []*pipeline.TaskDef) int {
	result, err := Simulate(sizes, m, tasks)
	if err != nil {
		return -1
	}
	return result.Makespan
}

// checkCosts rejects samples whose size times a task's time or space factor
// does not fit in an int.
func checkCosts(samples []*pipeline.Sample, tasks []*pipeline.TaskDef) error {
	for _, t := range tasks {
		for _, s := range samples {
			if mulOverflows(s.Size, t.TimeFactor) || mulOverflows(s.Size, t.SpaceFactor) {
				return fmt.Errorf("%w: sample %d of size %d overflows the cost of task %q",
					ErrInvalidSample, s.ID, s.Size, t.Name)
			}
		}
	}
	return nil
}

// mulOverflows reports whether a*b exceeds math.MaxInt. Both are non-negative.
func mulOverflows(a, b int) bool {
	return b != 0 && a > math.MaxInt/b
}

// checkFeasible verifies every job of the matrix fits on an empty machine.
// Later stages may have larger footprints, so no row is skipped.
func checkFeasible(jobs [][]*pipeline.Job, m Machine) error {
	for _, row := range jobs {
		for _, j := range row {
			if j.CPUs > m.MaxCPUs || j.Memory > m.MaxMemory {
				return &InfeasibleError{
					Sample:  j.Sample.ID,
					Task:    j.Task.Name,
					CPUs:    j.CPUs,
					Memory:  j.Memory,
					Machine: m,
				}
			}
		}
	}
	return nil
}

// engine is the single-threaded event loop state. It is the only mutator of
// jobs, samples and the resource pools for the duration of a run.
type engine struct {
	machine   Machine
	jobs      [][]*pipeline.Job
	running   []*pipeline.Job
	availCPUs int
	availMem  int
	remaining int
	makespan  int
	t         int

	trace  bool
	ticks  []Tick
	logger *log.Logger
}

func (e *engine) run() {
	for e.remaining > 0 {
		// Settle the current clock value. Zero-duration jobs admitted at t
		// end at t, so retire and admit repeat until nothing ends here.
		retired, admitted := 0, 0
		for {
			retired += e.retire()
			admitted += e.admit()
			if !e.endsAt(e.t) {
				break
			}
		}
		e.checkAccounting()

		if e.trace {
			e.ticks = append(e.ticks, Tick{
				Time:            e.t,
				AvailableCPUs:   e.availCPUs,
				AvailableMemory: e.availMem,
				Running:         len(e.running),
				Retired:         retired,
				Admitted:        admitted,
			})
		}

		if e.remaining == 0 {
			break
		}

		next, ok := e.nextEvent()
		if !ok {
			panic(fmt.Sprintf("sim: invariant violation: %d jobs remain at t=%d but nothing is running", e.remaining, e.t))
		}
		e.t = next
	}
}

// retire finishes every running job that ends at the current clock value
// and returns how many it finished.
func (e *engine) retire() int {
	n := 0
	still := e.running[:0]
	for _, j := range e.running {
		if j.End != e.t {
			still = append(still, j)
			continue
		}
		j.Running = false
		j.Finished = true
		e.availCPUs += j.CPUs
		e.availMem += j.Memory
		j.Sample.StepsCompleted++
		e.remaining--
		n++
		e.logf("t=%d retire %s", e.t, j)
	}
	e.running = still
	return n
}

// admit scans the matrix task-major, sample-minor and starts every eligible
// job that fits in what is left. Resources are taken immediately, so the
// scan order decides who wins when capacity is short.
func (e *engine) admit() int {
	n := 0
	for _, row := range e.jobs {
		for _, j := range row {
			if !j.Eligible() || j.CPUs > e.availCPUs || j.Memory > e.availMem {
				continue
			}
			j.Running = true
			j.Scheduled = true
			j.Start = e.t
			j.End = e.t + j.Duration
			e.availCPUs -= j.CPUs
			e.availMem -= j.Memory
			if j.End > e.makespan {
				e.makespan = j.End
			}
			e.running = append(e.running, j)
			n++
			e.logf("t=%d admit %s until %d (cpus %d/%d, memory %d/%d free)",
				e.t, j, j.End, e.availCPUs, e.machine.MaxCPUs, e.availMem, e.machine.MaxMemory)
		}
	}
	return n
}

func (e *engine) endsAt(t int) bool {
	for _, j := range e.running {
		if j.End == t {
			return true
		}
	}
	return false
}

// nextEvent returns the earliest end time among running jobs.
func (e *engine) nextEvent() (int, bool) {
	if len(e.running) == 0 {
		return 0, false
	}
	next := e.running[0].End
	for _, j := range e.running[1:] {
		if j.End < next {
			next = j.End
		}
	}
	return next, true
}

// checkAccounting asserts available + in use == capacity for both pools.
func (e *engine) checkAccounting() {
	cpus, mem := e.availCPUs, e.availMem
	for _, j := range e.running {
		cpus += j.CPUs
		mem += j.Memory
	}
	if cpus != e.machine.MaxCPUs || mem != e.machine.MaxMemory {
		panic(fmt.Sprintf("sim: invariant violation at t=%d: accounted %d cpus / %d memory, machine has %d / %d",
			e.t, cpus, mem, e.machine.MaxCPUs, e.machine.MaxMemory))
	}
}

func (e *engine) logf(format string, args ...interface{}) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}

// criticalSample returns the lowest-indexed sample whose final stage ends at
// the makespan, or -1 when there are no jobs.
func criticalSample(jobs [][]*pipeline.Job, makespan int) int {
	if len(jobs) == 0 {
		return -1
	}
	last := jobs[len(jobs)-1]
	for _, j := range last {
		if j.End == makespan {
			return j.Sample.ID
		}
	}
	return -1
}
