package sim

import (
	"errors"
	"fmt"

	"github.com/rachelqdao/PipelineTaskScheduling/internal/pipeline"
)

var (
	// ErrInfeasibleJob means some job needs more than the whole machine.
	ErrInfeasibleJob = errors.New("infeasible job")
	// ErrInvalidMachine means a capacity is not positive.
	ErrInvalidMachine = errors.New("invalid machine")
	// ErrInvalidSample means a sample size is negative.
	ErrInvalidSample = errors.New("invalid sample")
)

// Machine holds the machine-wide resource caps.
type Machine struct {
	MaxCPUs   int `json:"cpus" yaml:"cpus"`
	MaxMemory int `json:"memory" yaml:"memory"`
}

// Validate rejects non-positive capacities.
func (m Machine) Validate() error {
	if m.MaxCPUs < 1 {
		return fmt.Errorf("%w: cpus must be positive, got %d", ErrInvalidMachine, m.MaxCPUs)
	}
	if m.MaxMemory < 1 {
		return fmt.Errorf("%w: memory must be positive, got %d", ErrInvalidMachine, m.MaxMemory)
	}
	return nil
}

// InfeasibleError names the first job whose demand exceeds the machine.
type InfeasibleError struct {
	Sample  int
	Task    string
	CPUs    int
	Memory  int
	Machine Machine
}

func (e *InfeasibleError) Error() string {
	return fmt.Sprintf("%v: sample %d task %q needs %d cpus / %d memory, machine has %d / %d",
		ErrInfeasibleJob, e.Sample, e.Task, e.CPUs, e.Memory, e.Machine.MaxCPUs, e.Machine.MaxMemory)
}

func (e *InfeasibleError) Unwrap() error { return ErrInfeasibleJob }

// Result holds a completed simulation.
type Result struct {
	Machine        Machine
	Makespan       int
	Tasks          []*pipeline.TaskDef // sorted by step
	Samples        []*pipeline.Sample  // input order
	Jobs           [][]*pipeline.Job   // Jobs[step][sample]
	Ticks          []Tick              // populated with WithTrace
	Waves          []Wave              // jobs grouped by start time
	CriticalSample int                 // sample whose last stage ends at the makespan; -1 when there are no jobs
}

// Tick is a snapshot of the engine once a clock value has settled.
type Tick struct {
	Time            int `json:"time"`
	AvailableCPUs   int `json:"available_cpus"`
	AvailableMemory int `json:"available_memory"`
	Running         int `json:"running"`
	Retired         int `json:"retired"`
	Admitted        int `json:"admitted"`
}

// Wave is a group of jobs admitted at the same clock value.
type Wave struct {
	Index int
	Start int
	Jobs  []*pipeline.Job // admission order
}

// Job returns the job for the given sample at the given step.
func (r *Result) Job(sample, step int) *pipeline.Job {
	return r.Jobs[step][sample]
}

// JobCount returns the number of jobs in the matrix.
func (r *Result) JobCount() int {
	return len(r.Samples) * len(r.Tasks)
}

// Utilization returns the fraction of CPU-time and memory-time used over
// the makespan. Both are zero when the makespan is zero.
func (r *Result) Utilization() (cpu, memory float64) {
	if r.Makespan == 0 {
		return 0, 0
	}
	var cpuArea, memArea int
	for _, row := range r.Jobs {
		for _, j := range row {
			cpuArea += j.CPUs * j.Duration
			memArea += j.Memory * j.Duration
		}
	}
	span := float64(r.Makespan)
	return float64(cpuArea) / (span * float64(r.Machine.MaxCPUs)),
		float64(memArea) / (span * float64(r.Machine.MaxMemory))
}
