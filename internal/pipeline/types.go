package pipeline

import "fmt"

// TaskDef describes one stage of the pipeline and its cost model.
// A TaskDef is immutable once handed to the engine.
type TaskDef struct {
	Name        string       `json:"name" yaml:"name"`
	Step        int          `json:"step" yaml:"step"`                 // zero-based position in the pipeline
	TimeFactor  int          `json:"time_factor" yaml:"time_factor"`   // time units per size unit per CPU
	SpaceFactor int          `json:"space_factor" yaml:"space_factor"` // memory units per size unit
	CPUs        int          `json:"cpus" yaml:"cpus"`                 // CPUs reserved by every job of this task
	Duration    DurationFunc `json:"-" yaml:"-"`                       // nil means LinearDuration
}

// DurationOf returns the duration of this task for a sample of the given size.
func (t *TaskDef) DurationOf(size int) int {
	fn := t.Duration
	if fn == nil {
		fn = LinearDuration
	}
	return fn(size, t.TimeFactor, t.CPUs)
}

// MemoryOf returns the peak memory of this task for a sample of the given size.
func (t *TaskDef) MemoryOf(size int) int {
	return size * t.SpaceFactor
}

// Sample is one input flowing through every stage.
type Sample struct {
	ID             int `json:"id"`
	Size           int `json:"size"`
	StepsCompleted int `json:"steps_completed"` // mutated only by the simulation engine
}

// JobState is the lifecycle position of a job.
type JobState string

const (
	JobPending  JobState = "pending"
	JobRunning  JobState = "running"
	JobFinished JobState = "finished"
)

// Job is one task applied to one sample.
type Job struct {
	Sample   *Sample
	Task     *TaskDef
	Duration int
	CPUs     int
	Memory   int

	Running   bool
	Finished  bool
	Scheduled bool // Start and End are valid
	Start     int
	End       int
}

// NewJob materializes the (sample, task) pair, computing its duration and demand once.
func NewJob(s *Sample, t *TaskDef) *Job {
	return &Job{
		Sample:   s,
		Task:     t,
		Duration: t.DurationOf(s.Size),
		CPUs:     t.CPUs,
		Memory:   t.MemoryOf(s.Size),
	}
}

// Eligible reports whether every earlier stage of the job's sample is done
// and the job itself has not started.
func (j *Job) Eligible() bool {
	return !j.Running && !j.Finished && j.Sample.StepsCompleted == j.Task.Step
}

// State returns the job's lifecycle state.
func (j *Job) State() JobState {
	switch {
	case j.Finished:
		return JobFinished
	case j.Running:
		return JobRunning
	default:
		return JobPending
	}
}

func (j *Job) String() string {
	return fmt.Sprintf("sample %d, task %q", j.Sample.ID, j.Task.Name)
}
