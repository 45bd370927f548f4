package pipeline

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrInvalidStepSequence means the task steps, once sorted, are not 0..N-1.
	ErrInvalidStepSequence = errors.New("invalid step sequence")
	// ErrInvalidTask means a task carries a cost model the engine cannot evaluate.
	ErrInvalidTask = errors.New("invalid task")
)

// StepError reports where the sorted step sequence first deviates from 0..N-1.
type StepError struct {
	Position int // index in the sorted task list
	Step     int // step value found there
	Task     string
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%v: task %q at position %d has step %d", ErrInvalidStepSequence, e.Task, e.Position, e.Step)
}

func (e *StepError) Unwrap() error { return ErrInvalidStepSequence }

// SortTasks returns a copy of tasks ordered by step. The input slice is not modified.
func SortTasks(tasks []*TaskDef) []*TaskDef {
	sorted := make([]*TaskDef, len(tasks))
	copy(sorted, tasks)
	sort.SliceStable(sorted, func(a, b int) bool {
		return sorted[a].Step < sorted[b].Step
	})
	return sorted
}

// ValidateSteps checks that sorted holds steps 0, 1, ..., N-1 exactly.
// Gaps, duplicates and out-of-range values all fail.
func ValidateSteps(sorted []*TaskDef) error {
	for i, t := range sorted {
		if t.Step != i {
			return &StepError{Position: i, Step: t.Step, Task: t.Name}
		}
	}
	return nil
}

// ValidateTasks checks each task's cost model: at least one CPU and
// non-negative factors.
func ValidateTasks(tasks []*TaskDef) error {
	for _, t := range tasks {
		if t.CPUs < 1 {
			return fmt.Errorf("%w: task %q needs at least one CPU, got %d", ErrInvalidTask, t.Name, t.CPUs)
		}
		if t.TimeFactor < 0 || t.SpaceFactor < 0 {
			return fmt.Errorf("%w: task %q has a negative cost factor", ErrInvalidTask, t.Name)
		}
	}
	return nil
}
