package sweep

import (
	"time"

	"github.com/rachelqdao/PipelineTaskScheduling/internal/sim"
)

// Config holds sweep configuration.
type Config struct {
	MaxParallel int
	MaxPoints   int   // grid size limit; DefaultMaxPoints when unset
	CPUs        []int // machine CPU counts to try
	Memory      []int // machine memory sizes to try
}

// PointStatus is the outcome of one machine configuration.
type PointStatus string

const (
	StatusCompleted PointStatus = "completed"
	StatusFailed    PointStatus = "failed"
	StatusCancelled PointStatus = "cancelled"
)

// Point is one simulated machine configuration.
type Point struct {
	Machine  sim.Machine   `json:"machine"`
	Status   PointStatus   `json:"status"`
	Makespan int           `json:"makespan"`
	Error    string        `json:"error,omitempty"`
	Elapsed  time.Duration `json:"elapsed_ns"`
}

// pointResult carries a finished point from a worker back to Run.
type pointResult struct {
	Index int
	Point Point
}
