// Package sweep simulates one pipeline definition across a grid of machine
// sizes, running the simulations in parallel.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rachelqdao/PipelineTaskScheduling/internal/input"
	"github.com/rachelqdao/PipelineTaskScheduling/internal/pipeline"
	"github.com/rachelqdao/PipelineTaskScheduling/internal/sim"
)

var (
	// ErrEmptyGrid is returned when the sweep has no CPU or memory values.
	ErrEmptyGrid = errors.New("sweep grid is empty")
	// ErrGridTooLarge is returned when an axis or the whole grid exceeds its cap.
	ErrGridTooLarge = errors.New("sweep grid too large")
)

const (
	// DefaultMaxPoints caps the grid when Config.MaxPoints is unset.
	DefaultMaxPoints = 4096
	// MaxAxisValues caps the values ParseRange will produce for one axis.
	MaxAxisValues = 1024
)

// Sweeper runs a Definition against every machine in the CPU x memory grid.
type Sweeper struct {
	Def      *input.Definition
	Registry *pipeline.Registry
	Config   Config
}

// New creates a Sweeper. Empty grid axes fall back to the definition's own
// machine.
func New(def *input.Definition, reg *pipeline.Registry, cfg Config) *Sweeper {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	if cfg.MaxPoints <= 0 {
		cfg.MaxPoints = DefaultMaxPoints
	}
	if len(cfg.CPUs) == 0 {
		cfg.CPUs = []int{def.Machine.MaxCPUs}
	}
	if len(cfg.Memory) == 0 {
		cfg.Memory = []int{def.Machine.MaxMemory}
	}
	return &Sweeper{Def: def, Registry: reg, Config: cfg}
}

// Grid lists the machines to simulate, CPU-major.
func (s *Sweeper) Grid() []sim.Machine {
	grid := make([]sim.Machine, 0, len(s.Config.CPUs)*len(s.Config.Memory))
	for _, c := range s.Config.CPUs {
		for _, m := range s.Config.Memory {
			grid = append(grid, sim.Machine{MaxCPUs: c, MaxMemory: m})
		}
	}
	return grid
}

// Run simulates every grid point with at most MaxParallel in flight and
// returns the points in grid order. Simulation errors are recorded on their
// point and do not stop the sweep; cancelling ctx does. Workers start only
// as slots free up.
func (s *Sweeper) Run(ctx context.Context) ([]Point, error) {
	parallel, maxPoints := s.Config.MaxParallel, s.Config.MaxPoints
	if parallel <= 0 {
		parallel = 4
	}
	if maxPoints <= 0 {
		maxPoints = DefaultMaxPoints
	}
	if n := len(s.Config.CPUs) * len(s.Config.Memory); n > maxPoints {
		return nil, fmt.Errorf("%w: %d points, limit %d", ErrGridTooLarge, n, maxPoints)
	}

	grid := s.Grid()
	if len(grid) == 0 {
		return nil, ErrEmptyGrid
	}

	// Tasks are resolved once; the engine never mutates them.
	tasks, err := s.Def.BuildTasks(s.Registry)
	if err != nil {
		return nil, err
	}

	points := make([]Point, len(grid))
	for i, m := range grid {
		points[i] = Point{Machine: m, Status: StatusCancelled, Makespan: -1}
	}

	// At most parallel workers exist, so they never block on done even
	// after an early return.
	done := make(chan pointResult, parallel)
	next, inflight := 0, 0
	for received := 0; received < len(grid); {
		if err := ctx.Err(); err != nil {
			return points, fmt.Errorf("cancelled: %w", err)
		}
		if next < len(grid) && inflight < parallel {
			s.dispatch(next, grid[next], tasks, done)
			next++
			inflight++
			continue
		}
		select {
		case res := <-done:
			points[res.Index] = res.Point
			inflight--
			received++
		case <-ctx.Done():
			return points, fmt.Errorf("cancelled: %w", ctx.Err())
		}
	}
	return points, nil
}

// dispatch runs one simulation in a goroutine and reports it on done.
func (s *Sweeper) dispatch(idx int, m sim.Machine, tasks []*pipeline.TaskDef, done chan<- pointResult) {
	go func() {
		start := time.Now()
		p := Point{Machine: m, Makespan: -1}
		res, err := sim.Simulate(s.Def.Samples, m, tasks)
		p.Elapsed = time.Since(start)
		if err != nil {
			p.Status = StatusFailed
			p.Error = err.Error()
		} else {
			p.Status = StatusCompleted
			p.Makespan = res.Makespan
		}
		done <- pointResult{Index: idx, Point: p}
	}()
}

// Best returns the completed point with the smallest makespan, preferring
// fewer CPUs and then less memory on ties. ok is false when no point
// completed.
func Best(points []Point) (best Point, ok bool) {
	for _, p := range points {
		if p.Status != StatusCompleted {
			continue
		}
		if !ok || less(p, best) {
			best, ok = p, true
		}
	}
	return best, ok
}

func less(a, b Point) bool {
	if a.Makespan != b.Makespan {
		return a.Makespan < b.Makespan
	}
	if a.Machine.MaxCPUs != b.Machine.MaxCPUs {
		return a.Machine.MaxCPUs < b.Machine.MaxCPUs
	}
	return a.Machine.MaxMemory < b.Machine.MaxMemory
}

// ParseRange parses a sweep axis: "4", "1,2,8", "1-8" or "2-16:2"
// (start-end:step), or any comma-separated mix. Values are sorted and
// de-duplicated. More than MaxAxisValues distinct values is an error.
func ParseRange(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	seen := make(map[int]bool)
	var out []int
	add := func(n int) error {
		if seen[n] {
			return nil
		}
		if len(out) >= MaxAxisValues {
			return fmt.Errorf("%w: more than %d values in %q", ErrGridTooLarge, MaxAxisValues, s)
		}
		seen[n] = true
		out = append(out, n)
		return nil
	}

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		lo, hi, found := strings.Cut(part, "-")
		if !found {
			n, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("range %q: %w", part, err)
			}
			if err := add(n); err != nil {
				return nil, err
			}
			continue
		}

		step := 1
		if h, st, ok := strings.Cut(hi, ":"); ok {
			hi = h
			n, err := strconv.Atoi(st)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("range %q: step must be a positive integer", part)
			}
			step = n
		}
		start, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("range %q: %w", part, err)
		}
		end, err := strconv.Atoi(hi)
		if err != nil {
			return nil, fmt.Errorf("range %q: %w", part, err)
		}
		if start < 0 || end < start {
			return nil, fmt.Errorf("range %q: end before start", part)
		}

		// start >= 0, so end-start cannot overflow.
		count := (end-start)/step + 1
		if count > MaxAxisValues {
			return nil, fmt.Errorf("%w: range %q has %d values, limit %d", ErrGridTooLarge, part, count, MaxAxisValues)
		}
		for k := 0; k < count; k++ {
			if err := add(start + k*step); err != nil {
				return nil, err
			}
		}
	}

	sort.Ints(out)
	return out, nil
}
