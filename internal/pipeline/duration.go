package pipeline

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// DurationFunc maps a sample size, a task's time factor and its CPU count
// to a job duration in time units.
type DurationFunc func(size, timeFactor, cpus int) int

// ErrUnknownDuration is returned when a duration strategy name cannot be resolved.
var ErrUnknownDuration = errors.New("unknown duration strategy")

// LinearDuration assumes perfect parallel speedup: floor(size*timeFactor/cpus).
func LinearDuration(size, timeFactor, cpus int) int {
	return size * timeFactor / cpus
}

// PowerDuration models sub-linear speedup by dividing the serial time by
// cpus^exp. exp=1 matches LinearDuration; exp=0.75 is a concave curve.
func PowerDuration(exp float64) DurationFunc {
	return func(size, timeFactor, cpus int) int {
		return int(math.Floor(float64(size*timeFactor) / math.Pow(float64(cpus), exp)))
	}
}

// Registry resolves duration strategies by name.
type Registry struct {
	functions map[string]DurationFunc
	mu        sync.RWMutex
}

// NewRegistry creates a registry holding the built-in "linear" strategy.
func NewRegistry() *Registry {
	r := &Registry{functions: make(map[string]DurationFunc)}
	r.functions["linear"] = LinearDuration
	return r
}

// DefaultRegistry is used by loaders that are not given a registry.
var DefaultRegistry = NewRegistry()

// Register adds a named strategy.
func (r *Registry) Register(name string, fn DurationFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.functions[name]; exists {
		return fmt.Errorf("duration strategy %s already registered", name)
	}
	r.functions[name] = fn
	return nil
}

// Get resolves a strategy. An empty name is "linear". Names of the form
// "power:<exp>" are built on demand and need not be registered.
func (r *Registry) Get(name string) (DurationFunc, error) {
	if name == "" {
		name = "linear"
	}

	r.mu.RLock()
	fn, exists := r.functions[name]
	r.mu.RUnlock()
	if exists {
		return fn, nil
	}

	if rest, ok := strings.CutPrefix(name, "power:"); ok {
		exp, err := strconv.ParseFloat(rest, 64)
		if err != nil || exp < 0 || math.IsNaN(exp) || math.IsInf(exp, 0) {
			return nil, fmt.Errorf("%w: bad exponent in %q", ErrUnknownDuration, name)
		}
		return PowerDuration(exp), nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownDuration, name)
}

// Names lists registered strategy names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.functions))
	for name := range r.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
