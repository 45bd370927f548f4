package input

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rachelqdao/PipelineTaskScheduling/internal/pipeline"
	"github.com/rachelqdao/PipelineTaskScheduling/internal/sim"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// ErrMalformed is returned when a pipeline definition cannot be decoded.
var ErrMalformed = errors.New("malformed pipeline definition")

// Format selects the decoder for a pipeline definition.
type Format string

const (
	FormatAuto Format = ""
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Definition is a pipeline file: the machine, the sample sizes in input
// order, and the task list in any order.
type Definition struct {
	Machine sim.Machine `json:"machine" yaml:"machine"`
	Samples []int       `json:"samples" yaml:"samples"`
	Tasks   []TaskSpec  `json:"tasks" yaml:"tasks"`
}

// TaskSpec is the serialized form of a pipeline.TaskDef. Duration names a
// strategy in a pipeline.Registry; empty means linear.
type TaskSpec struct {
	Name        string `json:"name" yaml:"name"`
	Step        int    `json:"step" yaml:"step"`
	TimeFactor  int    `json:"time_factor" yaml:"time_factor"`
	SpaceFactor int    `json:"space_factor" yaml:"space_factor"`
	CPUs        int    `json:"cpus" yaml:"cpus"`
	Duration    string `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// Load reads a pipeline definition, picking the format from the extension.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline file: %w", err)
	}

	format := FormatAuto
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		format = FormatJSON
	case ".yaml", ".yml":
		format = FormatYAML
	}

	def, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// Parse decodes a definition. FormatAuto treats valid JSON as JSON and
// anything else as YAML.
func Parse(data []byte, format Format) (*Definition, error) {
	if format == FormatAuto {
		format = FormatYAML
		if gjson.ValidBytes(data) {
			format = FormatJSON
		}
	}

	switch format {
	case FormatJSON:
		return parseJSON(data)
	case FormatYAML:
		var def Definition
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return &def, nil
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

func parseJSON(data []byte) (*Definition, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformed)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrMalformed)
	}

	var def Definition
	var err error
	if def.Machine.MaxCPUs, err = intField(root, "machine.cpus"); err != nil {
		return nil, err
	}
	if def.Machine.MaxMemory, err = intField(root, "machine.memory"); err != nil {
		return nil, err
	}

	samples := root.Get("samples")
	if samples.Exists() && !samples.IsArray() {
		return nil, fmt.Errorf("%w: samples must be an array", ErrMalformed)
	}
	for i, s := range samples.Array() {
		if s.Type != gjson.Number {
			return nil, fmt.Errorf("%w: samples[%d] must be a number", ErrMalformed, i)
		}
		def.Samples = append(def.Samples, int(s.Int()))
	}

	tasks := root.Get("tasks")
	if tasks.Exists() && !tasks.IsArray() {
		return nil, fmt.Errorf("%w: tasks must be an array", ErrMalformed)
	}
	for i, t := range tasks.Array() {
		spec, err := taskFromJSON(t)
		if err != nil {
			return nil, fmt.Errorf("tasks[%d]: %w", i, err)
		}
		def.Tasks = append(def.Tasks, spec)
	}

	return &def, nil
}

func taskFromJSON(t gjson.Result) (TaskSpec, error) {
	var spec TaskSpec
	var err error

	spec.Name = t.Get("name").String()
	spec.Duration = t.Get("duration").String()
	if spec.Step, err = intField(t, "step"); err != nil {
		return spec, err
	}
	if spec.TimeFactor, err = intField(t, "time_factor"); err != nil {
		return spec, err
	}
	if spec.SpaceFactor, err = intField(t, "space_factor"); err != nil {
		return spec, err
	}
	if spec.CPUs, err = intField(t, "cpus"); err != nil {
		return spec, err
	}
	return spec, nil
}

// intField reads a required integer at path.
func intField(r gjson.Result, path string) (int, error) {
	v := r.Get(path)
	if !v.Exists() {
		return 0, fmt.Errorf("%w: missing %s", ErrMalformed, path)
	}
	if v.Type != gjson.Number {
		return 0, fmt.Errorf("%w: %s must be a number, got %s", ErrMalformed, path, v.Raw)
	}
	if v.Num != float64(v.Int()) {
		return 0, fmt.Errorf("%w: %s must be an integer, got %s", ErrMalformed, path, v.Raw)
	}
	return int(v.Int()), nil
}

// BuildTasks resolves each TaskSpec's duration strategy through reg
// (pipeline.DefaultRegistry when nil).
func (d *Definition) BuildTasks(reg *pipeline.Registry) ([]*pipeline.TaskDef, error) {
	if reg == nil {
		reg = pipeline.DefaultRegistry
	}
	tasks := make([]*pipeline.TaskDef, 0, len(d.Tasks))
	for _, spec := range d.Tasks {
		fn, err := reg.Get(spec.Duration)
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", spec.Name, err)
		}
		tasks = append(tasks, &pipeline.TaskDef{
			Name:        spec.Name,
			Step:        spec.Step,
			TimeFactor:  spec.TimeFactor,
			SpaceFactor: spec.SpaceFactor,
			CPUs:        spec.CPUs,
			Duration:    fn,
		})
	}
	return tasks, nil
}

// Simulate builds the tasks and runs the engine on this definition.
func (d *Definition) Simulate(reg *pipeline.Registry, opts ...sim.Option) (*sim.Result, error) {
	tasks, err := d.BuildTasks(reg)
	if err != nil {
		return nil, err
	}
	return sim.Simulate(d.Samples, d.Machine, tasks, opts...)
}

// Fingerprint returns a stable SHA-256 digest of the definition. Tasks are
// hashed in step order, so listing order does not change the key.
func (d *Definition) Fingerprint() string {
	canon := Definition{
		Machine: d.Machine,
		Samples: d.Samples,
		Tasks:   make([]TaskSpec, len(d.Tasks)),
	}
	copy(canon.Tasks, d.Tasks)
	sort.SliceStable(canon.Tasks, func(a, b int) bool {
		if canon.Tasks[a].Step != canon.Tasks[b].Step {
			return canon.Tasks[a].Step < canon.Tasks[b].Step
		}
		return canon.Tasks[a].Name < canon.Tasks[b].Name
	})
	for i := range canon.Tasks {
		if canon.Tasks[i].Duration == "" {
			canon.Tasks[i].Duration = "linear"
		}
	}

	data, _ := json.Marshal(canon)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ParseSizes parses a comma-separated list of sample sizes.
func ParseSizes(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	sizes := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("sample size %q: %w", p, err)
		}
		sizes = append(sizes, n)
	}
	return sizes, nil
}

// ParseTaskSpec parses "name:step:time_factor:space_factor:cpus[:duration]".
func ParseTaskSpec(s string) (TaskSpec, error) {
	parts := strings.SplitN(s, ":", 6)
	if len(parts) < 5 {
		return TaskSpec{}, fmt.Errorf("task %q: expected name:step:time_factor:space_factor:cpus[:duration]", s)
	}

	nums := make([]int, 4)
	for i, p := range parts[1:5] {
		n, err := strconv.Atoi(p)
		if err != nil {
			return TaskSpec{}, fmt.Errorf("task %q: field %d: %w", s, i+2, err)
		}
		nums[i] = n
	}

	spec := TaskSpec{
		Name:        parts[0],
		Step:        nums[0],
		TimeFactor:  nums[1],
		SpaceFactor: nums[2],
		CPUs:        nums[3],
	}
	if len(parts) == 6 {
		spec.Duration = parts[5]
	}
	return spec, nil
}
