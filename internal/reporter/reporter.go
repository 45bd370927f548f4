package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rachelqdao/PipelineTaskScheduling/internal/pipeline"
	"github.com/rachelqdao/PipelineTaskScheduling/internal/sim"
	"github.com/rachelqdao/PipelineTaskScheduling/internal/ui"
)

// Reporter renders a simulation result.
type Reporter struct {
	Result *sim.Result
	RunID  string
}

// New creates a new Reporter.
func New(result *sim.Result, runID string) *Reporter {
	return &Reporter{Result: result, RunID: runID}
}

// PrintSummary writes the schedule: header, per-stage breakdown and waves.
// The plain text is also returned for reuse.
func (r *Reporter) PrintSummary(w io.Writer) string {
	var b strings.Builder
	mw := io.MultiWriter(w, &b)
	res := r.Result

	cpu, mem := res.Utilization()

	fmt.Fprintf(mw, "\n📐 %s\n", ui.BoldCyan("Pipeline Schedule"))
	fmt.Fprintf(mw, "%s\n", ui.Cyan("═════════════════"))
	if r.RunID != "" {
		fmt.Fprintf(mw, "Run:       %s\n", ui.Dim(r.RunID))
	}
	fmt.Fprintf(mw, "Makespan:  %s\n", ui.BoldGreen(res.Makespan))
	fmt.Fprintf(mw, "Machine:   %d cpus, %d memory\n", res.Machine.MaxCPUs, res.Machine.MaxMemory)
	fmt.Fprintf(mw, "Jobs:      %d (%d samples × %d stages)\n", res.JobCount(), len(res.Samples), len(res.Tasks))
	fmt.Fprintf(mw, "Usage:     %.1f%% cpu, %.1f%% memory\n", cpu*100, mem*100)
	if res.CriticalSample >= 0 {
		fmt.Fprintf(mw, "Critical:  %s\n", ui.BoldYellow(fmt.Sprintf("⚡ sample %d", res.CriticalSample)))
	}
	fmt.Fprintln(mw)

	for step, task := range res.Tasks {
		fmt.Fprintf(mw, "  %s %s  %s\n", ui.BoldWhite("Stage"), ui.StagePrefix(step, task.Name),
			ui.Dim(fmt.Sprintf("(time×%d, space×%d, %d cpus)", task.TimeFactor, task.SpaceFactor, task.CPUs)))
		for _, j := range res.Jobs[step] {
			r.printJob(mw, j)
		}
		fmt.Fprintln(mw)
	}

	fmt.Fprintf(mw, "%s\n", ui.Cyan("──────────────────────────"))
	for _, wave := range res.Waves {
		var names []string
		for _, j := range wave.Jobs {
			names = append(names, fmt.Sprintf("s%d/%s", j.Sample.ID, j.Task.Name))
		}
		fmt.Fprintf(mw, "  🌊 t=%-6d %s\n", wave.Start, strings.Join(names, ", "))
	}

	return b.String()
}

func (r *Reporter) printJob(w io.Writer, j *pipeline.Job) {
	critical := " "
	if j.Sample.ID == r.Result.CriticalSample {
		critical = ui.BoldYellow("⚡")
	}
	fmt.Fprintf(w, "    %s %s sample %-4d size %-6d [%6d, %6d)  dur %-6d cpus %-3d mem %d\n",
		ui.StatusIcon(string(j.State())), critical, j.Sample.ID, j.Sample.Size,
		j.Start, j.End, j.Duration, j.CPUs, j.Memory)
}

// PrintGantt writes one timeline row per sample, each stage drawn with its
// own glyph, scaled to width columns.
func (r *Reporter) PrintGantt(w io.Writer, width int) {
	res := r.Result
	glyphs := []string{"█", "▓", "▒", "░", "#", "="}

	fmt.Fprintf(w, "\n%s 0%s%d\n", ui.BoldCyan("Timeline"), strings.Repeat(" ", max(width-len(fmt.Sprint(res.Makespan)), 1)), res.Makespan)
	if res.Makespan == 0 {
		return
	}
	for _, s := range res.Samples {
		rows := make([]string, len(res.Tasks))
		for step := range res.Tasks {
			j := res.Job(s.ID, step)
			rows[step] = ui.Bar(j.Start, j.End, res.Makespan, width, glyphs[step%len(glyphs)])
		}
		fmt.Fprintf(w, "  s%-4d |%s|\n", s.ID, overlay(rows, width))
	}
	var legend []string
	for step, task := range res.Tasks {
		legend = append(legend, glyphs[step%len(glyphs)]+" "+task.Name)
	}
	fmt.Fprintf(w, "  %s\n", ui.Dim(strings.Join(legend, "  ")))
}

// overlay merges equal-width rows column by column; later rows win.
func overlay(rows []string, width int) string {
	out := []rune(strings.Repeat(" ", width))
	for _, row := range rows {
		for i, c := range []rune(row) {
			if i < width && c != ' ' {
				out[i] = c
			}
		}
	}
	return string(out)
}

// JobOutput is one scheduled job.
type JobOutput struct {
	Sample   int    `json:"sample"`
	Size     int    `json:"size"`
	Task     string `json:"task"`
	Step     int    `json:"step"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
	Duration int    `json:"duration"`
	CPUs     int    `json:"cpus"`
	Memory   int    `json:"memory"`
}

// Output is the machine-readable form of a result.
type Output struct {
	RunID             string      `json:"run_id,omitempty"`
	Makespan          int         `json:"makespan"`
	CriticalSample    int         `json:"critical_sample"`
	MaxCPUs           int         `json:"max_cpus"`
	MaxMemory         int         `json:"max_memory"`
	CPUUtilization    float64     `json:"cpu_utilization"`
	MemoryUtilization float64     `json:"memory_utilization"`
	Jobs              []JobOutput `json:"jobs"`
	Waves             [][2]int    `json:"waves"` // [start, job count]
	Ticks             []sim.Tick  `json:"ticks,omitempty"`
}

// Output builds the machine-readable form.
func (r *Reporter) Output() Output {
	res := r.Result
	cpu, mem := res.Utilization()

	o := Output{
		RunID:             r.RunID,
		Makespan:          res.Makespan,
		CriticalSample:    res.CriticalSample,
		MaxCPUs:           res.Machine.MaxCPUs,
		MaxMemory:         res.Machine.MaxMemory,
		CPUUtilization:    cpu,
		MemoryUtilization: mem,
		Jobs:              make([]JobOutput, 0, res.JobCount()),
		Waves:             make([][2]int, 0, len(res.Waves)),
		Ticks:             res.Ticks,
	}
	for step, row := range res.Jobs {
		for _, j := range row {
			o.Jobs = append(o.Jobs, JobOutput{
				Sample:   j.Sample.ID,
				Size:     j.Sample.Size,
				Task:     j.Task.Name,
				Step:     step,
				Start:    j.Start,
				End:      j.End,
				Duration: j.Duration,
				CPUs:     j.CPUs,
				Memory:   j.Memory,
			})
		}
	}
	for _, wave := range res.Waves {
		o.Waves = append(o.Waves, [2]int{wave.Start, len(wave.Jobs)})
	}
	return o
}

// JSON returns the indented machine-readable form.
func (r *Reporter) JSON() ([]byte, error) {
	return json.MarshalIndent(r.Output(), "", "  ")
}
