package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Sprint color functions for building styled strings.
var (
	Bold        = color.New(color.Bold).SprintFunc()
	Dim         = color.New(color.Faint).SprintFunc()
	Cyan        = color.New(color.FgCyan).SprintFunc()
	Green       = color.New(color.FgGreen).SprintFunc()
	Red         = color.New(color.FgRed).SprintFunc()
	Yellow      = color.New(color.FgYellow).SprintFunc()
	Magenta     = color.New(color.FgMagenta).SprintFunc()
	BoldCyan    = color.New(color.Bold, color.FgCyan).SprintFunc()
	BoldGreen   = color.New(color.Bold, color.FgGreen).SprintFunc()
	BoldRed     = color.New(color.Bold, color.FgRed).SprintFunc()
	BoldYellow  = color.New(color.Bold, color.FgYellow).SprintFunc()
	BoldMagenta = color.New(color.Bold, color.FgMagenta).SprintFunc()
	BoldWhite   = color.New(color.Bold, color.FgWhite).SprintFunc()
)

// SetEnabled forces color on or off, e.g. for --no-color or JSON output.
func SetEnabled(enabled bool) {
	color.NoColor = !enabled
}

// PrintBanner renders the pipesched banner.
func PrintBanner(w io.Writer) {
	frame := color.New(color.FgCyan)
	stages := color.New(color.FgYellow)
	brand := color.New(color.Bold, color.FgMagenta)

	fmt.Fprintln(w)
	frame.Fprintln(w, "   +------------------------------+")
	stages.Fprintln(w, "   |  [#]-->[#]-->[#]-->[#]-->[#] |")
	brand.Fprintln(w, "   |   P I P E S C H E D          |")
	frame.Fprintln(w, "   +------------------------------+")
	fmt.Fprintln(w)
}

// stageColors is a palette of distinct colors for telling stages apart.
var stageColors = []func(a ...interface{}) string{
	BoldMagenta,
	BoldCyan,
	BoldYellow,
	BoldGreen,
	color.New(color.Bold, color.FgHiBlue).SprintFunc(),
	color.New(color.Bold, color.FgHiRed).SprintFunc(),
}

// StageColor returns the palette color for a pipeline step.
func StageColor(step int) func(a ...interface{}) string {
	if step < 0 {
		step = -step
	}
	return stageColors[step%len(stageColors)]
}

// StagePrefix returns a colored [step:name] prefix.
func StagePrefix(step int, name string) string {
	c := StageColor(step)
	return Dim("[") + c(fmt.Sprintf("%d:%s", step, name)) + Dim("]")
}

// StatusIcon returns a colored icon for a job state.
func StatusIcon(status string) string {
	switch status {
	case "finished":
		return Green("✓")
	case "running":
		return Cyan("●")
	case "failed":
		return Red("✗")
	default:
		return Dim("◌")
	}
}

// Bar renders a [start,end) span on a timeline of the given width and span.
// Zero-length spans render as a single tick.
func Bar(start, end, span, width int, fill string) string {
	if span <= 0 || width <= 0 {
		return ""
	}
	from := start * width / span
	to := end * width / span
	if to <= from {
		to = from + 1
	}
	if to > width {
		to = width
		if from >= width {
			from = width - 1
		}
	}
	return strings.Repeat(" ", from) + strings.Repeat(fill, to-from) + strings.Repeat(" ", width-to)
}
