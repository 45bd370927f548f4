package sim

import (
	"sort"

	"github.com/rachelqdao/PipelineTaskScheduling/internal/pipeline"
)

// computeWaves groups scheduled jobs by start time. Within a wave jobs keep
// the admission scan order (step, then sample).
func computeWaves(jobs [][]*pipeline.Job) []Wave {
	startGroups := make(map[int][]*pipeline.Job)
	for _, row := range jobs {
		for _, j := range row {
			if !j.Scheduled {
				continue
			}
			startGroups[j.Start] = append(startGroups[j.Start], j)
		}
	}

	starts := make([]int, 0, len(startGroups))
	for start := range startGroups {
		starts = append(starts, start)
	}
	sort.Ints(starts)

	waves := make([]Wave, len(starts))
	for i, start := range starts {
		waves[i] = Wave{
			Index: i,
			Start: start,
			Jobs:  startGroups[start],
		}
	}
	return waves
}
