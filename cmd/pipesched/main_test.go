package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rachelqdao/PipelineTaskScheduling/internal/config"
	"github.com/rachelqdao/PipelineTaskScheduling/internal/state"
)

func TestDefinitionFromFlags_Inline(t *testing.T) {
	cfg := config.Default()

	def, source, err := definitionFromFlags(cfg, "", "10,5", 0, 100,
		[]string{"align:0:2:1:1", "sort:1:1:1:1:power:0.5"})
	if err != nil {
		t.Fatalf("definitionFromFlags: %v", err)
	}
	if source != "flags" {
		t.Errorf("source = %q, want flags", source)
	}
	if len(def.Samples) != 2 || def.Samples[0] != 10 || def.Samples[1] != 5 {
		t.Errorf("samples = %v, want [10 5]", def.Samples)
	}
	if def.Machine.MaxCPUs != config.DefaultMachineCPUs {
		t.Errorf("cpus = %d, want config default %d", def.Machine.MaxCPUs, config.DefaultMachineCPUs)
	}
	if def.Machine.MaxMemory != 100 {
		t.Errorf("memory = %d, want flag override 100", def.Machine.MaxMemory)
	}
	if len(def.Tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(def.Tasks))
	}
	if def.Tasks[1].Duration != "power:0.5" {
		t.Errorf("duration = %q, want power:0.5", def.Tasks[1].Duration)
	}
}

func TestDefinitionFromFlags_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.yaml")
	body := `machine:
  cpus: 1
  memory: 100
samples: [10, 5]
tasks:
  - name: align
    step: 0
    time_factor: 2
    space_factor: 1
    cpus: 1
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	def, source, err := definitionFromFlags(config.Default(), path, "", 3, 0, nil)
	if err != nil {
		t.Fatalf("definitionFromFlags: %v", err)
	}
	if source != path {
		t.Errorf("source = %q, want %q", source, path)
	}
	if def.Machine.MaxCPUs != 3 || def.Machine.MaxMemory != 100 {
		t.Errorf("machine = %+v, want cpus 3 memory 100", def.Machine)
	}
}

func TestDefinitionFromFlags_Errors(t *testing.T) {
	cfg := config.Default()

	if _, _, err := definitionFromFlags(cfg, "", "", 0, 0, nil); err == nil {
		t.Error("expected error with neither --file nor --task")
	}
	if _, _, err := definitionFromFlags(cfg, "p.yaml", "1,2", 0, 0, nil); err == nil {
		t.Error("expected error combining --file and --sizes")
	}
	if _, _, err := definitionFromFlags(cfg, "", "1,x", 0, 0, []string{"a:0:1:1:1"}); err == nil {
		t.Error("expected error for bad size")
	}
	if _, _, err := definitionFromFlags(cfg, "", "1", 0, 0, []string{"a:0:1"}); err == nil {
		t.Error("expected error for short task spec")
	}
}

func TestShortID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "?"},
		{"abc", "abc"},
		{"12345678", "12345678"},
		{"0b6f2d1e-8a6c-4c1e-9a57-2f4f1f0d9c11", "0b6f2d1e"},
	}
	for _, tt := range tests {
		if got := shortID(tt.in); got != tt.want {
			t.Errorf("shortID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPrintRecord_HandEditedID(t *testing.T) {
	for _, id := range []string{"", "x1"} {
		rec := &state.RunRecord{
			ID:        id,
			Input:     "p.yaml",
			Status:    state.StatusFailed,
			Makespan:  -1,
			Error:     "boom",
			StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		}

		var buf bytes.Buffer
		printRecord(&buf, rec)
		out := buf.String()
		if !strings.Contains(out, "p.yaml") || !strings.Contains(out, "boom") {
			t.Errorf("id %q: unexpected output %q", id, out)
		}
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestWriteJSON_Errors(t *testing.T) {
	if err := writeJSON(failingWriter{}, map[string]int{"makespan": -1}); err == nil {
		t.Error("expected write error to be returned")
	}
	if err := writeJSON(&bytes.Buffer{}, map[string]interface{}{"bad": make(chan int)}); err == nil {
		t.Error("expected marshal error to be returned")
	}

	var buf bytes.Buffer
	if err := writeJSON(&buf, map[string]int{"makespan": -1}); err != nil {
		t.Fatalf("writeJSON: %v", err)
	}
	if !strings.Contains(buf.String(), `"makespan": -1`) {
		t.Errorf("unexpected JSON %q", buf.String())
	}
}
