package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const runsDir = "runs"
const lastFile = "last.json"

// RunStatus is the outcome of a recorded run.
type RunStatus string

const (
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// RunRecord is the persisted summary of one makespan calculation.
type RunRecord struct {
	ID             string        `json:"id"`
	Input          string        `json:"input"`
	Fingerprint    string        `json:"fingerprint"`
	Status         RunStatus     `json:"status"`
	Makespan       int           `json:"makespan"`
	CriticalSample int           `json:"critical_sample"`
	Samples        int           `json:"samples"`
	Tasks          int           `json:"tasks"`
	CacheHit       bool          `json:"cache_hit"`
	Error          string        `json:"error,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	Elapsed        time.Duration `json:"elapsed"`
}

// Store keeps run records under a state directory.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore returns a Store rooted at dir. Nothing is created until Record.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// NewRecord starts a record with a fresh run ID.
func NewRecord(input, fingerprint string) *RunRecord {
	return &RunRecord{
		ID:          uuid.New().String(),
		Input:       input,
		Fingerprint: fingerprint,
		StartedAt:   time.Now(),
	}
}

// Record persists rec and marks it as the latest run.
func (s *Store) Record(rec *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.dir, runsDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, rec.ID+".json"), data, 0644); err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return os.WriteFile(filepath.Join(s.dir, lastFile), data, 0644)
}

// Last returns the most recently recorded run.
func (s *Store) Last() (*RunRecord, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, lastFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("no recorded runs in %s", s.dir)
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	return &rec, nil
}

// Get loads a run by ID.
func (s *Store) Get(id string) (*RunRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid run id %q: %w", id, err)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, runsDir, id+".json"))
	if err != nil {
		return nil, fmt.Errorf("read run %s: %w", id, err)
	}
	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse run %s: %w", id, err)
	}
	return &rec, nil
}

// List returns up to limit runs, newest first. limit <= 0 means all.
func (s *Store) List(limit int) ([]*RunRecord, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, runsDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list runs: %w", err)
	}

	var runs []*RunRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		rec, err := s.Get(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		runs = append(runs, rec)
	}

	sort.SliceStable(runs, func(a, b int) bool {
		return runs[a].StartedAt.After(runs[b].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Clean removes every recorded run.
func (s *Store) Clean() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(filepath.Join(s.dir, runsDir)); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, lastFile)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
