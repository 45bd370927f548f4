package cache

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestCache(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache"), ttl)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestPutGet(t *testing.T) {
	c := openTestCache(t, time.Hour)

	want := Entry{Makespan: 30, CriticalSample: 1, Jobs: 2, RunID: "run-1"}
	if err := c.Put("abc", want); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := c.Get("abc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected hit")
	}
	if got.Makespan != 30 || got.CriticalSample != 1 || got.RunID != "run-1" {
		t.Errorf("unexpected entry: %+v", got)
	}
}

func TestGet_Miss(t *testing.T) {
	c := openTestCache(t, time.Hour)

	got, ok, err := c.Get("missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok || got != nil {
		t.Errorf("expected miss, got %+v", got)
	}
}

func TestGet_Expired(t *testing.T) {
	c := openTestCache(t, time.Minute)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if err := c.Put("k", Entry{Makespan: 5}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, ok, err := c.Get("k"); err != nil || ok {
		t.Errorf("expected expired miss, got ok=%v err=%v", ok, err)
	}
}

func TestCleanup(t *testing.T) {
	c := openTestCache(t, time.Minute)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Put("old", Entry{Makespan: 1})
	now = now.Add(30 * time.Second)
	c.Put("fresh", Entry{Makespan: 2})

	now = now.Add(45 * time.Second)
	removed, err := c.cleanup()
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 expired entry removed, got %d", removed)
	}
	if _, ok, _ := c.Get("fresh"); !ok {
		t.Error("expected fresh entry to survive cleanup")
	}
}

func TestCleanup_ReportsDeleteFailures(t *testing.T) {
	c := openTestCache(t, time.Minute)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Put("a", Entry{Makespan: 1})
	c.Put("b", Entry{Makespan: 2})
	now = now.Add(2 * time.Minute)

	realDelete := c.deleteKey
	c.deleteKey = func(key []byte) error {
		if string(key) == keyPrefix+"a" {
			return errors.New("disk full")
		}
		return realDelete(key)
	}

	removed, err := c.cleanup()
	if removed != 1 {
		t.Errorf("expected 1 entry removed, got %d", removed)
	}
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected the delete failure to be reported, got %v", err)
	}

	// The failed key is still there for the next round.
	c.deleteKey = realDelete
	removed, err = c.cleanup()
	if err != nil || removed != 1 {
		t.Errorf("retry: removed %d, err %v; want 1, nil", removed, err)
	}
}

func TestDelete(t *testing.T) {
	c := openTestCache(t, time.Hour)

	c.Put("k", Entry{Makespan: 7})
	if err := c.Delete("k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := c.Get("k"); ok {
		t.Error("expected entry to be gone")
	}
}
