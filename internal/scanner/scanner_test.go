package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/heimdall/monitor/internal/events"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
}

func TestFirstSweepEstablishesBaselineWithoutEvents(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.md"), "hello")
	writeFile(t, filepath.Join(dir, "b.md"), "world")

	sc := New(Config{Root: dir})
	evs, err := sc.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(evs) != 0 {
		t.Fatalf("expected 0 events on baseline sweep, got %d", len(evs))
	}
	if sc.KnownCount() != 2 {
		t.Fatalf("KnownCount() = %d, want 2", sc.KnownCount())
	}
}

func TestAddedThenModifiedThenDeleted(t *testing.T) {
	dir := t.TempDir()
	sc := New(Config{Root: dir})

	if _, err := sc.Sweep(context.Background()); err != nil {
		t.Fatalf("baseline sweep: %v", err)
	}

	path := filepath.Join(dir, "a.md")
	writeFile(t, path, "v1")
	evs, err := sc.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep after add: %v", err)
	}
	if len(evs) != 1 || evs[0].Kind != events.Added {
		t.Fatalf("expected one Added event, got %+v", evs)
	}

	// Ensure the content hash actually differs (mtime granularity can be coarse).
	time.Sleep(5 * time.Millisecond)
	writeFile(t, path, "v2-different-content")
	evs, err = sc.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep after modify: %v", err)
	}
	if len(evs) != 1 || evs[0].Kind != events.Modified {
		t.Fatalf("expected one Modified event, got %+v", evs)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	evs, err = sc.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep after delete: %v", err)
	}
	if len(evs) != 1 || evs[0].Kind != events.Deleted {
		t.Fatalf("expected one Deleted event, got %+v", evs)
	}
}

func TestIdenticalRewriteSuppressed(t *testing.T) {
	dir := t.TempDir()
	sc := New(Config{Root: dir})
	path := filepath.Join(dir, "a.md")
	writeFile(t, path, "same")

	if _, err := sc.Sweep(context.Background()); err != nil {
		t.Fatalf("baseline: %v", err)
	}
	if _, err := sc.Sweep(context.Background()); err != nil {
		t.Fatalf("first observation sweep: %v", err)
	}

	// Rewrite identical content; mtime changes but fingerprint does not.
	time.Sleep(5 * time.Millisecond)
	writeFile(t, path, "same")
	evs, err := sc.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep after identical rewrite: %v", err)
	}
	if len(evs) != 0 {
		t.Fatalf("expected identical content rewrite to produce no events, got %+v", evs)
	}
}

func TestIgnoreSegmentsSkipped(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, ".git", "ignored.md"), "x")
	writeFile(t, filepath.Join(dir, "tracked.md"), "x")

	sc := New(Config{Root: dir, IgnoreSegments: []string{".git"}})
	if _, err := sc.Sweep(context.Background()); err != nil {
		t.Fatalf("baseline: %v", err)
	}
	if sc.KnownCount() != 1 {
		t.Fatalf("KnownCount() = %d, want 1 (ignored dir excluded)", sc.KnownCount())
	}
}

func TestExtensionFilter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.md"), "x")
	writeFile(t, filepath.Join(dir, "a.txt"), "x")

	sc := New(Config{Root: dir})
	if _, err := sc.Sweep(context.Background()); err != nil {
		t.Fatalf("baseline: %v", err)
	}
	if sc.KnownCount() != 1 {
		t.Fatalf("KnownCount() = %d, want 1 (.txt excluded)", sc.KnownCount())
	}
}
