package queue

import (
	"testing"
	"time"

	"github.com/heimdall/monitor/internal/events"
)

func TestEnqueueCoalesces(t *testing.T) {
	q := New(10, nil)
	t1 := time.Now()
	t2 := t1.Add(time.Second)

	q.Enqueue(events.FileChangeEvent{Path: "/a.md", Kind: events.Modified, DetectedAt: t1})
	q.Enqueue(events.FileChangeEvent{Path: "/a.md", Kind: events.Modified, DetectedAt: t2})

	if got := q.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1 after coalescing", got)
	}

	ev, ok := q.DequeueBlocking(nil)
	if !ok {
		t.Fatal("expected an event")
	}
	if !ev.DetectedAt.Equal(t2) {
		t.Errorf("DetectedAt = %v, want the latest update %v", ev.DetectedAt, t2)
	}
}

func TestEnqueueDistinctKeysDoNotCoalesce(t *testing.T) {
	q := New(10, nil)
	q.Enqueue(events.FileChangeEvent{Path: "/a.md", Kind: events.Added})
	q.Enqueue(events.FileChangeEvent{Path: "/a.md", Kind: events.Deleted})
	q.Enqueue(events.FileChangeEvent{Path: "/b.md", Kind: events.Added})

	if got := q.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}
}

func TestOverflowDropsOldestAndFires(t *testing.T) {
	overflowCount := 0
	q := New(2, func() { overflowCount++ })

	q.Enqueue(events.FileChangeEvent{Path: "/a.md", Kind: events.Added})
	q.Enqueue(events.FileChangeEvent{Path: "/b.md", Kind: events.Added})
	q.Enqueue(events.FileChangeEvent{Path: "/c.md", Kind: events.Added})

	if overflowCount != 1 {
		t.Fatalf("overflowCount = %d, want 1", overflowCount)
	}
	if got := q.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}

	ev, _ := q.DequeueBlocking(nil)
	if ev.Path != "/b.md" {
		t.Errorf("expected oldest event (/a.md) to have been dropped, got %q as head", ev.Path)
	}
}

func TestFIFOOrderPreservedAcrossCoalesce(t *testing.T) {
	q := New(10, nil)
	q.Enqueue(events.FileChangeEvent{Path: "/a.md", Kind: events.Added})
	q.Enqueue(events.FileChangeEvent{Path: "/b.md", Kind: events.Added})
	// Coalescing an update to /a.md must not move it to the tail.
	q.Enqueue(events.FileChangeEvent{Path: "/a.md", Kind: events.Added})

	first, _ := q.DequeueBlocking(nil)
	second, _ := q.DequeueBlocking(nil)
	if first.Path != "/a.md" || second.Path != "/b.md" {
		t.Errorf("expected FIFO order a.md, b.md; got %s, %s", first.Path, second.Path)
	}
}

func TestDequeueBlockingWakesOnStop(t *testing.T) {
	q := New(10, nil)
	stopCh := make(chan struct{})

	done := make(chan struct{})
	go func() {
		_, ok := q.DequeueBlocking(stopCh)
		if ok {
			t.Error("expected ok=false when stop fires before any event arrives")
		}
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	close(stopCh)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("DequeueBlocking did not wake within 1s of stop")
	}
}

func TestDrainReturnsAllResidentEvents(t *testing.T) {
	q := New(10, nil)
	q.Enqueue(events.FileChangeEvent{Path: "/a.md", Kind: events.Added})
	q.Enqueue(events.FileChangeEvent{Path: "/b.md", Kind: events.Added})

	drained := q.Drain()
	if len(drained) != 2 {
		t.Fatalf("Drain() returned %d events, want 2", len(drained))
	}
	if q.Len() != 0 {
		t.Errorf("queue not empty after Drain: Len() = %d", q.Len())
	}
}
