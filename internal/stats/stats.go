// Package stats holds the monitor's atomic counters. Every field is safe
// for concurrent use by the scanner, dispatcher, and the status-record
// writer without additional locking.
package stats

import (
	"sync/atomic"
	"time"
)

// Statistics mirrors the MonitorStatistics entity: atomic counters
// updated by the scanner and dispatcher threads, read by Snap for the
// status record.
type Statistics struct {
	filesTracked        atomic.Int64
	eventsEnqueued      atomic.Int64
	eventsProcessed     atomic.Int64
	subprocessCalls     atomic.Int64
	subprocessSuccesses atomic.Int64
	subprocessFailures  atomic.Int64
	subprocessRetries   atomic.Int64
	subprocessTimeouts  atomic.Int64
	queueOverflow       atomic.Int64
	startedAtNanos      atomic.Int64
	lastEventAtNanos    atomic.Int64
}

// Snapshot is a copy of the counters. Each field is read atomically, so no
// single value is torn, but the fields are read one after another, so the
// copy is not a view of all counters at one instant.
type Snapshot struct {
	FilesTracked        int64
	EventsEnqueued      int64
	EventsProcessed     int64
	SubprocessCalls     int64
	SubprocessSuccesses int64
	SubprocessFailures  int64
	SubprocessRetries   int64
	SubprocessTimeouts  int64
	QueueOverflow       int64
	StartedAt           time.Time
	LastEventAt         time.Time
}

func (s *Statistics) SetFilesTracked(n int64)  { s.filesTracked.Store(n) }
func (s *Statistics) IncEventsEnqueued()        { s.eventsEnqueued.Add(1) }
func (s *Statistics) IncEventsProcessed()       { s.eventsProcessed.Add(1) }
func (s *Statistics) IncSubprocessCalls()       { s.subprocessCalls.Add(1) }
func (s *Statistics) IncSubprocessSuccesses()   { s.subprocessSuccesses.Add(1) }
func (s *Statistics) IncSubprocessFailures()    { s.subprocessFailures.Add(1) }
func (s *Statistics) IncSubprocessRetries()     { s.subprocessRetries.Add(1) }
func (s *Statistics) IncSubprocessTimeouts()    { s.subprocessTimeouts.Add(1) }
func (s *Statistics) IncQueueOverflow()         { s.queueOverflow.Add(1) }

// MarkStarted records the daemon's start instant. Idempotent beyond the
// first call in practice (called once during the start sequence).
func (s *Statistics) MarkStarted(t time.Time) {
	s.startedAtNanos.Store(t.UnixNano())
}

// MarkEvent records the instant the most recent event was dequeued.
func (s *Statistics) MarkEvent(t time.Time) {
	s.lastEventAtNanos.Store(t.UnixNano())
}

// Snap returns a consistent snapshot of all counters. Because every field
// is an independent atomic, "consistent" here means each field's value is
// well-defined, not that the whole snapshot reflects a single instant
// across all counters -- matching the status record's own tolerance for
// eventually-consistent counts.
func (s *Statistics) Snap() Snapshot {
	snap := Snapshot{
		FilesTracked:        s.filesTracked.Load(),
		EventsEnqueued:      s.eventsEnqueued.Load(),
		EventsProcessed:     s.eventsProcessed.Load(),
		SubprocessCalls:     s.subprocessCalls.Load(),
		SubprocessSuccesses: s.subprocessSuccesses.Load(),
		SubprocessFailures:  s.subprocessFailures.Load(),
		SubprocessRetries:   s.subprocessRetries.Load(),
		SubprocessTimeouts:  s.subprocessTimeouts.Load(),
		QueueOverflow:       s.queueOverflow.Load(),
	}
	if nanos := s.startedAtNanos.Load(); nanos != 0 {
		snap.StartedAt = time.Unix(0, nanos)
	}
	if nanos := s.lastEventAtNanos.Load(); nanos != 0 {
		snap.LastEventAt = time.Unix(0, nanos)
	}
	return snap
}
