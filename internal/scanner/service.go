package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/heimdall/monitor/internal/events"
)

// Sink receives the events produced by each completed sweep, in order.
type Sink func(events.FileChangeEvent)

// Service adapts a Scanner into a thejerf/suture Service: it ticks on the
// configured interval, runs one sweep at a time (never overlapping, per
// the daemon's run-loop contract), and forwards the resulting events to
// Sink. Implements suture.Service (Serve(ctx) error).
type Service struct {
	scanner *Scanner
	sink    Sink
	stats   StatsRecorder
}

// StatsRecorder is the subset of stats.Statistics the scanner service
// updates after each sweep. Defined locally to avoid importing the stats
// package's full surface into the scanning hot path.
type StatsRecorder interface {
	SetFilesTracked(n int64)
}

// NewService builds a scanner Service. stats may be nil.
func NewService(sc *Scanner, sink Sink, stats StatsRecorder) *Service {
	return &Service{scanner: sc, sink: sink, stats: stats}
}

// Serve runs the scanner until ctx is canceled. It performs one baseline
// sweep immediately (emitting no events, per the scanner's startup
// policy), then sweeps every Config.Interval until shutdown.
func (s *Service) Serve(ctx context.Context) error {
	if _, err := s.scanner.Sweep(ctx); err != nil {
		return fmt.Errorf("scanner: baseline sweep failed: %w", err)
	}
	if s.stats != nil {
		s.stats.SetFilesTracked(int64(s.scanner.KnownCount()))
	}

	ticker := time.NewTicker(s.scanner.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			evs, err := s.scanner.Sweep(ctx)
			if err != nil {
				s.scanner.warnf("scanner: sweep error: %v", err)
				continue
			}
			if s.stats != nil {
				s.stats.SetFilesTracked(int64(s.scanner.KnownCount()))
			}
			for _, ev := range evs {
				select {
				case <-ctx.Done():
					return nil
				default:
				}
				s.sink(ev)
			}
		}
	}
}

// String names the service for suture's event hook and log lines.
func (s *Service) String() string {
	return "scanner"
}

// Name satisfies internal/supervisor.Service's registry interface.
func (s *Service) Name() string {
	return s.String()
}
