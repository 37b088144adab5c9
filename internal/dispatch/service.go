package dispatch

import (
	"context"

	"github.com/heimdall/monitor/internal/events"
)

// Source is the subset of queue.Queue the dispatcher service consumes.
// Defined locally so dispatch does not import queue, keeping the two
// packages wireable in either composition order.
type Source interface {
	DequeueBlocking(stopCh <-chan struct{}) (events.FileChangeEvent, bool)
}

// Service adapts a Dispatcher into a thejerf/suture Service: it drains
// Source one event at a time -- only one subprocess in flight per daemon,
// per spec §5's deliberate ordering simplification -- until the context
// the daemon's shutdown coordinator cancels.
type Service struct {
	dispatcher *Dispatcher
	source     Source
}

// NewService builds a dispatcher Service.
func NewService(d *Dispatcher, source Source) *Service {
	return &Service{dispatcher: d, source: source}
}

// Serve drains events until ctx is canceled. Each event's dequeue ->
// dispatch -> retry -> outcome is self-contained (spec §4.5 per-event
// isolation): Serve never returns early because of one event's outcome.
func (s *Service) Serve(ctx context.Context) error {
	stopCh := ctx.Done()
	for {
		ev, ok := s.source.DequeueBlocking(stopCh)
		if !ok {
			return nil
		}
		s.dispatcher.Process(ctx, ev, stopCh)

		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

// String names the service for suture's event hook and log lines.
func (s *Service) String() string {
	return "dispatcher"
}

// Name satisfies internal/supervisor.Service's registry interface.
func (s *Service) Name() string {
	return s.String()
}
