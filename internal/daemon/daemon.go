// Package daemon composes the Singleton Lock, File Scanner, Event Queue,
// Subprocess Dispatcher, and Signal & Shutdown Coordinator into the
// long-lived per-project monitor process (spec §4.6, component C6).
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/heimdall/monitor/internal/config"
	"github.com/heimdall/monitor/internal/dispatch"
	"github.com/heimdall/monitor/internal/events"
	"github.com/heimdall/monitor/internal/lock"
	"github.com/heimdall/monitor/internal/queue"
	"github.com/heimdall/monitor/internal/scanner"
	"github.com/heimdall/monitor/internal/stats"
	"github.com/heimdall/monitor/internal/statusfile"
	"github.com/heimdall/monitor/internal/supervisor"
	"github.com/heimdall/monitor/internal/util"
)

// ErrAlreadyRunning is returned by Run when another live process already
// holds the project's monitor lock. Spec §4.1/§4.6: this is a refusal to
// start, not a crash -- callers surface it as the distinct "already
// running" exit code.
var ErrAlreadyRunning = lock.ErrAlreadyHeld

// statusFlushInterval is how often the running daemon refreshes its
// status record beyond the state-change writes spec §6 requires.
const statusFlushInterval = 5 * time.Second

// Daemon owns the Lock, Scanner, Queue, Dispatcher, and Statistics for
// one project root, exactly as spec §3 "Ownership" describes.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	stats  *stats.Statistics
}

// New builds a Daemon for the given configuration. cfg.ProjectRoot must
// be set.
func New(cfg *config.Config, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Daemon{cfg: cfg, logger: logger, stats: &stats.Statistics{}}
}

// Run executes the full start -> run -> stop sequence from spec §4.6. It
// blocks until ctx is canceled (the caller's shutdown coordinator) or a
// startup error occurs. A clean shutdown returns nil; ErrAlreadyRunning
// and other startup errors are returned so the caller can map them to
// the exit codes spec §6 defines.
func (d *Daemon) Run(ctx context.Context) error {
	started := time.Now()

	fl, err := lock.NewFileLock(d.cfg.LockPath())
	if err != nil {
		return fmt.Errorf("daemon: prepare lock: %w", err)
	}

	if err := fl.Acquire(); err != nil {
		if errors.Is(err, lock.ErrAlreadyHeld) {
			return ErrAlreadyRunning
		}
		d.writeStatus(statusfile.FailedToStart, started, err)
		return fmt.Errorf("daemon: acquire lock: %w", err)
	}
	defer func() {
		if err := fl.Release(); err != nil {
			d.logger.Warn("daemon: release lock", "error", err)
		}
	}()

	d.stats.MarkStarted(started)
	d.writeStatus(statusfile.Starting, started, nil)

	q := queue.New(d.cfg.QueueCapacity, d.stats.IncQueueOverflow)

	sc := scanner.New(scanner.Config{
		Root:                d.cfg.TargetDir(),
		Extensions:          d.cfg.Extensions,
		IgnoreSegments:      d.cfg.IgnorePatterns,
		Interval:            d.cfg.Interval(),
		MaxFingerprintBytes: d.cfg.MaxFingerprintBytes,
		Logger:              d.logger,
	})
	scSvc := scanner.NewService(sc, func(ev events.FileChangeEvent) {
		q.Enqueue(ev)
		d.stats.IncEventsEnqueued()
	}, d.stats)

	disp := dispatch.New(dispatch.Config{
		BaseCommand:              d.cfg.BaseCommand,
		FixedArgs:                d.cfg.FixedArgs,
		Timeout:                  d.cfg.SubprocessTimeout(),
		KillGrace:                d.cfg.KillGrace(),
		MaxRetries:               d.cfg.MaxRetries,
		RetryBaseDelay:           d.cfg.RetryBaseDelay(),
		RetryMaxDelay:            d.cfg.RetryMaxDelay(),
		CaptureBytes:             d.cfg.CaptureBytes,
		PermanentFailurePatterns: d.cfg.PermanentFailurePatterns,
		Logger:                   d.logger,
	}, d.stats)
	dispSvc := dispatch.NewService(disp, q)

	sup := supervisor.New(supervisor.Config{
		ShutdownTimeout: d.cfg.ShutdownGrace(),
		Logger:          d.logger,
	})
	sup.Add(scSvc)
	sup.Add(dispSvc)

	d.writeStatus(statusfile.Running, started, nil)

	flushCtx, stopFlush := context.WithCancel(context.Background())
	util.SafeGo("status-flush", statusLogWriter{d.logger}, func() {
		d.flushStatusPeriodically(flushCtx, started)
	}, nil)

	runErr := sup.Run(ctx)

	stopFlush()

	d.writeStatus(statusfile.Stopping, started, runErr)

	abandoned := q.Drain()
	if len(abandoned) > 0 {
		d.logger.Info("daemon: discarding queued events on shutdown", "count", len(abandoned))
	}

	d.writeStatus(statusfile.Stopped, started, runErr)

	if runErr != nil {
		return fmt.Errorf("daemon: run: %w", runErr)
	}
	return nil
}

func (d *Daemon) flushStatusPeriodically(ctx context.Context, started time.Time) {
	ticker := time.NewTicker(statusFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.writeStatus(statusfile.Running, started, nil)
		}
	}
}

func (d *Daemon) writeStatus(state statusfile.State, started time.Time, lastErr error) {
	snap := d.stats.Snap()
	rec := statusfile.Record{
		State:               state,
		Pid:                 os.Getpid(),
		StartedAt:           started,
		LastEventAt:         snap.LastEventAt,
		FilesTracked:        snap.FilesTracked,
		EventsEnqueued:      snap.EventsEnqueued,
		EventsProcessed:     snap.EventsProcessed,
		SubprocessCalls:     snap.SubprocessCalls,
		SubprocessSuccesses: snap.SubprocessSuccesses,
		SubprocessFailures:  snap.SubprocessFailures,
		SubprocessRetries:   snap.SubprocessRetries,
		SubprocessTimeouts:  snap.SubprocessTimeouts,
		QueueOverflow:       snap.QueueOverflow,
	}
	if lastErr != nil {
		rec.LastError = lastErr.Error()
	}
	if err := statusfile.Write(d.cfg.StatusPath(), rec); err != nil {
		d.logger.Warn("daemon: write status record", "error", err)
	}
}

// statusLogWriter adapts *slog.Logger into the io.Writer util.SafeGo
// expects for panic logging.
type statusLogWriter struct{ logger *slog.Logger }

func (w statusLogWriter) Write(p []byte) (int, error) {
	w.logger.Error(string(p))
	return len(p), nil
}
