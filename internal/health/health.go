// SPDX-License-Identifier: MIT

// Package health implements the supervisor-facing "monitor health" check
// (spec §4.7/§7): a deeper read of the daemon's status record than
// "monitor status" gives, classifying the daemon as healthy, degraded, or
// unhealthy, plus an HTTP surface exposing the same report as JSON and as
// Prometheus-style metrics for fleet monitoring.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/heimdall/monitor/internal/lock"
	"github.com/heimdall/monitor/internal/statusfile"
)

// Status is the coarse health verdict spec §4.7 names.
type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
)

// StatusProvider supplies the current status record. The daemon's own
// process never uses this -- it's the supervisor reading the record from
// outside, per spec §3 "no entity is shared... except via the filesystem
// artifacts."
type StatusProvider interface {
	ReadStatus() (statusfile.Record, error)
}

// FileStatusProvider reads the status record straight off disk.
type FileStatusProvider struct {
	StatusPath string
}

func (p FileStatusProvider) ReadStatus() (statusfile.Record, error) {
	return statusfile.Read(p.StatusPath)
}

// LockChecker reports whether a live process currently holds the monitor
// lock, used to cross-check the status record against the lock's
// authoritative liveness signal (spec §4.7 health cross-checks the lock).
type LockChecker interface {
	Held(lockPath string) bool
}

// lockChecker is the production LockChecker, grounded on
// internal/lock.FileLock's own stale-PID detection logic: a lock is
// "held" if attempting to acquire it would fail with ErrAlreadyHeld.
type lockChecker struct{}

func (lockChecker) Held(lockPath string) bool {
	fl, err := lock.NewFileLock(lockPath)
	if err != nil {
		return false
	}
	if err := fl.Acquire(); err != nil {
		return err == lock.ErrAlreadyHeld
	}
	// We just acquired it ourselves -- release immediately, nothing was
	// actually holding it.
	_ = fl.Release()
	return false
}

// DefaultLockChecker is the production LockChecker.
var DefaultLockChecker LockChecker = lockChecker{}

// Thresholds configures the health classification (spec §4/§7: configured,
// not hard-coded).
type Thresholds struct {
	MaxEventAge              time.Duration
	MaxPermanentFailureRatio float64
}

// Report is the structured result of a health check.
type Report struct {
	Status      Status         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Record      statusfile.Record `json:"record"`
	LockHeld    bool           `json:"lock_held"`
	Reasons     []string       `json:"reasons,omitempty"`
}

// Check reads the status record via provider, cross-checks the lock via
// checker, and classifies the result per spec §4.7/§7:
//   - Unhealthy: the daemon isn't Running, or the lock isn't held by
//     anyone even though the record claims Running (the record is stale).
//   - Degraded: Running and lock held, but last_event_at/started_at is
//     older than MaxEventAge, or the subprocess failure ratio among
//     attempted calls exceeds MaxPermanentFailureRatio (e.g. "every
//     invocation returns PermanentFailure").
//   - Healthy: otherwise.
func Check(provider StatusProvider, checker LockChecker, lockPath string, th Thresholds) Report {
	now := time.Now()
	rec, err := provider.ReadStatus()
	if err != nil {
		return Report{
			Status:    Unhealthy,
			Timestamp: now,
			Reasons:   []string{fmt.Sprintf("cannot read status record: %v", err)},
		}
	}

	held := checker.Held(lockPath)
	report := Report{Status: Healthy, Timestamp: now, Record: rec, LockHeld: held}

	if rec.State != statusfile.Running {
		report.Status = Unhealthy
		report.Reasons = append(report.Reasons, fmt.Sprintf("daemon state is %s, not Running", rec.State))
		return report
	}
	if !held {
		report.Status = Unhealthy
		report.Reasons = append(report.Reasons, "status record claims Running but no process holds the monitor lock (stale record)")
		return report
	}

	reference := rec.LastEventAt
	if reference.IsZero() {
		reference = rec.StartedAt
	}
	if th.MaxEventAge > 0 && !reference.IsZero() && now.Sub(reference) > th.MaxEventAge {
		report.Status = Degraded
		report.Reasons = append(report.Reasons, fmt.Sprintf("no event activity in the last %s", now.Sub(reference).Round(time.Second)))
	}

	if rec.SubprocessCalls > 0 {
		ratio := float64(rec.SubprocessFailures) / float64(rec.SubprocessCalls)
		if th.MaxPermanentFailureRatio > 0 && ratio > th.MaxPermanentFailureRatio {
			report.Status = Degraded
			report.Reasons = append(report.Reasons, fmt.Sprintf("subprocess failure ratio %.2f exceeds threshold %.2f", ratio, th.MaxPermanentFailureRatio))
		}
	}

	return report
}

// Handler serves the /healthz and /metrics endpoints for a single
// project's daemon.
type Handler struct {
	provider StatusProvider
	checker  LockChecker
	lockPath string
	th       Thresholds
}

// NewHandler builds a health HTTP handler.
func NewHandler(provider StatusProvider, lockPath string, th Thresholds) *Handler {
	return &Handler{provider: provider, checker: DefaultLockChecker, lockPath: lockPath, th: th}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/metrics":
		h.serveMetrics(w, r)
	default:
		h.serveHealth(w, r)
	}
}

func (h *Handler) serveHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	report := Check(h.provider, h.checker, h.lockPath, h.th)

	w.Header().Set("Content-Type", "application/json")
	switch report.Status {
	case Healthy:
		w.WriteHeader(http.StatusOK)
	case Degraded:
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(report)
}

func (h *Handler) serveMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	report := Check(h.provider, h.checker, h.lockPath, h.th)
	rec := report.Record

	var sb strings.Builder
	fmt.Fprintln(&sb, "# HELP heimdall_monitor_healthy 1 when the monitor daemon is healthy.")
	fmt.Fprintln(&sb, "# TYPE heimdall_monitor_healthy gauge")
	fmt.Fprintf(&sb, "heimdall_monitor_healthy %d\n", boolToInt(report.Status == Healthy))

	fmt.Fprintln(&sb, "# HELP heimdall_monitor_events_processed_total Events the dispatcher has completed.")
	fmt.Fprintln(&sb, "# TYPE heimdall_monitor_events_processed_total counter")
	fmt.Fprintf(&sb, "heimdall_monitor_events_processed_total %d\n", rec.EventsProcessed)

	fmt.Fprintln(&sb, "# HELP heimdall_monitor_subprocess_failures_total Events whose dispatch ended in a permanent failure or in a transient failure after the last retry.")
	fmt.Fprintln(&sb, "# TYPE heimdall_monitor_subprocess_failures_total counter")
	fmt.Fprintf(&sb, "heimdall_monitor_subprocess_failures_total %d\n", rec.SubprocessFailures)

	fmt.Fprintln(&sb, "# HELP heimdall_monitor_queue_overflow_total Events dropped due to queue overflow.")
	fmt.Fprintln(&sb, "# TYPE heimdall_monitor_queue_overflow_total counter")
	fmt.Fprintf(&sb, "heimdall_monitor_queue_overflow_total %d\n", rec.QueueOverflow)

	fmt.Fprintln(&sb, "# HELP heimdall_monitor_files_tracked Files currently tracked by the scanner.")
	fmt.Fprintln(&sb, "# TYPE heimdall_monitor_files_tracked gauge")
	fmt.Fprintf(&sb, "heimdall_monitor_files_tracked %d\n", rec.FilesTracked)

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(sb.String()))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ListenAndServeReady starts the health check HTTP server, binding
// synchronously so bind failures (port already in use) surface
// immediately rather than being silently swallowed in a goroutine. If
// ready is non-nil it is closed once the listener is bound. Shuts down
// gracefully when ctx is canceled.
func ListenAndServeReady(ctx context.Context, addr string, handler http.Handler, ready chan<- struct{}) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	if ready != nil {
		close(ready)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	return <-errCh
}
