// Package supervisor wraps thejerf/suture's supervision tree with the
// configuration shape and Name()-based service registry this project's
// services expect, completing the suture wiring the original config
// already declared as a dependency but never exercised.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"
)

// Service is anything the Supervisor can run: a named unit that blocks
// until ctx is canceled or it fails. Satisfies suture.Service plus a
// Name() the supervisor surfaces in Status().
type Service interface {
	Name() string
	Serve(ctx context.Context) error
}

// Config configures the underlying suture.Supervisor.
type Config struct {
	// ShutdownTimeout bounds how long Run waits for services to stop once
	// its context is canceled before suture reports a timeout event.
	ShutdownTimeout time.Duration

	// RestartDelay is passed to suture as its FailureBackoff: the pause
	// suture takes once a service has failed more than its failure
	// threshold within the decay window. Failures below that threshold
	// are restarted at once.
	RestartDelay time.Duration

	// MaxRestartDelay is defaulted by New but not passed to suture; it has
	// no effect on restarts.
	MaxRestartDelay time.Duration

	// RestartMultiplier is defaulted by New but not passed to suture; it
	// has no effect on restarts.
	RestartMultiplier float64

	// Logger is optional; when set, suture lifecycle events (restarts,
	// panics, stop timeouts) are logged through it.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ShutdownTimeout:   10 * time.Second,
		RestartDelay:      1 * time.Second,
		MaxRestartDelay:   30 * time.Second,
		RestartMultiplier: 1.5,
	}
}

// Supervisor runs a fixed set of named services under a suture tree,
// restarting any that fail until its context is canceled.
type Supervisor struct {
	cfg Config
	sup *suture.Supervisor

	mu    sync.RWMutex
	names []string
}

// New creates a Supervisor, applying DefaultConfig's values for any
// zero-valued field.
func New(cfg Config) *Supervisor {
	def := DefaultConfig()
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = def.RestartDelay
	}
	if cfg.MaxRestartDelay <= 0 {
		cfg.MaxRestartDelay = def.MaxRestartDelay
	}
	if cfg.RestartMultiplier <= 0 {
		cfg.RestartMultiplier = def.RestartMultiplier
	}

	s := &Supervisor{cfg: cfg}

	spec := suture.Spec{
		EventHook:        s.onEvent,
		FailureBackoff:   cfg.RestartDelay,
		FailureThreshold: 5,
		FailureDecay:     30,
		Timeout:          cfg.ShutdownTimeout,
	}
	s.sup = suture.New("monitor", spec)
	return s
}

func (s *Supervisor) onEvent(ev suture.Event) {
	if s.cfg.Logger == nil {
		return
	}
	s.cfg.Logger.Warn(fmt.Sprintf("supervisor event: %s", ev))
}

// Add registers svc with the supervision tree. Must be called before Run,
// or while Run is already blocking -- suture supports dynamic Add.
func (s *Supervisor) Add(svc Service) {
	s.mu.Lock()
	s.names = append(s.names, svc.Name())
	s.mu.Unlock()
	s.sup.Add(namedService{svc})
}

// ServiceCount returns the number of registered services.
func (s *Supervisor) ServiceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.names)
}

// Names returns the names of all registered services, in registration
// order.
func (s *Supervisor) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Run starts all registered services and blocks until ctx is canceled,
// then waits (up to ShutdownTimeout) for them to stop.
func (s *Supervisor) Run(ctx context.Context) error {
	return s.sup.Serve(ctx)
}

// namedService adapts a Service into suture.Service (Serve(ctx) error)
// while exposing String() so suture's event hook can name it.
type namedService struct {
	Service
}

func (n namedService) String() string { return n.Name() }
