// SPDX-License-Identifier: MIT

// Command heimdalld is the long-lived per-project monitor daemon (spec
// §4.6, component C6): it is never invoked directly by an operator --
// internal/control spawns it as a detached child and watches its status
// record for readiness.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/heimdall/monitor/internal/config"
	"github.com/heimdall/monitor/internal/daemon"
	"github.com/heimdall/monitor/internal/health"
	"github.com/heimdall/monitor/internal/shutdown"
)

const (
	exitSuccess        = 0
	exitGeneralError   = 1
	exitAlreadyRunning = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the entry point, extracted for testability. It returns a
// process exit code rather than calling os.Exit directly.
func run(args []string) int {
	fs := flag.NewFlagSet("heimdalld", flag.ContinueOnError)
	projectRoot := fs.String("project-root", "", "project root directory (default: current directory)")
	if err := fs.Parse(args); err != nil {
		return exitGeneralError
	}

	root := *projectRoot
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "heimdalld: determine working directory: %v\n", err)
			return exitGeneralError
		}
		root = wd
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "heimdalld: resolve project root: %v\n", err)
		return exitGeneralError
	}

	cfg, logger, err := loadConfigAndLogger(absRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "heimdalld: %v\n", err)
		return exitGeneralError
	}

	coordinator := shutdown.New()
	defer coordinator.Close()

	if cfg.HealthListenAddr != "" {
		go runHealthServer(coordinator.Context(), cfg, logger)
	}

	d := daemon.New(cfg, logger)
	if err := d.Run(coordinator.Context()); err != nil {
		if err == daemon.ErrAlreadyRunning {
			logger.Error("heimdalld: refusing to start, another instance holds the lock")
			return exitAlreadyRunning
		}
		logger.Error("heimdalld: run failed", "error", err)
		return exitGeneralError
	}

	return exitSuccess
}

// runHealthServer serves /healthz and /metrics for this project's daemon
// until ctx is canceled, alongside the daemon's own run loop -- the same
// shutdown coordinator drives both, so a SIGTERM stops them together.
func runHealthServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) {
	handler := health.NewHandler(
		health.FileStatusProvider{StatusPath: cfg.StatusPath()},
		cfg.LockPath(),
		health.Thresholds{
			MaxEventAge:              cfg.HealthMaxEventAge(),
			MaxPermanentFailureRatio: cfg.HealthMaxPermanentFailureRatio,
		},
	)
	if err := health.ListenAndServeReady(ctx, cfg.HealthListenAddr, handler, nil); err != nil {
		logger.Error("heimdalld: health server stopped", "error", err)
	}
}

// loadConfigAndLogger layers the project's config.yaml (if present) on
// top of built-in defaults and environment variables, then builds a
// logger writing to the project's configured log path.
func loadConfigAndLogger(projectRoot string) (*config.Config, *slog.Logger, error) {
	heimdallDir := filepath.Join(projectRoot, ".heimdall")
	configPath := filepath.Join(heimdallDir, config.ConfigFileName)

	var opts []config.Option
	if _, err := os.Stat(configPath); err == nil {
		opts = append(opts, config.WithYAMLFile(configPath))
	}

	kc, err := config.NewKoanfConfig(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	cfg, err := kc.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.ProjectRoot = projectRoot

	if err := os.MkdirAll(filepath.Dir(cfg.LogPath()), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	// #nosec G304 - path is derived from the administrator-controlled project root
	logFile, err := os.OpenFile(cfg.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(logFile, nil))

	return cfg, logger, nil
}
