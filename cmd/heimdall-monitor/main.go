// SPDX-License-Identifier: MIT

// Command heimdall-monitor is the operator-facing Supervisor Service CLI
// (spec §4.7/§6): start, stop, restart, status, and health, each mapped
// to the daemon for one project root.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/heimdall/monitor/internal/config"
	"github.com/heimdall/monitor/internal/control"
)

// Exit codes, one table per spec §6's command-line surface.
const (
	exitOK = 0

	exitStartAlreadyRunning = 2
	exitStartFailed         = 3
	exitStartConfigInvalid  = 4

	exitStopNotRunning = 1
	exitStopTimeout    = 5

	exitStatusNotRunning = 1
	exitStatusStale      = 6

	exitHealthDegraded  = 7
	exitHealthUnhealthy = 8
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the entry point, extracted for testability.
func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: heimdall-monitor <start|stop|restart|status|health> [flags]")
		return exitStatusNotRunning
	}

	command := args[0]
	rest := args[1:]

	switch command {
	case "start":
		return runStart(rest)
	case "stop":
		return runStop(rest)
	case "restart":
		return runRestart(rest)
	case "status":
		return runStatus(rest)
	case "health":
		return runHealth(rest)
	default:
		fmt.Fprintf(os.Stderr, "heimdall-monitor: unknown command %q\n", command)
		return exitStatusNotRunning
	}
}

func commonFlags(name string) (*flag.FlagSet, *string, *int) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	projectRoot := fs.String("project-root", "", "project root directory (default: current directory)")
	timeoutSeconds := fs.Int("timeout", 0, "operation timeout in seconds (default: config's value)")
	return fs, projectRoot, timeoutSeconds
}

func loadConfig(projectRootFlag string) (*config.Config, error) {
	root := projectRootFlag
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determine working directory: %w", err)
		}
		root = wd
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}

	configPath := filepath.Join(absRoot, ".heimdall", config.ConfigFileName)
	var opts []config.Option
	if _, err := os.Stat(configPath); err == nil {
		opts = append(opts, config.WithYAMLFile(configPath))
	}

	kc, err := config.NewKoanfConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	cfg, err := kc.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.ProjectRoot = absRoot
	return cfg, nil
}

func runStart(args []string) int {
	fs, projectRoot, _ := commonFlags("start")
	if err := fs.Parse(args); err != nil {
		return exitStartConfigInvalid
	}

	cfg, err := loadConfig(*projectRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "heimdall-monitor start: %v\n", err)
		return exitStartConfigInvalid
	}

	svc := control.New("")
	if err := svc.Start(cfg); err != nil {
		if err == control.ErrAlreadyRunning {
			fmt.Fprintln(os.Stderr, "heimdall-monitor start: already running")
			return exitStartAlreadyRunning
		}
		fmt.Fprintf(os.Stderr, "heimdall-monitor start: %v\n", err)
		return exitStartFailed
	}

	fmt.Println("started")
	return exitOK
}

func runStop(args []string) int {
	fs, projectRoot, timeoutSeconds := commonFlags("stop")
	if err := fs.Parse(args); err != nil {
		return exitStopNotRunning
	}

	cfg, err := loadConfig(*projectRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "heimdall-monitor stop: %v\n", err)
		return exitStopNotRunning
	}

	timeout := cfg.StopTimeout()
	if *timeoutSeconds > 0 {
		timeout = time.Duration(*timeoutSeconds) * time.Second
	}

	svc := control.New("")
	err = svc.Stop(cfg, timeout)
	switch {
	case err == nil:
		fmt.Println("stopped")
		return exitOK
	case err == control.ErrNotRunning:
		fmt.Fprintln(os.Stderr, "heimdall-monitor stop: not running")
		return exitStopNotRunning
	case err == control.ErrStopTimeout:
		fmt.Fprintln(os.Stderr, "heimdall-monitor stop: timed out, hard-killed")
		return exitStopTimeout
	default:
		fmt.Fprintf(os.Stderr, "heimdall-monitor stop: %v\n", err)
		return exitStopNotRunning
	}
}

func runRestart(args []string) int {
	fs, projectRoot, timeoutSeconds := commonFlags("restart")
	if err := fs.Parse(args); err != nil {
		return exitStartConfigInvalid
	}

	cfg, err := loadConfig(*projectRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "heimdall-monitor restart: %v\n", err)
		return exitStartConfigInvalid
	}

	stopTimeout := cfg.StopTimeout()
	if *timeoutSeconds > 0 {
		stopTimeout = time.Duration(*timeoutSeconds) * time.Second
	}

	svc := control.New("")
	err = svc.Restart(cfg, stopTimeout)
	switch {
	case err == nil:
		fmt.Println("restarted")
		return exitOK
	case err == control.ErrStopTimeout:
		fmt.Fprintln(os.Stderr, "heimdall-monitor restart: stop timed out, hard-killed; start succeeded")
		return exitStopTimeout
	case err == control.ErrAlreadyRunning:
		fmt.Fprintln(os.Stderr, "heimdall-monitor restart: already running")
		return exitStartAlreadyRunning
	default:
		fmt.Fprintf(os.Stderr, "heimdall-monitor restart: %v\n", err)
		return exitStartFailed
	}
}

func runStatus(args []string) int {
	fs, projectRoot, _ := commonFlags("status")
	jsonOutput := fs.Bool("json", false, "emit JSON output")
	if err := fs.Parse(args); err != nil {
		return exitStatusNotRunning
	}

	cfg, err := loadConfig(*projectRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "heimdall-monitor status: %v\n", err)
		return exitStatusNotRunning
	}

	svc := control.New("")
	status, err := svc.Status(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "heimdall-monitor status: %v\n", err)
		return exitStatusNotRunning
	}

	if *jsonOutput {
		_ = json.NewEncoder(os.Stdout).Encode(map[string]string{"status": string(status)})
	} else {
		fmt.Println(status)
	}

	switch status {
	case control.Running:
		return exitOK
	case control.Stale:
		return exitStatusStale
	default:
		return exitStatusNotRunning
	}
}

func runHealth(args []string) int {
	fs, projectRoot, _ := commonFlags("health")
	jsonOutput := fs.Bool("json", false, "emit JSON output")
	if err := fs.Parse(args); err != nil {
		return exitHealthUnhealthy
	}

	cfg, err := loadConfig(*projectRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "heimdall-monitor health: %v\n", err)
		return exitHealthUnhealthy
	}

	svc := control.New("")
	report := svc.Health(cfg)

	if *jsonOutput {
		_ = json.NewEncoder(os.Stdout).Encode(report)
	} else {
		fmt.Printf("status: %s\n", report.Status)
		for _, reason := range report.Reasons {
			fmt.Printf("  - %s\n", reason)
		}
	}

	switch report.Status {
	case "healthy":
		return exitOK
	case "degraded":
		return exitHealthDegraded
	default:
		return exitHealthUnhealthy
	}
}
