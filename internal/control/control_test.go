package control

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/heimdall/monitor/internal/config"
	"github.com/heimdall/monitor/internal/lock"
	"github.com/heimdall/monitor/internal/statusfile"
)

func testConfig(t *testing.T, root string) *config.Config {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(root, ".heimdall", "docs"), 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultConfig()
	cfg.ProjectRoot = root
	cfg.StartTimeoutSeconds = 2
	cfg.StopTimeoutSeconds = 2
	return cfg
}

func TestStatusNotConfiguredWhenHeimdallDirMissing(t *testing.T) {
	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.ProjectRoot = filepath.Join(root, "does-not-exist")

	svc := New("")
	status, err := svc.Status(cfg)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status != NotConfigured {
		t.Errorf("Status() = %q, want NotConfigured", status)
	}
}

func TestStatusNotRunningWhenNoPidFile(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t, root)

	svc := New("")
	status, err := svc.Status(cfg)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status != NotRunning {
		t.Errorf("Status() = %q, want NotRunning", status)
	}
}

func TestStatusStaleWhenPidAliveButLockNotHeld(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t, root)

	// Our own PID is alive but holds no monitor lock.
	if err := writePidFile(cfg.PidPath(), os.Getpid()); err != nil {
		t.Fatal(err)
	}

	svc := New("")
	status, err := svc.Status(cfg)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status != Stale {
		t.Errorf("Status() = %q, want StaleStatus", status)
	}
	if _, err := os.Stat(cfg.PidPath()); !os.IsNotExist(err) {
		t.Errorf("stale pid file should be cleaned up, stat err = %v", err)
	}
}

func TestStatusRunningWhenPidAliveAndLockHeld(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t, root)

	fl, err := lock.NewFileLock(cfg.LockPath())
	if err != nil {
		t.Fatal(err)
	}
	if err := fl.Acquire(); err != nil {
		t.Fatal(err)
	}
	defer fl.Release()

	if err := writePidFile(cfg.PidPath(), os.Getpid()); err != nil {
		t.Fatal(err)
	}

	svc := New("")
	status, err := svc.Status(cfg)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status != Running {
		t.Errorf("Status() = %q, want Running", status)
	}
}

func TestStopReturnsErrNotRunningWithoutPidFile(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t, root)

	svc := New("")
	if err := svc.Stop(cfg, time.Second); err != ErrNotRunning {
		t.Errorf("Stop() error = %v, want ErrNotRunning", err)
	}
}

func TestStartFailsFastWhenDaemonBinaryMissing(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t, root)
	cfg.StartTimeoutSeconds = 1

	svc := New("/nonexistent/heimdalld-binary-for-test")
	if err := svc.Start(cfg); err == nil {
		t.Fatal("Start() error = nil, want a spawn failure")
	}
}

func TestHealthUnhealthyWhenStatusFileMissing(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t, root)

	svc := New("")
	report := svc.Health(cfg)
	if report.Status != "unhealthy" {
		t.Errorf("Health().Status = %q, want unhealthy", report.Status)
	}
}

func TestHealthHealthyWhenRunningAndLockHeld(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t, root)

	fl, err := lock.NewFileLock(cfg.LockPath())
	if err != nil {
		t.Fatal(err)
	}
	if err := fl.Acquire(); err != nil {
		t.Fatal(err)
	}
	defer fl.Release()

	rec := statusfile.Record{
		State:       statusfile.Running,
		Pid:         os.Getpid(),
		StartedAt:   time.Now(),
		LastEventAt: time.Now(),
	}
	if err := statusfile.Write(cfg.StatusPath(), rec); err != nil {
		t.Fatal(err)
	}

	svc := New("")
	report := svc.Health(cfg)
	if report.Status != "healthy" {
		t.Errorf("Health().Status = %q, want healthy, reasons = %v", report.Status, report.Reasons)
	}
}
