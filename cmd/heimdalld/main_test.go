package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/heimdall/monitor/internal/lock"
)

func TestRunExitsAlreadyRunningWhenLockHeld(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".heimdall", "docs"), 0o755); err != nil {
		t.Fatal(err)
	}

	fl, err := lock.NewFileLock(filepath.Join(root, ".heimdall", "monitor.lock"))
	if err != nil {
		t.Fatal(err)
	}
	if err := fl.Acquire(); err != nil {
		t.Fatal(err)
	}
	defer fl.Release()

	done := make(chan int, 1)
	go func() {
		done <- run([]string{"--project-root", root})
	}()

	select {
	case code := <-done:
		if code != exitAlreadyRunning {
			t.Errorf("run() = %d, want %d (exitAlreadyRunning)", code, exitAlreadyRunning)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run() did not return promptly when the lock was already held")
	}
}

func TestRunRejectsUnknownFlag(t *testing.T) {
	if code := run([]string{"--not-a-real-flag"}); code != exitGeneralError {
		t.Errorf("run() = %d, want %d (exitGeneralError)", code, exitGeneralError)
	}
}
