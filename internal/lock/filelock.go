// SPDX-License-Identifier: MIT

//go:build linux

package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
)

// ErrAlreadyHeld is returned by Acquire when another live process already
// holds the lock. It is not a crash: it is the normal refusal to start a
// second instance against the same project root, and callers should
// surface it as a distinct exit code rather than a fatal error.
var ErrAlreadyHeld = errors.New("lock: already held by another process")

// ErrNotHeld is returned by Release when the lock was never acquired.
var ErrNotHeld = errors.New("lock: not held")

// FileLock is an advisory exclusive lock backed by flock(2), with the
// current PID recorded as the lock file's contents for diagnostics.
// Holding a FileLock guarantees no other process in the system holds the
// same path's lock; a crash releases the lock at the kernel level
// regardless of what the file's stale PID text says.
//
// Reference: mediamtx-stream-manager.sh acquire_lock() lines 837-906
type FileLock struct {
	mu   sync.Mutex
	path string
	file *os.File
	pid  int
}

// NewFileLock prepares a FileLock at path, creating the parent directory
// if needed. The lock is not acquired until Acquire is called.
func NewFileLock(path string) (*FileLock, error) {
	if path == "" {
		return nil, fmt.Errorf("lock: path cannot be empty")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("lock: create directory: %w", err)
	}

	return &FileLock{path: path, pid: os.Getpid()}, nil
}

// Acquire makes a single non-blocking attempt to take the lock: open (or
// create) the lock file, try LOCK_EX|LOCK_NB once, and on success write
// the current PID as decimal text. A stale lock file left behind by a
// dead process is removed first as a best-effort cleanup, but it is never
// load-bearing -- flock itself is the authority on whether the lock is
// held, since the kernel releases it unconditionally when the holder
// exits or crashes.
//
// Returns ErrAlreadyHeld if another live process holds the lock. Any
// other non-nil error is fatal (IoError in the caller's terms): the
// caller must not proceed.
func (fl *FileLock) Acquire() error {
	if stale, _ := isLockStale(fl.path); stale {
		_ = os.Remove(fl.path)
	}

	file, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("lock: open lock file: %w", err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = file.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return ErrAlreadyHeld
		}
		return fmt.Errorf("lock: flock: %w", err)
	}

	if err := file.Truncate(0); err != nil {
		_ = file.Close()
		return fmt.Errorf("lock: truncate: %w", err)
	}
	if _, err := file.Seek(0, 0); err != nil {
		_ = file.Close()
		return fmt.Errorf("lock: seek: %w", err)
	}
	if _, err := fmt.Fprintf(file, "%d\n", fl.pid); err != nil {
		_ = file.Close()
		return fmt.Errorf("lock: write pid: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return fmt.Errorf("lock: sync: %w", err)
	}

	fl.mu.Lock()
	fl.file = file
	fl.mu.Unlock()
	return nil
}

// Release unlocks, closes, and best-effort unlinks the lock file. Unlink
// failures (e.g. the file was already removed) are not reported: the lock
// itself is already released at that point.
func (fl *FileLock) Release() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.file == nil {
		return ErrNotHeld
	}

	if err := syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN); err != nil {
		return fmt.Errorf("lock: unlock: %w", err)
	}
	if err := fl.file.Close(); err != nil {
		return fmt.Errorf("lock: close: %w", err)
	}
	fl.file = nil

	if err := os.Remove(fl.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("lock: unlink: %w", err)
	}
	return nil
}

// Held reports whether this FileLock currently holds the lock.
func (fl *FileLock) Held() bool {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.file != nil
}

// isLockStale reports whether the lock file at lockPath refers to a
// process that is not alive. An absent file, or one this process cannot
// read, is treated conservatively (not stale / unknown) so a transient
// I/O hiccup never causes an incorrect removal.
func isLockStale(lockPath string) (bool, error) {
	if _, err := os.Stat(lockPath); os.IsNotExist(err) {
		return false, nil
	}

	data, err := os.ReadFile(lockPath)
	if err != nil {
		return false, err
	}

	pidStr := strings.TrimSpace(string(data))
	if pidStr == "" {
		return true, nil
	}

	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return true, nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return true, nil
	}

	// On Unix, FindProcess always succeeds; signal 0 is the actual liveness
	// probe. No age-based check: a long-running daemon's lock file mtime
	// says nothing about whether its holder is still alive.
	if err := process.Signal(syscall.Signal(0)); err == nil {
		return false, nil
	}
	return true, nil
}
