// SPDX-License-Identifier: MIT

package util

import (
	"fmt"
	"os"
	"sync"
)

// ResourceTracker records which child processes are currently in flight,
// so a caller can assert none were abandoned across a shutdown or a
// test run. internal/dispatch registers each subprocess it starts and
// unregisters it the moment Wait returns (success, failure, or a
// kill-on-timeout); anything still registered afterward is a leak.
type ResourceTracker struct {
	mu        sync.Mutex
	processes map[string]*os.Process
}

// NewResourceTracker creates an empty tracker.
func NewResourceTracker() *ResourceTracker {
	return &ResourceTracker{processes: make(map[string]*os.Process)}
}

// TrackProcess registers a running child process under name.
func (rt *ResourceTracker) TrackProcess(name string, process *os.Process) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.processes[name] = process
}

// UntrackProcess removes a process once its exit has been observed.
func (rt *ResourceTracker) UntrackProcess(name string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.processes, name)
}

// LeakedResources returns the names of all processes still registered.
// Empty means every tracked process has been waited on.
func (rt *ResourceTracker) LeakedResources() []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	var leaked []string
	for name := range rt.processes {
		leaked = append(leaked, fmt.Sprintf("process:%s", name))
	}
	return leaked
}

// Count returns the number of processes currently tracked.
func (rt *ResourceTracker) Count() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.processes)
}
