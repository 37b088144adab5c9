// SPDX-License-Identifier: MIT

package util

import (
	"fmt"
	"io"
	"runtime/debug"
)

// SafeGo runs fn on its own goroutine with panic recovery, so a panic in
// fn logs a stack trace instead of taking down the whole daemon process;
// the daemon uses it for its status-flush loop. onPanic, if non-nil,
// is invoked with the recovered value and the captured stack -- the
// daemon's status-flush loop has no further use for it today, but tests
// exercising recovery behavior do.
func SafeGo(name string, logger io.Writer, fn func(), onPanic func(interface{}, []byte)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()

				if logger != nil {
					_, _ = fmt.Fprintf(logger, "[PANIC in %s] %v\n%s\n", name, r, stack)
				}

				if onPanic != nil {
					onPanic(r, stack)
				}
			}
		}()

		fn()
	}()
}
