package dispatch

import (
	"github.com/heimdall/monitor/internal/events"
)

// BuildArgv implements the event -> command mapping: Added/Modified map to
// "load", Deleted maps to "remove-file". fixedArgs are prepended between
// the base command and the verb. The returned slice is the argument list
// passed to exec.Command after the base command itself (argv[0]); path is
// always its own argv element, never interpolated into a shell string, so
// filenames with spaces or shell metacharacters are passed through intact.
func BuildArgv(fixedArgs []string, ev events.FileChangeEvent) []string {
	verb := "load"
	if ev.Kind == events.Deleted {
		verb = "remove-file"
	}

	argv := make([]string, 0, len(fixedArgs)+2)
	argv = append(argv, fixedArgs...)
	argv = append(argv, verb, ev.Path)
	return argv
}
