// Package scanner implements the periodic polling tree-walk that produces
// FileChangeEvent values by diffing the watched directory tree against its
// previously observed state.
package scanner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/heimdall/monitor/internal/events"
)

// DefaultInterval is the default time between sweeps.
const DefaultInterval = 5 * time.Second

// MinInterval is the minimum accepted sweep interval; configuring anything
// smaller is a startup-fatal configuration error.
const MinInterval = 1 * time.Second

// DefaultMaxFingerprintBytes bounds how much of a file is read to compute
// its content fingerprint; above this size, the scanner falls back to
// (modified_time, size) equality to bound I/O cost.
const DefaultMaxFingerprintBytes = 10 * 1024 * 1024

// DefaultExtensions are the file extensions tracked by default.
var DefaultExtensions = []string{".md", ".markdown", ".mdown", ".mkd"}

// fileInfo is the per-path record kept in the scanner's known-state map.
type fileInfo struct {
	modTime     time.Time
	size        int64
	fingerprint uint64
	approximate bool // true when fingerprint falls back to (modTime,size) only
}

// Config configures a Scanner.
type Config struct {
	Root                string
	Extensions          []string
	IgnoreSegments      []string
	Interval            time.Duration
	MaxFingerprintBytes int64
	Logger              *slog.Logger
}

// Scanner walks Config.Root on each Sweep, diffing against the previous
// sweep's view to produce FileChangeEvent values. Not safe for concurrent
// Sweep calls; the daemon guarantees sweeps never overlap.
type Scanner struct {
	cfg   Config
	known map[string]fileInfo

	baseline bool // true until the first sweep has completed
}

// New constructs a Scanner, applying defaults for zero-valued fields.
func New(cfg Config) *Scanner {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxFingerprintBytes <= 0 {
		cfg.MaxFingerprintBytes = DefaultMaxFingerprintBytes
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = DefaultExtensions
	}
	return &Scanner{
		cfg:      cfg,
		known:    make(map[string]fileInfo),
		baseline: true,
	}
}

func (s *Scanner) logf(format string, args ...interface{}) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Info(fmt.Sprintf(format, args...))
	}
}

func (s *Scanner) warnf(format string, args ...interface{}) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Warn(fmt.Sprintf(format, args...))
	}
}

// eligible reports whether path should be tracked: a regular file with a
// configured extension whose path, as walked, does not contain any
// configured ignore segment. Ignore segments are matched against that
// walked path, not the symlink-resolved canonical path.
func (s *Scanner) eligible(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	found := false
	for _, e := range s.cfg.Extensions {
		if ext == e {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	if len(s.cfg.IgnoreSegments) == 0 {
		return true
	}
	parts := strings.Split(filepath.Clean(path), string(filepath.Separator))
	for _, part := range parts {
		for _, seg := range s.cfg.IgnoreSegments {
			if seg != "" && part == seg {
				return false
			}
		}
	}
	return true
}

// Sweep performs one complete traversal of cfg.Root, diffs the result
// against the previous sweep's known state, and returns the events in
// stable path order. The very first sweep establishes the baseline and
// returns no events regardless of what it finds.
func (s *Scanner) Sweep(ctx context.Context) ([]events.FileChangeEvent, error) {
	now := time.Now()
	current := make(map[string]fileInfo)
	visited := make(map[string]struct{})

	err := filepath.Walk(s.cfg.Root, func(path string, info os.FileInfo, walkErr error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if walkErr != nil {
			s.warnf("scanner: walk error at %s: %v", path, walkErr)
			return nil
		}
		if info.IsDir() {
			return nil
		}

		resolved, rerr := filepath.EvalSymlinks(path)
		if rerr != nil {
			s.warnf("scanner: cannot resolve %s: %v", path, rerr)
			return nil
		}
		if _, seen := visited[resolved]; seen {
			return nil
		}
		visited[resolved] = struct{}{}

		if !s.eligible(path) {
			return nil
		}

		fi, statErr := os.Stat(resolved)
		if statErr != nil {
			s.warnf("scanner: cannot stat %s: %v", path, statErr)
			return nil
		}

		prev, hadPrev := s.known[path]
		needsFingerprint := !hadPrev || prev.modTime != fi.ModTime() || prev.size != fi.Size()

		entry := fileInfo{modTime: fi.ModTime(), size: fi.Size()}
		if fi.Size() > s.cfg.MaxFingerprintBytes {
			entry.approximate = true
		} else if needsFingerprint {
			sum, ferr := fingerprintFile(resolved)
			if ferr != nil {
				s.warnf("scanner: cannot fingerprint %s: %v", path, ferr)
				return nil
			}
			entry.fingerprint = sum
		} else {
			entry.fingerprint = prev.fingerprint
		}

		current[path] = entry
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanner: sweep failed: %w", err)
	}

	diff := s.diff(current)
	s.known = current

	if s.baseline {
		s.baseline = false
		return nil, nil
	}

	sort.Slice(diff, func(i, j int) bool { return diff[i].Path < diff[j].Path })
	for i := range diff {
		diff[i].DetectedAt = now
	}
	return diff, nil
}

// diff computes the Added/Modified/Deleted events between s.known and
// current, per the detection algorithm: pure (modTime,size) drift with an
// unchanged fingerprint is not a modification.
func (s *Scanner) diff(current map[string]fileInfo) []events.FileChangeEvent {
	var out []events.FileChangeEvent

	for path, cur := range current {
		prev, existed := s.known[path]
		switch {
		case !existed:
			out = append(out, events.FileChangeEvent{Path: path, Kind: events.Added})
		case cur.approximate || prev.approximate:
			if cur.modTime != prev.modTime || cur.size != prev.size {
				out = append(out, events.FileChangeEvent{Path: path, Kind: events.Modified})
			}
		case cur.fingerprint != prev.fingerprint:
			out = append(out, events.FileChangeEvent{Path: path, Kind: events.Modified})
		}
	}
	for path := range s.known {
		if _, stillPresent := current[path]; !stillPresent {
			out = append(out, events.FileChangeEvent{Path: path, Kind: events.Deleted})
		}
	}
	return out
}

// KnownCount returns the number of tracked paths as of the last sweep, for
// the files_tracked statistic.
func (s *Scanner) KnownCount() int {
	return len(s.known)
}

func fingerprintFile(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}
