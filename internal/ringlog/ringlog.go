// Package ringlog implements the per-process bounded log buffer and its
// rotating file persistence (spec §4.7).
package ringlog

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/clier/clier/internal/pipeline"
)

// DefaultMaxMemoryEntries bounds the in-memory ring when a caller doesn't
// override it.
const DefaultMaxMemoryEntries = 1000

var unsafeNameChar = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeName replaces every character outside [A-Za-z0-9_-] with '_',
// per the persisted-state layout in spec §6.
func SanitizeName(name string) string {
	return unsafeNameChar.ReplaceAllString(name, "_")
}

func streamTag(s pipeline.Stream) string {
	switch s {
	case pipeline.StreamStdout:
		return "OUT"
	case pipeline.StreamStderr:
		return "ERR"
	default:
		return "CMD"
	}
}

func formatLine(e pipeline.LogEntry) string {
	ts := time.UnixMilli(e.TimestampMs).UTC().Format("2006-01-02T15:04:05.000Z")
	return fmt.Sprintf("%s [%s] %s\n", ts, streamTag(e.Stream), e.Data)
}

// RingLog is a bounded, oldest-discarded-first sequence of log entries for
// one process, with optional rotating file persistence.
type RingLog struct {
	mu               sync.RWMutex
	maxMemoryEntries int
	buf              []pipeline.LogEntry
	file             *RotatingFile
}

// Option configures New.
type Option func(*options)

type options struct {
	maxMemoryEntries int
	maxFileSize      int64
	maxFiles         int
}

func WithMaxMemoryEntries(n int) Option { return func(o *options) { o.maxMemoryEntries = n } }
func WithMaxFileSize(n int64) Option    { return func(o *options) { o.maxFileSize = n } }
func WithMaxFiles(n int) Option         { return func(o *options) { o.maxFiles = n } }

// New creates a RingLog. If dir is empty, no file persistence is attached
// (used for tests and for an in-memory-only history).
func New(name, dir string, opts ...Option) (*RingLog, error) {
	o := options{maxMemoryEntries: DefaultMaxMemoryEntries}
	for _, fn := range opts {
		fn(&o)
	}
	rl := &RingLog{maxMemoryEntries: o.maxMemoryEntries}
	if dir != "" {
		path := filepath.Join(dir, SanitizeName(name)+".log")
		f, err := NewRotatingFile(path, o.maxFileSize, o.maxFiles)
		if err != nil {
			return nil, err
		}
		rl.file = f
	}
	return rl, nil
}

// Add appends an entry, persisting it to the backing file (if any) and
// evicting the oldest in-memory entry once maxMemoryEntries is exceeded.
func (r *RingLog) Add(e pipeline.LogEntry) error {
	r.mu.Lock()
	r.buf = append(r.buf, e)
	if len(r.buf) > r.maxMemoryEntries {
		r.buf = r.buf[len(r.buf)-r.maxMemoryEntries:]
	}
	f := r.file
	r.mu.Unlock()

	if f != nil {
		if _, err := f.Write([]byte(formatLine(e))); err != nil {
			return fmt.Errorf("ringlog: persist entry: %w", err)
		}
	}
	return nil
}

// GetLastN returns the most recent n entries, oldest first.
func (r *RingLog) GetLastN(n int) []pipeline.LogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n <= 0 || n >= len(r.buf) {
		out := make([]pipeline.LogEntry, len(r.buf))
		copy(out, r.buf)
		return out
	}
	out := make([]pipeline.LogEntry, n)
	copy(out, r.buf[len(r.buf)-n:])
	return out
}

// GetSince returns every entry with TimestampMs >= tsMs, oldest first.
func (r *RingLog) GetSince(tsMs int64) []pipeline.LogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []pipeline.LogEntry
	for _, e := range r.buf {
		if e.TimestampMs >= tsMs {
			out = append(out, e)
		}
	}
	return out
}

// GetAll returns every in-memory entry, oldest first.
func (r *RingLog) GetAll() []pipeline.LogEntry {
	return r.GetLastN(0)
}

// Clear empties the in-memory buffer. The backing file is untouched.
func (r *RingLog) Clear() {
	r.mu.Lock()
	r.buf = nil
	r.mu.Unlock()
}

// Flush closes the backing file handle, awaiting any rotation in flight.
func (r *RingLog) Flush() error {
	r.mu.RLock()
	f := r.file
	r.mu.RUnlock()
	if f == nil {
		return nil
	}
	return f.Close()
}

// DeleteLogFiles clears memory and unlinks the current file plus every
// rotated backup.
func (r *RingLog) DeleteLogFiles() error {
	r.Clear()
	r.mu.RLock()
	f := r.file
	r.mu.RUnlock()
	if f == nil {
		return nil
	}
	return f.Remove()
}
