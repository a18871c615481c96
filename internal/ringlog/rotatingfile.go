package ringlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DefaultMaxFileSize is the rotation threshold when a store doesn't
// override it (spec §4.7).
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

// DefaultMaxFiles is the number of rotated backups kept beyond the
// current file.
const DefaultMaxFiles = 5

// RotatingFile is an append-only file that rotates by renaming numbered
// siblings — path, path.1, path.2, … path.maxFiles — rather than the
// timestamp-suffixed scheme a generic log-rotation library would use.
// See DESIGN.md for why this is hand-rolled instead of built on
// gopkg.in/natefinch/lumberjack.v2.
type RotatingFile struct {
	mu       sync.Mutex
	path     string
	maxSize  int64
	maxFiles int
	f        *os.File
	size     int64
}

func NewRotatingFile(path string, maxSize int64, maxFiles int) (*RotatingFile, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("ringlog: mkdir for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("ringlog: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("ringlog: stat %s: %w", path, err)
	}
	return &RotatingFile{path: path, maxSize: maxSize, maxFiles: maxFiles, f: f, size: info.Size()}, nil
}

// Write appends b, rotating first if it would overflow maxSize.
func (r *RotatingFile) Write(b []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return 0, fmt.Errorf("ringlog: write to closed file %s", r.path)
	}
	if r.size > 0 && r.size+int64(len(b)) > r.maxSize {
		if err := r.rotateLocked(); err != nil {
			return 0, err
		}
	}
	n, err := r.f.Write(b)
	r.size += int64(n)
	return n, err
}

// rotateLocked performs the numbered rename-shift and opens a fresh
// current file. Callers must hold r.mu.
func (r *RotatingFile) rotateLocked() error {
	if err := r.f.Close(); err != nil {
		return fmt.Errorf("ringlog: close %s before rotate: %w", r.path, err)
	}
	r.f = nil

	oldest := fmt.Sprintf("%s.%d", r.path, r.maxFiles)
	_ = os.Remove(oldest)
	for k := r.maxFiles - 1; k >= 1; k-- {
		from := fmt.Sprintf("%s.%d", r.path, k)
		to := fmt.Sprintf("%s.%d", r.path, k+1)
		if _, err := os.Stat(from); err == nil {
			_ = os.Rename(from, to)
		}
	}
	if _, err := os.Stat(r.path); err == nil {
		if err := os.Rename(r.path, r.path+".1"); err != nil {
			return fmt.Errorf("ringlog: rename current %s: %w", r.path, err)
		}
	}

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("ringlog: reopen %s after rotate: %w", r.path, err)
	}
	r.f = f
	r.size = 0
	return nil
}

// Close flushes and closes the current file handle. Any rotation already
// in progress holds r.mu so Close naturally awaits it.
func (r *RotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

// Remove unlinks the current file and every rotated backup.
func (r *RotatingFile) Remove() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f != nil {
		_ = r.f.Close()
		r.f = nil
	}
	var firstErr error
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) && firstErr == nil {
		firstErr = err
	}
	for k := 1; k <= r.maxFiles; k++ {
		p := fmt.Sprintf("%s.%d", r.path, k)
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
