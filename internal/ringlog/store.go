package ringlog

import (
	"fmt"
	"sync"

	"github.com/clier/clier/internal/pipeline"
)

// Store owns one RingLog per process name, all persisted under the same
// logs directory (<project-root>/.clier/logs per spec §6).
type Store struct {
	mu               sync.Mutex
	dir              string
	maxMemoryEntries int
	maxFileSize      int64
	maxFiles         int
	logs             map[string]*RingLog
}

func NewStore(dir string, maxMemoryEntries int, maxFileSize int64, maxFiles int) *Store {
	return &Store{
		dir:              dir,
		maxMemoryEntries: maxMemoryEntries,
		maxFileSize:      maxFileSize,
		maxFiles:         maxFiles,
		logs:             make(map[string]*RingLog),
	}
}

// For returns (creating if needed) the RingLog for a process name.
func (s *Store) For(name string) (*RingLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rl, ok := s.logs[name]; ok {
		return rl, nil
	}
	rl, err := New(name, s.dir,
		WithMaxMemoryEntries(s.maxMemoryEntries),
		WithMaxFileSize(s.maxFileSize),
		WithMaxFiles(s.maxFiles),
	)
	if err != nil {
		return nil, fmt.Errorf("ringlog store: %s: %w", name, err)
	}
	s.logs[name] = rl
	return rl, nil
}

// Add is a convenience wrapper around For(name).Add.
func (s *Store) Add(e pipeline.LogEntry) error {
	rl, err := s.For(e.ProcessName)
	if err != nil {
		return err
	}
	return rl.Add(e)
}

// Delete removes the named process's log files and forgets it.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	rl, ok := s.logs[name]
	delete(s.logs, name)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return rl.DeleteLogFiles()
}

// FlushAll closes every backing file handle; used during shutdown.
func (s *Store) FlushAll() error {
	s.mu.Lock()
	logs := make([]*RingLog, 0, len(s.logs))
	for _, rl := range s.logs {
		logs = append(logs, rl)
	}
	s.mu.Unlock()
	var firstErr error
	for _, rl := range logs {
		if err := rl.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
