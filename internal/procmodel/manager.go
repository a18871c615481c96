package procmodel

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/clier/clier/internal/clierr"
	"github.com/clier/clier/internal/env"
	"github.com/clier/clier/internal/pipeline"
	"github.com/clier/clier/internal/safety"
)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	ProjectName      string
	Env              *env.Env
	GlobalEnvEnabled bool
	StopTimeout      time.Duration
	Backoff          BackoffPolicy
	RateLimiter      *safety.RateLimiter
	BreakerConfig    safety.CircuitBreakerConfig
	OnEvent          func(pipeline.Event)
	OnBreakerObs     func(processName string, obs safety.Observation)
	Debouncer        *safety.Debouncer
	Logger           *slog.Logger
}

// Manager maps process name to ManagedProcess (spec §4.5).
type Manager struct {
	opts     ManagerOptions
	mu       sync.Mutex
	procs    map[string]*ManagedProcess
	breakers map[string]*safety.CircuitBreaker
}

func NewManager(opts ManagerOptions) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RateLimiter == nil {
		opts.RateLimiter = safety.NewRateLimiter(60)
	}
	if opts.Debouncer == nil {
		opts.Debouncer = safety.NewDebouncer(0)
	}
	return &Manager{
		opts:     opts,
		procs:    make(map[string]*ManagedProcess),
		breakers: make(map[string]*safety.CircuitBreaker),
	}
}

func (m *Manager) breakerFor(name string) *safety.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[name]; ok {
		return cb
	}
	cfg := m.opts.BreakerConfig
	cfg.Name = name
	cb := safety.NewCircuitBreaker(cfg, func(o safety.Observation) {
		if m.opts.OnBreakerObs != nil {
			m.opts.OnBreakerObs(name, o)
		}
	})
	m.breakers[name] = cb
	return cb
}

// StartProcess rejects if the name is already live; otherwise constructs
// (or reuses) the ManagedProcess and submits the actual spawn through the
// RateLimiter, wrapping services with a CircuitBreaker.
func (m *Manager) StartProcess(item pipeline.Item) error {
	m.mu.Lock()
	mp, exists := m.procs[item.Name]
	if exists && mp.IsRunning() {
		m.mu.Unlock()
		return clierr.New(clierr.KindTransient, "StartProcess", clierr.ErrAlreadyRunning)
	}
	if !exists {
		name := item.Name
		mp = New(Options{
			Item: item, ProjectName: m.opts.ProjectName, Env: m.opts.Env,
			GlobalEnvEnabled: m.opts.GlobalEnvEnabled, StopTimeout: m.opts.StopTimeout,
			Backoff: m.opts.Backoff, OnEvent: m.opts.OnEvent, Logger: m.opts.Logger,
			OnRestartDue: m.restartTrigger(name),
		})
		m.procs[item.Name] = mp
	} else {
		mp.UpdateItem(item)
	}
	m.mu.Unlock()

	start := func() error {
		var startErr error
		if rlErr := m.opts.RateLimiter.Submit(context.Background(), func() { startErr = mp.Start() }); rlErr != nil {
			return fmt.Errorf("procmodel: rate limiter: %w", rlErr)
		}
		return startErr
	}
	if item.Kind == pipeline.KindService {
		cb := m.breakerFor(item.Name)
		_, err := cb.Execute(func() (any, error) { return nil, start() })
		if err != nil {
			if err == safety.ErrOpen {
				return clierr.New(clierr.KindTransient, "StartProcess", clierr.ErrCircuitOpen)
			}
			return err
		}
		return nil
	}
	return start()
}

// restartTrigger builds the OnRestartDue hook for the named process: it
// coalesces crash-triggered restarts through the Debouncer, keyed by name,
// then spawns through the same RateLimiter path as any other start so a
// crash loop cannot bypass the spawn-rate ceiling.
func (m *Manager) restartTrigger(name string) func() {
	return func() {
		m.opts.Debouncer.Submit(name, func() {
			mp, ok := m.get(name)
			if !ok {
				return
			}
			_ = m.opts.RateLimiter.Submit(context.Background(), func() { _ = mp.Start() })
		})
	}
}

func (m *Manager) get(name string) (*ManagedProcess, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mp, ok := m.procs[name]
	return mp, ok
}

func (m *Manager) StopProcess(name string, force bool, timeout time.Duration) error {
	mp, ok := m.get(name)
	if !ok {
		return clierr.New(clierr.KindTransient, "StopProcess", clierr.ErrUnknownProcess)
	}
	return mp.Stop(force, timeout)
}

func (m *Manager) RestartProcess(name string, force bool) error {
	mp, ok := m.get(name)
	if !ok {
		return clierr.New(clierr.KindTransient, "RestartProcess", clierr.ErrUnknownProcess)
	}
	return mp.Restart(force)
}

// DeleteProcess stops the process (if running) and forgets it entirely.
func (m *Manager) DeleteProcess(name string) error {
	mp, ok := m.get(name)
	if !ok {
		return clierr.New(clierr.KindTransient, "DeleteProcess", clierr.ErrUnknownProcess)
	}
	if err := mp.Stop(false, m.opts.StopTimeout); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.procs, name)
	delete(m.breakers, name)
	m.mu.Unlock()
	return nil
}

func (m *Manager) WriteInput(name string, data []byte) error {
	mp, ok := m.get(name)
	if !ok {
		return clierr.New(clierr.KindTransient, "WriteInput", clierr.ErrUnknownProcess)
	}
	if !mp.HasInputEnabled() {
		return clierr.New(clierr.KindTransient, "WriteInput", clierr.ErrInputNotEnabled)
	}
	return mp.WriteInput(data)
}

func (m *Manager) HasInputEnabled(name string) bool {
	mp, ok := m.get(name)
	return ok && mp.HasInputEnabled()
}

func (m *Manager) IsRunning(name string) bool {
	mp, ok := m.get(name)
	return ok && mp.IsRunning()
}

// ListProcesses returns a snapshot of every known process's status,
// ordered by name for stable output.
func (m *Manager) ListProcesses() []pipeline.ProcessStatus {
	m.mu.Lock()
	names := make([]string, 0, len(m.procs))
	procs := make(map[string]*ManagedProcess, len(m.procs))
	for n, p := range m.procs {
		names = append(names, n)
		procs[n] = p
	}
	m.mu.Unlock()
	sort.Strings(names)
	out := make([]pipeline.ProcessStatus, 0, len(names))
	for _, n := range names {
		out = append(out, procs[n].Status())
	}
	return out
}

// StopAll stops every tracked process concurrently, within the given
// per-process timeout, used during supervisor shutdown.
func (m *Manager) StopAll(timeout time.Duration) {
	m.mu.Lock()
	procs := make([]*ManagedProcess, 0, len(m.procs))
	for _, p := range m.procs {
		procs = append(procs, p)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range procs {
		wg.Add(1)
		go func(p *ManagedProcess) {
			defer wg.Done()
			_ = p.Stop(false, timeout)
		}(p)
	}
	wg.Wait()
}
