// Package supervisor composes ConfigModel, ProcessManager, EventHandler,
// Orchestrator, the RingLog store, and the safety layer into the daemon's
// single top-level owner (spec §4, "Ownership & lifecycle"). It also
// implements the single-writer control-plane executor described in spec
// §5: every raw event and every external request is funneled through one
// goroutine so the Orchestrator's maps and the EventHandler's history need
// no per-field locking.
//
// Grounded on loykin-provisr's provisr.go top-level wiring (construct
// config, build specs, start a Manager, expose control methods)
// generalized from provisr's flat single-manager composition to the
// spec's five-component pipeline (ProcessManager/EventHandler/
// Orchestrator/RingLog/safety), which provisr does not decompose this way.
package supervisor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clier/clier/internal/clierr"
	"github.com/clier/clier/internal/events"
	"github.com/clier/clier/internal/orchestrator"
	"github.com/clier/clier/internal/patternmatcher"
	"github.com/clier/clier/internal/pipeline"
	"github.com/clier/clier/internal/procmodel"
	"github.com/clier/clier/internal/ringlog"
	"github.com/clier/clier/internal/safety"
)

// Paths locates the daemon's on-disk state (spec §6).
type Paths struct {
	ConfigFile string
	LogsDir    string
}

// Options configures a Supervisor at construction.
type Options struct {
	Paths       Paths
	ProjectName string
	Logger      *slog.Logger
	StopTimeout time.Duration
}

type job struct {
	fn   func() error
	done chan error
}

// Supervisor is the daemon's single top-level owner.
type Supervisor struct {
	opts   Options
	logger *slog.Logger

	jobs chan job
	quit chan struct{}
	wg   sync.WaitGroup

	// Everything below is touched only on the executor goroutine.
	cfg         pipeline.Config
	items       map[string]pipeline.Item
	matcher     *patternmatcher.Matcher
	logs        *ringlog.Store
	rateLimiter *safety.RateLimiter
	debouncer   *safety.Debouncer
	breaker     safety.CircuitBreakerConfig
	manager     *procmodel.Manager
	handler     *events.Handler
	orch        *orchestrator.Orchestrator

	reloadMu  sync.Mutex
	reloading bool
	started   bool
	startedAt time.Time
	stopOnce  sync.Once
}

// Status is the aggregate snapshot returned by daemon.status.
type Status struct {
	ProjectName  string `json:"projectName"`
	UptimeMs     int64  `json:"uptimeMs"`
	ProcessCount int    `json:"processCount"`
	RunningCount int    `json:"runningCount"`
}

func New(opts Options) *Supervisor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = procmodel.DefaultStopTimeout
	}
	return &Supervisor{
		opts:   opts,
		logger: opts.Logger,
		jobs:   make(chan job, 64),
		quit:   make(chan struct{}),
	}
}

// Start wires every component from cfg, launches the executor goroutine,
// and starts the entry points. It must be called once.
func (s *Supervisor) Start(cfg pipeline.Config) error {
	s.matcher = patternmatcher.New()
	s.logs = ringlog.NewStore(s.opts.Paths.LogsDir, ringlog.DefaultMaxMemoryEntries, ringlog.DefaultMaxFileSize, ringlog.DefaultMaxFiles)
	s.rateLimiter = safety.NewRateLimiter(cfg.Safety.MaxOpsPerMinute)
	s.debouncer = safety.NewDebouncer(time.Duration(cfg.Safety.DebounceMs) * time.Millisecond)
	if cb := cfg.Safety.CircuitBreaker; cb != nil && cb.Enabled {
		s.breaker = safety.CircuitBreakerConfig{
			ErrorThreshold: cb.ErrorThreshold, VolumeThreshold: safety.DefaultVolumeThreshold,
			TimeoutMs: cb.TimeoutMs, ResetTimeoutMs: cb.ResetTimeoutMs,
		}
	} else {
		s.breaker = safety.CircuitBreakerConfig{ErrorThreshold: safety.DefaultErrorThresholdPercent, ResetTimeoutMs: safety.DefaultResetTimeoutMs}
	}

	s.manager = procmodel.NewManager(procmodel.ManagerOptions{
		ProjectName: s.opts.ProjectName, GlobalEnvEnabled: cfg.GlobalEnvEnabled(),
		StopTimeout: s.opts.StopTimeout, Backoff: procmodel.DefaultBackoffPolicy(),
		RateLimiter: s.rateLimiter, BreakerConfig: s.breaker, Debouncer: s.debouncer,
		OnEvent: s.enqueueEvent, Logger: s.logger,
	})
	s.handler = events.New(s.matcher, s.lookupItem, s.logger)
	s.handler.Subscribe(s.onTypedEvent)
	s.orch = orchestrator.New(s.manager, s.opts.ProjectName, s.logger)

	go s.run()

	return s.Submit(func() error {
		s.applyConfigLocked(cfg)
		s.started = true
		s.startedAt = time.Now()
		return s.orch.Start()
	})
}

// Status reports aggregate daemon health for daemon.status.
func (s *Supervisor) Status() (st Status, err error) {
	err = s.Submit(func() error {
		procs := s.manager.ListProcesses()
		running := 0
		for _, p := range procs {
			if p.State == pipeline.StateRunning {
				running++
			}
		}
		st = Status{
			ProjectName:  s.opts.ProjectName,
			ProcessCount: len(procs),
			RunningCount: running,
		}
		if s.started {
			st.UptimeMs = time.Since(s.startedAt).Milliseconds()
		}
		return nil
	})
	return st, err
}

func (s *Supervisor) run() {
	for {
		select {
		case j := <-s.jobs:
			j.done <- j.fn()
		case <-s.quit:
			// drain remaining jobs with a shutdown error rather than leaving
			// callers blocked forever.
			for {
				select {
				case j := <-s.jobs:
					j.done <- fmt.Errorf("supervisor: shutting down")
				default:
					return
				}
			}
		}
	}
}

// Submit runs fn on the control-plane executor and waits for it to
// complete, preserving the single-writer discipline for every external
// caller (control server requests as much as internal event dispatch).
func (s *Supervisor) Submit(fn func() error) error {
	done := make(chan error, 1)
	select {
	case s.jobs <- job{fn: fn, done: done}:
	case <-s.quit:
		return fmt.Errorf("supervisor: shutting down")
	}
	select {
	case err := <-done:
		return err
	case <-s.quit:
		return fmt.Errorf("supervisor: shutting down")
	}
}

func (s *Supervisor) enqueueEvent(e pipeline.Event) {
	_ = s.Submit(func() error {
		s.routeRaw(e)
		return nil
	})
}

// routeRaw runs on the executor: it persists stream lines to RingLog and
// hands the event to EventHandler for typed-event derivation.
func (s *Supervisor) routeRaw(e pipeline.Event) {
	switch e.Type {
	case pipeline.EventStdout, pipeline.EventStderr:
		stream := pipeline.StreamStdout
		if e.Type == pipeline.EventStderr {
			stream = pipeline.StreamStderr
		}
		if line, ok := e.Data.(string); ok {
			_ = s.logs.Add(pipeline.LogEntry{TimestampMs: e.TimestampMs, Stream: stream, Data: line, ProcessName: e.ProcessName})
		}
	}
	s.handler.HandleRaw(e)
}

// onTypedEvent is the EventHandler subscriber that feeds the Orchestrator.
func (s *Supervisor) onTypedEvent(e pipeline.Event) {
	s.orch.HandleEvent(e)
}

func (s *Supervisor) lookupItem(name string) (pipeline.Item, bool) {
	it, ok := s.items[name]
	return it, ok
}

func (s *Supervisor) applyConfigLocked(cfg pipeline.Config) {
	s.cfg = cfg
	s.items = make(map[string]pipeline.Item)
	s.matcher.Clear()
	for _, it := range cfg.Flatten() {
		s.items[it.Name] = it
		for _, rule := range it.Events.OnStdout {
			_ = s.matcher.AddPattern(it.Name, rule.Pattern, rule.Emit)
		}
	}
	s.orch.Load(cfg)
}

// Reload atomically replaces the running configuration. Concurrent
// Reload calls observe ErrReloadInProgress rather than racing a
// half-updated state (Open Question 1); other requests queue on the
// executor behind the reload job.
func (s *Supervisor) Reload(cfg pipeline.Config, restartManualServices bool) error {
	s.reloadMu.Lock()
	if s.reloading {
		s.reloadMu.Unlock()
		return clierr.New(clierr.KindTransient, "Reload", clierr.ErrReloadInProgress)
	}
	s.reloading = true
	s.reloadMu.Unlock()
	defer func() {
		s.reloadMu.Lock()
		s.reloading = false
		s.reloadMu.Unlock()
	}()

	return s.Submit(func() error {
		s.applyConfigLocked(cfg)
		if err := s.orch.Start(); err != nil {
			return err
		}
		if restartManualServices {
			s.orch.RestartManuallyTriggered()
		}
		return nil
	})
}

// Stop performs the shutdown sequence from spec §4.10. Concurrent callers
// are serialized on sync.Once so the work happens exactly once.
func (s *Supervisor) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.quit)
		s.debouncer.CancelAll()
		s.manager.StopAll(s.opts.StopTimeout)
		if flushErr := s.logs.FlushAll(); flushErr != nil {
			err = flushErr
		}
	})
	return err
}

// --- Control-server-facing operations, each serialized through Submit. ---

func (s *Supervisor) ListProcesses() (out []pipeline.ProcessStatus, err error) {
	err = s.Submit(func() error {
		out = s.manager.ListProcesses()
		return nil
	})
	return out, err
}

func (s *Supervisor) StartProcess(name string) error {
	return s.Submit(func() error {
		it, ok := s.items[name]
		if !ok {
			return clierr.New(clierr.KindTransient, "StartProcess", clierr.ErrUnknownProcess)
		}
		return s.manager.StartProcess(it)
	})
}

func (s *Supervisor) StopProcess(name string, force bool, timeout time.Duration) error {
	return s.Submit(func() error { return s.manager.StopProcess(name, force, timeout) })
}

func (s *Supervisor) RestartProcess(name string, force bool) error {
	return s.Submit(func() error { return s.manager.RestartProcess(name, force) })
}

func (s *Supervisor) DeleteProcess(name string) error {
	return s.Submit(func() error {
		err := s.manager.DeleteProcess(name)
		if err == nil {
			_ = s.logs.Delete(name)
			delete(s.items, name)
		}
		return err
	})
}

func (s *Supervisor) AddProcess(it pipeline.Item) error {
	return s.Submit(func() error {
		if _, dup := s.items[it.Name]; dup {
			return clierr.New(clierr.KindTransient, "AddProcess", clierr.ErrDuplicateName)
		}
		s.items[it.Name] = it
		for _, rule := range it.Events.OnStdout {
			_ = s.matcher.AddPattern(it.Name, rule.Pattern, rule.Emit)
		}
		if it.Manual || len(it.TriggerOn) > 0 {
			return nil
		}
		return s.manager.StartProcess(it)
	})
}

func (s *Supervisor) WriteInput(name string, data []byte) error {
	return s.Submit(func() error { return s.manager.WriteInput(name, data) })
}

func (s *Supervisor) HasInputEnabled(name string) (enabled bool, err error) {
	err = s.Submit(func() error {
		enabled = s.manager.HasInputEnabled(name)
		return nil
	})
	return enabled, err
}

func (s *Supervisor) TriggerStage(name string) error {
	return s.Submit(func() error { return s.orch.TriggerStage(name) })
}

func (s *Supervisor) EmitEvent(e pipeline.Event) error {
	return s.Submit(func() error {
		s.orch.HandleEvent(e)
		return nil
	})
}

func (s *Supervisor) QueryEvents() (out []pipeline.Event, err error) {
	err = s.Submit(func() error {
		out = s.handler.History()
		return nil
	})
	return out, err
}

func (s *Supervisor) QueryLogs(name string, sinceMs int64, limit int) (out []pipeline.LogEntry, err error) {
	err = s.Submit(func() error {
		rl, ferr := s.logs.For(name)
		if ferr != nil {
			return ferr
		}
		if sinceMs > 0 {
			out = rl.GetSince(sinceMs)
		} else if limit > 0 {
			out = rl.GetLastN(limit)
		} else {
			out = rl.GetAll()
		}
		return nil
	})
	return out, err
}

func (s *Supervisor) ClearLogs(name string) error {
	return s.Submit(func() error {
		rl, err := s.logs.For(name)
		if err != nil {
			return err
		}
		rl.Clear()
		return nil
	})
}

// StagesMap returns the step-name → stage-name grouping for status
// display (spec §3, "Stage").
func (s *Supervisor) StagesMap() (out map[string]string, err error) {
	err = s.Submit(func() error {
		out = make(map[string]string, len(s.items))
		for name, it := range s.items {
			out[name] = it.StageName
		}
		return nil
	})
	return out, err
}
