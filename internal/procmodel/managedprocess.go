// Package procmodel implements ManagedProcess (spec §4.1) and ProcessManager
// (spec §4.5): spawning, signaling, and monitoring a single shell-command
// child with the three-way drain guarantee, and the name-keyed collection
// of such processes that republishes their raw activity as typed events.
//
// The stream-capture and drain-join shape is grounded on charliek-prox's
// internal/supervisor/process.go (outputWg-gated monitor, bufio.Scanner
// readers, done-channel drain timeout); the spawn/signal-escalation and
// process-group handling is grounded on loykin-provisr's
// internal/process/process.go (Setpgid, SIGTERM-then-SIGKILL, monitoring
// ownership to avoid a second concurrent cmd.Wait).
package procmodel

import (
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/clier/clier/internal/detector"
	"github.com/clier/clier/internal/env"
	"github.com/clier/clier/internal/pipeline"
)

const (
	// DefaultStopTimeout is the grace period before escalating to SIGKILL.
	DefaultStopTimeout = 5 * time.Second
	// forceEmissionGrace is the additional wait past timeoutMs before the
	// drain join is abandoned and exit is emitted with whatever was seen.
	forceEmissionGrace = 500 * time.Millisecond
)

// Options configures a ManagedProcess.
type Options struct {
	Item             pipeline.Item
	ProjectName      string
	Env              *env.Env
	GlobalEnvEnabled bool
	StopTimeout      time.Duration
	Backoff          BackoffPolicy
	OnEvent          func(pipeline.Event)
	// OnRestartDue, if set, replaces the default "call Start directly"
	// automatic-restart trigger — the Manager wires this through the
	// Debouncer and RateLimiter so crash-triggered restart storms are
	// coalesced and rate-limited the same as any other spawn.
	OnRestartDue func()
	Logger       *slog.Logger
}

// ManagedProcess owns exactly one pipeline item across its full restart
// history: the same instance is reused for every (re)start so restart
// counters and backoff state persist.
type ManagedProcess struct {
	opts Options

	mu            sync.Mutex
	item          pipeline.Item
	cmd           *exec.Cmd
	stdin         io.WriteCloser
	state         pipeline.State
	startedAt     time.Time
	pid           int
	restartCount  int
	attempt       int
	stopRequested bool
	forced        bool

	exitReceived bool
	stdoutClosed bool
	stderrClosed bool
	exitFired    bool
	exitStatus   exitStatus
	pending      []pipeline.LogEntry

	outputWg     sync.WaitGroup
	restartTimer *time.Timer
	waitDone     chan struct{}
}

func New(opts Options) *ManagedProcess {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.Backoff == (BackoffPolicy{}) {
		opts.Backoff = DefaultBackoffPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &ManagedProcess{opts: opts, item: opts.Item, state: pipeline.StateStopped}
}

func (m *ManagedProcess) Name() string { return m.item.Name }

// UpdateItem replaces the item definition used on the next start (e.g.
// after a hot reload that keeps the process running).
func (m *ManagedProcess) UpdateItem(it pipeline.Item) {
	m.mu.Lock()
	m.item = it
	m.mu.Unlock()
}

func (m *ManagedProcess) emit(e pipeline.Event) {
	if m.opts.OnEvent != nil {
		m.opts.OnEvent(e)
	}
}

// runHook runs a hook command to completion and logs (but never returns)
// failure. Callers run pre_* hooks inline and post_* hooks on their own
// goroutine, per HookSet's doc comment.
func (m *ManagedProcess) runHook(phase, command string) {
	if command == "" {
		return
	}
	cmd := buildCommand(command)
	if m.opts.Env != nil {
		cmd.Env = m.opts.Env.MergeForItem(m.opts.GlobalEnvEnabled, m.item.Env)
	}
	if err := cmd.Run(); err != nil {
		m.opts.Logger.Warn("lifecycle hook failed", "process", m.item.Name, "phase", phase, "error", err)
	}
}

// Start spawns the child. Errors here are spawn failures (spec §7): the
// state becomes crashed and the error is returned to the caller.
func (m *ManagedProcess) Start() error {
	m.mu.Lock()
	if m.state == pipeline.StateRunning {
		m.mu.Unlock()
		return fmt.Errorf("procmodel: %s already running", m.item.Name)
	}
	item := m.item
	m.mu.Unlock()

	if item.Hooks != nil {
		m.runHook("pre_start", item.Hooks.PreStart)
	}

	cmd := buildCommand(item.Command)
	if item.Cwd != "" {
		cmd.Dir = item.Cwd
	}
	if m.opts.Env != nil {
		cmd.Env = m.opts.Env.MergeForItem(m.opts.GlobalEnvEnabled, item.Env)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return m.spawnFailed(err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return m.spawnFailed(err)
	}
	var stdin io.WriteCloser
	if item.Input.Enabled {
		stdin, err = cmd.StdinPipe()
		if err != nil {
			return m.spawnFailed(err)
		}
	} else {
		cmd.Stdin = nil
	}

	if err := cmd.Start(); err != nil {
		return m.spawnFailed(err)
	}

	m.mu.Lock()
	m.cmd = cmd
	m.stdin = stdin
	m.pid = cmd.Process.Pid
	m.startedAt = time.Now()
	m.state = pipeline.StateRunning
	m.stopRequested = false
	m.forced = false
	m.exitReceived = false
	m.stdoutClosed = false
	m.stderrClosed = false
	m.exitFired = false
	m.exitStatus = exitStatus{}
	m.pending = nil
	m.waitDone = make(chan struct{})
	m.mu.Unlock()

	m.outputWg.Add(2)
	go m.readStream(stdoutPipe, pipeline.StreamStdout)
	go m.readStream(stderrPipe, pipeline.StreamStderr)
	go m.waitForExit(cmd)

	if item.Hooks != nil {
		go m.runHook("post_start", item.Hooks.PostStart)
	}

	return nil
}

func (m *ManagedProcess) spawnFailed(err error) error {
	m.mu.Lock()
	m.state = pipeline.StateCrashed
	m.mu.Unlock()
	m.emit(pipeline.Event{
		Name: m.item.Name, ProcessName: m.item.Name, Type: pipeline.EventExit,
		Data: map[string]any{"error": err.Error()}, TimestampMs: pipeline.NowMs(),
	})
	return fmt.Errorf("procmodel: spawn %s: %w", m.item.Name, err)
}

// readStream splits chunks on newline, dropping empty lines, and publishes
// each one as a stdout/stderr event while appending it to the pending
// buffer attached to the eventual exit event.
func (m *ManagedProcess) readStream(r io.ReadCloser, stream pipeline.Stream) {
	defer m.outputWg.Done()
	sc := newLineScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		entry := pipeline.LogEntry{TimestampMs: pipeline.NowMs(), Stream: stream, Data: line, ProcessName: m.item.Name}
		m.mu.Lock()
		m.pending = append(m.pending, entry)
		m.mu.Unlock()

		evType := pipeline.EventStdout
		if stream == pipeline.StreamStderr {
			evType = pipeline.EventStderr
		}
		m.emit(pipeline.Event{Name: m.item.Name, ProcessName: m.item.Name, Type: evType, Data: line, TimestampMs: entry.TimestampMs})
	}
	m.mu.Lock()
	if stream == pipeline.StreamStdout {
		m.stdoutClosed = true
	} else {
		m.stderrClosed = true
	}
	m.mu.Unlock()
	m.maybeFireExit(false)
}

func (m *ManagedProcess) waitForExit(cmd *exec.Cmd) {
	err := cmd.Wait()
	st := decodeExitStatus(err)
	if !st.Decoded {
		m.opts.Logger.Warn("exit status decode fell back to default", "process", m.item.Name)
	}
	m.mu.Lock()
	m.exitReceived = true
	m.exitStatus = st
	if m.waitDone != nil {
		close(m.waitDone)
		m.waitDone = nil
	}
	m.mu.Unlock()
	m.maybeFireExit(false)
}

// maybeFireExit checks the three-way join and, once all conditions hold
// (or force is true), fires the exit event exactly once and evaluates the
// restart policy.
func (m *ManagedProcess) maybeFireExit(force bool) {
	m.mu.Lock()
	if m.exitFired {
		m.mu.Unlock()
		return
	}
	ready := force || (m.exitReceived && m.stdoutClosed && m.stderrClosed)
	if !ready {
		m.mu.Unlock()
		return
	}
	m.exitFired = true
	m.state = pipeline.StateStopped
	if m.exitStatus.Code != 0 {
		m.state = pipeline.StateCrashed
	}
	pendingCopy := make([]pipeline.LogEntry, len(m.pending))
	copy(pendingCopy, m.pending)
	st := m.exitStatus
	stopRequested := m.stopRequested
	forced := force
	item := m.item
	if forced {
		m.stdoutClosed = true
		m.stderrClosed = true
	}
	m.mu.Unlock()

	if forced {
		m.opts.Logger.Warn("forced exit emission: drain join did not complete in time", "process", item.Name)
	}

	m.emit(pipeline.Event{
		Name: item.Name, ProcessName: item.Name, Type: pipeline.EventExit,
		Data: map[string]any{
			"code": st.Code, "signal": st.Signal, "lines": pendingCopy,
			"stopRequested": stopRequested,
		},
		TimestampMs: pipeline.NowMs(),
	})

	if item.Hooks != nil {
		go m.runHook("post_stop", item.Hooks.PostStop)
	}

	m.evaluateRestart(st, stopRequested)
}

func (m *ManagedProcess) evaluateRestart(st exitStatus, stopRequested bool) {
	m.mu.Lock()
	item := m.item
	m.mu.Unlock()

	if stopRequested || item.Kind == pipeline.KindTask {
		return
	}
	policy := item.EffectiveRestart()
	switch policy {
	case pipeline.RestartNever:
		return
	case pipeline.RestartOnFailure:
		if st.Code == 0 {
			return
		}
	case pipeline.RestartAlways:
		// always restarts
	}

	m.mu.Lock()
	m.attempt++
	attempt := m.attempt
	m.mu.Unlock()

	if m.opts.Backoff.ExceedsCeiling(attempt) {
		m.emit(pipeline.Event{
			Name: item.Name + ":error", ProcessName: item.Name, Type: pipeline.EventError,
			Data: "restart attempts exceeded ceiling", TimestampMs: pipeline.NowMs(),
		})
		return
	}

	delay := m.opts.Backoff.Delay(attempt)
	restart := m.opts.OnRestartDue
	if restart == nil {
		restart = func() { _ = m.Start() }
	}
	m.mu.Lock()
	m.state = pipeline.StateRestarting
	m.restartCount++
	m.restartTimer = time.AfterFunc(delay, restart)
	m.mu.Unlock()
}

// Stop requests termination. If force, SIGKILL is sent immediately to the
// process group; otherwise SIGTERM is sent and escalation to SIGKILL
// happens after timeoutMs. The call returns once the drain join completes
// or forceEmissionGrace elapses past timeoutMs, whichever is first.
func (m *ManagedProcess) Stop(force bool, timeout time.Duration) error {
	m.mu.Lock()
	if m.state != pipeline.StateRunning && m.state != pipeline.StateRestarting {
		m.mu.Unlock()
		return nil
	}
	if m.restartTimer != nil {
		m.restartTimer.Stop()
		m.restartTimer = nil
	}
	if m.state == pipeline.StateRestarting {
		m.state = pipeline.StateStopped
		m.mu.Unlock()
		return nil
	}
	m.stopRequested = true
	pid := m.pid
	waitDone := m.waitDone
	item := m.item
	m.mu.Unlock()

	if item.Hooks != nil {
		m.runHook("pre_stop", item.Hooks.PreStop)
	}

	if timeout <= 0 {
		timeout = m.opts.StopTimeout
	}

	if pid == 0 {
		return nil
	}

	if force {
		m.signalGroup(pid, syscall.SIGKILL)
	} else {
		m.signalGroup(pid, syscall.SIGTERM)
	}

	joinDone := make(chan struct{})
	go func() {
		m.outputWg.Wait()
		close(joinDone)
	}()

	deadline := timeout
	if force {
		deadline = forceEmissionGrace
	}

	select {
	case <-joinDone:
		if waitDone != nil {
			<-waitDone
		}
		return nil
	case <-time.After(deadline):
	}

	if !force {
		m.signalGroup(pid, syscall.SIGKILL)
		select {
		case <-joinDone:
			if waitDone != nil {
				<-waitDone
			}
			return nil
		case <-time.After(forceEmissionGrace):
		}
	}

	m.maybeFireExit(true)
	return nil
}

func (m *ManagedProcess) signalGroup(pid int, sig syscall.Signal) {
	if err := syscall.Kill(-pid, sig); err != nil {
		if err2 := syscall.Kill(pid, sig); err2 != nil {
			m.opts.Logger.Warn("signal delivery failed", "process", m.item.Name, "pid", pid, "signal", sig.String(), "error", err2)
		}
	}
}

// Restart stops then starts, resetting the backoff attempt counter (a
// manual restart is distinct from an automatic one, spec §4.1).
func (m *ManagedProcess) Restart(force bool) error {
	if err := m.Stop(force, m.opts.StopTimeout); err != nil {
		return err
	}
	m.mu.Lock()
	m.attempt = 0
	m.mu.Unlock()
	return m.Start()
}

// WriteInput writes to the child's stdin; fails if input isn't enabled or
// the child isn't running.
func (m *ManagedProcess) WriteInput(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.item.Input.Enabled || m.stdin == nil || m.state != pipeline.StateRunning {
		return fmt.Errorf("procmodel: %s: input not enabled or not running", m.item.Name)
	}
	_, err := m.stdin.Write(data)
	return err
}

// Status returns a snapshot for process.list.
func (m *ManagedProcess) Status() pipeline.ProcessStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := pipeline.ProcessStatus{
		Name: m.item.Name, Kind: m.item.Kind, State: m.state,
		RestartCount: m.restartCount,
	}
	if m.state == pipeline.StateRunning {
		s.PID = m.pid
		s.UptimeMs = time.Since(m.startedAt).Milliseconds()
	}
	if m.exitFired {
		code := m.exitStatus.Code
		s.ExitCode = &code
		s.Signal = m.exitStatus.Signal
	}
	return s
}

// IsRunning reports the authoritative state from the three-way exit join.
// It also consults detector.PIDDetector as the secondary probe described in
// that package's doc comment: the join is the only signal that flips
// state, but a disagreement (OS pid already gone while we still believe
// the process running) is worth a log line, since it usually means the
// child was reaped outside this process's own wait call.
func (m *ManagedProcess) IsRunning() bool {
	m.mu.Lock()
	running := m.state == pipeline.StateRunning
	pid := m.pid
	m.mu.Unlock()
	if running {
		if alive, err := (detector.PIDDetector{PID: pid}).Alive(); err == nil && !alive {
			m.opts.Logger.Warn("secondary liveness probe disagrees with exit join", "process", m.item.Name, "pid", pid)
		}
	}
	return running
}

func (m *ManagedProcess) HasInputEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.item.Input.Enabled
}
