// Package pipeline holds the data model shared across the daemon: process
// kinds, restart policy, events, log entries, and process status. These
// types carry only small helpers (defaults, flattening, predicates) — they
// are passed between
// config, procmodel, events, and orchestrator without any package owning
// all of them.
package pipeline

import "time"

// Kind distinguishes a long-running service from a one-shot task.
type Kind string

const (
	KindService Kind = "service"
	KindTask    Kind = "task"
)

// RestartPolicy controls whether a ManagedProcess is restarted after exit.
type RestartPolicy string

const (
	RestartNever     RestartPolicy = "never"
	RestartOnFailure RestartPolicy = "on-failure"
	RestartAlways    RestartPolicy = "always"
)

// DefaultRestartPolicy returns a kind's implicit policy when the item does
// not declare one: services default to on-failure, tasks to never.
func DefaultRestartPolicy(k Kind) RestartPolicy {
	if k == KindTask {
		return RestartNever
	}
	return RestartOnFailure
}

// EventType tags the typed events produced by the EventHandler.
type EventType string

const (
	EventStdout  EventType = "stdout"
	EventStderr  EventType = "stderr"
	EventCustom  EventType = "custom"
	EventSuccess EventType = "success"
	EventError   EventType = "error"
	EventCrashed EventType = "crashed"
	EventExit    EventType = "exit"
)

// Event is an immutable record published on the daemon's internal bus.
type Event struct {
	Name        string      `json:"name"`
	ProcessName string      `json:"processName"`
	Type        EventType   `json:"type"`
	Data        interface{} `json:"data,omitempty"`
	TimestampMs int64       `json:"timestamp"`
}

// IsFailure reports whether the event represents a failure outcome for
// its emitter, relevant to continue_on_failure propagation.
func (e Event) IsFailure() bool {
	return e.Type == EventError || e.Type == EventCrashed
}

// Stream tags the origin of a LogEntry.
type Stream string

const (
	StreamStdout  Stream = "stdout"
	StreamStderr  Stream = "stderr"
	StreamCommand Stream = "command"
)

// LogEntry is one line recorded by RingLog.
type LogEntry struct {
	TimestampMs int64  `json:"timestamp"`
	Stream      Stream `json:"stream"`
	Data        string `json:"data"`
	ProcessName string `json:"processName"`
}

// State is the lifecycle state exposed in a ProcessStatus.
type State string

const (
	StateStopped    State = "stopped"
	StateRunning    State = "running"
	StateRestarting State = "restarting"
	StateCrashed    State = "crashed"
)

// ProcessStatus is a snapshot of a single ManagedProcess.
type ProcessStatus struct {
	Name         string `json:"name"`
	Kind         Kind   `json:"kind"`
	State        State  `json:"state"`
	PID          int    `json:"pid,omitempty"`
	UptimeMs     int64  `json:"uptimeMs"`
	RestartCount int    `json:"restartCount"`
	ExitCode     *int   `json:"exitCode,omitempty"`
	Signal       string `json:"signal,omitempty"`
}

// now is the clock NowMs reads.
var now = time.Now

// NowMs returns the current time in milliseconds since epoch.
func NowMs() int64 { return now().UnixMilli() }
