// Package events implements the EventHandler (spec §4.3): it sits between
// ProcessManager's raw stream/exit activity and the Orchestrator's typed
// trigger graph, translating stdout lines through PatternMatcher and exit
// codes through the restart-policy-aware success/crashed rule.
//
// Grounded on loykin-provisr's job-result plumbing (internal process output
// is classified into a fixed small set of outcomes before being handed to
// callers) generalized to the spec's open-ended named-event model, which
// provisr, built around a single "job succeeded/failed" outcome, has no
// equivalent of.
package events

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/clier/clier/internal/patternmatcher"
	"github.com/clier/clier/internal/pipeline"
)

const maxHistory = 100

// ItemLookup resolves a process name to its current pipeline.Item, used to
// read events.on_stderr / events.on_crash and the restart policy.
type ItemLookup func(name string) (pipeline.Item, bool)

// Handler consumes raw events and publishes typed pipeline events to its
// subscribers (the Supervisor, which forwards them to the Orchestrator),
// recording each one in the history that events.query reads.
type Handler struct {
	matcher *patternmatcher.Matcher
	items   ItemLookup
	logger  *slog.Logger

	mu          sync.Mutex
	subscribers []func(pipeline.Event)
	history     []pipeline.Event
}

func New(matcher *patternmatcher.Matcher, items ItemLookup, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{matcher: matcher, items: items, logger: logger}
}

// Subscribe registers a callback invoked for every published typed event.
func (h *Handler) Subscribe(fn func(pipeline.Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers = append(h.subscribers, fn)
}

// History returns the last N (capped at 100) published events, oldest first.
func (h *Handler) History() []pipeline.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]pipeline.Event, len(h.history))
	copy(out, h.history)
	return out
}

// HandleRaw is the sink for every raw event ProcessManager republishes:
// stream chunks and process:exit. It never itself returns an error —
// subscriber failures are logged and swallowed so one bad handler can't
// poison the bus.
func (h *Handler) HandleRaw(e pipeline.Event) {
	switch e.Type {
	case pipeline.EventStdout:
		h.handleStdout(e)
	case pipeline.EventStderr:
		h.handleStderr(e)
	case pipeline.EventExit:
		h.handleExit(e)
	}
}

func (h *Handler) handleStdout(e pipeline.Event) {
	line, ok := e.Data.(string)
	if !ok || line == "" {
		return
	}
	for name := range h.matcher.Match(e.ProcessName, line) {
		h.publish(pipeline.Event{
			Name: name, ProcessName: e.ProcessName, Type: pipeline.EventCustom,
			Data: line, TimestampMs: e.TimestampMs,
		})
	}
}

func (h *Handler) handleStderr(e pipeline.Event) {
	item, ok := h.items(e.ProcessName)
	if !ok || !item.Events.OnStderr {
		return
	}
	h.publish(pipeline.Event{
		Name: e.ProcessName + ":error", ProcessName: e.ProcessName, Type: pipeline.EventError,
		Data: e.Data, TimestampMs: e.TimestampMs,
	})
}

// handleExit decodes the process:exit payload and applies the
// success/crashed rule (spec §4.3): a task, or a service whose restart
// policy makes this exit terminal, with a zero exit code publishes
// success; a non-zero exit code with on_crash enabled publishes crashed,
// regardless of whether the service will restart.
func (h *Handler) handleExit(e pipeline.Event) {
	item, ok := h.items(e.ProcessName)
	if !ok {
		return
	}
	code := exitCode(e.Data)

	if code != 0 && item.Events.OnCrash {
		h.publish(pipeline.Event{
			Name: e.ProcessName + ":crashed", ProcessName: e.ProcessName, Type: pipeline.EventCrashed,
			Data: e.Data, TimestampMs: e.TimestampMs,
		})
	}

	if code == 0 && h.isTerminalExit(item) {
		h.publish(pipeline.Event{
			Name: e.ProcessName + ":success", ProcessName: e.ProcessName, Type: pipeline.EventSuccess,
			Data: e.Data, TimestampMs: e.TimestampMs,
		})
	}
}

// isTerminalExit reports whether a zero-code exit ends this item's
// lifecycle rather than being followed by an automatic restart: tasks
// always terminate; services only terminate on success when their policy
// is never or on-failure — a policy of always means the service restarts
// even after a clean exit, so the lifecycle is not complete.
func (h *Handler) isTerminalExit(item pipeline.Item) bool {
	if item.Kind == pipeline.KindTask {
		return true
	}
	switch item.EffectiveRestart() {
	case pipeline.RestartNever, pipeline.RestartOnFailure:
		return true
	default:
		return false
	}
}

// exitCode decodes the process:exit payload's "code" key. A spawn failure
// (procmodel.ManagedProcess.spawnFailed) never reaches the point of having
// an exit code at all, so its event carries no "code" key — that and any
// other undecodable shape fall back to 1 (Open Question 2), never 0, so a
// process that never ran can't be mistaken for a clean exit.
func exitCode(data interface{}) int {
	v, ok := data.(map[string]any)
	if !ok {
		return 1
	}
	code, present := v["code"]
	if !present {
		return 1
	}
	return toInt(code)
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 1
	}
}

func (h *Handler) publish(e pipeline.Event) {
	h.mu.Lock()
	h.history = append(h.history, e)
	if len(h.history) > maxHistory {
		h.history = h.history[len(h.history)-maxHistory:]
	}
	subs := make([]func(pipeline.Event), len(h.subscribers))
	copy(subs, h.subscribers)
	h.mu.Unlock()

	for _, fn := range subs {
		h.safeCall(fn, e)
	}
}

func (h *Handler) safeCall(fn func(pipeline.Event), e pipeline.Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("event subscriber panicked", "error", fmt.Sprint(r), "event", e.Name)
		}
	}()
	fn(e)
}
