// Package orchestrator implements the scheduling core (spec §4.4): it turns
// typed events into "start process X" decisions, tracking entry points and
// the trigger graph's AND-semantics.
//
// Grounded on loykin-provisr's top-level Manager.Start (declaration-order
// iteration over a name-keyed registry) generalized from provisr's
// flat start-everything model to the spec's trigger-graph model, which
// provisr has no equivalent of — this package's control flow is new surface
// grounded directly on SPEC_FULL.md §4.4 rather than adapted teacher code.
package orchestrator

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/clier/clier/internal/clierr"
	"github.com/clier/clier/internal/pipeline"
	"github.com/clier/clier/internal/templating"
)

// Starter is the subset of ProcessManager the Orchestrator drives.
type Starter interface {
	StartProcess(item pipeline.Item) error
	IsRunning(name string) bool
}

// Orchestrator owns the flattened pipeline and the trigger graph state.
type Orchestrator struct {
	starter     Starter
	logger      *slog.Logger
	projectName string

	mu                sync.Mutex
	items             map[string]pipeline.Item
	order             []string
	startedProcesses  map[string]struct{}
	receivedEvents    map[string]struct{}
	manuallyTriggered map[string]struct{}
}

func New(starter Starter, projectName string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		starter:           starter,
		logger:            logger,
		projectName:       projectName,
		items:             make(map[string]pipeline.Item),
		startedProcesses:  make(map[string]struct{}),
		receivedEvents:    make(map[string]struct{}),
		manuallyTriggered: make(map[string]struct{}),
	}
}

// Load flattens cfg's pipeline, resets trigger-graph state, and validates
// the graph: every trigger_on name should be emitted by something in the
// pipeline (a pattern emit or the implicit
// <name>:success/<name>:error/<name>:crashed),
// but an unresolved reference is only ever a warning.
func (o *Orchestrator) Load(cfg pipeline.Config) []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.items = make(map[string]pipeline.Item)
	o.order = nil
	o.startedProcesses = make(map[string]struct{})
	o.receivedEvents = make(map[string]struct{})

	known := make(map[string]struct{})
	for _, it := range cfg.Flatten() {
		o.items[it.Name] = it
		o.order = append(o.order, it.Name)
		known[it.Name+":error"] = struct{}{}
		known[it.Name+":crashed"] = struct{}{}
		known[it.Name+":success"] = struct{}{}
		for _, rule := range it.Events.OnStdout {
			known[rule.Emit] = struct{}{}
		}
	}

	var warnings []string
	for _, it := range o.items {
		for _, trig := range it.TriggerOn {
			if _, ok := known[trig]; !ok {
				warnings = append(warnings, fmt.Sprintf(
					"item %q trigger_on %q: no known emitter in this pipeline (may come from an undeclared pattern)",
					it.Name, trig))
			}
		}
	}
	for _, w := range warnings {
		o.logger.Warn(w)
	}
	return warnings
}

// entryPoints returns non-manual items with no trigger_on, in declaration
// order. Caller must hold o.mu.
func (o *Orchestrator) entryPoints() []pipeline.Item {
	var out []pipeline.Item
	for _, name := range o.order {
		it := o.items[name]
		if !it.Manual && len(it.TriggerOn) == 0 {
			out = append(out, it)
		}
	}
	return out
}

// Start launches every entry point in declaration order.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	entries := o.entryPoints()
	o.mu.Unlock()

	for _, it := range entries {
		if err := o.startItem(it); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) startItem(it pipeline.Item) error {
	o.mu.Lock()
	o.startedProcesses[it.Name] = struct{}{}
	o.mu.Unlock()
	if err := o.starter.StartProcess(it); err != nil {
		return fmt.Errorf("orchestrator: start %s: %w", it.Name, err)
	}
	return nil
}

// HandleEvent records the event and starts every dependent item whose
// trigger_on is now fully satisfied (spec §4.4, AND-semantics).
func (o *Orchestrator) HandleEvent(e pipeline.Event) {
	o.mu.Lock()
	o.receivedEvents[e.Name] = struct{}{}

	var toStart []pipeline.Item
	for _, name := range o.order {
		it := o.items[name]
		if it.Manual || len(it.TriggerOn) == 0 {
			continue
		}
		if !containsString(it.TriggerOn, e.Name) {
			continue
		}
		if _, already := o.startedProcesses[it.Name]; already {
			continue
		}
		if !allPresent(it.TriggerOn, o.receivedEvents) {
			continue
		}
		if e.IsFailure() {
			emitter, ok := o.items[e.ProcessName]
			if !ok || !emitter.ContinueOnFailure {
				continue
			}
		}
		toStart = append(toStart, it)
	}
	for _, it := range toStart {
		o.startedProcesses[it.Name] = struct{}{}
	}
	o.mu.Unlock()

	for _, it := range toStart {
		resolved := o.applyTemplates(it, e)
		if err := o.starter.StartProcess(resolved); err != nil {
			o.logger.Error("orchestrator: triggered start failed", "process", it.Name, "error", err)
		}
	}
}

func (o *Orchestrator) applyTemplates(it pipeline.Item, e pipeline.Event) pipeline.Item {
	if !it.EnableEventTemplates {
		return it
	}
	ctx := templating.Context{
		Event: e, ProcessName: it.Name, ProcessKind: it.Kind,
		ProjectName: o.projectName, ClierTimestamp: pipeline.NowMs(),
	}
	warn := func(tok string) {
		o.logger.Warn("unresolved template token", "process", it.Name, "token", tok)
	}
	it.Command = templating.Substitute(it.Command, ctx, warn)
	it.Env = templating.SubstituteEnv(it.Env, ctx, warn)
	return it
}

// TriggerStage manually starts item name. Fails if it is currently running;
// if it previously ran to completion, clears it from startedProcesses so
// the start proceeds.
func (o *Orchestrator) TriggerStage(name string) error {
	o.mu.Lock()
	it, ok := o.items[name]
	if !ok {
		o.mu.Unlock()
		return clierr.New(clierr.KindTransient, "TriggerStage", clierr.ErrUnknownProcess)
	}
	o.mu.Unlock()

	if o.starter.IsRunning(name) {
		return clierr.New(clierr.KindTransient, "TriggerStage", clierr.ErrAlreadyTriggered)
	}

	o.mu.Lock()
	delete(o.startedProcesses, name)
	o.startedProcesses[name] = struct{}{}
	o.manuallyTriggered[name] = struct{}{}
	o.mu.Unlock()

	if err := o.starter.StartProcess(it); err != nil {
		return fmt.Errorf("orchestrator: trigger %s: %w", name, err)
	}
	return nil
}

// RestartManuallyTriggered re-starts every name previously started via
// TriggerStage, used by the Supervisor after a configuration reload that
// requests it.
func (o *Orchestrator) RestartManuallyTriggered() {
	o.mu.Lock()
	names := make([]string, 0, len(o.manuallyTriggered))
	for n := range o.manuallyTriggered {
		names = append(names, n)
	}
	o.mu.Unlock()
	for _, n := range names {
		_ = o.TriggerStage(n)
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func allPresent(names []string, set map[string]struct{}) bool {
	for _, n := range names {
		if _, ok := set[n]; !ok {
			return false
		}
	}
	return true
}
