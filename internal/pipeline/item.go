package pipeline

// PatternRule is a single stdout-matching rule: lines matching Pattern
// cause emission of the named event.
type PatternRule struct {
	Pattern string `json:"pattern" mapstructure:"pattern"`
	Emit    string `json:"emit" mapstructure:"emit"`
}

// EventsConfig controls which typed events an item's stream activity
// produces beyond raw stdout/stderr.
type EventsConfig struct {
	OnStdout []PatternRule `json:"on_stdout" mapstructure:"on_stdout"`
	OnStderr bool          `json:"on_stderr" mapstructure:"on_stderr"`
	OnCrash  bool          `json:"on_crash" mapstructure:"on_crash"`
}

// DefaultEventsConfig matches the schema defaults in spec §6: stderr and
// crash emission default to enabled, stdout patterns default to none.
func DefaultEventsConfig() EventsConfig {
	return EventsConfig{OnStderr: true, OnCrash: true}
}

// InputConfig governs whether a child's stdin accepts writes.
type InputConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// HookSet is the optional, additive lifecycle-hooks extension (see
// SPEC_FULL.md "Supplemented features"): shell commands run around a
// ManagedProcess's start/stop. pre_start and pre_stop run to completion
// before the start or stop proceeds; post_start and post_stop run in the
// background. Hook failures are logged, never fatal.
type HookSet struct {
	PreStart  string `json:"pre_start,omitempty" mapstructure:"pre_start"`
	PostStart string `json:"post_start,omitempty" mapstructure:"post_start"`
	PreStop   string `json:"pre_stop,omitempty" mapstructure:"pre_stop"`
	PostStop  string `json:"post_stop,omitempty" mapstructure:"post_stop"`
}

// Item is a single pipeline entry after stage flattening — the unit the
// Orchestrator and ProcessManager operate on.
type Item struct {
	Name                 string            `json:"name" mapstructure:"name"`
	Command              string            `json:"command" mapstructure:"command"`
	Kind                 Kind              `json:"type" mapstructure:"type"`
	Cwd                  string            `json:"cwd,omitempty" mapstructure:"cwd"`
	Env                  map[string]string `json:"env,omitempty" mapstructure:"env"`
	TriggerOn            []string          `json:"trigger_on,omitempty" mapstructure:"trigger_on"`
	ContinueOnFailure    bool              `json:"continue_on_failure,omitempty" mapstructure:"continue_on_failure"`
	Events               EventsConfig      `json:"events,omitempty" mapstructure:"events"`
	Manual               bool              `json:"manual,omitempty" mapstructure:"manual"`
	Restart              RestartPolicy     `json:"restart,omitempty" mapstructure:"restart"`
	Input                InputConfig       `json:"input,omitempty" mapstructure:"input"`
	EnableEventTemplates bool              `json:"enable_event_templates,omitempty" mapstructure:"enable_event_templates"`
	Hooks                *HookSet          `json:"hooks,omitempty" mapstructure:"hooks"`

	// StageName records which stage (if any) this item was flattened from,
	// for status grouping. Empty when the item was declared standalone.
	StageName string `json:"-" mapstructure:"-"`
}

// EffectiveRestart resolves the item's restart policy, applying the
// kind-based default when the item doesn't declare one.
func (it Item) EffectiveRestart() RestartPolicy {
	if it.Restart != "" {
		return it.Restart
	}
	return DefaultRestartPolicy(it.Kind)
}

// Stage groups items under a shared manual flag and trigger_on prefix.
type Stage struct {
	Name      string   `json:"name" mapstructure:"name"`
	Manual    bool     `json:"manual,omitempty" mapstructure:"manual"`
	TriggerOn []string `json:"trigger_on,omitempty" mapstructure:"trigger_on"`
	Steps     []Item   `json:"steps" mapstructure:"steps"`
}

// Flatten applies the stage's manual flag and trigger_on prefix to every
// step, per spec §3: manual = stage.manual OR step.manual; for non-manual
// steps, trigger_on = stage.trigger_on ++ step.trigger_on.
func (s Stage) Flatten() []Item {
	out := make([]Item, 0, len(s.Steps))
	for _, step := range s.Steps {
		step.Manual = s.Manual || step.Manual
		step.StageName = s.Name
		if !step.Manual {
			merged := make([]string, 0, len(s.TriggerOn)+len(step.TriggerOn))
			merged = append(merged, s.TriggerOn...)
			merged = append(merged, step.TriggerOn...)
			step.TriggerOn = merged
		}
		out = append(out, step)
	}
	return out
}
