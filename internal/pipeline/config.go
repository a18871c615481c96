package pipeline

// CircuitBreakerConfig is the optional per-project breaker tuning (spec §3,
// §4.6). When Enabled, config.Validate rejects zero or negative values; when
// the block is absent or disabled, the Supervisor builds service breakers
// from the safety package's defaults.
type CircuitBreakerConfig struct {
	Enabled        bool `json:"enabled" mapstructure:"enabled"`
	ErrorThreshold int  `json:"error_threshold" mapstructure:"error_threshold"`
	TimeoutMs      int  `json:"timeout_ms" mapstructure:"timeout_ms"`
	ResetTimeoutMs int  `json:"reset_timeout_ms" mapstructure:"reset_timeout_ms"`
}

// SafetyConfig bounds the rate limiter, debouncer, and circuit breaker.
type SafetyConfig struct {
	MaxOpsPerMinute int                   `json:"max_ops_per_minute" mapstructure:"max_ops_per_minute"`
	DebounceMs      int                   `json:"debounce_ms" mapstructure:"debounce_ms"`
	CircuitBreaker  *CircuitBreakerConfig `json:"circuit_breaker,omitempty" mapstructure:"circuit_breaker"`
}

// Config is the fully decoded, not-yet-validated top-level pipeline
// configuration (spec §3, §6).
type Config struct {
	ProjectName string       `json:"project_name" mapstructure:"project_name"`
	GlobalEnv   *bool        `json:"global_env,omitempty" mapstructure:"global_env"`
	Safety      SafetyConfig `json:"safety" mapstructure:"safety"`
	Pipeline    []Entry      `json:"pipeline" mapstructure:"pipeline"`
}

// GlobalEnvEnabled resolves the global_env default of true.
func (c Config) GlobalEnvEnabled() bool {
	if c.GlobalEnv == nil {
		return true
	}
	return *c.GlobalEnv
}

// Entry is a tagged union over an Item or a Stage, discriminated by Type.
// Raw JSON decoding populates both shapes loosely; IsStage resolves the
// discriminant and Config.Flatten produces one or the other.
type Entry struct {
	Type string `json:"type" mapstructure:"type"`
	Item `mapstructure:",squash"`
	// Steps is only meaningful when Type == "stage"; present here so a
	// single mapstructure decode captures both shapes.
	Steps []Item `json:"steps,omitempty" mapstructure:"steps"`
}

// IsStage reports whether the entry decodes as a stage.
func (e Entry) IsStage() bool { return e.Type == "stage" }

// AsStage converts a stage entry into a Stage value.
func (e Entry) AsStage() Stage {
	return Stage{Name: e.Name, Manual: e.Manual, TriggerOn: e.TriggerOn, Steps: e.Steps}
}

// AsItem converts a non-stage entry into an Item, filling Kind from Type.
func (e Entry) AsItem() Item {
	it := e.Item
	it.Kind = Kind(e.Type)
	return it
}

// Flatten walks the pipeline's declared entries in order, expanding stages,
// and returns the final sequence of items the Orchestrator consumes.
func (c Config) Flatten() []Item {
	out := make([]Item, 0, len(c.Pipeline))
	for _, e := range c.Pipeline {
		if e.IsStage() {
			out = append(out, e.AsStage().Flatten()...)
			continue
		}
		out = append(out, e.AsItem())
	}
	return out
}
