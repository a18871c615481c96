// Package config loads and validates the daemon's single-JSON-object
// configuration file (spec §6).
//
// Grounded on loykin-provisr's internal/config's viper+mapstructure
// decode-then-validate shape (parseConfigFile, WeaklyTypedInput decoding of
// a discriminated union), generalized from provisr's multi-file
// programs-directory model to the spec's single top-level object with an
// embedded pipeline array.
package config

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/clier/clier/internal/pipeline"
	"github.com/clier/clier/internal/templating"
)

// Load reads and decodes the JSON config file at path. It does not
// validate — call Validate separately so callers can choose whether a
// reload with warnings-only issues should proceed.
func Load(path string) (pipeline.Config, error) {
	var cfg pipeline.Config

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	settings := v.AllSettings()
	applyEventDefaults(settings)

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return cfg, fmt.Errorf("config: build decoder: %w", err)
	}
	if err := dec.Decode(settings); err != nil {
		return cfg, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// applyEventDefaults fills in the events.on_stderr/events.on_crash schema
// defaults (spec §6, §4.3) for every pipeline entry and stage step that
// doesn't set them explicitly. This has to happen on the raw, pre-decode
// map: Item.Events.OnStderr/OnCrash are plain bools, so once mapstructure
// has decoded them there is no way left to tell "absent from the file"
// apart from "explicitly set to false".
func applyEventDefaults(settings map[string]interface{}) {
	entries, ok := settings["pipeline"].([]interface{})
	if !ok {
		return
	}
	for _, e := range entries {
		entry, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		applyEventDefaultsToItem(entry)
		if steps, ok := entry["steps"].([]interface{}); ok {
			for _, s := range steps {
				if step, ok := s.(map[string]interface{}); ok {
					applyEventDefaultsToItem(step)
				}
			}
		}
	}
}

func applyEventDefaultsToItem(item map[string]interface{}) {
	defaults := pipeline.DefaultEventsConfig()
	events, ok := item["events"].(map[string]interface{})
	if !ok {
		item["events"] = map[string]interface{}{
			"on_stderr": defaults.OnStderr,
			"on_crash":  defaults.OnCrash,
		}
		return
	}
	if _, set := events["on_stderr"]; !set {
		events["on_stderr"] = defaults.OnStderr
	}
	if _, set := events["on_crash"]; !set {
		events["on_crash"] = defaults.OnCrash
	}
}

// Validate enforces the invariants of spec §3/§6: maxOpsPerMinute ≥ 1,
// debounceMs ≥ 0, flattened names unique and non-empty with non-empty
// commands, at least one pipeline entry, and a non-empty project name.
func Validate(cfg pipeline.Config) error {
	if strings.TrimSpace(cfg.ProjectName) == "" {
		return fmt.Errorf("config: project_name is required")
	}
	if len(cfg.Pipeline) == 0 {
		return fmt.Errorf("config: pipeline must contain at least one entry")
	}
	if cfg.Safety.MaxOpsPerMinute < 1 {
		return fmt.Errorf("config: safety.max_ops_per_minute must be >= 1")
	}
	if cfg.Safety.DebounceMs < 0 {
		return fmt.Errorf("config: safety.debounce_ms must be >= 0")
	}
	if cb := cfg.Safety.CircuitBreaker; cb != nil && cb.Enabled {
		if cb.ErrorThreshold <= 0 {
			return fmt.Errorf("config: safety.circuit_breaker.error_threshold must be > 0")
		}
		if cb.TimeoutMs <= 0 {
			return fmt.Errorf("config: safety.circuit_breaker.timeout_ms must be > 0")
		}
		if cb.ResetTimeoutMs <= 0 {
			return fmt.Errorf("config: safety.circuit_breaker.reset_timeout_ms must be > 0")
		}
	}

	items := cfg.Flatten()
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if strings.TrimSpace(it.Name) == "" {
			return fmt.Errorf("config: every item requires a non-empty name")
		}
		if strings.TrimSpace(it.Command) == "" {
			return fmt.Errorf("config: item %q requires a non-empty command", it.Name)
		}
		if _, dup := seen[it.Name]; dup {
			return fmt.Errorf("config: duplicate item name %q after flattening", it.Name)
		}
		seen[it.Name] = struct{}{}
		switch it.Kind {
		case pipeline.KindService, pipeline.KindTask:
		default:
			return fmt.Errorf("config: item %q has unknown type %q", it.Name, it.Kind)
		}
		switch it.Restart {
		case "", pipeline.RestartNever, pipeline.RestartOnFailure, pipeline.RestartAlways:
		default:
			return fmt.Errorf("config: item %q has unknown restart policy %q", it.Name, it.Restart)
		}
		if it.EnableEventTemplates {
			if err := templating.ValidateBalanced(it.Command); err != nil {
				return fmt.Errorf("config: item %q command: %w", it.Name, err)
			}
			for k, v := range it.Env {
				if err := templating.ValidateBalanced(v); err != nil {
					return fmt.Errorf("config: item %q env %s: %w", it.Name, k, err)
				}
			}
		}
	}
	return nil
}

// LoadAndValidate is the common entry point used at daemon startup and on
// reload requests.
func LoadAndValidate(path string) (pipeline.Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
