package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/clier/clier/internal/pipeline"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "clier.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_ItemsAndStages(t *testing.T) {
	path := writeConfig(t, `{
		"project_name": "demo",
		"safety": {"max_ops_per_minute": 30, "debounce_ms": 500},
		"pipeline": [
			{"type": "task", "name": "build", "command": "make build"},
			{"type": "stage", "name": "deploy", "trigger_on": ["build:success"], "steps": [
				{"type": "service", "name": "web", "command": "./web"}
			]}
		]
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "demo", cfg.ProjectName)
	require.Equal(t, 30, cfg.Safety.MaxOpsPerMinute)

	items := cfg.Flatten()
	require.Len(t, items, 2)
	require.Equal(t, "build", items[0].Name)
	require.Equal(t, "web", items[1].Name)
	require.Equal(t, []string{"build:success"}, items[1].TriggerOn)
}

func TestValidate_RejectsMissingProjectName(t *testing.T) {
	cfg := pipeline.Config{
		Safety:   pipeline.SafetyConfig{MaxOpsPerMinute: 1},
		Pipeline: []pipeline.Entry{{Type: "task", Item: pipeline.Item{Name: "a", Command: "x"}}},
	}
	require.Error(t, Validate(cfg))
}

func TestValidate_RejectsZeroMaxOps(t *testing.T) {
	cfg := pipeline.Config{
		ProjectName: "demo",
		Safety:      pipeline.SafetyConfig{MaxOpsPerMinute: 0},
		Pipeline:    []pipeline.Entry{{Type: "task", Item: pipeline.Item{Name: "a", Command: "x"}}},
	}
	require.Error(t, Validate(cfg))
}

func TestValidate_RejectsDuplicateNames(t *testing.T) {
	cfg := pipeline.Config{
		ProjectName: "demo",
		Safety:      pipeline.SafetyConfig{MaxOpsPerMinute: 1},
		Pipeline: []pipeline.Entry{
			{Type: "task", Item: pipeline.Item{Name: "a", Command: "x"}},
			{Type: "task", Item: pipeline.Item{Name: "a", Command: "y"}},
		},
	}
	require.Error(t, Validate(cfg))
}

func TestValidate_RejectsEmptyPipeline(t *testing.T) {
	cfg := pipeline.Config{ProjectName: "demo", Safety: pipeline.SafetyConfig{MaxOpsPerMinute: 1}}
	require.Error(t, Validate(cfg))
}

func TestValidate_RejectsMissingCommand(t *testing.T) {
	cfg := pipeline.Config{
		ProjectName: "demo",
		Safety:      pipeline.SafetyConfig{MaxOpsPerMinute: 1},
		Pipeline:    []pipeline.Entry{{Type: "task", Item: pipeline.Item{Name: "a"}}},
	}
	require.Error(t, Validate(cfg))
}

func TestLoad_AppliesEventDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"project_name": "demo",
		"safety": {"max_ops_per_minute": 10},
		"pipeline": [
			{"type": "task", "name": "bare", "command": "echo hi"},
			{"type": "task", "name": "explicit", "command": "echo hi", "events": {"on_stderr": false}},
			{"type": "stage", "name": "grp", "steps": [
				{"type": "task", "name": "step", "command": "echo hi"}
			]}
		]
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	items := cfg.Flatten()
	require.Len(t, items, 3)

	require.True(t, items[0].Events.OnStderr)
	require.True(t, items[0].Events.OnCrash)

	require.False(t, items[1].Events.OnStderr)
	require.True(t, items[1].Events.OnCrash)

	require.True(t, items[2].Events.OnStderr)
	require.True(t, items[2].Events.OnCrash)
}

func TestLoadAndValidate_AcceptsWellFormedConfig(t *testing.T) {
	path := writeConfig(t, `{
		"project_name": "demo",
		"safety": {"max_ops_per_minute": 10, "debounce_ms": 0},
		"pipeline": [{"type": "task", "name": "a", "command": "echo hi"}]
	}`)
	_, err := LoadAndValidate(path)
	require.NoError(t, err)
}
