package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clier/clier/internal/pipeline"
)

func testOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		Paths:       Paths{LogsDir: t.TempDir()},
		ProjectName: "test-project",
		StopTimeout: 2 * time.Second,
	}
}

func baseConfig(entries ...pipeline.Entry) pipeline.Config {
	return pipeline.Config{
		ProjectName: "test-project",
		Safety:      pipeline.SafetyConfig{MaxOpsPerMinute: 120, DebounceMs: 0},
		Pipeline:    entries,
	}
}

func taskEntry(name, command string) pipeline.Entry {
	return pipeline.Entry{Type: "task", Item: pipeline.Item{Name: name, Command: command}}
}

func TestSupervisor_StartLaunchesEntryPoints(t *testing.T) {
	s := New(testOptions(t))
	cfg := baseConfig(taskEntry("one", "true"))
	require.NoError(t, s.Start(cfg))
	defer s.Stop()

	procs, err := s.ListProcesses()
	require.NoError(t, err)
	require.Len(t, procs, 1)
	require.Equal(t, "one", procs[0].Name)
}

func TestSupervisor_AddProcessRejectsDuplicate(t *testing.T) {
	s := New(testOptions(t))
	require.NoError(t, s.Start(baseConfig(taskEntry("one", "true"))))
	defer s.Stop()

	err := s.AddProcess(pipeline.Item{Name: "one", Command: "true", Kind: pipeline.KindTask})
	require.Error(t, err)
}

func TestSupervisor_StopIsIdempotent(t *testing.T) {
	s := New(testOptions(t))
	require.NoError(t, s.Start(baseConfig(taskEntry("one", "true"))))

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}

func TestSupervisor_SubmitRejectedAfterStop(t *testing.T) {
	s := New(testOptions(t))
	require.NoError(t, s.Start(baseConfig(taskEntry("one", "true"))))
	require.NoError(t, s.Stop())

	_, err := s.ListProcesses()
	require.Error(t, err)
}

func TestSupervisor_ReloadRejectsConcurrentReload(t *testing.T) {
	s := New(testOptions(t))
	require.NoError(t, s.Start(baseConfig(taskEntry("one", "true"))))
	defer s.Stop()

	s.reloadMu.Lock()
	s.reloading = true
	s.reloadMu.Unlock()

	err := s.Reload(baseConfig(taskEntry("one", "true"), taskEntry("two", "true")), false)
	require.Error(t, err)

	s.reloadMu.Lock()
	s.reloading = false
	s.reloadMu.Unlock()
}

func TestSupervisor_ReloadAppliesNewConfig(t *testing.T) {
	s := New(testOptions(t))
	require.NoError(t, s.Start(baseConfig(taskEntry("one", "true"))))
	defer s.Stop()

	require.NoError(t, s.Reload(baseConfig(taskEntry("one", "true"), taskEntry("two", "true")), false))

	stages, err := s.StagesMap()
	require.NoError(t, err)
	require.Contains(t, stages, "one")
	require.Contains(t, stages, "two")
}

func TestSupervisor_TriggerStageRejectsUnknown(t *testing.T) {
	s := New(testOptions(t))
	require.NoError(t, s.Start(baseConfig(taskEntry("one", "true"))))
	defer s.Stop()

	err := s.TriggerStage("does-not-exist")
	require.Error(t, err)
}

func TestSupervisor_DeleteProcessForgetsItem(t *testing.T) {
	s := New(testOptions(t))
	require.NoError(t, s.Start(baseConfig(taskEntry("one", "true"))))
	defer s.Stop()

	require.NoError(t, s.DeleteProcess("one"))

	stages, err := s.StagesMap()
	require.NoError(t, err)
	require.NotContains(t, stages, "one")
}

func TestSupervisor_QueryLogsUnknownProcessReturnsEmpty(t *testing.T) {
	s := New(testOptions(t))
	require.NoError(t, s.Start(baseConfig(taskEntry("one", "true"))))
	defer s.Stop()

	out, err := s.QueryLogs("missing", 0, 10)
	require.NoError(t, err)
	require.Empty(t, out)
}
