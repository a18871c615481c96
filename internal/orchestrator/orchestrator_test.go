package orchestrator

import (
	"sync"
	"testing"

	"github.com/clier/clier/internal/pipeline"
	"github.com/stretchr/testify/require"
)

type fakeStarter struct {
	mu      sync.Mutex
	started []pipeline.Item
	running map[string]bool
}

func newFakeStarter() *fakeStarter {
	return &fakeStarter{running: make(map[string]bool)}
}

func (f *fakeStarter) StartProcess(item pipeline.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, item)
	f.running[item.Name] = true
	return nil
}

func (f *fakeStarter) IsRunning(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[name]
}

func (f *fakeStarter) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.started))
	for i, it := range f.started {
		out[i] = it.Name
	}
	return out
}

func TestOrchestrator_StartsEntryPoints(t *testing.T) {
	cfg := pipeline.Config{Pipeline: []pipeline.Entry{
		{Type: "task", Item: pipeline.Item{Name: "a"}},
		{Type: "task", Item: pipeline.Item{Name: "b", TriggerOn: []string{"a:success"}}},
	}}
	s := newFakeStarter()
	o := New(s, "proj", nil)
	o.Load(cfg)
	require.NoError(t, o.Start())
	require.Equal(t, []string{"a"}, s.names())
}

func TestOrchestrator_TriggerOnAndSemantics(t *testing.T) {
	cfg := pipeline.Config{Pipeline: []pipeline.Entry{
		{Type: "task", Item: pipeline.Item{Name: "a"}},
		{Type: "task", Item: pipeline.Item{Name: "b"}},
		{Type: "task", Item: pipeline.Item{Name: "c", TriggerOn: []string{"a:success", "b:success"}}},
	}}
	s := newFakeStarter()
	o := New(s, "proj", nil)
	o.Load(cfg)

	o.HandleEvent(pipeline.Event{Name: "a:success", Type: pipeline.EventSuccess, ProcessName: "a"})
	require.NotContains(t, s.names(), "c")

	o.HandleEvent(pipeline.Event{Name: "b:success", Type: pipeline.EventSuccess, ProcessName: "b"})
	require.Contains(t, s.names(), "c")
}

func TestOrchestrator_IdempotentStart(t *testing.T) {
	cfg := pipeline.Config{Pipeline: []pipeline.Entry{
		{Type: "task", Item: pipeline.Item{Name: "a"}},
		{Type: "task", Item: pipeline.Item{Name: "b", TriggerOn: []string{"a:success"}}},
	}}
	s := newFakeStarter()
	o := New(s, "proj", nil)
	o.Load(cfg)

	o.HandleEvent(pipeline.Event{Name: "a:success", Type: pipeline.EventSuccess, ProcessName: "a"})
	o.HandleEvent(pipeline.Event{Name: "a:success", Type: pipeline.EventSuccess, ProcessName: "a"})

	count := 0
	for _, n := range s.names() {
		if n == "b" {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestOrchestrator_FailurePropagationStopsDependent(t *testing.T) {
	cfg := pipeline.Config{Pipeline: []pipeline.Entry{
		{Type: "task", Item: pipeline.Item{Name: "a", ContinueOnFailure: false}},
		{Type: "task", Item: pipeline.Item{Name: "b", TriggerOn: []string{"a:crashed"}}},
	}}
	s := newFakeStarter()
	o := New(s, "proj", nil)
	o.Load(cfg)

	o.HandleEvent(pipeline.Event{Name: "a:crashed", Type: pipeline.EventCrashed, ProcessName: "a"})
	require.NotContains(t, s.names(), "b")
}

func TestOrchestrator_ContinueOnFailureAllowsDependent(t *testing.T) {
	cfg := pipeline.Config{Pipeline: []pipeline.Entry{
		{Type: "task", Item: pipeline.Item{Name: "a", ContinueOnFailure: true}},
		{Type: "task", Item: pipeline.Item{Name: "b", TriggerOn: []string{"a:crashed"}}},
	}}
	s := newFakeStarter()
	o := New(s, "proj", nil)
	o.Load(cfg)

	o.HandleEvent(pipeline.Event{Name: "a:crashed", Type: pipeline.EventCrashed, ProcessName: "a"})
	require.Contains(t, s.names(), "b")
}

func TestOrchestrator_TriggerStageRejectsWhileRunning(t *testing.T) {
	cfg := pipeline.Config{Pipeline: []pipeline.Entry{
		{Type: "task", Item: pipeline.Item{Name: "a", Manual: true}},
	}}
	s := newFakeStarter()
	o := New(s, "proj", nil)
	o.Load(cfg)

	require.NoError(t, o.TriggerStage("a"))
	err := o.TriggerStage("a")
	require.Error(t, err)
}
