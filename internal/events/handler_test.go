package events

import (
	"testing"

	"github.com/clier/clier/internal/patternmatcher"
	"github.com/clier/clier/internal/pipeline"
	"github.com/stretchr/testify/require"
)

func itemLookup(items map[string]pipeline.Item) ItemLookup {
	return func(name string) (pipeline.Item, bool) {
		it, ok := items[name]
		return it, ok
	}
}

func TestHandler_StdoutPatternMatch(t *testing.T) {
	m := patternmatcher.New()
	require.NoError(t, m.AddPattern("build", `ready on port \d+`, "build:ready"))

	h := New(m, itemLookup(nil), nil)
	var got []pipeline.Event
	h.Subscribe(func(e pipeline.Event) { got = append(got, e) })

	h.HandleRaw(pipeline.Event{ProcessName: "build", Type: pipeline.EventStdout, Data: "server ready on port 8080"})
	require.Len(t, got, 1)
	require.Equal(t, "build:ready", got[0].Name)
	require.Equal(t, pipeline.EventCustom, got[0].Type)
}

func TestHandler_StderrRespectsOnStderrFlag(t *testing.T) {
	m := patternmatcher.New()
	items := map[string]pipeline.Item{
		"quiet": {Name: "quiet", Events: pipeline.EventsConfig{OnStderr: false}},
		"loud":  {Name: "loud", Events: pipeline.EventsConfig{OnStderr: true}},
	}
	h := New(m, itemLookup(items), nil)
	var got []pipeline.Event
	h.Subscribe(func(e pipeline.Event) { got = append(got, e) })

	h.HandleRaw(pipeline.Event{ProcessName: "quiet", Type: pipeline.EventStderr, Data: "oops"})
	h.HandleRaw(pipeline.Event{ProcessName: "loud", Type: pipeline.EventStderr, Data: "oops"})

	require.Len(t, got, 1)
	require.Equal(t, "loud:error", got[0].Name)
	require.Equal(t, pipeline.EventError, got[0].Type)
}

func TestHandler_ExitSuccessForTask(t *testing.T) {
	m := patternmatcher.New()
	items := map[string]pipeline.Item{"build": {Name: "build", Kind: pipeline.KindTask}}
	h := New(m, itemLookup(items), nil)
	var got []pipeline.Event
	h.Subscribe(func(e pipeline.Event) { got = append(got, e) })

	h.HandleRaw(pipeline.Event{ProcessName: "build", Type: pipeline.EventExit, Data: map[string]any{"code": 0}})
	require.Len(t, got, 1)
	require.Equal(t, "build:success", got[0].Name)
}

func TestHandler_ExitCrashedWhenOnCrashEnabled(t *testing.T) {
	m := patternmatcher.New()
	items := map[string]pipeline.Item{
		"web": {Name: "web", Kind: pipeline.KindService, Restart: pipeline.RestartAlways, Events: pipeline.EventsConfig{OnCrash: true}},
	}
	h := New(m, itemLookup(items), nil)
	var got []pipeline.Event
	h.Subscribe(func(e pipeline.Event) { got = append(got, e) })

	h.HandleRaw(pipeline.Event{ProcessName: "web", Type: pipeline.EventExit, Data: map[string]any{"code": 1}})
	require.Len(t, got, 1)
	require.Equal(t, "web:crashed", got[0].Name)
}

func TestHandler_AlwaysRestartServiceNoSuccessOnCleanExit(t *testing.T) {
	m := patternmatcher.New()
	items := map[string]pipeline.Item{
		"web": {Name: "web", Kind: pipeline.KindService, Restart: pipeline.RestartAlways},
	}
	h := New(m, itemLookup(items), nil)
	var got []pipeline.Event
	h.Subscribe(func(e pipeline.Event) { got = append(got, e) })

	h.HandleRaw(pipeline.Event{ProcessName: "web", Type: pipeline.EventExit, Data: map[string]any{"code": 0}})
	require.Empty(t, got)
}

func TestHandler_SpawnFailureNeverPublishesSuccess(t *testing.T) {
	m := patternmatcher.New()
	items := map[string]pipeline.Item{
		"build": {Name: "build", Kind: pipeline.KindTask, Events: pipeline.EventsConfig{OnCrash: true}},
	}
	h := New(m, itemLookup(items), nil)
	var got []pipeline.Event
	h.Subscribe(func(e pipeline.Event) { got = append(got, e) })

	h.HandleRaw(pipeline.Event{ProcessName: "build", Type: pipeline.EventExit, Data: map[string]any{"error": "exec: not found"}})
	require.Len(t, got, 1)
	require.Equal(t, "build:crashed", got[0].Name)
}

func TestHandler_HistoryBounded(t *testing.T) {
	m := patternmatcher.New()
	require.NoError(t, m.AddPattern("p", "x", "p:tick"))
	items := map[string]pipeline.Item{}
	h := New(m, itemLookup(items), nil)

	for i := 0; i < 150; i++ {
		h.HandleRaw(pipeline.Event{ProcessName: "p", Type: pipeline.EventStdout, Data: "x"})
	}
	require.Len(t, h.History(), maxHistory)
}

func TestHandler_SubscriberPanicIsSwallowed(t *testing.T) {
	m := patternmatcher.New()
	require.NoError(t, m.AddPattern("p", "x", "p:tick"))
	h := New(m, itemLookup(nil), nil)
	h.Subscribe(func(pipeline.Event) { panic("boom") })

	require.NotPanics(t, func() {
		h.HandleRaw(pipeline.Event{ProcessName: "p", Type: pipeline.EventStdout, Data: "x"})
	})
}
