package procmodel

import (
	"testing"
	"time"

	"github.com/clier/clier/internal/env"
	"github.com/clier/clier/internal/pipeline"
	"github.com/stretchr/testify/require"
)

func collectEvents(t *testing.T, timeout time.Duration, start func(onEvent func(pipeline.Event))) []pipeline.Event {
	t.Helper()
	events := make(chan pipeline.Event, 64)
	start(func(e pipeline.Event) { events <- e })

	var got []pipeline.Event
	deadline := time.After(timeout)
	for {
		select {
		case e := <-events:
			got = append(got, e)
			if e.Type == pipeline.EventExit {
				return got
			}
		case <-deadline:
			t.Fatal("timed out waiting for exit event")
			return nil
		}
	}
}

func TestManagedProcess_DrainGuarantee(t *testing.T) {
	item := pipeline.Item{Name: "printer", Command: "printf 'one\\ntwo\\nthree\\n'", Kind: pipeline.KindTask, Restart: pipeline.RestartNever}

	var events []pipeline.Event
	events = collectEvents(t, 3*time.Second, func(onEvent func(pipeline.Event)) {
		mp := New(Options{Item: item, Env: env.New(), GlobalEnvEnabled: true, OnEvent: onEvent})
		require.NoError(t, mp.Start())
	})

	var lines []string
	sawExit := false
	for _, e := range events {
		switch e.Type {
		case pipeline.EventStdout:
			lines = append(lines, e.Data.(string))
		case pipeline.EventExit:
			sawExit = true
		}
	}
	require.True(t, sawExit)
	require.Equal(t, []string{"one", "two", "three"}, lines)
	require.Equal(t, pipeline.EventExit, events[len(events)-1].Type)
}

func TestManagedProcess_TaskSuccessExitCode(t *testing.T) {
	item := pipeline.Item{Name: "ok", Command: "exit 0", Kind: pipeline.KindTask}
	mp := New(Options{Item: item, Env: env.New(), GlobalEnvEnabled: true, OnEvent: func(pipeline.Event) {}})
	require.NoError(t, mp.Start())
	require.Eventually(t, func() bool {
		return mp.Status().State != pipeline.StateRunning
	}, 2*time.Second, 10*time.Millisecond)
	st := mp.Status()
	require.Equal(t, pipeline.StateStopped, st.State)
	require.NotNil(t, st.ExitCode)
	require.Equal(t, 0, *st.ExitCode)
}

func TestManagedProcess_StopEscalation(t *testing.T) {
	item := pipeline.Item{Name: "stubborn", Command: "trap '' TERM; sleep 5", Kind: pipeline.KindService, Restart: pipeline.RestartNever}
	mp := New(Options{Item: item, Env: env.New(), GlobalEnvEnabled: true, OnEvent: func(pipeline.Event) {}, StopTimeout: 200 * time.Millisecond})
	require.NoError(t, mp.Start())
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	require.NoError(t, mp.Stop(false, 200*time.Millisecond))
	require.Less(t, time.Since(start), 2*time.Second)
	require.NotEqual(t, pipeline.StateRunning, mp.Status().State)
}

func TestManagedProcess_WriteInputRequiresEnabled(t *testing.T) {
	item := pipeline.Item{Name: "noinput", Command: "sleep 1", Kind: pipeline.KindTask}
	mp := New(Options{Item: item, Env: env.New(), GlobalEnvEnabled: true, OnEvent: func(pipeline.Event) {}})
	err := mp.WriteInput([]byte("hi"))
	require.Error(t, err)
}
