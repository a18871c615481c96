package controlserver

import (
	"bufio"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clier/clier/internal/pipeline"
	"github.com/clier/clier/internal/supervisor"
)

func newTestServer(t *testing.T) (*Server, func()) {
	t.Helper()
	dir := t.TempDir()
	sock := filepath.Join(dir, "daemon.sock")

	sup := supervisor.New(supervisor.Options{
		Paths:       supervisor.Paths{LogsDir: filepath.Join(dir, "logs")},
		ProjectName: "test-project",
		StopTimeout: 2 * time.Second,
	})
	require.NoError(t, sup.Start(pipeline.Config{
		ProjectName: "test-project",
		Safety:      pipeline.SafetyConfig{MaxOpsPerMinute: 120},
		Pipeline: []pipeline.Entry{
			{Type: "task", Item: pipeline.Item{Name: "one", Command: "true"}},
		},
	}))

	srv := New(Options{SocketPath: sock, LogsDir: filepath.Join(dir, "logs")}, sup)
	require.NoError(t, srv.Listen())
	go func() { _ = srv.Serve() }()

	cleanup := func() {
		_ = srv.Close()
		_ = sup.Stop()
	}
	return srv, cleanup
}

func call(t *testing.T, sock string, req Request) Response {
	t.Helper()
	conn, err := net.DialTimeout("unix", sock, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	req.JSONRPC = "2.0"
	enc := json.NewEncoder(conn)
	require.NoError(t, enc.Encode(req))

	var resp Response
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, json.NewDecoder(bufio.NewReader(conn)).Decode(&resp))
	return resp
}

func TestControlServer_Ping(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	resp := call(t, srv.opts.SocketPath, Request{Method: "ping", ID: json.RawMessage("1")})
	require.Nil(t, resp.Error)
	require.Equal(t, "pong", resp.Result)
}

func TestControlServer_UnknownMethodReturnsMethodNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	resp := call(t, srv.opts.SocketPath, Request{Method: "bogus.method", ID: json.RawMessage("2")})
	require.NotNil(t, resp.Error)
	require.Equal(t, -32601, resp.Error.Code)
}

func TestControlServer_ProcessListReturnsKnownProcess(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	resp := call(t, srv.opts.SocketPath, Request{Method: "process.list", ID: json.RawMessage("3")})
	require.Nil(t, resp.Error)
	require.NotNil(t, resp.Result)
	list, ok := resp.Result.([]interface{})
	require.True(t, ok)
	require.Len(t, list, 1)
	entry, ok := list[0].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "one", entry["name"])
}

func TestControlServer_ProcessStartUnknownNameErrors(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	params, _ := json.Marshal(nameParams{Name: "does-not-exist"})
	resp := call(t, srv.opts.SocketPath, Request{Method: "process.start", Params: params, ID: json.RawMessage("4")})
	require.NotNil(t, resp.Error)
}

func TestControlServer_StagesMapIncludesConfiguredItem(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	resp := call(t, srv.opts.SocketPath, Request{Method: "stages.map", ID: json.RawMessage("5")})
	require.Nil(t, resp.Error)
	m, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	_, has := m["one"]
	require.True(t, has)
}

func TestControlServer_SecondListenerFailsWhileRunning(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	other := New(Options{SocketPath: srv.opts.SocketPath}, nil)
	err := other.Listen()
	require.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"10s": 10 * time.Second,
		"5m":  5 * time.Minute,
		"2h":  2 * time.Hour,
		"1d":  24 * time.Hour,
	}
	for s, want := range cases {
		got, err := parseDuration(s)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := parseDuration("10x")
	require.Error(t, err)
	_, err = parseDuration("abc")
	require.Error(t, err)
}
