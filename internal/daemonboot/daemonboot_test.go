package daemonboot

import (
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func findSelf() (*os.Process, error) { return os.FindProcess(os.Getpid()) }
func sigterm() os.Signal             { return syscall.SIGTERM }

func TestPidFile_WriteReadRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")

	require.NoError(t, WritePidFile(path, 4242))
	pid, err := ReadPidFile(path)
	require.NoError(t, err)
	require.Equal(t, 4242, pid)

	require.NoError(t, RemovePidFile(path))
	_, err = ReadPidFile(path)
	require.Error(t, err)
}

func TestRemovePidFile_ToleratesMissing(t *testing.T) {
	require.NoError(t, RemovePidFile(filepath.Join(t.TempDir(), "missing.pid")))
	require.NoError(t, RemovePidFile(""))
}

func TestProbeLiveness_FalseWhenNoListener(t *testing.T) {
	require.False(t, ProbeLiveness(filepath.Join(t.TempDir(), "no.sock")))
}

func TestProbeLiveness_TrueWhenListening(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "live.sock")
	l, err := net.Listen("unix", sock)
	require.NoError(t, err)
	defer l.Close()

	require.True(t, ProbeLiveness(sock))
}

func TestWatchSignals_InvokesCallbackOnSignal(t *testing.T) {
	fired := make(chan struct{}, 1)
	stop := WatchSignals(func() { fired <- struct{}{} })
	defer stop()

	proc, err := findSelf()
	require.NoError(t, err)
	require.NoError(t, proc.Signal(sigterm()))

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown callback was not invoked")
	}
}
