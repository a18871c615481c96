package ringlog

import (
	"fmt"
	"os"
	"testing"

	"github.com/clier/clier/internal/pipeline"
	"github.com/stretchr/testify/require"
)

func entry(i int) pipeline.LogEntry {
	return pipeline.LogEntry{TimestampMs: int64(i), Stream: pipeline.StreamStdout, Data: fmt.Sprintf("line %d", i), ProcessName: "p"}
}

func TestRingLog_MemoryBound(t *testing.T) {
	rl, err := New("p", "", WithMaxMemoryEntries(10))
	require.NoError(t, err)
	for i := 0; i < 510; i++ {
		require.NoError(t, rl.Add(entry(i)))
	}
	all := rl.GetAll()
	require.Len(t, all, 10)
	require.Equal(t, "line 500", all[0].Data)
	require.Equal(t, "line 509", all[9].Data)
}

func TestRingLog_GetSince(t *testing.T) {
	rl, err := New("p", "", WithMaxMemoryEntries(100))
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		require.NoError(t, rl.Add(entry(i)))
	}
	since := rl.GetSince(15)
	require.Len(t, since, 5)
}

func TestRingLog_FileRotation(t *testing.T) {
	dir := t.TempDir()
	rl, err := New("svc name!", dir, WithMaxMemoryEntries(1000), WithMaxFileSize(50), WithMaxFiles(3))
	require.NoError(t, err)
	for i := 0; i < 40; i++ {
		require.NoError(t, rl.Add(entry(i)))
	}
	require.NoError(t, rl.Flush())

	base := dir + "/svc_name_.log"
	_, err = os.Stat(base)
	require.NoError(t, err)
	_, err = os.Stat(base + ".1")
	require.NoError(t, err)
}

func TestSanitizeName(t *testing.T) {
	require.Equal(t, "svc_name_1", SanitizeName("svc name!1"))
}

func TestRingLog_DeleteLogFiles(t *testing.T) {
	dir := t.TempDir()
	rl, err := New("p", dir, WithMaxFileSize(1<<20))
	require.NoError(t, err)
	require.NoError(t, rl.Add(entry(1)))
	require.NoError(t, rl.DeleteLogFiles())
	require.Empty(t, rl.GetAll())
	_, statErr := os.Stat(dir + "/p.log")
	require.Error(t, statErr)
}
