package logger

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_WritesCombinedAndErrorLogs(t *testing.T) {
	dir := t.TempDir()
	log, closeAll, err := New(Options{Dir: dir, Level: slog.LevelInfo})
	require.NoError(t, err)
	defer func() { require.NoError(t, closeAll()) }()

	log.Info("starting up")
	log.Warn("disk getting full")
	log.Error("child crashed")

	require.NoError(t, closeAll())

	combined := readLines(t, filepath.Join(dir, "combined.log"))
	require.True(t, containsSubstring(combined, "starting up"))
	require.True(t, containsSubstring(combined, "disk getting full"))
	require.True(t, containsSubstring(combined, "child crashed"))

	errOnly := readLines(t, filepath.Join(dir, "error.log"))
	require.False(t, containsSubstring(errOnly, "starting up"))
	require.True(t, containsSubstring(errOnly, "disk getting full"))
	require.True(t, containsSubstring(errOnly, "child crashed"))
}

func TestNew_CreatesLogDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	_, closeAll, err := New(Options{Dir: dir, Level: slog.LevelInfo})
	require.NoError(t, err)
	defer func() { _ = closeAll() }()

	_, statErr := os.Stat(dir)
	require.NoError(t, statErr)
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

func containsSubstring(lines []string, sub string) bool {
	for _, l := range lines {
		if strings.Contains(l, sub) {
			return true
		}
	}
	return false
}
