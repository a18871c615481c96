package patternmatcher

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatch_MultiEmit(t *testing.T) {
	m := New()
	require.NoError(t, m.AddPattern("s", "Server", "s:server"))
	require.NoError(t, m.AddPattern("s", "listening", "s:listening"))
	require.NoError(t, m.AddPattern("s", "port", "s:port"))

	got := m.Match("s", "Server listening on port 3000")
	require.Len(t, got, 3)
	for _, name := range []string{"s:server", "s:listening", "s:port"} {
		_, ok := got[name]
		require.True(t, ok, name)
	}
}

func TestMatch_ScopedToOwner(t *testing.T) {
	m := New()
	require.NoError(t, m.AddPattern("a", "ready", "a:ready"))
	require.NoError(t, m.AddPattern("b", "ready", "b:ready"))

	got := m.Match("a", "service ready")
	require.Len(t, got, 1)
	_, ok := got["a:ready"]
	require.True(t, ok)
}

func TestAddPattern_Malformed(t *testing.T) {
	m := New()
	err := m.AddPattern("a", "(unclosed", "a:x")
	require.Error(t, err)
	require.Equal(t, 0, m.Count())
}

func TestRemovePatternsFor(t *testing.T) {
	m := New()
	require.NoError(t, m.AddPattern("a", "x", "a:x"))
	require.NoError(t, m.AddPattern("b", "x", "b:x"))
	m.RemovePatternsFor("a")
	require.Equal(t, 1, m.Count())
	got := m.Match("a", "x")
	require.Empty(t, got)
}

func TestDuplicateMatchesCollapseToOneEmit(t *testing.T) {
	m := New()
	require.NoError(t, m.AddPattern("s", "a", "s:hit"))
	require.NoError(t, m.AddPattern("s", "a+", "s:hit"))
	got := m.Match("s", "aaaa")
	require.Len(t, got, 1)
}
