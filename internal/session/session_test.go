package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerPersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	require.NoError(t, m.Append("c1", "pod-a", RoleUser, "hello"))
	require.NoError(t, m.Append("c1", "pod-a", RoleAssistant, "hi there"))

	again, err := NewManager(dir)
	require.NoError(t, err)
	history := again.History("c1", "pod-a", 0)
	require.Len(t, history, 2)
	assert.Equal(t, "hi there", history[1].Content)
}

func TestLastAssistantMessageSkipsBlank(t *testing.T) {
	m, err := NewManager("")
	require.NoError(t, err)

	_, ok := m.LastAssistantMessage("c1", "a")
	assert.False(t, ok)

	require.NoError(t, m.Append("c1", "a", RoleAssistant, "first"))
	require.NoError(t, m.Append("c1", "a", RoleAssistant, "   "))
	require.NoError(t, m.Append("c1", "a", RoleUser, "question"))

	msg, ok := m.LastAssistantMessage("c1", "a")
	assert.True(t, ok)
	assert.Equal(t, "first", msg)
}

func TestClearPod(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)
	require.NoError(t, m.Append("c1", "a", RoleAssistant, "done"))

	require.NoError(t, m.ClearPod("c1", "a"))
	assert.Equal(t, 0, m.Get("c1", "a").Len())

	reloaded, err := NewManager(dir)
	require.NoError(t, err)
	assert.Equal(t, 0, reloaded.Get("c1", "a").Len())
}

func TestHistoryLimit(t *testing.T) {
	tr := NewTranscript("k")
	for _, s := range []string{"1", "2", "3"} {
		tr.Add(RoleUser, s)
	}
	h := tr.History(2)
	require.Len(t, h, 2)
	assert.Equal(t, "2", h[0].Content)
}

func TestPathSanitizesKey(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)
	p := m.path("../../etc:passwd")
	assert.NotContains(t, p, "..")
}
