package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFOPerTarget(t *testing.T) {
	q := NewQueue()
	assert.Equal(t, 1, q.Enqueue(Entry{CanvasID: "c1", TargetID: "t", SourceID: "a", Content: "first"}))
	assert.Equal(t, 2, q.Enqueue(Entry{CanvasID: "c1", TargetID: "t", SourceID: "b", Content: "second"}))
	q.Enqueue(Entry{CanvasID: "c1", TargetID: "u", SourceID: "a"})
	q.Enqueue(Entry{CanvasID: "c2", TargetID: "t", SourceID: "a"})

	assert.Equal(t, 2, q.Len("c1", "t"))
	assert.Equal(t, []string{"t", "u"}, q.Targets("c1"))

	e, ok := q.DrainNext("c1", "t")
	require.True(t, ok)
	assert.Equal(t, "first", e.Content)
	assert.False(t, e.EnqueuedAt.IsZero())

	q.pushFront(e)
	e, _ = q.DrainNext("c1", "t")
	assert.Equal(t, "first", e.Content)
	e, _ = q.DrainNext("c1", "t")
	assert.Equal(t, "second", e.Content)

	_, ok = q.DrainNext("c1", "t")
	assert.False(t, ok)
	assert.Equal(t, 0, q.Len("c1", "t"))
}

func TestQueueSnapshotAndClearCanvas(t *testing.T) {
	q := NewQueue()
	q.Enqueue(Entry{CanvasID: "c2", TargetID: "x"})
	q.Enqueue(Entry{CanvasID: "c1", TargetID: "y"})
	q.Enqueue(Entry{CanvasID: "c1", TargetID: "x"})

	snap := q.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "c1", snap[0].CanvasID)
	assert.Equal(t, "x", snap[0].TargetID)
	assert.Equal(t, "c2", snap[2].CanvasID)

	assert.Equal(t, 2, q.ClearCanvas("c1"))
	assert.Len(t, q.Snapshot(), 1)
	assert.Empty(t, q.Targets("c1"))
}

func TestEntryConnectionIDs(t *testing.T) {
	assert.Nil(t, Entry{}.connectionIDs())
	assert.Equal(t, []string{"c"}, Entry{ConnectionID: "c"}.connectionIDs())
	assert.Equal(t, []string{"c", "d"}, Entry{ConnectionID: "c", Joined: []string{"c", "d"}}.connectionIDs())
}
