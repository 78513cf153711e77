package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func arrival(src, conn string) Arrival {
	return Arrival{SourceID: src, TargetID: "T", ConnectionID: conn, Mode: "auto"}
}

func TestJoinCollectorWaitsForAllSources(t *testing.T) {
	j := NewJoinCollector(indexOf(
		[3]string{"X", "T", "auto"},
		[3]string{"Y", "T", "ai-decide"},
		[3]string{"Z", "T", "direct"},
	))
	assert.Equal(t, []string{"X", "Y"}, j.RequiredSources("c1", "T"))

	_, state := j.Collect("c1", arrival("X", "a"))
	assert.Equal(t, CollectWaiting, state)
	reported, rejected := j.Waiting("c1", "T")
	assert.Equal(t, []string{"X"}, reported)
	assert.False(t, rejected)

	batch, state := j.Collect("c1", arrival("Y", "b"))
	require.Equal(t, CollectReady, state)
	require.Len(t, batch.Arrivals, 2)
	assert.Equal(t, "X", batch.Arrivals[0].SourceID)
	assert.Equal(t, "Y", batch.Arrivals[1].SourceID)
	assert.NotEmpty(t, batch.RoundID)

	reported, _ = j.Waiting("c1", "T")
	assert.Empty(t, reported)
}

func TestJoinCollectorSecondReportOpensNextRound(t *testing.T) {
	j := NewJoinCollector(indexOf(
		[3]string{"X", "T", "auto"},
		[3]string{"Y", "T", "auto"},
	))
	_, s1 := j.Collect("c1", arrival("X", "a"))
	_, s2 := j.Collect("c1", arrival("X", "a"))
	assert.Equal(t, CollectWaiting, s1)
	assert.Equal(t, CollectWaiting, s2)

	first, state := j.Collect("c1", arrival("Y", "b"))
	require.Equal(t, CollectReady, state)
	second, state := j.Collect("c1", arrival("Y", "b"))
	require.Equal(t, CollectReady, state)
	assert.NotEqual(t, first.RoundID, second.RoundID)
}

func TestJoinCollectorRejectionAbsorbsRound(t *testing.T) {
	j := NewJoinCollector(indexOf(
		[3]string{"X", "T", "auto"},
		[3]string{"Y", "T", "auto"},
		[3]string{"W", "T", "auto"},
	))
	j.Reject("c1", arrival("Y", "b"))
	_, rejected := j.Waiting("c1", "T")
	assert.True(t, rejected)

	_, state := j.Collect("c1", arrival("X", "a"))
	assert.Equal(t, CollectAbsorbed, state)
	_, state = j.Collect("c1", arrival("W", "c"))
	assert.Equal(t, CollectAbsorbed, state)

	// The rejected round is closed; the next one starts clean.
	_, state = j.Collect("c1", arrival("X", "a"))
	assert.Equal(t, CollectWaiting, state)
	_, rejected = j.Waiting("c1", "T")
	assert.False(t, rejected)
}

func TestJoinCollectorSingleSourcePassesThrough(t *testing.T) {
	j := NewJoinCollector(indexOf([3]string{"X", "T", "auto"}))
	batch, state := j.Collect("c1", arrival("X", "a"))
	assert.Equal(t, CollectReady, state)
	assert.Len(t, batch.Arrivals, 1)

	// A source outside the required set is delivered on its own.
	j = NewJoinCollector(indexOf(
		[3]string{"X", "T", "auto"},
		[3]string{"Y", "T", "auto"},
	))
	_, state = j.Collect("c1", Arrival{SourceID: "D", TargetID: "T", Mode: "direct"})
	assert.Equal(t, CollectReady, state)
}

func TestJoinCollectorClearCanvas(t *testing.T) {
	j := NewJoinCollector(indexOf(
		[3]string{"X", "T", "auto"},
		[3]string{"Y", "T", "auto"},
	))
	j.Collect("c1", arrival("X", "a"))
	assert.Equal(t, 1, j.ClearCanvas("c1"))
	_, state := j.Collect("c1", arrival("Y", "b"))
	assert.Equal(t, CollectWaiting, state)
}
