package store

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podweave/podweave/internal/bus"
	"github.com/podweave/podweave/internal/canvas"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(DriverModernc, filepath.Join(t.TempDir(), "podweave.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreRoundTripThroughMemoryStore(t *testing.T) {
	s := newTestStore(t)
	mem := canvas.NewMemoryStore(s)

	last := time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC)
	require.NoError(t, mem.AddPod(canvas.Pod{
		ID: "p1", CanvasID: "c1", Name: "Researcher", AutoClear: true,
		Schedule: &canvas.Schedule{
			Frequency:       canvas.Frequency{Kind: canvas.EveryWeek, Hour: 9, Minute: 30, Weekdays: []time.Weekday{time.Monday, time.Wednesday}},
			Enabled:         true,
			LastTriggeredAt: &last,
		},
	}))
	require.NoError(t, mem.AddPod(canvas.Pod{ID: "p2", CanvasID: "c1", Name: "Writer"}))
	require.NoError(t, mem.AddTrigger(canvas.Trigger{
		ID: "t1", CanvasID: "c1", Name: "nightly", Enabled: true, Message: "run",
		Frequency: canvas.Frequency{Kind: canvas.EveryCron, Expr: "0 2 * * *"},
	}))
	require.NoError(t, mem.AddConnection(canvas.Connection{ID: "x", CanvasID: "c1", SourceID: "p1", TargetID: "p2", Mode: canvas.ModeAIDecide}))
	require.NoError(t, mem.AddConnection(canvas.Connection{ID: "y", CanvasID: "c1", SourceID: "t1", SourceKind: canvas.SourceTrigger, TargetID: "p1", Mode: canvas.ModeAuto}))
	require.NoError(t, mem.SetDecideStatus("c1", "x", canvas.DecideRejected, "off topic"))
	require.NoError(t, mem.SetPodStatus("c1", "p2", canvas.PodChatting))

	snap, err := s.Load()
	require.NoError(t, err)
	require.Len(t, snap.Pods, 2)
	require.Len(t, snap.Connections, 2)
	require.Len(t, snap.Triggers, 1)

	p1 := snap.Pods[0]
	assert.Equal(t, "Researcher", p1.Name)
	assert.True(t, p1.AutoClear)
	require.NotNil(t, p1.Schedule)
	assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday}, p1.Schedule.Frequency.Weekdays)
	require.NotNil(t, p1.Schedule.LastTriggeredAt)
	assert.True(t, p1.Schedule.LastTriggeredAt.Equal(last))
	assert.Equal(t, canvas.PodChatting, snap.Pods[1].Status)
	assert.False(t, snap.Pods[1].LastActiveAt.IsZero())

	x := snap.Connections[0]
	assert.Equal(t, canvas.ModeAIDecide, x.Mode)
	assert.Equal(t, canvas.DecideRejected, x.DecideStatus)
	assert.Equal(t, "off topic", x.DecideReason)
	assert.Equal(t, canvas.SourceTrigger, snap.Connections[1].SourceKind)

	assert.Equal(t, "0 2 * * *", snap.Triggers[0].Frequency.Expr)
	assert.Nil(t, snap.Triggers[0].LastTriggeredAt)

	canvases, err := s.Canvases()
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, canvases)
}

func TestStoreDeleteCascadesFromMemoryStore(t *testing.T) {
	s := newTestStore(t)
	mem := canvas.NewMemoryStore(s)
	require.NoError(t, mem.AddPod(canvas.Pod{ID: "a", CanvasID: "c1"}))
	require.NoError(t, mem.AddPod(canvas.Pod{ID: "b", CanvasID: "c1"}))
	require.NoError(t, mem.AddConnection(canvas.Connection{ID: "ab", CanvasID: "c1", SourceID: "a", TargetID: "b", Mode: canvas.ModeAuto}))

	require.NoError(t, mem.DeletePod("c1", "b"))

	snap, err := s.Load()
	require.NoError(t, err)
	assert.Len(t, snap.Pods, 1)
	assert.Empty(t, snap.Connections)
}

func TestResetTransientStatus(t *testing.T) {
	s := newTestStore(t)
	for id, status := range map[string]canvas.PodStatus{
		"a": canvas.PodChatting,
		"b": canvas.PodSummarizing,
		"c": canvas.PodError,
		"d": canvas.PodIdle,
	} {
		require.NoError(t, s.SavePod(canvas.Pod{ID: id, CanvasID: "c1", Status: status}))
	}

	n, err := s.ResetTransientStatus()
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	snap, err := s.Load()
	require.NoError(t, err)
	got := map[string]canvas.PodStatus{}
	for _, p := range snap.Pods {
		got[p.ID] = p.Status
	}
	assert.Equal(t, canvas.PodIdle, got["a"])
	assert.Equal(t, canvas.PodIdle, got["b"])
	assert.Equal(t, canvas.PodError, got["c"], "errors survive a restart")
}

func TestRunLogFromEvents(t *testing.T) {
	s := newTestStore(t)

	s.RecordEvent(&bus.Event{Type: bus.EventQueued, CanvasID: "c1", SourceID: "a", TargetID: "b", ConnectionID: "ab"})
	s.RecordEvent(&bus.Event{Type: bus.EventPodStatus, CanvasID: "c1", PodID: "a", Status: "idle"})
	s.RecordEvent(&bus.Event{Type: bus.EventChainCleared, CanvasID: "c1", SourceID: "a", PodIDs: []string{"a", "b"}})
	s.RecordEvent(&bus.Event{Type: bus.EventScheduleSkipped, CanvasID: "c2", PodID: "z", Reason: "concurrency"})

	runs, err := s.ListRuns("c1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2, "pod status is not an outcome")
	assert.Equal(t, string(bus.EventChainCleared), runs[0].Kind)
	assert.Equal(t, []string{"a", "b"}, runs[0].PodIDs)
	assert.Equal(t, "b", runs[1].TargetID)
	assert.NotEmpty(t, runs[1].RunID)
	assert.False(t, runs[1].CreatedAt.IsZero())

	all, err := s.ListRuns("", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "z", all[0].TargetID)

	require.NoError(t, s.DeleteCanvas("c1"))
	runs, err = s.ListRuns("c1", 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("postgres", filepath.Join(t.TempDir(), "x.db"))
	require.Error(t, err)
}

func TestOpenCgoDriver(t *testing.T) {
	s, err := Open(DriverCgo, filepath.Join(t.TempDir(), "cgo.db"))
	if err != nil {
		if strings.Contains(err.Error(), "CGO_ENABLED") || strings.Contains(err.Error(), "cgo") {
			t.Skip("go-sqlite3 needs cgo")
		}
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	assert.Equal(t, DriverCgo, s.Driver())

	require.NoError(t, s.SavePod(canvas.Pod{ID: "a", CanvasID: "c1", Status: canvas.PodIdle}))
	snap, err := s.Load()
	require.NoError(t, err)
	assert.Len(t, snap.Pods, 1)
}

func TestQueueSnapshotReplacesRows(t *testing.T) {
	s := newTestStore(t)
	at := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveQueueSnapshot([]QueuedEntry{
		{CanvasID: "c1", TargetID: "b", SourceID: "a", ConnectionID: "ab", Summarized: true, EnqueuedAt: at},
		{CanvasID: "c1", TargetID: "b", SourceID: "x", ConnectionID: "xb", EnqueuedAt: at.Add(time.Second)},
		{CanvasID: "c2", TargetID: "z", SourceID: "y", ConnectionID: "yz", Joined: 2, EnqueuedAt: at},
	}))

	c1, err := s.ListQueue("c1")
	require.NoError(t, err)
	require.Len(t, c1, 2)
	assert.Equal(t, 0, c1[0].Position)
	assert.Equal(t, "ab", c1[0].ConnectionID)
	assert.True(t, c1[0].Summarized)
	assert.Equal(t, 1, c1[1].Position)
	assert.True(t, at.Equal(c1[0].EnqueuedAt))

	all, err := s.ListQueue("")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, s.SaveQueueSnapshot(nil))
	all, err = s.ListQueue("")
	require.NoError(t, err)
	assert.Empty(t, all)
}
