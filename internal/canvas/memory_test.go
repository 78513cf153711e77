package canvas

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPersister struct {
	mu          sync.Mutex
	pods        map[string]Pod
	connections map[string]Connection
	deletedConn []string
}

func newRecordingPersister() *recordingPersister {
	return &recordingPersister{pods: map[string]Pod{}, connections: map[string]Connection{}}
}

func (r *recordingPersister) SavePod(p Pod) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pods[p.ID] = p
	return nil
}

func (r *recordingPersister) DeletePod(_, podID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pods, podID)
	return nil
}

func (r *recordingPersister) SaveConnection(c Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[c.ID] = c
	return nil
}

func (r *recordingPersister) DeleteConnection(_, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.connections, id)
	r.deletedConn = append(r.deletedConn, id)
	return nil
}

func (r *recordingPersister) SaveTrigger(Trigger) error          { return nil }
func (r *recordingPersister) DeleteTrigger(string, string) error { return nil }

func TestMemoryStoreTransitionPodStatus(t *testing.T) {
	s := NewMemoryStore(nil)
	require.NoError(t, s.AddPod(Pod{ID: "a", CanvasID: "c1"}))

	ok, err := s.TransitionPodStatus("c1", "a", PodIdle, PodChatting)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TransitionPodStatus("c1", "a", PodIdle, PodChatting)
	require.NoError(t, err)
	assert.False(t, ok, "second claim must lose")

	p, err := s.GetPod("c1", "a")
	require.NoError(t, err)
	assert.Equal(t, PodChatting, p.Status)
	assert.False(t, p.LastActiveAt.IsZero())
}

func TestMemoryStoreMissingEntities(t *testing.T) {
	s := NewMemoryStore(nil)

	_, err := s.GetPod("c1", "ghost")
	assert.True(t, errors.Is(err, ErrPodNotFound))
	assert.True(t, IsNotFound(err))

	_, err = s.TransitionPodStatus("c1", "ghost", PodIdle, PodChatting)
	assert.True(t, IsNotFound(err))

	err = s.UpdateConnectionStatus("c1", "ghost", ConnActive)
	assert.True(t, errors.Is(err, ErrConnectionNotFound))

	_, err = s.GetTrigger("c1", "ghost")
	assert.True(t, errors.Is(err, ErrTriggerNotFound))
}

func TestMemoryStoreDeletePodCascadesConnections(t *testing.T) {
	p := newRecordingPersister()
	s := NewMemoryStore(p)

	var notified [][]Connection
	s.OnConnectionsChanged(func(_ string, conns []Connection) {
		notified = append(notified, conns)
	})

	require.NoError(t, s.AddPod(Pod{ID: "a", CanvasID: "c1"}))
	require.NoError(t, s.AddPod(Pod{ID: "b", CanvasID: "c1"}))
	require.NoError(t, s.AddPod(Pod{ID: "c", CanvasID: "c1"}))
	require.NoError(t, s.AddConnection(Connection{ID: "ab", CanvasID: "c1", SourceID: "a", TargetID: "b", Mode: ModeAuto}))
	require.NoError(t, s.AddConnection(Connection{ID: "bc", CanvasID: "c1", SourceID: "b", TargetID: "c", Mode: ModeAuto}))

	require.NoError(t, s.DeletePod("c1", "b"))

	assert.Empty(t, s.ListConnections("c1"))
	assert.ElementsMatch(t, []string{"ab", "bc"}, p.deletedConn)
	require.NotEmpty(t, notified)
	assert.Empty(t, notified[len(notified)-1])
}

func TestMemoryStoreRejectsInvalidEntities(t *testing.T) {
	s := NewMemoryStore(nil)
	assert.Error(t, s.AddConnection(Connection{ID: "x", CanvasID: "c1", SourceID: "a", TargetID: "b", Mode: "sideways"}))
	assert.Error(t, s.AddPod(Pod{ID: "a", CanvasID: "c1", Schedule: &Schedule{Frequency: Frequency{Kind: EveryXMinute}}}))
	assert.Error(t, s.AddTrigger(Trigger{ID: "t", CanvasID: "c1", Frequency: Frequency{Kind: "fortnightly"}}))
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore(nil)
	require.NoError(t, s.AddPod(Pod{ID: "a", CanvasID: "c1", Schedule: &Schedule{Frequency: Frequency{Kind: EverySecond, Interval: 1}}}))
	require.NoError(t, s.SetScheduleLastTriggeredAt("c1", "a", time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)))

	p, err := s.GetPod("c1", "a")
	require.NoError(t, err)
	*p.Schedule.LastTriggeredAt = time.Time{}

	again, err := s.GetPod("c1", "a")
	require.NoError(t, err)
	assert.Equal(t, 2026, again.Schedule.LastTriggeredAt.Year())
}

func TestMemoryStoreDeleteTriggerRemovesItsConnections(t *testing.T) {
	s := NewMemoryStore(nil)
	require.NoError(t, s.AddPod(Pod{ID: "a", CanvasID: "c1"}))
	require.NoError(t, s.AddTrigger(Trigger{ID: "t1", CanvasID: "c1", Frequency: Frequency{Kind: EveryDay, Hour: 9}}))
	require.NoError(t, s.AddConnection(Connection{ID: "ta", CanvasID: "c1", SourceID: "t1", SourceKind: SourceTrigger, TargetID: "a", Mode: ModeAuto}))

	require.NoError(t, s.DeleteTrigger("c1", "t1"))
	assert.Empty(t, s.ListConnections("c1"))
	assert.Len(t, s.ListPods("c1"), 1)
}
