package canvas

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ConnectionsChangedFunc is called with the full connection list of a canvas
// after any connection is added or removed.
type ConnectionsChangedFunc func(canvasID string, conns []Connection)

type canvasState struct {
	pods        map[string]*Pod
	connections map[string]*Connection
	triggers    map[string]*Trigger
}

func newCanvasState() *canvasState {
	return &canvasState{
		pods:        make(map[string]*Pod),
		connections: make(map[string]*Connection),
		triggers:    make(map[string]*Trigger),
	}
}

var _ Repository = (*MemoryStore)(nil)

// MemoryStore is the authoritative in-memory Repository. Every mutation is
// forwarded to an optional Persister (best-effort).
type MemoryStore struct {
	mu        sync.RWMutex
	canvases  map[string]*canvasState
	persister Persister
	listeners []ConnectionsChangedFunc
}

// NewMemoryStore creates an empty store. persister may be nil.
func NewMemoryStore(persister Persister) *MemoryStore {
	return &MemoryStore{
		canvases:  make(map[string]*canvasState),
		persister: persister,
	}
}

// OnConnectionsChanged registers a listener for connection topology changes.
func (s *MemoryStore) OnConnectionsChanged(fn ConnectionsChangedFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Load replaces the in-memory state with a snapshot without writing through.
func (s *MemoryStore) Load(snap Snapshot) {
	s.mu.Lock()
	s.canvases = make(map[string]*canvasState)
	for _, p := range snap.Pods {
		p := clonePod(p)
		s.state(p.CanvasID).pods[p.ID] = &p
	}
	for _, c := range snap.Connections {
		c := c
		s.state(c.CanvasID).connections[c.ID] = &c
	}
	for _, t := range snap.Triggers {
		t := cloneTrigger(t)
		s.state(t.CanvasID).triggers[t.ID] = &t
	}
	ids := s.canvasIDsLocked()
	s.mu.Unlock()

	for _, id := range ids {
		s.notifyConnections(id)
	}
}

// state returns the canvas state, creating it. Caller holds the write lock.
func (s *MemoryStore) state(canvasID string) *canvasState {
	cs, ok := s.canvases[canvasID]
	if !ok {
		cs = newCanvasState()
		s.canvases[canvasID] = cs
	}
	return cs
}

func (s *MemoryStore) lookup(canvasID string) (*canvasState, bool) {
	cs, ok := s.canvases[canvasID]
	return cs, ok
}

func (s *MemoryStore) canvasIDsLocked() []string {
	ids := make([]string, 0, len(s.canvases))
	for id := range s.canvases {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Canvases returns all known canvas ids, sorted.
func (s *MemoryStore) Canvases() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.canvasIDsLocked()
}

// ---------------------------------------------------------------------------
// Pods
// ---------------------------------------------------------------------------

// AddPod inserts or replaces a pod.
func (s *MemoryStore) AddPod(p Pod) error {
	if p.ID == "" || p.CanvasID == "" {
		return fmt.Errorf("pod requires id and canvas id")
	}
	if p.Status == "" {
		p.Status = PodIdle
	}
	if p.Schedule != nil {
		if err := p.Schedule.Frequency.Validate(); err != nil {
			return fmt.Errorf("pod %s: %w", p.ID, err)
		}
	}
	p = clonePod(p)
	s.mu.Lock()
	s.state(p.CanvasID).pods[p.ID] = &p
	s.mu.Unlock()
	s.persistPod(p)
	return nil
}

// DeletePod removes a pod and every connection touching it.
func (s *MemoryStore) DeletePod(canvasID, podID string) error {
	s.mu.Lock()
	cs, ok := s.lookup(canvasID)
	if !ok || cs.pods[podID] == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPodNotFound, podID)
	}
	delete(cs.pods, podID)
	var removed []string
	for id, c := range cs.connections {
		if c.TargetID == podID || (c.FromPod() && c.SourceID == podID) {
			delete(cs.connections, id)
			removed = append(removed, id)
		}
	}
	s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.DeletePod(canvasID, podID); err != nil {
			slog.Warn("Persist pod delete failed", "canvas", canvasID, "pod", podID, "error", err)
		}
		for _, id := range removed {
			_ = s.persister.DeleteConnection(canvasID, id)
		}
	}
	s.notifyConnections(canvasID)
	return nil
}

func (s *MemoryStore) GetPod(canvasID, podID string) (Pod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.lookup(canvasID)
	if !ok {
		return Pod{}, fmt.Errorf("%w: %s", ErrPodNotFound, podID)
	}
	p, ok := cs.pods[podID]
	if !ok {
		return Pod{}, fmt.Errorf("%w: %s", ErrPodNotFound, podID)
	}
	return clonePod(*p), nil
}

func (s *MemoryStore) ListPods(canvasID string) []Pod {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.lookup(canvasID)
	if !ok {
		return nil
	}
	out := make([]Pod, 0, len(cs.pods))
	for _, p := range cs.pods {
		out = append(out, clonePod(*p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) SetPodStatus(canvasID, podID string, status PodStatus) error {
	s.mu.Lock()
	p, err := s.podLocked(canvasID, podID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	p.Status = status
	if status != PodIdle {
		p.LastActiveAt = time.Now()
	}
	snap := clonePod(*p)
	s.mu.Unlock()
	s.persistPod(snap)
	return nil
}

func (s *MemoryStore) TransitionPodStatus(canvasID, podID string, from, to PodStatus) (bool, error) {
	s.mu.Lock()
	p, err := s.podLocked(canvasID, podID)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	current := p.Status
	if current == "" {
		current = PodIdle
	}
	if current != from {
		s.mu.Unlock()
		return false, nil
	}
	p.Status = to
	if to != PodIdle {
		p.LastActiveAt = time.Now()
	}
	snap := clonePod(*p)
	s.mu.Unlock()
	s.persistPod(snap)
	return true, nil
}

func (s *MemoryStore) SetScheduleLastTriggeredAt(canvasID, podID string, at time.Time) error {
	s.mu.Lock()
	p, err := s.podLocked(canvasID, podID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if p.Schedule == nil {
		s.mu.Unlock()
		return fmt.Errorf("pod %s has no schedule", podID)
	}
	t := at
	p.Schedule.LastTriggeredAt = &t
	snap := clonePod(*p)
	s.mu.Unlock()
	s.persistPod(snap)
	return nil
}

func (s *MemoryStore) podLocked(canvasID, podID string) (*Pod, error) {
	cs, ok := s.lookup(canvasID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPodNotFound, podID)
	}
	p, ok := cs.pods[podID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPodNotFound, podID)
	}
	return p, nil
}

func (s *MemoryStore) persistPod(p Pod) {
	if s.persister == nil {
		return
	}
	if err := s.persister.SavePod(p); err != nil {
		slog.Warn("Persist pod failed", "canvas", p.CanvasID, "pod", p.ID, "error", err)
	}
}

// ---------------------------------------------------------------------------
// Connections
// ---------------------------------------------------------------------------

// AddConnection inserts or replaces a connection.
func (s *MemoryStore) AddConnection(c Connection) error {
	if c.ID == "" || c.CanvasID == "" || c.SourceID == "" || c.TargetID == "" {
		return fmt.Errorf("connection requires id, canvas id, source and target")
	}
	if !c.Mode.Valid() {
		return fmt.Errorf("connection %s: unknown propagation mode %q", c.ID, c.Mode)
	}
	if c.SourceKind == "" {
		c.SourceKind = SourcePod
	}
	if c.Status == "" {
		c.Status = ConnIdle
	}
	s.mu.Lock()
	s.state(c.CanvasID).connections[c.ID] = &c
	s.mu.Unlock()
	s.persistConnection(c)
	s.notifyConnections(c.CanvasID)
	return nil
}

// DeleteConnection removes a connection.
func (s *MemoryStore) DeleteConnection(canvasID, connectionID string) error {
	s.mu.Lock()
	cs, ok := s.lookup(canvasID)
	if !ok || cs.connections[connectionID] == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, connectionID)
	}
	delete(cs.connections, connectionID)
	s.mu.Unlock()
	if s.persister != nil {
		if err := s.persister.DeleteConnection(canvasID, connectionID); err != nil {
			slog.Warn("Persist connection delete failed", "canvas", canvasID, "connection", connectionID, "error", err)
		}
	}
	s.notifyConnections(canvasID)
	return nil
}

func (s *MemoryStore) GetConnection(canvasID, connectionID string) (Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.lookup(canvasID)
	if !ok {
		return Connection{}, fmt.Errorf("%w: %s", ErrConnectionNotFound, connectionID)
	}
	c, ok := cs.connections[connectionID]
	if !ok {
		return Connection{}, fmt.Errorf("%w: %s", ErrConnectionNotFound, connectionID)
	}
	return *c, nil
}

func (s *MemoryStore) ListConnections(canvasID string) []Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectionsLocked(canvasID)
}

func (s *MemoryStore) connectionsLocked(canvasID string) []Connection {
	cs, ok := s.lookup(canvasID)
	if !ok {
		return nil
	}
	out := make([]Connection, 0, len(cs.connections))
	for _, c := range cs.connections {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) UpdateConnectionStatus(canvasID, connectionID string, status ConnectionStatus) error {
	s.mu.Lock()
	c, err := s.connectionLocked(canvasID, connectionID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	c.Status = status
	snap := *c
	s.mu.Unlock()
	s.persistConnection(snap)
	return nil
}

func (s *MemoryStore) SetDecideStatus(canvasID, connectionID string, status DecideStatus, reason string) error {
	s.mu.Lock()
	c, err := s.connectionLocked(canvasID, connectionID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	c.DecideStatus = status
	c.DecideReason = reason
	snap := *c
	s.mu.Unlock()
	s.persistConnection(snap)
	return nil
}

func (s *MemoryStore) connectionLocked(canvasID, connectionID string) (*Connection, error) {
	cs, ok := s.lookup(canvasID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConnectionNotFound, connectionID)
	}
	c, ok := cs.connections[connectionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConnectionNotFound, connectionID)
	}
	return c, nil
}

func (s *MemoryStore) persistConnection(c Connection) {
	if s.persister == nil {
		return
	}
	if err := s.persister.SaveConnection(c); err != nil {
		slog.Warn("Persist connection failed", "canvas", c.CanvasID, "connection", c.ID, "error", err)
	}
}

func (s *MemoryStore) notifyConnections(canvasID string) {
	s.mu.RLock()
	conns := s.connectionsLocked(canvasID)
	listeners := append([]ConnectionsChangedFunc(nil), s.listeners...)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(canvasID, conns)
	}
}

// ---------------------------------------------------------------------------
// Triggers
// ---------------------------------------------------------------------------

// AddTrigger inserts or replaces a trigger.
func (s *MemoryStore) AddTrigger(t Trigger) error {
	if t.ID == "" || t.CanvasID == "" {
		return fmt.Errorf("trigger requires id and canvas id")
	}
	if err := t.Frequency.Validate(); err != nil {
		return fmt.Errorf("trigger %s: %w", t.ID, err)
	}
	t = cloneTrigger(t)
	s.mu.Lock()
	s.state(t.CanvasID).triggers[t.ID] = &t
	s.mu.Unlock()
	s.persistTrigger(t)
	return nil
}

// DeleteTrigger removes a trigger and its outgoing connections.
func (s *MemoryStore) DeleteTrigger(canvasID, triggerID string) error {
	s.mu.Lock()
	cs, ok := s.lookup(canvasID)
	if !ok || cs.triggers[triggerID] == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTriggerNotFound, triggerID)
	}
	delete(cs.triggers, triggerID)
	var removed []string
	for id, c := range cs.connections {
		if c.SourceKind == SourceTrigger && c.SourceID == triggerID {
			delete(cs.connections, id)
			removed = append(removed, id)
		}
	}
	s.mu.Unlock()
	if s.persister != nil {
		_ = s.persister.DeleteTrigger(canvasID, triggerID)
		for _, id := range removed {
			_ = s.persister.DeleteConnection(canvasID, id)
		}
	}
	s.notifyConnections(canvasID)
	return nil
}

func (s *MemoryStore) GetTrigger(canvasID, triggerID string) (Trigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.lookup(canvasID)
	if !ok {
		return Trigger{}, fmt.Errorf("%w: %s", ErrTriggerNotFound, triggerID)
	}
	t, ok := cs.triggers[triggerID]
	if !ok {
		return Trigger{}, fmt.Errorf("%w: %s", ErrTriggerNotFound, triggerID)
	}
	return cloneTrigger(*t), nil
}

func (s *MemoryStore) ListTriggers(canvasID string) []Trigger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.lookup(canvasID)
	if !ok {
		return nil
	}
	out := make([]Trigger, 0, len(cs.triggers))
	for _, t := range cs.triggers {
		out = append(out, cloneTrigger(*t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) SetTriggerLastTriggeredAt(canvasID, triggerID string, at time.Time) error {
	s.mu.Lock()
	cs, ok := s.lookup(canvasID)
	if !ok || cs.triggers[triggerID] == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTriggerNotFound, triggerID)
	}
	t := cs.triggers[triggerID]
	ts := at
	t.LastTriggeredAt = &ts
	snap := cloneTrigger(*t)
	s.mu.Unlock()
	s.persistTrigger(snap)
	return nil
}

func (s *MemoryStore) persistTrigger(t Trigger) {
	if s.persister == nil {
		return
	}
	if err := s.persister.SaveTrigger(t); err != nil {
		slog.Warn("Persist trigger failed", "canvas", t.CanvasID, "trigger", t.ID, "error", err)
	}
}

// Snapshot returns a copy of one canvas.
func (s *MemoryStore) Snapshot(canvasID string) Snapshot {
	return Snapshot{
		Pods:        s.ListPods(canvasID),
		Connections: s.ListConnections(canvasID),
		Triggers:    s.ListTriggers(canvasID),
	}
}

func clonePod(p Pod) Pod {
	if p.Schedule != nil {
		sc := *p.Schedule
		if sc.LastTriggeredAt != nil {
			t := *sc.LastTriggeredAt
			sc.LastTriggeredAt = &t
		}
		sc.Frequency.Weekdays = append([]time.Weekday(nil), sc.Frequency.Weekdays...)
		p.Schedule = &sc
	}
	return p
}

func cloneTrigger(t Trigger) Trigger {
	if t.LastTriggeredAt != nil {
		ts := *t.LastTriggeredAt
		t.LastTriggeredAt = &ts
	}
	t.Frequency.Weekdays = append([]time.Weekday(nil), t.Frequency.Weekdays...)
	return t
}
