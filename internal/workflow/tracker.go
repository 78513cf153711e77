package workflow

import (
	"sort"
	"sync"

	"github.com/podweave/podweave/internal/graph"
)

// Chain is a completed propagation chain ready to be cleared.
type Chain struct {
	CanvasID string
	SourceID string
	Members  []string
}

type trackRecord struct {
	pending map[string]struct{}
	members []string
}

// Tracker counts terminal completions per autoClear source so the whole chain
// can be cleared once it has gone quiet.
type Tracker struct {
	graph   *graph.Index
	mu      sync.Mutex
	records map[podKey]*trackRecord
}

// NewTracker creates a tracker over the given graph index.
func NewTracker(ix *graph.Index) *Tracker {
	return &Tracker{graph: ix, records: make(map[podKey]*trackRecord)}
}

// FindTerminalPods returns the leaves of the auto sub-graph reachable from
// sourceID. A closed cycle has no leaves.
func (t *Tracker) FindTerminalPods(canvasID, sourceID string) []string {
	closure := t.graph.DownstreamClosure(canvasID, sourceID, graph.AutoEdges)
	var out []string
	for _, id := range graph.Sorted(closure) {
		if !t.graph.HasOutgoing(canvasID, id, graph.AutoEdges) {
			out = append(out, id)
		}
	}
	return out
}

// InitializeTracking starts a record for sourceID, replacing any previous one.
// Members are the source plus its auto closure at this moment.
func (t *Tracker) InitializeTracking(canvasID, sourceID string, terminals []string) {
	if len(terminals) == 0 {
		return
	}
	pending := make(map[string]struct{}, len(terminals))
	for _, id := range terminals {
		pending[id] = struct{}{}
	}
	members := append([]string{sourceID},
		graph.Sorted(t.graph.DownstreamClosure(canvasID, sourceID, graph.AutoEdges))...)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[podKey{canvasID, sourceID}] = &trackRecord{pending: pending, members: members}
}

// RecordCompletion marks podID done in every record waiting on it and returns
// the chains that are now complete. Completed records are discarded.
func (t *Tracker) RecordCompletion(canvasID, podID string) []Chain {
	t.mu.Lock()
	defer t.mu.Unlock()

	var done []Chain
	for k, rec := range t.records {
		if k.canvasID != canvasID {
			continue
		}
		if _, ok := rec.pending[podID]; !ok {
			continue
		}
		delete(rec.pending, podID)
		if len(rec.pending) == 0 {
			done = append(done, Chain{CanvasID: canvasID, SourceID: k.podID, Members: rec.members})
			delete(t.records, k)
		}
	}
	sort.Slice(done, func(i, j int) bool { return done[i].SourceID < done[j].SourceID })
	return done
}

// Pending returns the terminals sourceID's chain is still waiting for.
func (t *Tracker) Pending(canvasID, sourceID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[podKey{canvasID, sourceID}]
	if !ok {
		return nil
	}
	return graph.Sorted(rec.pending)
}

// ChainMembers returns the pods that will be cleared with sourceID's chain.
func (t *Tracker) ChainMembers(canvasID, sourceID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[podKey{canvasID, sourceID}]
	if !ok {
		return nil
	}
	return append([]string(nil), rec.members...)
}

// Has reports whether sourceID has an outstanding record.
func (t *Tracker) Has(canvasID, sourceID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.records[podKey{canvasID, sourceID}]
	return ok
}

// Clear discards sourceID's record without clearing anything.
func (t *Tracker) Clear(canvasID, sourceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, podKey{canvasID, sourceID})
}

// ClearCanvas discards every record of a canvas.
func (t *Tracker) ClearCanvas(canvasID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for k := range t.records {
		if k.canvasID == canvasID {
			delete(t.records, k)
			n++
		}
	}
	return n
}
