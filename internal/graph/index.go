// Package graph indexes the directed connections of each canvas and answers
// neighbour and reachability queries over them.
package graph

import (
	"sort"
	"sync"

	"github.com/podweave/podweave/internal/canvas"
)

// EdgeFilter selects which connections a traversal may follow.
type EdgeFilter func(canvas.Connection) bool

// AutoEdges follows only pod-sourced auto connections.
func AutoEdges(c canvas.Connection) bool {
	return c.Mode == canvas.ModeAuto && c.FromPod()
}

// PodEdges follows every pod-sourced connection regardless of mode.
func PodEdges(c canvas.Connection) bool {
	return c.FromPod()
}

type edges struct {
	out map[string][]canvas.Connection // source id -> connections
	in  map[string][]canvas.Connection // target id -> connections
}

// Index is a thread-safe adjacency index, one per canvas.
type Index struct {
	mu       sync.RWMutex
	canvases map[string]*edges
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{canvases: make(map[string]*edges)}
}

// Rebuild replaces the edges of one canvas.
func (ix *Index) Rebuild(canvasID string, conns []canvas.Connection) {
	e := &edges{
		out: make(map[string][]canvas.Connection),
		in:  make(map[string][]canvas.Connection),
	}
	for _, c := range conns {
		e.out[c.SourceID] = append(e.out[c.SourceID], c)
		e.in[c.TargetID] = append(e.in[c.TargetID], c)
	}
	for _, list := range e.out {
		sortByID(list)
	}
	for _, list := range e.in {
		sortByID(list)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.canvases[canvasID] = e
}

// Drop forgets a canvas.
func (ix *Index) Drop(canvasID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.canvases, canvasID)
}

// Outgoing returns the connections whose source is id (pod or trigger).
func (ix *Index) Outgoing(canvasID, id string) []canvas.Connection {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.canvases[canvasID]
	if !ok {
		return nil
	}
	return append([]canvas.Connection(nil), e.out[id]...)
}

// Incoming returns the connections whose target is podID.
func (ix *Index) Incoming(canvasID, podID string) []canvas.Connection {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.canvases[canvasID]
	if !ok {
		return nil
	}
	return append([]canvas.Connection(nil), e.in[podID]...)
}

// HasOutgoing reports whether podID has at least one outgoing edge matching filter.
func (ix *Index) HasOutgoing(canvasID, podID string, filter EdgeFilter) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.canvases[canvasID]
	if !ok {
		return false
	}
	for _, c := range e.out[podID] {
		if filter == nil || filter(c) {
			return true
		}
	}
	return false
}

// DownstreamClosure returns every pod reachable from podID by breadth-first
// traversal of edges matching filter. The start pod is never part of its own
// closure, even when a cycle leads back to it.
func (ix *Index) DownstreamClosure(canvasID, podID string, filter EdgeFilter) map[string]struct{} {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	closure := make(map[string]struct{})
	e, ok := ix.canvases[canvasID]
	if !ok {
		return closure
	}

	visited := map[string]bool{podID: true}
	queue := []string{podID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, c := range e.out[current] {
			if filter != nil && !filter(c) {
				continue
			}
			if visited[c.TargetID] {
				continue
			}
			visited[c.TargetID] = true
			closure[c.TargetID] = struct{}{}
			queue = append(queue, c.TargetID)
		}
	}
	return closure
}

// Sorted returns the members of a pod set in stable order.
func Sorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func sortByID(list []canvas.Connection) {
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
}
