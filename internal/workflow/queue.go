package workflow

import (
	"sort"
	"sync"
	"time"

	"github.com/podweave/podweave/internal/canvas"
)

// Entry is a propagation waiting for its busy target.
type Entry struct {
	CanvasID     string                 `json:"canvasId"`
	TargetID     string                 `json:"targetPodId"`
	SourceID     string                 `json:"sourcePodId"`
	ConnectionID string                 `json:"connectionId"`
	Content      string                 `json:"content"`
	IsSummarized bool                   `json:"isSummarized"`
	Mode         canvas.PropagationMode `json:"propagationMode"`
	// Joined lists every connection of a multi-input round, ConnectionID included.
	Joined     []string  `json:"joined,omitempty"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

func (e Entry) connectionIDs() []string {
	if len(e.Joined) > 0 {
		return e.Joined
	}
	if e.ConnectionID == "" {
		return nil
	}
	return []string{e.ConnectionID}
}

type podKey struct {
	canvasID string
	podID    string
}

// Queue holds one FIFO per target pod. It never drains itself.
type Queue struct {
	mu      sync.Mutex
	entries map[podKey][]Entry
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{entries: make(map[podKey][]Entry)}
}

// Enqueue appends an entry to its target's FIFO and returns the new length.
func (q *Queue) Enqueue(e Entry) int {
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	k := podKey{e.CanvasID, e.TargetID}
	q.entries[k] = append(q.entries[k], e)
	return len(q.entries[k])
}

// DrainNext pops the oldest entry for targetID.
func (q *Queue) DrainNext(canvasID, targetID string) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	k := podKey{canvasID, targetID}
	list := q.entries[k]
	if len(list) == 0 {
		return Entry{}, false
	}
	e := list[0]
	if len(list) == 1 {
		delete(q.entries, k)
	} else {
		q.entries[k] = list[1:]
	}
	return e, true
}

// pushFront returns an entry to the head of its FIFO after a lost race.
func (q *Queue) pushFront(e Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	k := podKey{e.CanvasID, e.TargetID}
	q.entries[k] = append([]Entry{e}, q.entries[k]...)
}

// Len returns the number of entries waiting for targetID.
func (q *Queue) Len(canvasID, targetID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries[podKey{canvasID, targetID}])
}

// Targets returns the pods of a canvas with waiting entries.
func (q *Queue) Targets(canvasID string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []string
	for k, list := range q.entries {
		if k.canvasID == canvasID && len(list) > 0 {
			out = append(out, k.podID)
		}
	}
	sort.Strings(out)
	return out
}

// Snapshot copies every waiting entry, ordered by canvas, target and age.
func (q *Queue) Snapshot() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Entry
	for _, list := range q.entries {
		out = append(out, list...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CanvasID != out[j].CanvasID {
			return out[i].CanvasID < out[j].CanvasID
		}
		if out[i].TargetID != out[j].TargetID {
			return out[i].TargetID < out[j].TargetID
		}
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
	})
	return out
}

// ClearCanvas drops every entry of a canvas and returns how many were dropped.
func (q *Queue) ClearCanvas(canvasID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for k, list := range q.entries {
		if k.canvasID == canvasID {
			n += len(list)
			delete(q.entries, k)
		}
	}
	return n
}
