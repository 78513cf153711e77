package workflow

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/podweave/podweave/internal/canvas"
	"github.com/podweave/podweave/internal/graph"
)

// Arrival is one source reporting a completion towards a target.
type Arrival struct {
	SourceID     string
	TargetID     string
	ConnectionID string
	Mode         canvas.PropagationMode
}

// Batch is the set of arrivals delivered to a target in one turn.
type Batch struct {
	RoundID  string
	TargetID string
	Arrivals []Arrival
}

// CollectState is the outcome of reporting an arrival.
type CollectState int

const (
	// CollectReady means the batch can be delivered now.
	CollectReady CollectState = iota
	// CollectWaiting means other required sources have not reported yet.
	CollectWaiting
	// CollectAbsorbed means the round was rejected; the arrival is dropped.
	CollectAbsorbed
)

func (s CollectState) String() string {
	switch s {
	case CollectReady:
		return "ready"
	case CollectWaiting:
		return "waiting"
	case CollectAbsorbed:
		return "absorbed"
	}
	return "unknown"
}

// Collector decides when the arrivals for a target are complete.
type Collector interface {
	Collect(canvasID string, a Arrival) (Batch, CollectState)
	// Reject records a source that will not deliver in its round.
	Reject(canvasID string, a Arrival)
	ClearCanvas(canvasID string) int
}

// Passthrough delivers every arrival on its own.
type Passthrough struct{}

func (Passthrough) Collect(_ string, a Arrival) (Batch, CollectState) {
	return Batch{RoundID: uuid.NewString(), TargetID: a.TargetID, Arrivals: []Arrival{a}}, CollectReady
}

func (Passthrough) Reject(string, Arrival) {}
func (Passthrough) ClearCanvas(string) int { return 0 }

type joinRound struct {
	id       string
	required map[string]struct{}
	reported map[string]bool
	arrived  []Arrival
	rejected bool
}

func (r *joinRound) complete() bool { return len(r.reported) >= len(r.required) }

// JoinCollector waits for every required upstream pod of a target before
// delivering. Required sources are the distinct pods feeding the target over
// auto or ai-decide connections; with one or none it behaves as Passthrough.
// A source that reports twice before its round completes opens the next round.
type JoinCollector struct {
	graph  *graph.Index
	mu     sync.Mutex
	rounds map[podKey][]*joinRound
}

// NewJoinCollector creates a join collector over the graph index.
func NewJoinCollector(ix *graph.Index) *JoinCollector {
	return &JoinCollector{graph: ix, rounds: make(map[podKey][]*joinRound)}
}

// RequiredSources returns the upstream pods a target waits for.
func (j *JoinCollector) RequiredSources(canvasID, targetID string) []string {
	set := make(map[string]struct{})
	for _, c := range j.graph.Incoming(canvasID, targetID) {
		if !c.FromPod() {
			continue
		}
		if c.Mode == canvas.ModeAuto || c.Mode == canvas.ModeAIDecide {
			set[c.SourceID] = struct{}{}
		}
	}
	return graph.Sorted(set)
}

func (j *JoinCollector) joins(canvasID string, a Arrival) ([]string, bool) {
	required := j.RequiredSources(canvasID, a.TargetID)
	if len(required) < 2 {
		return nil, false
	}
	for _, id := range required {
		if id == a.SourceID {
			return required, true
		}
	}
	return nil, false
}

// roundFor returns the oldest round the source has not reported in, opening a
// new one when needed. Caller holds j.mu.
func (j *JoinCollector) roundFor(k podKey, sourceID string, required []string) *joinRound {
	for _, r := range j.rounds[k] {
		if !r.reported[sourceID] {
			return r
		}
	}
	r := &joinRound{
		id:       uuid.NewString(),
		required: make(map[string]struct{}, len(required)),
		reported: make(map[string]bool),
	}
	for _, id := range required {
		r.required[id] = struct{}{}
	}
	j.rounds[k] = append(j.rounds[k], r)
	return r
}

func (j *JoinCollector) closeRound(k podKey, r *joinRound) {
	list := j.rounds[k]
	for i, candidate := range list {
		if candidate == r {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(j.rounds, k)
		return
	}
	j.rounds[k] = list
}

func (j *JoinCollector) Collect(canvasID string, a Arrival) (Batch, CollectState) {
	required, ok := j.joins(canvasID, a)
	if !ok {
		return Passthrough{}.Collect(canvasID, a)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	k := podKey{canvasID, a.TargetID}
	r := j.roundFor(k, a.SourceID, required)
	r.reported[a.SourceID] = true
	if !r.rejected {
		r.arrived = append(r.arrived, a)
	}
	if !r.complete() {
		if r.rejected {
			return Batch{}, CollectAbsorbed
		}
		return Batch{}, CollectWaiting
	}

	j.closeRound(k, r)
	if r.rejected {
		return Batch{}, CollectAbsorbed
	}
	arrivals := append([]Arrival(nil), r.arrived...)
	sort.Slice(arrivals, func(x, y int) bool { return arrivals[x].SourceID < arrivals[y].SourceID })
	return Batch{RoundID: r.id, TargetID: a.TargetID, Arrivals: arrivals}, CollectReady
}

func (j *JoinCollector) Reject(canvasID string, a Arrival) {
	required, ok := j.joins(canvasID, a)
	if !ok {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	k := podKey{canvasID, a.TargetID}
	r := j.roundFor(k, a.SourceID, required)
	r.reported[a.SourceID] = true
	r.rejected = true
	r.arrived = nil
	if r.complete() {
		j.closeRound(k, r)
	}
}

// Waiting returns the sources that have reported in the oldest open round.
func (j *JoinCollector) Waiting(canvasID, targetID string) (reported []string, rejected bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	list := j.rounds[podKey{canvasID, targetID}]
	if len(list) == 0 {
		return nil, false
	}
	r := list[0]
	for id := range r.reported {
		reported = append(reported, id)
	}
	sort.Strings(reported)
	return reported, r.rejected
}

func (j *JoinCollector) ClearCanvas(canvasID string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for k, list := range j.rounds {
		if k.canvasID == canvasID {
			n += len(list)
			delete(j.rounds, k)
		}
	}
	return n
}
