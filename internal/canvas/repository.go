package canvas

import "time"

// Repository is the read/write surface the orchestration core uses for pods,
// connections and triggers. Implementations must be safe for concurrent use.
type Repository interface {
	Canvases() []string

	GetPod(canvasID, podID string) (Pod, error)
	ListPods(canvasID string) []Pod
	SetPodStatus(canvasID, podID string, status PodStatus) error
	// TransitionPodStatus moves a pod from one status to another only when
	// its current status equals from. Returns false when it did not.
	TransitionPodStatus(canvasID, podID string, from, to PodStatus) (bool, error)
	SetScheduleLastTriggeredAt(canvasID, podID string, at time.Time) error

	GetConnection(canvasID, connectionID string) (Connection, error)
	ListConnections(canvasID string) []Connection
	UpdateConnectionStatus(canvasID, connectionID string, status ConnectionStatus) error
	SetDecideStatus(canvasID, connectionID string, status DecideStatus, reason string) error

	GetTrigger(canvasID, triggerID string) (Trigger, error)
	ListTriggers(canvasID string) []Trigger
	SetTriggerLastTriggeredAt(canvasID, triggerID string, at time.Time) error
}

// Persister receives write-through copies of every mutation. It is never the
// only holder of state the core reads back.
type Persister interface {
	SavePod(p Pod) error
	DeletePod(canvasID, podID string) error
	SaveConnection(c Connection) error
	DeleteConnection(canvasID, connectionID string) error
	SaveTrigger(t Trigger) error
	DeleteTrigger(canvasID, triggerID string) error
}

// Snapshot is a full copy of one or more canvases.
type Snapshot struct {
	Pods        []Pod        `json:"pods"`
	Connections []Connection `json:"connections"`
	Triggers    []Trigger    `json:"triggers"`
}
