// Package canvas holds the orchestration data model: pods, connections and
// standalone triggers, scoped per canvas.
package canvas

import (
	"errors"
	"time"
)

var (
	ErrPodNotFound        = errors.New("pod not found")
	ErrConnectionNotFound = errors.New("connection not found")
	ErrTriggerNotFound    = errors.New("trigger not found")
)

// IsNotFound reports whether err means the entity vanished.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPodNotFound) ||
		errors.Is(err, ErrConnectionNotFound) ||
		errors.Is(err, ErrTriggerNotFound)
}

// PodStatus is the lifecycle status of a pod.
type PodStatus string

const (
	PodIdle        PodStatus = "idle"
	PodChatting    PodStatus = "chatting"
	PodSummarizing PodStatus = "summarizing"
	PodError       PodStatus = "error"
)

// PropagationMode controls how a connection forwards a completion.
type PropagationMode string

const (
	ModeAuto     PropagationMode = "auto"
	ModeAIDecide PropagationMode = "ai-decide"
	ModeDirect   PropagationMode = "direct"
)

// Valid reports whether m is a known mode.
func (m PropagationMode) Valid() bool {
	switch m {
	case ModeAuto, ModeAIDecide, ModeDirect:
		return true
	}
	return false
}

// ConnectionStatus is observability-only state of a connection.
type ConnectionStatus string

const (
	ConnIdle     ConnectionStatus = "idle"
	ConnActive   ConnectionStatus = "active"
	ConnQueued   ConnectionStatus = "queued"
	ConnWaiting  ConnectionStatus = "waiting"
	ConnDeciding ConnectionStatus = "deciding"
	ConnApproved ConnectionStatus = "approved"
	ConnRejected ConnectionStatus = "rejected"
	ConnError    ConnectionStatus = "error"
)

// DecideStatus records the last ai-decide verdict of a connection.
type DecideStatus string

const (
	DecideNone     DecideStatus = ""
	DecidePending  DecideStatus = "pending"
	DecideApproved DecideStatus = "approved"
	DecideRejected DecideStatus = "rejected"
	DecideError    DecideStatus = "error"
)

// SourceKind says whether a connection starts at a pod or a trigger.
type SourceKind string

const (
	SourcePod     SourceKind = "pod"
	SourceTrigger SourceKind = "trigger"
)

// Schedule is a recurring cadence attached to a pod.
type Schedule struct {
	Frequency       Frequency  `json:"frequency"`
	Enabled         bool       `json:"enabled"`
	LastTriggeredAt *time.Time `json:"lastTriggeredAt,omitempty"`
}

// Pod is an agent conversation node.
type Pod struct {
	ID           string    `json:"id"`
	CanvasID     string    `json:"canvasId"`
	Name         string    `json:"name"`
	Status       PodStatus `json:"status"`
	Schedule     *Schedule `json:"schedule,omitempty"`
	AutoClear    bool      `json:"autoClear"`
	LastActiveAt time.Time `json:"lastActiveAt,omitempty"`
}

// Idle reports whether the pod can accept a new turn.
func (p Pod) Idle() bool { return p.Status == PodIdle || p.Status == "" }

// Connection is a directed edge from a pod or trigger to a target pod.
type Connection struct {
	ID           string           `json:"id"`
	CanvasID     string           `json:"canvasId"`
	SourceID     string           `json:"sourceId"`
	SourceKind   SourceKind       `json:"sourceKind"`
	TargetID     string           `json:"targetId"`
	Mode         PropagationMode  `json:"mode"`
	Status       ConnectionStatus `json:"status"`
	DecideStatus DecideStatus     `json:"decideStatus,omitempty"`
	DecideReason string           `json:"decideReason,omitempty"`
}

// FromPod reports whether the connection source is a pod.
func (c Connection) FromPod() bool { return c.SourceKind == SourcePod || c.SourceKind == "" }

// Trigger is a standalone time-based emitter.
type Trigger struct {
	ID              string     `json:"id"`
	CanvasID        string     `json:"canvasId"`
	Name            string     `json:"name"`
	Frequency       Frequency  `json:"frequency"`
	Enabled         bool       `json:"enabled"`
	Message         string     `json:"message,omitempty"`
	LastTriggeredAt *time.Time `json:"lastTriggeredAt,omitempty"`
}
