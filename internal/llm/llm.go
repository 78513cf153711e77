// Package llm defines the language-model collaborators used by the
// orchestration core and an OpenAI-compatible implementation of them.
package llm

import (
	"context"
)

// TurnEventKind classifies streamed turn events.
type TurnEventKind string

const (
	TurnText       TurnEventKind = "text"
	TurnToolUse    TurnEventKind = "tool_use"
	TurnToolResult TurnEventKind = "tool_result"
	TurnComplete   TurnEventKind = "complete"
	TurnError      TurnEventKind = "error"
)

// TurnEvent is one streamed event of a pod turn.
type TurnEvent struct {
	Kind TurnEventKind `json:"kind"`
	Text string        `json:"text,omitempty"`
	Tool string        `json:"tool,omitempty"`
	Err  string        `json:"error,omitempty"`
}

// TurnRequest asks a pod to process one message.
type TurnRequest struct {
	CanvasID string
	PodID    string
	Content  string
	// SourceID is the pod or trigger that produced Content, if any.
	SourceID string
}

// TurnResult is the final content of a completed turn.
type TurnResult struct {
	Content string
	Usage   Usage
}

// TurnSender runs a turn on a pod. It blocks until the turn completes;
// onEvent may be nil.
type TurnSender interface {
	SendTurn(ctx context.Context, req TurnRequest, onEvent func(TurnEvent)) (TurnResult, error)
}

// SummaryResult is a target-tailored condensation of a source transcript.
type SummaryResult struct {
	Success bool
	Summary string
}

// Summarizer condenses a source pod's transcript for a target pod.
type Summarizer interface {
	SummarizeForTarget(ctx context.Context, canvasID, sourcePodID, targetPodID string) (SummaryResult, error)
}

// Decision is the verdict of an ai-decide connection.
type Decision struct {
	Approve bool
	Reason  string
}

// Decider judges whether a source's output should reach a target.
type Decider interface {
	Decide(ctx context.Context, canvasID, sourcePodID, targetPodID string) (Decision, error)
}

// Provider is the chat-completion client contract.
type Provider interface {
	// Chat sends a completion request and returns the response.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	// DefaultModel returns the configured default model.
	DefaultModel() string
}

// ChatRequest contains the parameters for a chat completion request.
type ChatRequest struct {
	Messages    []Message
	Model       string
	MaxTokens   int
	Temperature float64
}

// ChatResponse contains the response from a chat completion request.
type ChatResponse struct {
	Content      string
	FinishReason string
	Usage        Usage
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage contains token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
