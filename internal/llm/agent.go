package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/podweave/podweave/internal/canvas"
	"github.com/podweave/podweave/internal/session"
)

const scheduledNudge = "Continue with your scheduled task."

// TranscriptStore is the transcript surface the agent reads and writes.
type TranscriptStore interface {
	Append(canvasID, podID, role, content string) error
	History(canvasID, podID string, maxMessages int) []session.Message
}

// PodLookup resolves pod names for prompts.
type PodLookup interface {
	GetPod(canvasID, podID string) (canvas.Pod, error)
}

// AgentOptions configures an Agent.
type AgentOptions struct {
	Provider     Provider
	Transcripts  TranscriptStore
	Pods         PodLookup
	Model        string
	MaxTokens    int
	Temperature  float64
	HistoryLimit int
	SystemPrompt string
	// SummaryTimeout bounds SummarizeForTarget and Decide. Zero means no bound.
	SummaryTimeout time.Duration
}

// Agent runs pod turns, summaries and ai-decide verdicts against a Provider.
type Agent struct {
	opts AgentOptions
}

var (
	_ TurnSender = (*Agent)(nil)
	_ Summarizer = (*Agent)(nil)
	_ Decider    = (*Agent)(nil)
)

// NewAgent creates an Agent.
func NewAgent(opts AgentOptions) *Agent {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = "You are an agent pod on a collaborative canvas. Messages may come from upstream pods."
	}
	return &Agent{opts: opts}
}

// SendTurn appends the content to the pod transcript, asks the provider for a
// reply and records it. Empty content is a scheduled turn.
func (a *Agent) SendTurn(ctx context.Context, req TurnRequest, onEvent func(TurnEvent)) (TurnResult, error) {
	emit := func(ev TurnEvent) {
		if onEvent != nil {
			onEvent(ev)
		}
	}

	if req.Content != "" {
		if err := a.opts.Transcripts.Append(req.CanvasID, req.PodID, session.RoleUser, req.Content); err != nil {
			return TurnResult{}, fmt.Errorf("record user message: %w", err)
		}
	}

	messages := []Message{{Role: session.RoleSystem, Content: a.systemPrompt(req.CanvasID, req.PodID)}}
	for _, m := range a.opts.Transcripts.History(req.CanvasID, req.PodID, a.opts.HistoryLimit) {
		messages = append(messages, Message{Role: m.Role, Content: m.Content})
	}
	if req.Content == "" {
		messages = append(messages, Message{Role: session.RoleUser, Content: scheduledNudge})
	}

	resp, err := a.opts.Provider.Chat(ctx, a.request(messages))
	if err != nil {
		emit(TurnEvent{Kind: TurnError, Err: err.Error()})
		return TurnResult{}, err
	}
	emit(TurnEvent{Kind: TurnText, Text: resp.Content})

	if err := a.opts.Transcripts.Append(req.CanvasID, req.PodID, session.RoleAssistant, resp.Content); err != nil {
		return TurnResult{}, fmt.Errorf("record assistant message: %w", err)
	}
	emit(TurnEvent{Kind: TurnComplete})
	return TurnResult{Content: resp.Content, Usage: resp.Usage}, nil
}

func (a *Agent) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.opts.SummaryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.opts.SummaryTimeout)
}

// SummarizeForTarget condenses the source transcript for the target pod.
// An empty transcript or empty reply yields Success=false.
func (a *Agent) SummarizeForTarget(ctx context.Context, canvasID, sourcePodID, targetPodID string) (SummaryResult, error) {
	history := a.opts.Transcripts.History(canvasID, sourcePodID, a.opts.HistoryLimit)
	if len(history) == 0 {
		return SummaryResult{}, nil
	}

	ctx, cancel := a.bounded(ctx)
	defer cancel()
	prompt := fmt.Sprintf("Summarize the conversation below for %s, which continues the work. "+
		"Keep facts, decisions and open items it needs; drop everything else.\n\n%s",
		a.podName(canvasID, targetPodID), renderTranscript(history))
	resp, err := a.opts.Provider.Chat(ctx, a.request([]Message{
		{Role: session.RoleSystem, Content: "You write handoff summaries between agents."},
		{Role: session.RoleUser, Content: prompt},
	}))
	if err != nil {
		return SummaryResult{}, fmt.Errorf("summarize %s for %s: %w", sourcePodID, targetPodID, err)
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return SummaryResult{}, nil
	}
	return SummaryResult{Success: true, Summary: summary}, nil
}

// Decide asks the model whether the source output should be forwarded.
func (a *Agent) Decide(ctx context.Context, canvasID, sourcePodID, targetPodID string) (Decision, error) {
	ctx, cancel := a.bounded(ctx)
	defer cancel()
	history := a.opts.Transcripts.History(canvasID, sourcePodID, a.opts.HistoryLimit)
	prompt := fmt.Sprintf("Pod %s just finished. Should its output be forwarded to pod %s? "+
		"Answer with JSON {\"approve\": true|false, \"reason\": \"...\"}.\n\n%s",
		a.podName(canvasID, sourcePodID), a.podName(canvasID, targetPodID), renderTranscript(history))
	resp, err := a.opts.Provider.Chat(ctx, a.request([]Message{
		{Role: session.RoleSystem, Content: "You route work between agents. Reply with JSON only."},
		{Role: session.RoleUser, Content: prompt},
	}))
	if err != nil {
		return Decision{}, fmt.Errorf("decide %s -> %s: %w", sourcePodID, targetPodID, err)
	}
	return ParseDecision(resp.Content)
}

// ParseDecision extracts a Decision from a model reply. It accepts a JSON
// object anywhere in the text, or a bare yes/no answer.
func ParseDecision(text string) (Decision, error) {
	trimmed := strings.TrimSpace(text)
	if start, end := strings.Index(trimmed, "{"), strings.LastIndex(trimmed, "}"); start >= 0 && end > start {
		var d struct {
			Approve *bool  `json:"approve"`
			Reason  string `json:"reason"`
		}
		if err := json.Unmarshal([]byte(trimmed[start:end+1]), &d); err == nil && d.Approve != nil {
			return Decision{Approve: *d.Approve, Reason: d.Reason}, nil
		}
	}
	lower := strings.ToLower(trimmed)
	switch {
	case strings.HasPrefix(lower, "yes"):
		return Decision{Approve: true, Reason: trimmed}, nil
	case strings.HasPrefix(lower, "no"):
		return Decision{Approve: false, Reason: trimmed}, nil
	}
	return Decision{}, fmt.Errorf("unparseable decision %q", truncate(trimmed, 80))
}

func (a *Agent) request(messages []Message) *ChatRequest {
	return &ChatRequest{
		Messages:    messages,
		Model:       a.opts.Model,
		MaxTokens:   a.opts.MaxTokens,
		Temperature: a.opts.Temperature,
	}
}

func (a *Agent) systemPrompt(canvasID, podID string) string {
	return a.opts.SystemPrompt + "\nYour name: " + a.podName(canvasID, podID)
}

func (a *Agent) podName(canvasID, podID string) string {
	if a.opts.Pods == nil {
		return podID
	}
	p, err := a.opts.Pods.GetPod(canvasID, podID)
	if err != nil || p.Name == "" {
		return podID
	}
	return p.Name
}

func renderTranscript(history []session.Message) string {
	var b strings.Builder
	for _, m := range history {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
