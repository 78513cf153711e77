package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podweave/podweave/internal/canvas"
	"github.com/podweave/podweave/internal/session"
)

type scriptedProvider struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests []*ChatRequest
}

func (p *scriptedProvider) Chat(_ context.Context, req *ChatRequest) (*ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	reply := ""
	if len(p.replies) > 0 {
		reply = p.replies[0]
		p.replies = p.replies[1:]
	}
	return &ChatResponse{Content: reply}, nil
}

func (p *scriptedProvider) DefaultModel() string { return "scripted" }

func newTestAgent(t *testing.T, prov Provider) (*Agent, *session.Manager) {
	t.Helper()
	transcripts, err := session.NewManager("")
	require.NoError(t, err)
	pods := canvas.NewMemoryStore(nil)
	require.NoError(t, pods.AddPod(canvas.Pod{ID: "a", CanvasID: "c1", Name: "Researcher"}))
	require.NoError(t, pods.AddPod(canvas.Pod{ID: "b", CanvasID: "c1", Name: "Writer"}))
	return NewAgent(AgentOptions{Provider: prov, Transcripts: transcripts, Pods: pods}), transcripts
}

func TestAgentSendTurnRecordsTranscript(t *testing.T) {
	prov := &scriptedProvider{replies: []string{"findings"}}
	agent, transcripts := newTestAgent(t, prov)

	var kinds []TurnEventKind
	res, err := agent.SendTurn(context.Background(), TurnRequest{CanvasID: "c1", PodID: "a", Content: "dig in"}, func(ev TurnEvent) {
		kinds = append(kinds, ev.Kind)
	})
	require.NoError(t, err)
	assert.Equal(t, "findings", res.Content)
	assert.Equal(t, []TurnEventKind{TurnText, TurnComplete}, kinds)

	history := transcripts.History("c1", "a", 0)
	require.Len(t, history, 2)
	assert.Equal(t, session.RoleUser, history[0].Role)
	assert.Equal(t, "findings", history[1].Content)
	assert.Contains(t, prov.requests[0].Messages[0].Content, "Researcher")
}

func TestAgentScheduledTurnDoesNotRecordEmptyUserMessage(t *testing.T) {
	prov := &scriptedProvider{replies: []string{"tick"}}
	agent, transcripts := newTestAgent(t, prov)

	_, err := agent.SendTurn(context.Background(), TurnRequest{CanvasID: "c1", PodID: "a"}, nil)
	require.NoError(t, err)

	history := transcripts.History("c1", "a", 0)
	require.Len(t, history, 1)
	assert.Equal(t, session.RoleAssistant, history[0].Role)
	last := prov.requests[0].Messages[len(prov.requests[0].Messages)-1]
	assert.Equal(t, scheduledNudge, last.Content)
}

func TestAgentSendTurnError(t *testing.T) {
	prov := &scriptedProvider{err: errors.New("boom")}
	agent, _ := newTestAgent(t, prov)

	var gotErr bool
	_, err := agent.SendTurn(context.Background(), TurnRequest{CanvasID: "c1", PodID: "a", Content: "x"}, func(ev TurnEvent) {
		gotErr = gotErr || ev.Kind == TurnError
	})
	assert.Error(t, err)
	assert.True(t, gotErr)
}

func TestAgentSummarizeForTarget(t *testing.T) {
	prov := &scriptedProvider{replies: []string{"  short version  "}}
	agent, transcripts := newTestAgent(t, prov)

	res, err := agent.SummarizeForTarget(context.Background(), "c1", "a", "b")
	require.NoError(t, err)
	assert.False(t, res.Success, "empty transcript cannot be summarized")

	require.NoError(t, transcripts.Append("c1", "a", session.RoleAssistant, "long answer"))
	res, err = agent.SummarizeForTarget(context.Background(), "c1", "a", "b")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "short version", res.Summary)
	assert.True(t, strings.Contains(prov.requests[0].Messages[1].Content, "Writer"))
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		in      string
		approve bool
		wantErr bool
	}{
		{`{"approve": true, "reason": "relevant"}`, true, false},
		{"Sure: {\"approve\": false, \"reason\": \"off topic\"} thanks", false, false},
		{"Yes, forward it", true, false},
		{"no.", false, false},
		{"maybe later", false, true},
		{`{"reason": "missing verdict"}`, false, true},
	}
	for _, tc := range tests {
		d, err := ParseDecision(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.approve, d.Approve, tc.in)
	}
}
