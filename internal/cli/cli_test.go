package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podweave/podweave/internal/config"
	"github.com/podweave/podweave/internal/llm"
	"github.com/podweave/podweave/internal/scheduler"
	"github.com/podweave/podweave/internal/session"
)

const blogCanvas = `
canvas: blog
pods:
  - name: writer
  - name: editor
  - name: publisher
connections:
  - from: writer
    to: editor
  - from: editor
    to: publisher
    mode: direct
triggers:
  - name: kickoff
    frequency:
      kind: every-day
      hour: 8
      minute: 0
    message: write today's post
    targets: [writer]
`

type echoProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *echoProvider) Chat(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	p.mu.Lock()
	p.calls++
	n := p.calls
	p.mu.Unlock()
	last := req.Messages[len(req.Messages)-1].Content
	return &llm.ChatResponse{Content: fmt.Sprintf("reply %d: %s", n, firstLine(last))}, nil
}

func (p *echoProvider) DefaultModel() string { return "echo" }

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func isolate(t *testing.T) *config.Config {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("PODWEAVE_HOME", "")
	t.Setenv("PODWEAVE_CONFIG", "")
	t.Setenv("PODWEAVE_ENV_FILE", "")
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		canvasReplace, canvasJSON = false, false
		statusCanvas, statusRuns = "", 20
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func writeCanvas(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(blogCanvas), 0o600))
	return path
}

func TestCanvasImportListShow(t *testing.T) {
	isolate(t)
	path := writeCanvas(t)

	out, err := execute(t, "canvas", "import", path)
	require.NoError(t, err)
	assert.Contains(t, out, `Imported canvas "blog": 3 pods, 3 connections, 1 triggers`)

	_, err = execute(t, "canvas", "import", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = execute(t, "canvas", "import", "--replace", path)
	require.NoError(t, err)

	out, err = execute(t, "canvas", "list")
	require.NoError(t, err)
	assert.Equal(t, "blog\n", out)

	out, err = execute(t, "canvas", "show", "blog")
	require.NoError(t, err)
	assert.Contains(t, out, "writer")
	assert.Contains(t, out, "[direct]")
	assert.Contains(t, out, "kickoff")

	_, err = execute(t, "canvas", "show", "missing")
	assert.Error(t, err)
}

func TestFireTriggerRunsChainAndStopsAtDirect(t *testing.T) {
	cfg := isolate(t)
	_, err := execute(t, "canvas", "import", writeCanvas(t))
	require.NoError(t, err)

	a, err := newApp(cfg, appOptions{provider: &echoProvider{}})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	a.start(ctx, false)

	require.NoError(t, a.fire(ctx, "blog", "kickoff", ""))
	a.settle(5 * time.Second)

	ids := podIDs(a)
	_, ok := a.transcripts.LastAssistantMessage("blog", ids["editor"])
	assert.True(t, ok, "editor should have run")
	_, ok = a.transcripts.LastAssistantMessage("blog", ids["publisher"])
	assert.False(t, ok, "direct connection must not auto-propagate")

	require.Eventually(t, func() bool {
		return slices.Contains(runKinds(t, a), "propagation.triggered")
	}, 2*time.Second, 20*time.Millisecond)
	assert.Contains(t, runKinds(t, a), "trigger.fired")

	require.NoError(t, a.fire(ctx, "blog", "", "editor->publisher"))
	a.settle(5 * time.Second)
	editorLast, _ := a.transcripts.LastAssistantMessage("blog", ids["editor"])
	history := a.transcripts.History("blog", ids["publisher"], 10)
	require.NotEmpty(t, history)
	assert.Equal(t, session.RoleUser, history[0].Role)
	assert.Equal(t, editorLast, history[0].Content)

	cancel()
	require.NoError(t, a.close())
}

func TestFireUnknownTargets(t *testing.T) {
	cfg := isolate(t)
	_, err := execute(t, "canvas", "import", writeCanvas(t))
	require.NoError(t, err)

	a, err := newApp(cfg, appOptions{provider: &echoProvider{}})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	a.start(ctx, false)
	defer func() {
		cancel()
		_ = a.close()
	}()

	assert.Error(t, a.fire(ctx, "blog", "nope", ""))
	assert.Error(t, a.fire(ctx, "blog", "", "editor->writer"))
	assert.Error(t, a.fire(ctx, "blog", "", ""))
}

func TestExclusiveRefusesWhileLocked(t *testing.T) {
	cfg := isolate(t)
	held := scheduler.NewFileLock(cfg.Scheduler.LockPath)
	ok, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, ok)

	_, err = exclusive(cfg)
	assert.ErrorContains(t, err, "serve is running")

	require.NoError(t, held.Unlock())
	unlock, err := exclusive(cfg)
	require.NoError(t, err)
	unlock()
}

func TestStatusShowsRuns(t *testing.T) {
	isolate(t)
	_, err := execute(t, "canvas", "import", writeCanvas(t))
	require.NoError(t, err)

	out, err := execute(t, "status", "--canvas", "blog")
	require.NoError(t, err)
	assert.Contains(t, out, "Queued (0)")
	assert.Contains(t, out, "Recent runs (0)")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "podweave "+version+"\n", out)
}

func podIDs(a *app) map[string]string {
	ids := make(map[string]string)
	for _, p := range a.repo.ListPods("blog") {
		ids[p.Name] = p.ID
	}
	return ids
}

func runKinds(t *testing.T, a *app) []string {
	t.Helper()
	runs, err := a.store.ListRuns("blog", 50)
	require.NoError(t, err)
	kinds := make([]string, 0, len(runs))
	for _, r := range runs {
		kinds = append(kinds, r.Kind)
	}
	return kinds
}
