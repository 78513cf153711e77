// Package session stores per-pod conversation transcripts as JSONL files.
package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Roles used in transcripts.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message represents a chat message in a transcript.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Transcript is the conversation of one pod.
type Transcript struct {
	Key       string    `json:"key"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	mu        sync.RWMutex
}

// NewTranscript creates an empty transcript.
func NewTranscript(key string) *Transcript {
	now := time.Now()
	return &Transcript{
		Key:       key,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Add appends a message.
func (t *Transcript) Add(role, content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.Messages = append(t.Messages, Message{Role: role, Content: content, Timestamp: now})
	t.UpdatedAt = now
}

// History returns up to maxMessages of the most recent messages.
// maxMessages <= 0 returns everything.
func (t *Transcript) History(maxMessages int) []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	start := 0
	if maxMessages > 0 && len(t.Messages) > maxMessages {
		start = len(t.Messages) - maxMessages
	}
	out := make([]Message, len(t.Messages)-start)
	copy(out, t.Messages[start:])
	return out
}

// LastAssistant returns the newest non-empty assistant message.
func (t *Transcript) LastAssistant() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := len(t.Messages) - 1; i >= 0; i-- {
		m := t.Messages[i]
		if m.Role == RoleAssistant && strings.TrimSpace(m.Content) != "" {
			return m.Content, true
		}
	}
	return "", false
}

// Clear removes all messages.
func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Messages = []Message{}
	t.UpdatedAt = time.Now()
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.Messages)
}

// Key builds the transcript key of a pod.
func Key(canvasID, podID string) string {
	return canvasID + ":" + podID
}

// Manager caches transcripts and persists them under dir.
type Manager struct {
	dir   string
	cache map[string]*Transcript
	mu    sync.Mutex
}

// NewManager creates a manager rooted at dir. An empty dir keeps
// transcripts in memory only.
func NewManager(dir string) (*Manager, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create transcripts dir: %w", err)
		}
	}
	return &Manager{dir: dir, cache: make(map[string]*Transcript)}, nil
}

// Get returns the transcript of a pod, loading it from disk on first use.
func (m *Manager) Get(canvasID, podID string) *Transcript {
	key := Key(canvasID, podID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.cache[key]; ok {
		return t
	}
	t := m.load(key)
	if t == nil {
		t = NewTranscript(key)
	}
	m.cache[key] = t
	return t
}

// Append adds a message to a pod's transcript and saves it.
func (m *Manager) Append(canvasID, podID, role, content string) error {
	t := m.Get(canvasID, podID)
	t.Add(role, content)
	return m.save(t)
}

// History returns recent messages of a pod.
func (m *Manager) History(canvasID, podID string, maxMessages int) []Message {
	return m.Get(canvasID, podID).History(maxMessages)
}

// LastAssistantMessage returns the pod's newest assistant reply.
func (m *Manager) LastAssistantMessage(canvasID, podID string) (string, bool) {
	return m.Get(canvasID, podID).LastAssistant()
}

// ClearPod empties a pod's transcript and persists the empty state.
func (m *Manager) ClearPod(canvasID, podID string) error {
	t := m.Get(canvasID, podID)
	t.Clear()
	return m.save(t)
}

func (m *Manager) path(key string) string {
	safe := strings.NewReplacer(":", "_", "/", "_", "\\", "_", "..", "_").Replace(key)
	return filepath.Join(m.dir, filepath.Base(safe)+".jsonl")
}

func (m *Manager) save(t *Transcript) error {
	if m.dir == "" {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	file, err := os.Create(m.path(t.Key))
	if err != nil {
		return fmt.Errorf("create transcript file: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	// Metadata first, messages after.
	if err := enc.Encode(map[string]any{
		"_type":      "metadata",
		"key":        t.Key,
		"created_at": t.CreatedAt.Format(time.RFC3339),
		"updated_at": t.UpdatedAt.Format(time.RFC3339),
	}); err != nil {
		return fmt.Errorf("write transcript metadata: %w", err)
	}
	for _, msg := range t.Messages {
		if err := enc.Encode(msg); err != nil {
			return fmt.Errorf("write transcript message: %w", err)
		}
	}
	return w.Flush()
}

func (m *Manager) load(key string) *Transcript {
	if m.dir == "" {
		return nil
	}
	file, err := os.Open(m.path(key))
	if err != nil {
		return nil
	}
	defer file.Close()

	t := NewTranscript(key)
	dec := json.NewDecoder(file)
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			break
		}
		var meta struct {
			Type      string `json:"_type"`
			CreatedAt string `json:"created_at"`
			UpdatedAt string `json:"updated_at"`
		}
		if json.Unmarshal(raw, &meta) == nil && meta.Type == "metadata" {
			t.CreatedAt, _ = time.Parse(time.RFC3339, meta.CreatedAt)
			t.UpdatedAt, _ = time.Parse(time.RFC3339, meta.UpdatedAt)
			continue
		}
		var msg Message
		if json.Unmarshal(raw, &msg) == nil {
			t.Messages = append(t.Messages, msg)
		}
	}
	return t
}
