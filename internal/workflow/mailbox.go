package workflow

import "sync"

type eventKind int

const (
	evCompleted eventKind = iota
	evIdle
)

// event is a unit of work for the completion dispatcher.
type event struct {
	kind     eventKind
	canvasID string
	podID    string
	err      error
}

// mailbox is an unbounded FIFO with a wake-up signal. Producers never block.
type mailbox struct {
	mu     sync.Mutex
	items  []event
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) push(ev event) {
	m.mu.Lock()
	m.items = append(m.items, ev)
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) take() []event {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items
	m.items = nil
	return items
}
