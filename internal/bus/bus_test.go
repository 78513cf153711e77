package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusDispatch(t *testing.T) {
	b := NewEventBus(8)
	got := make(chan *Event, 4)
	b.Subscribe(func(ev *Event) { got <- ev })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Dispatch(ctx)

	b.Publish(&Event{Type: EventQueued, CanvasID: "c1", TargetID: "b"})

	select {
	case ev := <-got:
		assert.Equal(t, EventQueued, ev.Type)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestEventBusDropsWhenFull(t *testing.T) {
	b := NewEventBus(1)
	b.Publish(&Event{Type: EventTriggered})
	b.Publish(&Event{Type: EventTriggered})
	b.Publish(nil)

	require.Equal(t, 1, b.Pending())
	assert.Equal(t, int64(1), b.Dropped())
}
