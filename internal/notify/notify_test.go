package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/podweave/podweave/internal/bus"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type countingSink struct {
	name string
	got  []bus.EventType
	err  error
}

func (s *countingSink) Name() string { return s.name }
func (s *countingSink) Deliver(_ context.Context, ev *bus.Event) error {
	s.got = append(s.got, ev.Type)
	return s.err
}
func (s *countingSink) Close() error { return nil }

func clearedEvent() *bus.Event {
	return &bus.Event{
		Type:      bus.EventChainCleared,
		CanvasID:  "c1",
		SourceID:  "p",
		PodIDs:    []string{"p", "q", "r"},
		Metadata:  map[string]any{"depth": 2},
		Timestamp: time.Date(2026, 3, 1, 9, 30, 0, 500, time.UTC),
	}
}

func TestEncodeJSON(t *testing.T) {
	data, err := Encode(clearedEvent(), EncodingJSON)
	require.NoError(t, err)

	var got bus.Event
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, bus.EventChainCleared, got.Type)
	assert.Equal(t, []string{"p", "q", "r"}, got.PodIDs)
}

func TestEncodeProto(t *testing.T) {
	ev := clearedEvent()
	data, err := Encode(ev, EncodingProto)
	require.NoError(t, err)

	var st structpb.Struct
	require.NoError(t, proto.Unmarshal(data, &st))
	m := st.AsMap()
	assert.Equal(t, "chain.cleared", m["type"])
	assert.Equal(t, "c1", m["canvas_id"])
	assert.Equal(t, []any{"p", "q", "r"}, m["pod_ids"])
	assert.NotContains(t, m, "target_id")

	ts := m["timestamp"].(map[string]any)
	assert.Equal(t, float64(ev.Timestamp.Unix()), ts["seconds"])
	assert.Equal(t, float64(500), ts["nanos"])
}

func TestEncodeUnknown(t *testing.T) {
	_, err := Encode(clearedEvent(), "avro")
	assert.Error(t, err)
}

func TestKafkaSinkKeysByCanvas(t *testing.T) {
	w := &fakeWriter{}
	sink := newKafkaSink(w, KafkaConfig{Topic: "podweave.events", Encoding: "PROTO"})
	assert.Equal(t, "kafka:podweave.events", sink.Name())

	require.NoError(t, sink.Deliver(context.Background(), clearedEvent()))
	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, []byte("c1"), msg.Key)
	assert.Equal(t, "event-type", msg.Headers[0].Key)
	assert.Equal(t, []byte("chain.cleared"), msg.Headers[0].Value)
	assert.Equal(t, []byte("application/x-protobuf"), msg.Headers[1].Value)

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

func TestKafkaSinkError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	sink := newKafkaSink(w, KafkaConfig{Topic: "t"})
	assert.EqualError(t, sink.Deliver(context.Background(), clearedEvent()), "broker down")
}

func TestSlackWebhook(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink, err := NewSlackSink(SlackConfig{WebhookURL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, sink.Deliver(context.Background(), clearedEvent()))

	var msg map[string]any
	require.NoError(t, json.Unmarshal(body, &msg))
	assert.Equal(t, "[c1] chain.cleared p pods=p,q,r", msg["text"])
}

func TestSlackSinkNeedsTarget(t *testing.T) {
	_, err := NewSlackSink(SlackConfig{Token: "xoxb"})
	assert.Error(t, err)
}

func TestFormatText(t *testing.T) {
	ev := &bus.Event{
		Type:     bus.EventDispatchFailed,
		CanvasID: "c1",
		SourceID: "a",
		TargetID: "b",
		Reason:   "model timeout",
	}
	assert.Equal(t, "[c1] propagation.error a -> b: model timeout", FormatText(ev))
}

func TestRouterFiltersAndCountsFailures(t *testing.T) {
	all := &countingSink{name: "all"}
	failing := &countingSink{name: "failing", err: errors.New("nope")}

	r := NewRouter(time.Second)
	r.Add(all, nil)
	r.Add(failing, Types(string(bus.EventChainCleared)))

	r.Handle(&bus.Event{Type: bus.EventQueued, CanvasID: "c1"})
	r.Handle(clearedEvent())

	assert.Equal(t, []bus.EventType{bus.EventQueued, bus.EventChainCleared}, all.got)
	assert.Equal(t, []bus.EventType{bus.EventChainCleared}, failing.got)
	assert.Equal(t, 1, r.Failures("failing"))
	assert.Equal(t, 0, r.Failures("all"))
	assert.NoError(t, r.Close())
}

func TestTypesEmptyPassesAll(t *testing.T) {
	assert.Nil(t, Types())
}

func TestLogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))

	require.NoError(t, sink.Deliver(context.Background(), &bus.Event{Type: bus.EventQueued, CanvasID: "c1"}))
	assert.Empty(t, buf.String())

	require.NoError(t, sink.Deliver(context.Background(), &bus.Event{Type: bus.EventDispatchFailed, CanvasID: "c1", PodID: "p", Reason: "boom"}))
	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "pod=p")
	assert.Contains(t, out, "reason=boom")
}
