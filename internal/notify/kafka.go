package notify

import (
	"context"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/podweave/podweave/internal/bus"
)

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	Encoding string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events to a topic keyed by canvas id, so the events of
// one canvas stay ordered within a partition.
type KafkaSink struct {
	writer   messageWriter
	topic    string
	encoding string
}

// NewKafkaSink creates a synchronous producer for cfg.
func NewKafkaSink(cfg KafkaConfig) *KafkaSink {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        false,
	}
	return newKafkaSink(w, cfg)
}

func newKafkaSink(w messageWriter, cfg KafkaConfig) *KafkaSink {
	enc := strings.ToLower(cfg.Encoding)
	if enc == "" {
		enc = EncodingJSON
	}
	return &KafkaSink{writer: w, topic: cfg.Topic, encoding: enc}
}

func (s *KafkaSink) Name() string { return "kafka:" + s.topic }

func (s *KafkaSink) Deliver(ctx context.Context, ev *bus.Event) error {
	value, err := Encode(ev, s.encoding)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.CanvasID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(ev.Type)},
			{Key: "content-type", Value: []byte(ContentType(s.encoding))},
		},
		Time: ev.Timestamp,
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
