package notify

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/podweave/podweave/internal/bus"
)

// Wire encodings for event payloads.
const (
	EncodingJSON  = "json"
	EncodingProto = "proto"
)

// ContentType returns the MIME type of an encoding.
func ContentType(encoding string) string {
	if encoding == EncodingProto {
		return "application/x-protobuf"
	}
	return "application/json"
}

// Encode serialises an event. The proto encoding is a google.protobuf.Struct
// whose timestamp field mirrors google.protobuf.Timestamp.
func Encode(ev *bus.Event, encoding string) ([]byte, error) {
	switch encoding {
	case "", EncodingJSON:
		return json.Marshal(ev)
	case EncodingProto:
		st, err := eventStruct(ev)
		if err != nil {
			return nil, err
		}
		return proto.Marshal(st)
	}
	return nil, fmt.Errorf("unknown encoding %q", encoding)
}

func eventStruct(ev *bus.Event) (*structpb.Struct, error) {
	ts := timestamppb.New(ev.Timestamp)
	fields := map[string]any{
		"type":      string(ev.Type),
		"canvas_id": ev.CanvasID,
		"timestamp": map[string]any{"seconds": ts.GetSeconds(), "nanos": ts.GetNanos()},
	}
	for k, v := range map[string]string{
		"pod_id":        ev.PodID,
		"source_id":     ev.SourceID,
		"target_id":     ev.TargetID,
		"connection_id": ev.ConnectionID,
		"trigger_id":    ev.TriggerID,
		"status":        ev.Status,
		"reason":        ev.Reason,
	} {
		if v != "" {
			fields[k] = v
		}
	}
	if len(ev.PodIDs) > 0 {
		ids := make([]any, len(ev.PodIDs))
		for i, id := range ev.PodIDs {
			ids[i] = id
		}
		fields["pod_ids"] = ids
	}
	if len(ev.Metadata) > 0 {
		fields["metadata"] = ev.Metadata
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", ev.Type, err)
	}
	return st, nil
}
