package protocol

import (
	"errors"
	"fmt"

	"roomrelay-server/domain"
)

var (
	ErrMissingEvent = errors.New("frame has no event name")
	ErrInvalidData  = errors.New("frame data has unsupported shape")
)

// Codec converts between wire frames and domain values. A frame is
// {"event": name, "data": payload} in every encoding.
type Codec interface {
	Name() string
	Binary() bool
	Encode(d domain.Directive) ([]byte, error)
	Decode(data []byte) (domain.Event, error)
}

var (
	JSON  Codec = jsonCodec{}
	Proto Codec = protoCodec{}
)

// CodecByName falls back to JSON for unknown names.
func CodecByName(name string) Codec {
	if name == Proto.Name() {
		return Proto
	}
	return JSON
}

func directiveFrame(d domain.Directive) map[string]any {
	var data any
	switch d.Type {
	case domain.DirectiveWelcome:
		data = d.Text
	case domain.DirectiveJoinedRoom, domain.DirectiveLeftRoom:
		data = d.Room
	case domain.DirectiveReceiveMessage:
		if d.Message != nil {
			data = recordFrame(*d.Message)
		}
	case domain.DirectiveHistory:
		messages := make([]any, 0, len(d.History))
		for _, rec := range d.History {
			messages = append(messages, recordFrame(rec))
		}
		data = map[string]any{"room": d.Room, "messages": messages}
	case domain.DirectivePong:
		data = map[string]any{"timestamp": d.Timestamp, "clientId": string(d.ClientID)}
	}
	return map[string]any{"event": string(d.Type), "data": data}
}

func recordFrame(rec domain.MessageRecord) map[string]any {
	return map[string]any{
		"message": rec.Text,
		"sender":  string(rec.Sender),
		"room":    rec.Room,
		"seq":     rec.Seq,
	}
}

// eventFromFrame accepts either a bare room string or an object as data, the
// way socket.io clients emit join_room and send_message.
func eventFromFrame(frame map[string]any) (domain.Event, error) {
	name, _ := frame["event"].(string)
	if name == "" {
		return domain.Event{}, ErrMissingEvent
	}
	ev := domain.Event{Type: domain.EventType(name)}

	switch data := frame["data"].(type) {
	case nil:
	case string:
		ev.Room = data
	case map[string]any:
		ev.Room, _ = data["room"].(string)
		ev.Message, _ = data["message"].(string)
		if ts, ok := data["timestamp"].(float64); ok {
			ev.Timestamp = int64(ts)
		}
	default:
		return domain.Event{}, fmt.Errorf("%s: %w", name, ErrInvalidData)
	}
	return ev, nil
}
