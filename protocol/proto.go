package protocol

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"roomrelay-server/domain"
)

// protoCodec carries frames as binary google.protobuf.Struct messages.
type protoCodec struct{}

func (protoCodec) Name() string { return "proto" }
func (protoCodec) Binary() bool { return true }

func (protoCodec) Encode(d domain.Directive) ([]byte, error) {
	frame, err := structpb.NewStruct(directiveFrame(d))
	if err != nil {
		return nil, fmt.Errorf("build %s frame: %w", d.Type, err)
	}
	data, err := proto.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", d.Type, err)
	}
	return data, nil
}

func (protoCodec) Decode(data []byte) (domain.Event, error) {
	var frame structpb.Struct
	if err := proto.Unmarshal(data, &frame); err != nil {
		return domain.Event{}, fmt.Errorf("decode frame: %w", err)
	}
	return eventFromFrame(frame.AsMap())
}
