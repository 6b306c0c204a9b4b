package protocol

import (
	"encoding/json"
	"fmt"

	"roomrelay-server/domain"
)

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }
func (jsonCodec) Binary() bool { return false }

func (jsonCodec) Encode(d domain.Directive) ([]byte, error) {
	data, err := json.Marshal(directiveFrame(d))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", d.Type, err)
	}
	return data, nil
}

func (jsonCodec) Decode(data []byte) (domain.Event, error) {
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		return domain.Event{}, fmt.Errorf("decode frame: %w", err)
	}
	return eventFromFrame(frame)
}
