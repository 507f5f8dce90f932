package connect

import (
	"encoding/json"
	"fmt"
)

// codecName replaces Connect's built-in protobuf JSON codec, so plain Go
// structs can be used as messages.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Name() string { return codecName }

func (jsonCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("invalid JSON message: %w", err)
	}
	return nil
}
