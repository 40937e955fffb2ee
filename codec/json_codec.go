package codec

import (
	"encoding/json"
)

// JSONCodec uses encoding/json for serialization.
// Pros: human-readable, cross-language, easy to debug.
// Cons: slower due to reflection + string parsing, larger payload.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &Error{Codec: JSON, Err: err}
	}
	return data, nil
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &Error{Codec: JSON, Err: err}
	}
	return nil
}

func (c *JSONCodec) Type() Type {
	return JSON
}
