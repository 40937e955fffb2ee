package codec

import (
	"bytes"
	"encoding/gob"
)

// GobCodec uses encoding/gob for serialization.
// Go-to-Go only, but compact and faster than JSON for struct-heavy
// payloads. Each value is encoded as an independent gob stream so that
// argument values can be decoded one at a time on the host side.
type GobCodec struct{}

func (c *GobCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, &Error{Codec: Gob, Err: err}
	}
	return buf.Bytes(), nil
}

func (c *GobCodec) Decode(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return &Error{Codec: Gob, Err: err}
	}
	return nil
}

func (c *GobCodec) Type() Type {
	return Gob
}
