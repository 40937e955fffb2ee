// Package codec defines the pluggable serializer used for envelopes and
// for the individual argument/result values they carry.
//
// The serialization contract is deliberately closed: a codec must
// round-trip the envelope structs in the message package (including the
// structured error representation) and the concrete Go values passed as
// arguments and results. Arbitrary object graphs are out of scope.
package codec

// Type identifies a serialization format on the wire.
type Type byte

const (
	JSON Type = 0
	Gob  Type = 1
)

// Codec serializes values to bytes and back.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() Type
}

// Error reports a payload that failed to deserialize. When it occurs on
// an envelope body it is connection-fatal: a stream that delivered one
// undecodable payload cannot be trusted for subsequent frames.
type Error struct {
	Codec Type
	Err   error
}

func (e *Error) Error() string {
	return "codec error: " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Get returns the codec for the given type id. Unknown ids fall back to
// JSON; the frame decoder rejects them before this is reached.
func Get(t Type) Codec {
	if t == Gob {
		return &GobCodec{}
	}
	return &JSONCodec{}
}
