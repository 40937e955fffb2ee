// Package protocol implements the binary frame format for flowrpc.
//
// A frame is a fixed 18-byte header followed by a variable-length body.
// The receiver reads the header first to learn the body length, then reads
// exactly that many bytes — frame boundaries never depend on scanning the
// payload, which is an opaque codec-encoded blob that may contain any byte
// sequence.
//
// Frame format:
//
//	0      3  4  5  6              14        18
//	┌──────┬──┬──┬──┬──────────────┬─────────┬───────────────┐
//	│magic │v │ct│ft│   call id    │ bodyLen │    body ...   │
//	│ frp  │01│  │  │    uint64    │ uint32  │ bodyLen bytes │
//	└──────┴──┴──┴──┴──────────────┴─────────┴───────────────┘
//
// All integers are big-endian. A header that fails validation is a
// *FramingError: the stream can no longer be trusted and the connection
// must be torn down.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic number bytes: "frp". Rejects non-protocol connections (e.g. an
// HTTP client hitting the wrong port) before any payload is touched.
const (
	MagicByte0 byte = 0x66 // 'f'
	MagicByte1 byte = 0x72 // 'r'
	MagicByte2 byte = 0x70 // 'p'
	Version    byte = 0x01
	HeaderSize int  = 18 // 3 (magic) + 1 (version) + 1 (codec) + 1 (frameType) + 8 (call id) + 4 (bodyLen)
)

// MaxBodySize caps the body length a receiver will accept. A corrupt
// length prefix must not be able to drive an arbitrarily large allocation.
const MaxBodySize = 64 << 20

// FrameType distinguishes request, response, and heartbeat frames.
type FrameType byte

const (
	FrameRequest   FrameType = 0 // Call Envelope, caller → host
	FrameResponse  FrameType = 1 // Result Envelope, host → caller
	FrameHeartbeat FrameType = 2 // keepalive probe, no body
)

// Codec id constants, mirrored from the codec package to avoid a
// circular import.
const (
	CodecJSON byte = 0
	CodecGob  byte = 1
)

// Header is the fixed 18-byte frame header.
type Header struct {
	Codec     byte      // serialization format of the body: 0=JSON, 1=gob
	FrameType FrameType // request, response, or heartbeat
	CallID    uint64    // correlates a response with its request
	BodyLen   uint32    // exact body length in bytes
}

// FramingError reports a corrupt frame header or length prefix. It is
// connection-fatal: once the framing is wrong, no subsequent frame
// boundary on the stream can be trusted.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string {
	return "framing error: " + e.Reason
}

// Encode writes a complete frame (header + body) to w. The body length
// field is derived from body, not from h.BodyLen.
//
// Callers sharing a writer across goroutines must serialize calls with a
// lock, otherwise frames interleave mid-frame and corrupt the stream.
func Encode(w io.Writer, h *Header, body []byte) error {
	buf := make([]byte, HeaderSize, HeaderSize+len(body))
	buf[0] = MagicByte0
	buf[1] = MagicByte1
	buf[2] = MagicByte2
	buf[3] = Version
	buf[4] = h.Codec
	buf[5] = byte(h.FrameType)
	binary.BigEndian.PutUint64(buf[6:14], h.CallID)
	binary.BigEndian.PutUint32(buf[14:18], uint32(len(body)))

	// Single Write call so a concurrent writer grabbing the lock between
	// header and body can never split a frame.
	buf = append(buf, body...)
	_, err := w.Write(buf)
	return err
}

// Decode reads one complete frame from r. It validates the magic number,
// version, codec id, frame type, and body length; any mismatch returns a
// *FramingError. I/O errors (including io.EOF on a cleanly closed peer)
// are returned unwrapped so callers can tell a closed connection from a
// corrupt one.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicByte0 || headerBuf[1] != MagicByte1 || headerBuf[2] != MagicByte2 {
		return nil, nil, &FramingError{Reason: fmt.Sprintf("invalid magic number %x", headerBuf[0:3])}
	}
	if headerBuf[3] != Version {
		return nil, nil, &FramingError{Reason: fmt.Sprintf("unsupported version %d", headerBuf[3])}
	}
	if headerBuf[4] != CodecJSON && headerBuf[4] != CodecGob {
		return nil, nil, &FramingError{Reason: fmt.Sprintf("unsupported codec id %d", headerBuf[4])}
	}
	frameType := headerBuf[5]
	if frameType > byte(FrameHeartbeat) {
		return nil, nil, &FramingError{Reason: fmt.Sprintf("unsupported frame type %d", frameType)}
	}

	callID := binary.BigEndian.Uint64(headerBuf[6:14])
	bodyLen := binary.BigEndian.Uint32(headerBuf[14:18])
	if bodyLen > MaxBodySize {
		return nil, nil, &FramingError{Reason: fmt.Sprintf("body length %d exceeds limit", bodyLen)}
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		Codec:     headerBuf[4],
		FrameType: FrameType(frameType),
		CallID:    callID,
		BodyLen:   bodyLen,
	}, body, nil
}
