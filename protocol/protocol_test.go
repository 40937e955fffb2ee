package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	header := Header{
		Codec:     CodecJSON,
		FrameType: FrameRequest,
		CallID:    12345,
	}
	body := []byte("hello world")

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &header, body))
	assert.Equal(t, HeaderSize+len(body), buf.Len())

	decoded, decodedBody, err := Decode(&buf)
	require.NoError(t, err)

	assert.Equal(t, header.Codec, decoded.Codec)
	assert.Equal(t, header.FrameType, decoded.FrameType)
	assert.Equal(t, header.CallID, decoded.CallID)
	assert.Equal(t, uint32(len(body)), decoded.BodyLen)
	assert.Equal(t, body, decodedBody)
}

func TestDecodeInvalidMagic(t *testing.T) {
	frame := make([]byte, HeaderSize)
	frame[3] = Version

	_, _, err := Decode(bytes.NewReader(frame))
	var fe *FramingError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Error(), "invalid magic number")
}

func TestDecodeInvalidVersion(t *testing.T) {
	frame := []byte{
		MagicByte0, MagicByte1, MagicByte2,
		0xFF, // bad version
		CodecJSON,
		byte(FrameRequest),
		0, 0, 0, 0, 0, 0, 0, 1, // call id
		0, 0, 0, 0, // bodyLen
	}

	_, _, err := Decode(bytes.NewReader(frame))
	var fe *FramingError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Error(), "unsupported version")
}

func TestDecodeInvalidFrameType(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &Header{Codec: CodecJSON, FrameType: FrameRequest}, nil))
	frame := buf.Bytes()
	frame[5] = 0x7F

	_, _, err := Decode(bytes.NewReader(frame))
	var fe *FramingError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Error(), "unsupported frame type")
}

func TestDecodeOversizedBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &Header{Codec: CodecGob, FrameType: FrameRequest, CallID: 7}, nil))
	frame := buf.Bytes()
	binary.BigEndian.PutUint32(frame[14:18], MaxBodySize+1)

	_, _, err := Decode(bytes.NewReader(frame))
	var fe *FramingError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Error(), "exceeds limit")
}

func TestDecodeTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &Header{Codec: CodecJSON, FrameType: FrameResponse, CallID: 3}, []byte("full body")))

	// Cut the frame short: the reader must report an I/O error, not a
	// FramingError, so the owner can treat it as a closed connection.
	truncated := buf.Bytes()[:buf.Len()-4]
	_, _, err := Decode(bytes.NewReader(truncated))
	require.Error(t, err)

	var fe *FramingError
	assert.False(t, errors.As(err, &fe))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDecodeHeartbeatNoBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &Header{Codec: CodecJSON, FrameType: FrameHeartbeat}, nil))

	decoded, body, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, FrameHeartbeat, decoded.FrameType)
	assert.Zero(t, decoded.BodyLen)
	assert.Empty(t, body)
}

func TestDecodeBackToBackFrames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &Header{Codec: CodecJSON, FrameType: FrameRequest, CallID: 1}, []byte("first")))
	require.NoError(t, Encode(&buf, &Header{Codec: CodecJSON, FrameType: FrameRequest, CallID: 2}, []byte("second")))

	h1, b1, err := Decode(&buf)
	require.NoError(t, err)
	h2, b2, err := Decode(&buf)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), h1.CallID)
	assert.Equal(t, []byte("first"), b1)
	assert.Equal(t, uint64(2), h2.CallID)
	assert.Equal(t, []byte("second"), b2)
}
