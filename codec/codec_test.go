package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowrpc/message"
)

func TestGet(t *testing.T) {
	assert.Equal(t, JSON, Get(JSON).Type())
	assert.Equal(t, Gob, Get(Gob).Type())
}

func TestRequestRoundTrip(t *testing.T) {
	for _, ct := range []Type{JSON, Gob} {
		c := Get(ct)

		req := &message.Request{
			Method:  "add",
			Version: 3,
			Args:    [][]byte{[]byte(`2`), []byte(`3`)},
			Kwargs:  map[string][]byte{"Base": []byte(`10`)},
		}

		data, err := c.Encode(req)
		require.NoError(t, err)

		var got message.Request
		require.NoError(t, c.Decode(data, &got))
		assert.Equal(t, *req, got, "codec %d", ct)
	}
}

func TestResponseRoundTripWithError(t *testing.T) {
	for _, ct := range []Type{JSON, Gob} {
		c := Get(ct)

		resp := message.FailRemote("ValueError", "boom", []byte(`{"detail":1}`))

		data, err := c.Encode(resp)
		require.NoError(t, err)

		var got message.Response
		require.NoError(t, c.Decode(data, &got))
		require.NotNil(t, got.Err)
		assert.False(t, got.OK)
		assert.Equal(t, message.KindRemoteException, got.Err.Kind)
		assert.Equal(t, "ValueError", got.Err.Type)
		assert.Equal(t, "boom", got.Err.Message)
	}
}

func TestDecodeGarbageIsCodecError(t *testing.T) {
	for _, ct := range []Type{JSON, Gob} {
		var req message.Request
		err := Get(ct).Decode([]byte{0xFF, 0x00, 0xAB}, &req)

		var ce *Error
		require.ErrorAs(t, err, &ce, "codec %d", ct)
		assert.Equal(t, ct, ce.Codec)
		assert.NotNil(t, ce.Unwrap())
	}
}

func TestScalarValueRoundTrip(t *testing.T) {
	for _, ct := range []Type{JSON, Gob} {
		c := Get(ct)

		data, err := c.Encode(42)
		require.NoError(t, err)

		var n int
		require.NoError(t, c.Decode(data, &n))
		assert.Equal(t, 42, n)
	}
}
