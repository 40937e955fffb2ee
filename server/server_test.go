package server

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowrpc/api"
	"flowrpc/codec"
	"flowrpc/message"
	"flowrpc/protocol"
)

type Calculator struct{}

func (c *Calculator) Exports() []api.Export {
	return []api.Export{
		{Name: "add", Method: "Add"},
		{Name: "sleep", Method: "Sleep"},
		{Name: "panic", Method: "Panic"},
	}
}

func (c *Calculator) Add(ctx context.Context, a, b int) (int, error) {
	return a + b, nil
}

func (c *Calculator) Sleep(ctx context.Context, ms int) (int, error) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
	return ms, nil
}

func (c *Calculator) Panic(ctx context.Context) error {
	panic("unreachable branch reached")
}

type VersionedAPI struct{}

func (v *VersionedAPI) Exports() []api.Export {
	return []api.Export{
		{Name: "status", Method: "StatusOld", MaxVersion: 1},
		{Name: "status", Method: "StatusNew", MinVersion: 2},
	}
}

func (v *VersionedAPI) StatusOld(ctx context.Context) (string, error) { return "legacy", nil }
func (v *VersionedAPI) StatusNew(ctx context.Context) (string, error) { return "current", nil }

func startServer(t *testing.T, addr string, surfaces ...api.Surface) {
	t.Helper()
	svr := New()
	require.NoError(t, svr.Register(surfaces...))
	go svr.Serve(addr)
	t.Cleanup(func() { svr.Shutdown(3 * time.Second) })
	time.Sleep(100 * time.Millisecond)
}

// sendRequest writes a handcrafted request frame; the caller reads
// whatever comes back with readResponse.
func sendRequest(t *testing.T, conn net.Conn, callID uint64, method string, version int, args ...any) {
	t.Helper()
	req := &message.Request{Method: method, Version: version}
	for _, arg := range args {
		data, err := json.Marshal(arg)
		require.NoError(t, err)
		req.Args = append(req.Args, data)
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)
	header := &protocol.Header{
		Codec:     byte(codec.JSON),
		FrameType: protocol.FrameRequest,
		CallID:    callID,
	}
	require.NoError(t, protocol.Encode(conn, header, body))
}

func readResponse(t *testing.T, conn net.Conn) (*protocol.Header, *message.Response) {
	t.Helper()
	header, body, err := protocol.Decode(conn)
	require.NoError(t, err)
	resp := new(message.Response)
	require.NoError(t, json.Unmarshal(body, resp))
	return header, resp
}

func TestRawFrameRoundTrip(t *testing.T) {
	startServer(t, "tcp://127.0.0.1:9201", &Calculator{})

	conn, err := net.Dial("tcp", "127.0.0.1:9201")
	require.NoError(t, err)
	defer conn.Close()

	sendRequest(t, conn, 7, "add", 0, 2, 3)

	header, resp := readResponse(t, conn)
	assert.Equal(t, protocol.FrameResponse, header.FrameType)
	assert.Equal(t, uint64(7), header.CallID)
	require.True(t, resp.OK)

	var sum int
	require.NoError(t, json.Unmarshal(resp.Result, &sum))
	assert.Equal(t, 5, sum)
}

func TestUnknownMethodKeepsConnection(t *testing.T) {
	startServer(t, "tcp://127.0.0.1:9202", &Calculator{})

	conn, err := net.Dial("tcp", "127.0.0.1:9202")
	require.NoError(t, err)
	defer conn.Close()

	sendRequest(t, conn, 1, "divide", 0, 6, 2)
	_, resp := readResponse(t, conn)
	require.False(t, resp.OK)
	assert.Equal(t, message.KindMethodNotFound, resp.Err.Kind)

	// The failed call must not have poisoned the connection.
	sendRequest(t, conn, 2, "add", 0, 6, 2)
	header, resp := readResponse(t, conn)
	assert.Equal(t, uint64(2), header.CallID)
	assert.True(t, resp.OK)
}

func TestConcurrentDispatchCompletesOutOfOrder(t *testing.T) {
	startServer(t, "tcp://127.0.0.1:9203", &Calculator{})

	conn, err := net.Dial("tcp", "127.0.0.1:9203")
	require.NoError(t, err)
	defer conn.Close()

	// The slow call goes out first; the fast call's response must not
	// queue behind it.
	sendRequest(t, conn, 10, "sleep", 0, 500)
	sendRequest(t, conn, 11, "sleep", 0, 10)

	header, _ := readResponse(t, conn)
	assert.Equal(t, uint64(11), header.CallID)
	header, _ = readResponse(t, conn)
	assert.Equal(t, uint64(10), header.CallID)
}

func TestPanicBecomesRemoteFailure(t *testing.T) {
	startServer(t, "tcp://127.0.0.1:9204", &Calculator{})

	conn, err := net.Dial("tcp", "127.0.0.1:9204")
	require.NoError(t, err)
	defer conn.Close()

	sendRequest(t, conn, 3, "panic", 0)
	_, resp := readResponse(t, conn)
	require.False(t, resp.OK)
	assert.Equal(t, message.KindRemoteException, resp.Err.Kind)
	assert.Equal(t, "PanicError", resp.Err.Type)
	assert.Contains(t, resp.Err.Message, "unreachable branch reached")

	// The panicking call is isolated: the next call still dispatches.
	sendRequest(t, conn, 4, "add", 0, 1, 1)
	_, resp = readResponse(t, conn)
	assert.True(t, resp.OK)
}

func TestVersionedDispatch(t *testing.T) {
	startServer(t, "tcp://127.0.0.1:9205", &VersionedAPI{})

	conn, err := net.Dial("tcp", "127.0.0.1:9205")
	require.NoError(t, err)
	defer conn.Close()

	var status string

	sendRequest(t, conn, 1, "status", 1)
	_, resp := readResponse(t, conn)
	require.True(t, resp.OK)
	require.NoError(t, json.Unmarshal(resp.Result, &status))
	assert.Equal(t, "legacy", status)

	sendRequest(t, conn, 2, "status", 5)
	_, resp = readResponse(t, conn)
	require.True(t, resp.OK)
	require.NoError(t, json.Unmarshal(resp.Result, &status))
	assert.Equal(t, "current", status)
}

type GatedAPI struct{}

func (g *GatedAPI) Exports() []api.Export {
	return []api.Export{{Name: "report", Method: "Report", MinVersion: 3}}
}

func (g *GatedAPI) Report(ctx context.Context) (string, error) { return "ok", nil }

func TestVersionMismatch(t *testing.T) {
	startServer(t, "tcp://127.0.0.1:9206", &GatedAPI{})

	conn, err := net.Dial("tcp", "127.0.0.1:9206")
	require.NoError(t, err)
	defer conn.Close()

	sendRequest(t, conn, 1, "report", 1)
	_, resp := readResponse(t, conn)
	require.False(t, resp.OK)
	assert.Equal(t, message.KindVersionMismatch, resp.Err.Kind)

	sendRequest(t, conn, 2, "report", 3)
	_, resp = readResponse(t, conn)
	assert.True(t, resp.OK)
}

func TestHeartbeatFramesAreIgnored(t *testing.T) {
	startServer(t, "tcp://127.0.0.1:9207", &Calculator{})

	conn, err := net.Dial("tcp", "127.0.0.1:9207")
	require.NoError(t, err)
	defer conn.Close()

	hb := &protocol.Header{Codec: byte(codec.JSON), FrameType: protocol.FrameHeartbeat}
	require.NoError(t, protocol.Encode(conn, hb, nil))

	sendRequest(t, conn, 1, "add", 0, 2, 2)
	header, resp := readResponse(t, conn)
	assert.Equal(t, uint64(1), header.CallID)
	assert.True(t, resp.OK)
}

func TestCorruptFrameClosesConnection(t *testing.T) {
	startServer(t, "tcp://127.0.0.1:9208", &Calculator{})

	conn, err := net.Dial("tcp", "127.0.0.1:9208")
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write(make([]byte, protocol.HeaderSize))
	require.NoError(t, err)

	// The server must close rather than resynchronize on a corrupt
	// stream.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	assert.Error(t, err)
}

func TestShutdownClosesAcceptedConnections(t *testing.T) {
	svr := New()
	require.NoError(t, svr.Register(&Calculator{}))
	go svr.Serve("tcp://127.0.0.1:9209")
	time.Sleep(100 * time.Millisecond)

	conn, err := net.Dial("tcp", "127.0.0.1:9209")
	require.NoError(t, err)
	defer conn.Close()

	sendRequest(t, conn, 1, "add", 0, 2, 2)
	_, resp := readResponse(t, conn)
	require.True(t, resp.OK)

	require.NoError(t, svr.Shutdown(3*time.Second))

	// The host closed this connection during teardown; the next read
	// hits EOF instead of a serviceable stream.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	assert.Error(t, err)
}

func TestRegisterRejectsBadExport(t *testing.T) {
	svr := New()
	err := svr.Register(&badSurface{})
	var regErr *api.RegistrationError
	assert.ErrorAs(t, err, &regErr)
}

type badSurface struct{}

func (b *badSurface) Exports() []api.Export {
	return []api.Export{{Name: "missing", Method: "DoesNotExist"}}
}

func TestShutdownIdempotentWithoutServe(t *testing.T) {
	svr := New()
	require.NoError(t, svr.Register(&Calculator{}))
	assert.NoError(t, svr.Shutdown(time.Second))
}
