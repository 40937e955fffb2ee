package transport

import (
	"fmt"
	"net"
	"strings"

	"flowrpc/codec"
)

// AddrError reports an endpoint address that could not be understood.
type AddrError struct {
	Addr   string
	Reason string
}

func (e *AddrError) Error() string {
	return fmt.Sprintf("address %q: %s", e.Addr, e.Reason)
}

// ParseAddr splits an endpoint address into the network and address
// arguments net.Dial and net.Listen expect.
//
//	tcp://host:port → ("tcp", "host:port")
//	ipc:///some/path → ("unix", "/some/path")
func ParseAddr(addr string) (network, address string, err error) {
	scheme, rest, ok := strings.Cut(addr, "://")
	if !ok {
		return "", "", &AddrError{Addr: addr, Reason: "missing scheme"}
	}
	switch scheme {
	case "tcp":
		if _, _, err := net.SplitHostPort(rest); err != nil {
			return "", "", &AddrError{Addr: addr, Reason: "tcp authority must be host:port"}
		}
		return "tcp", rest, nil
	case "ipc":
		if rest == "" {
			return "", "", &AddrError{Addr: addr, Reason: "ipc authority must be a filesystem path"}
		}
		return "unix", rest, nil
	default:
		return "", "", &AddrError{Addr: addr, Reason: "unsupported scheme " + scheme}
	}
}

// Listen opens a listener on an endpoint address.
func Listen(addr string) (net.Listener, error) {
	network, address, err := ParseAddr(addr)
	if err != nil {
		return nil, err
	}
	return net.Listen(network, address)
}

// Dial connects to an endpoint address and wraps the stream in a
// multiplexing Conn.
func Dial(addr string, ct codec.Type, opts ...Option) (*Conn, error) {
	network, address, err := ParseAddr(addr)
	if err != nil {
		return nil, err
	}
	nc, err := net.Dial(network, address)
	if err != nil {
		return nil, err
	}
	return NewConn(nc, ct, opts...), nil
}
