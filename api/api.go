// Package api builds the method registry for a remotely callable API
// surface.
//
// Go has no decorators, so the registration marker is a declarative
// export table: an API object implements Surface and lists the methods
// it exposes. The registry scans that table once with reflection,
// validates every entry, and is immutable afterwards — safe to share
// read-only across all connections and concurrent dispatches.
package api

import (
	"errors"
	"fmt"
	"reflect"
)

// Export marks one method as remotely callable.
//
// Name is the wire name; empty defaults to the Go method name. Min and
// MaxVersion bound the api versions the endpoint serves (0 = unbounded),
// which lets two exports share a wire name for disjoint version ranges.
type Export struct {
	Name       string
	Method     string
	MinVersion int
	MaxVersion int
}

// Surface is implemented by API objects. Only methods listed in Exports
// become part of the remote API; everything else stays local.
type Surface interface {
	Exports() []Export
}

// RegistrationError reports an invalid or duplicate export. It is fatal
// at startup and surfaced to the caller of the setup routine.
type RegistrationError struct {
	Method string
	Reason string
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register %s: %s", e.Method, e.Reason)
}

// ArgumentError reports a call whose arguments could not be bound to the
// target method. It is call-level: the envelope itself decoded fine, so
// the connection stays usable.
type ArgumentError struct {
	msg string
}

func (e *ArgumentError) Error() string {
	return e.msg
}

// Resolution failures, mapped by the dispatch loop onto per-call
// failure kinds.
var (
	ErrNotFound = errors.New("no such method")
	ErrVersion  = errors.New("no endpoint for api version")
)

// SurfaceName reports the registry key for an API object: its concrete
// type name with pointers stripped. Used for endpoint registration.
func SurfaceName(obj Surface) string {
	t := reflect.TypeOf(obj)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}
