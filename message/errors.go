package message

import (
	"errors"
	"reflect"
)

// Failure kinds. Connection-level kinds terminate every pending call on
// the connection; call-level kinds affect only the one call.
const (
	KindMethodNotFound   = "MethodNotFound"   // call-level, connection stays usable
	KindVersionMismatch  = "VersionMismatch"  // call-level, no endpoint for the caller's api version
	KindRemoteException  = "RemoteException"  // call-level, the target method failed
	KindCallTimeout      = "CallTimeout"      // call-level, caller-side deadline expired
	KindConnectionClosed = "ConnectionClosed" // connection-level
	KindNotConnected     = "NotConnected"     // connection-level, call before the connection opened
)

// CallError is a failure classified by kind. Two CallErrors match under
// errors.Is when their kinds match, so the exported sentinels below work
// regardless of the message carried by a particular instance.
type CallError struct {
	Kind    string
	Message string
}

func (e *CallError) Error() string {
	return e.Message
}

func (e *CallError) Is(target error) bool {
	t, ok := target.(*CallError)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotConnected     = &CallError{Kind: KindNotConnected, Message: "not connected"}
	ErrConnectionClosed = &CallError{Kind: KindConnectionClosed, Message: "connection closed"}
	ErrCallTimeout      = &CallError{Kind: KindCallTimeout, Message: "call timed out"}
	ErrMethodNotFound   = &CallError{Kind: KindMethodNotFound, Message: "no such method"}
	ErrVersionMismatch  = &CallError{Kind: KindVersionMismatch, Message: "api version not supported"}
)

// RemoteError is a failure the target method raised, rebuilt caller-side.
// Error() returns exactly the remote message, so to the caller it reads
// like the failure happened locally. Type names the remote error's
// concrete type, best-effort.
type RemoteError struct {
	Type    string
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Err converts the wire representation back into an error value.
func (e *ErrorInfo) Err() error {
	if e == nil {
		return nil
	}
	if e.Kind == KindRemoteException {
		return &RemoteError{Type: e.Type, Message: e.Message}
	}
	return &CallError{Kind: e.Kind, Message: e.Message}
}

// ErrorTypeName reports the name a failure should carry on the wire.
// A RemoteError keeps the type it already carries (a proxied call must
// not be renamed on each hop); anything else is named after its concrete
// Go type with pointers stripped.
func ErrorTypeName(err error) string {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Type
	}
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}
