// Package message defines the envelopes exchanged between caller and host.
//
// A Request is the Call Envelope: which method to invoke and with what
// arguments. A Response is the Result Envelope: success with a value, or
// a classified failure. Both are serialized by the codec layer and
// wrapped in a protocol frame; the call id correlating the two travels in
// the frame header so the multiplexer can route responses without
// decoding payloads.
package message

// Request carries one remote call from caller to host.
//
// Args holds the positional arguments, each independently codec-encoded.
// Kwargs holds named arguments, bound host-side to the target method's
// trailing options-struct parameter. Version is the caller's api version,
// matched against each method's declared version range.
type Request struct {
	Method  string            `json:"method"`
	Version int               `json:"version,omitempty"`
	Args    [][]byte          `json:"args,omitempty"`
	Kwargs  map[string][]byte `json:"kwargs,omitempty"`
}

// Response carries the outcome of one call back to the caller.
// Exactly one of Result and Err is meaningful, selected by OK.
type Response struct {
	OK     bool       `json:"ok"`
	Result []byte     `json:"result,omitempty"`
	Err    *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo is the wire representation of a classified failure.
// Type is set for RemoteException failures and names the concrete error
// type the host observed. Payload optionally carries the codec-encoded
// error value itself, best-effort.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
	Payload []byte `json:"payload,omitempty"`
}

// Success builds a Result Envelope for a call that returned normally.
func Success(result []byte) *Response {
	return &Response{OK: true, Result: result}
}

// Fail builds a Result Envelope for a protocol-level failure.
func Fail(kind, msg string) *Response {
	return &Response{Err: &ErrorInfo{Kind: kind, Message: msg}}
}

// FailRemote builds a Result Envelope for a failure raised by the target
// method itself.
func FailRemote(typeName, msg string, payload []byte) *Response {
	return &Response{Err: &ErrorInfo{
		Kind:    KindRemoteException,
		Type:    typeName,
		Message: msg,
		Payload: payload,
	}}
}
