// Package middleware provides the host-side handler chain wrapped around
// call dispatch.
package middleware

import (
	"context"

	"flowrpc/message"
)

// HandlerFunc processes one Call Envelope into a Result Envelope.
type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

// Middleware wraps a handler with additional behavior.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines middlewares into one, onion model:
// Chain(A, B, C)(h) runs A.before → B.before → C.before → h → C.after → B.after → A.after.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
