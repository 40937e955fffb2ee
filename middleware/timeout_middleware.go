package middleware

import (
	"context"
	"time"

	"flowrpc/message"
)

// Timeout bounds how long a single dispatch may run. An overrun resolves
// the call with a RemoteException of type DeadlineExceeded; the handler
// goroutine keeps running to completion, its result discarded
// (cooperative cancellation of in-progress work is out of scope).
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Response, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return message.FailRemote("DeadlineExceeded", "handler exceeded time budget", nil)
			}
		}
	}
}
