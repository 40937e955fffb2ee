package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"flowrpc/message"
)

// RateLimit rejects calls beyond a token-bucket budget shared by every
// connection on the host.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !limiter.Allow() {
				return message.FailRemote("RateLimitExceeded", "rate limit exceeded", nil)
			}
			return next(ctx, req)
		}
	}
}
