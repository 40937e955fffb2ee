package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"flowrpc/message"
)

// Logging logs each dispatched call with its duration and outcome.
func Logging(log *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)

			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.Duration("duration", time.Since(start)),
			}
			if resp.Err != nil {
				fields = append(fields,
					zap.String("failure_kind", resp.Err.Kind),
					zap.String("failure_message", resp.Err.Message))
				log.Warn("call failed", fields...)
			} else {
				log.Info("call served", fields...)
			}
			return resp
		}
	}
}
