package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"remoteobj/message"
)

// LoggingMiddleware logs every dispatched call with its duration, and the
// error kind when the call failed.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.L().Named("dispatch")
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.InvocationRequest) *message.InvocationResponse {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.String("call_id", req.CallID),
				zap.Duration("duration", time.Since(start)),
			}
			if resp != nil && resp.Failed() {
				logger.Info("call failed", append(fields,
					zap.String("kind", resp.Error.Kind),
					zap.String("error", resp.Error.Message),
				)...)
				return resp
			}
			logger.Debug("call completed", fields...)
			return resp
		}
	}
}
