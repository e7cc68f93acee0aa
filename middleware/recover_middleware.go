package middleware

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"remoteobj/message"
	"remoteobj/remote"
)

// RecoverMiddleware turns a panic below it into a response carrying a
// *remote.PanicError, so a misbehaving method cannot take down the worker
// or leave the caller waiting.
func RecoverMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.L().Named("dispatch")
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.InvocationRequest) (resp *message.InvocationResponse) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("method panicked",
						zap.String("method", req.Method),
						zap.String("call_id", req.CallID),
						zap.Any("panic", r),
						zap.StackSkip("stack", 2),
					)
					resp = failure(req, remote.EncodeError(&remote.PanicError{Value: fmt.Sprint(r)}))
				}
			}()
			return next(ctx, req)
		}
	}
}
