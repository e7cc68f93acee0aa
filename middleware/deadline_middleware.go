package middleware

import (
	"context"
	"time"

	"remoteobj/message"
)

// DeadlineMiddleware gives every call a context that expires after d. Methods
// that take a context observe it; the call itself is never preempted, so the
// object's monitor is always released by the method returning.
func DeadlineMiddleware(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.InvocationRequest) *message.InvocationResponse {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}
