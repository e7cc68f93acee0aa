package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"remoteobj/message"
	"remoteobj/remote"
)

// RateLimitMiddleware rejects calls beyond a token-bucket rate of r per second
// with the given burst. Rejected calls fail with remote.ErrRateLimited and
// never reach the object.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.InvocationRequest) *message.InvocationResponse {
			if !limiter.Allow() {
				return failure(req, remote.EncodeError(remote.ErrRateLimited))
			}
			return next(ctx, req)
		}
	}
}
