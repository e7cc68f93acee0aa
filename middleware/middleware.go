// Package middleware wraps the dispatch of one invocation request.
//
// A HandlerFunc turns a request into a response; it never returns a Go error,
// failures travel inside the response as an error descriptor. Middlewares are
// applied outermost first:
//
//	Chain(a, b, c)(h)  ==  a(b(c(h)))
package middleware

import (
	"context"

	"remoteobj/message"
)

type HandlerFunc func(ctx context.Context, req *message.InvocationRequest) *message.InvocationResponse

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one; the first argument runs first.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// failure builds an error response for req.
func failure(req *message.InvocationRequest, d *message.ErrorDescriptor) *message.InvocationResponse {
	return &message.InvocationResponse{CallID: req.CallID, Error: d}
}
