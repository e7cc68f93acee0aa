package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"remoteobj/message"
	"remoteobj/remote"
)

// echoHandler answers every request successfully.
func echoHandler(ctx context.Context, req *message.InvocationRequest) *message.InvocationResponse {
	return &message.InvocationResponse{
		CallID: req.CallID,
		Result: []byte("ok"),
	}
}

func failingHandler(ctx context.Context, req *message.InvocationRequest) *message.InvocationResponse {
	return failure(req, remote.EncodeError(remote.ErrMethodNotFound))
}

func panickingHandler(ctx context.Context, req *message.InvocationRequest) *message.InvocationResponse {
	panic("kaboom")
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	handler := LoggingMiddleware(zap.New(core))(echoHandler)

	req := &message.InvocationRequest{Method: "CreateTask", CallID: "c1"}
	resp := handler(context.Background(), req)

	if resp == nil {
		t.Fatal("expect non-nil response")
	}
	if string(resp.Result) != "ok" {
		t.Fatalf("expect result 'ok', got '%s'", string(resp.Result))
	}
	if logs.FilterMessage("call completed").Len() != 1 {
		t.Fatalf("expect one completion log, got %v", logs.All())
	}
}

func TestLoggingFailure(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	handler := LoggingMiddleware(zap.New(core))(failingHandler)

	handler(context.Background(), &message.InvocationRequest{Method: "Nope"})

	entries := logs.FilterMessage("call failed").All()
	if len(entries) != 1 {
		t.Fatalf("expect one failure log, got %d", len(entries))
	}
	if kind := entries[0].ContextMap()["kind"]; kind != remote.KindMethodNotFound {
		t.Fatalf("expect kind %q, got %v", remote.KindMethodNotFound, kind)
	}
}

func TestRateLimit(t *testing.T) {
	// Burst of 2 and a negligible refill rate: the third call is rejected.
	handler := RateLimitMiddleware(0.001, 2)(echoHandler)
	req := &message.InvocationRequest{Method: "CreateTask"}

	for i := 0; i < 2; i++ {
		if resp := handler(context.Background(), req); resp.Failed() {
			t.Fatalf("call %d: expect success, got %+v", i, resp.Error)
		}
	}
	resp := handler(context.Background(), req)
	if !resp.Failed() || resp.Error.Kind != remote.KindRateLimited {
		t.Fatalf("expect rate limited, got %+v", resp)
	}
}

func TestDeadline(t *testing.T) {
	var deadline time.Time
	var ok bool
	handler := DeadlineMiddleware(50 * time.Millisecond)(func(ctx context.Context, req *message.InvocationRequest) *message.InvocationResponse {
		deadline, ok = ctx.Deadline()
		return echoHandler(ctx, req)
	})

	before := time.Now()
	handler(context.Background(), &message.InvocationRequest{})
	if !ok {
		t.Fatal("expect a deadline on the context")
	}
	if deadline.Before(before) || deadline.After(before.Add(time.Second)) {
		t.Fatalf("unexpected deadline %v", deadline)
	}
}

func TestRecover(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	handler := RecoverMiddleware(zap.New(core))(panickingHandler)

	resp := handler(context.Background(), &message.InvocationRequest{Method: "Boom", CallID: "c2"})
	if resp == nil || !resp.Failed() {
		t.Fatalf("expect failed response, got %+v", resp)
	}
	if resp.Error.Kind != remote.KindPanic {
		t.Fatalf("expect kind %q, got %q", remote.KindPanic, resp.Error.Kind)
	}
	if resp.CallID != "c2" {
		t.Fatalf("expect call id to be echoed, got %q", resp.CallID)
	}
	if logs.FilterMessage("method panicked").Len() != 1 {
		t.Fatal("expect the panic to be logged")
	}
}

func TestMetrics(t *testing.T) {
	c := NewMetricsCollector()
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("register: %v", err)
	}

	ok := MetricsMiddleware(c)(echoHandler)
	bad := MetricsMiddleware(c)(failingHandler)
	ok(context.Background(), &message.InvocationRequest{Method: "CreateTask"})
	ok(context.Background(), &message.InvocationRequest{Method: "CreateTask"})
	bad(context.Background(), &message.InvocationRequest{Method: "Nope"})

	if got := testutil.ToFloat64(c.calls.WithLabelValues("CreateTask", "ok")); got != 2 {
		t.Fatalf("expect 2 ok calls, got %v", got)
	}
	if got := testutil.ToFloat64(c.calls.WithLabelValues("Nope", remote.KindMethodNotFound)); got != 1 {
		t.Fatalf("expect 1 failed call, got %v", got)
	}
	if n := testutil.CollectAndCount(c, "remoteobj_call_duration_seconds"); n != 2 {
		t.Fatalf("expect 2 duration series, got %d", n)
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw1 := func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.InvocationRequest) *message.InvocationResponse {
			order = append(order, "mw1-before")
			resp := next(ctx, req)
			order = append(order, "mw1-after")
			return resp
		}
	}
	mw2 := func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.InvocationRequest) *message.InvocationResponse {
			order = append(order, "mw2-before")
			resp := next(ctx, req)
			order = append(order, "mw2-after")
			return resp
		}
	}

	handler := Chain(mw1, mw2)(func(ctx context.Context, req *message.InvocationRequest) *message.InvocationResponse {
		order = append(order, "handler")
		return echoHandler(ctx, req)
	})
	handler(context.Background(), &message.InvocationRequest{Method: "CreateTask"})

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expect %v, got %v", expected, order)
	}
	for i := range expected {
		if order[i] != expected[i] {
			t.Fatalf("expect order[%d]=%s, got %s", i, expected[i], order[i])
		}
	}
}
