// Package client implements the stub side of the runtime.
//
// A Stub stands in for a remote object. Every call opens a fresh channel to
// the service, sends one request, waits for one response and closes the
// channel. Lost requests and transport faults are retried, up to MaxAttempts
// per call:
//
//	attempt 1 ──Send──✗ (lost)     → wait backoff
//	attempt 2 ──Send──▶ Recv ✗     → retry at once
//	attempt 3 ──Send──▶ Recv ◀──── response → done
//
// A retried call may run more than once on the service.
package client

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/juju/errors"
	"go.uber.org/zap"

	"remoteobj/codec"
	"remoteobj/message"
	"remoteobj/remote"
	"remoteobj/transport"
)

// MaxAttempts is the number of times a call is tried before giving up.
const MaxAttempts = 5

// Stub issues calls on a remote object through its remote interface.
// A Stub is safe for concurrent use; calls do not share connections.
type Stub struct {
	iface  *remote.Interface
	addr   string
	opts   options
	logger *zap.Logger
}

// NewStub creates a stub for the remote interface T served at addr
// ("host:port"). T must be given explicitly:
//
//	stub, err := client.NewStub[tasks.Manager]("localhost:5000")
func NewStub[T any](addr string, opts ...Option) (*Stub, error) {
	return NewStubFor(remote.TypeOf[T](), addr, opts...)
}

// NewStubFor is NewStub with the interface given as a reflect.Type. It fails
// with remote.ErrInvalidArgument for a nil interface or blank address and
// with remote.ErrNotRemoteInterface when iface is not a remote interface.
func NewStubFor(iface reflect.Type, addr string, opts ...Option) (*Stub, error) {
	if iface == nil {
		return nil, errors.Annotate(remote.ErrInvalidArgument, "nil interface")
	}
	if strings.TrimSpace(addr) == "" {
		return nil, errors.Annotate(remote.ErrInvalidArgument, "blank address")
	}
	desc, err := remote.Describe(iface)
	if err != nil {
		return nil, errors.Trace(err)
	}
	o := newOptions(opts)
	return &Stub{
		iface:  desc,
		addr:   addr,
		opts:   o,
		logger: o.logger.With(zap.String("interface", desc.Name), zap.String("addr", addr)),
	}, nil
}

// Interface returns the descriptor of the interface the stub implements.
func (s *Stub) Interface() *remote.Interface {
	return s.iface
}

// Addr returns the service address.
func (s *Stub) Addr() string {
	return s.addr
}

// Invoke calls method and returns its result as an R.
func Invoke[R any](ctx context.Context, s *Stub, method string, args ...any) (R, error) {
	var r R
	err := s.Call(ctx, method, &r, args...)
	return r, err
}

// Call invokes method with args and decodes the result into reply, which
// must be a pointer to the method's result type, or nil to discard it.
//
// Misuse (unknown method, wrong arguments or reply) fails with
// remote.ErrInvalidArgument before anything is sent. Failures of the call
// itself are *remote.ObjectError values; errors returned by the remote method
// come back as the registered kind they were sent as.
func (s *Stub) Call(ctx context.Context, method string, reply any, args ...any) error {
	m, req, err := s.prepare(method, reply, args)
	if err != nil {
		return err
	}
	logger := s.logger.With(zap.String("method", method), zap.String("call_id", req.CallID))

	// Per-call state: each lost request of this call lengthens the next pause.
	b := &backoff.Backoff{Min: s.opts.backoff, Max: s.opts.maxBackoff, Factor: 2}
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return remote.NewObjectError(method, err)
		}

		resp, lost, err := s.attempt(ctx, req, attempt)
		switch {
		case errors.Is(err, remote.ErrInvalidResponse):
			return remote.NewObjectError(method, err)
		case err != nil:
			if attempt == MaxAttempts {
				return remote.NewObjectError(method, err)
			}
			logger.Debug("attempt failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
			continue
		case lost:
			if attempt == MaxAttempts {
				logger.Debug("request lost", zap.Int("attempt", attempt))
				continue
			}
			pause := b.Duration()
			logger.Debug("request lost", zap.Int("attempt", attempt), zap.Duration("backoff", pause))
			select {
			case <-s.opts.clock.After(pause):
			case <-ctx.Done():
				return remote.NewObjectError(method, ctx.Err())
			}
			continue
		}
		return s.result(m, resp, reply)
	}
	logger.Warn("giving up", zap.Int("attempts", MaxAttempts))
	return remote.NewObjectError(fmt.Sprintf("%s: no response after %d attempts", method, MaxAttempts), remote.ErrAttemptsExhausted)
}

// prepare checks a call against the interface and builds its request.
func (s *Stub) prepare(method string, reply any, args []any) (*remote.Method, *message.InvocationRequest, error) {
	m, ok := s.iface.Method(method)
	if !ok {
		return nil, nil, errors.Annotatef(remote.ErrInvalidArgument, "%s has no method %q", s.iface.Name, method)
	}
	if len(args) != len(m.Params) {
		return nil, nil, errors.Annotatef(remote.ErrInvalidArgument, "%s takes %d arguments, got %d", method, len(m.Params), len(args))
	}
	if m.Result != nil && reply != nil {
		rv := reflect.ValueOf(reply)
		if rv.Kind() != reflect.Pointer || rv.IsNil() || !m.Result.AssignableTo(rv.Type().Elem()) {
			return nil, nil, errors.Annotatef(remote.ErrInvalidArgument, "reply for %s must be a non-nil *%s, got %T", method, m.ResultTag, reply)
		}
	}

	vc := codec.ValueCodec(s.opts.codec)
	req := &message.InvocationRequest{
		CallID:     uuid.NewString(),
		Method:     m.Name,
		ParamTypes: m.ParamTags,
		ResultType: m.ResultTag,
		Args:       make([][]byte, len(args)),
	}
	for i, arg := range args {
		p := m.Params[i]
		if arg == nil {
			switch p.Kind() {
			case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
			default:
				return nil, nil, errors.Annotatef(remote.ErrInvalidArgument, "argument %d of %s: nil for %s", i, method, p)
			}
		} else if !reflect.TypeOf(arg).AssignableTo(p) {
			return nil, nil, errors.Annotatef(remote.ErrInvalidArgument, "argument %d of %s: %T is not %s", i, method, arg, p)
		}
		data, err := vc.Encode(arg)
		if err != nil {
			return nil, nil, errors.Annotatef(remote.ErrInvalidArgument, "argument %d of %s: %v", i, method, err)
		}
		req.Args[i] = data
	}
	return m, req, nil
}

// attempt performs one send/receive exchange on a fresh channel. lost is
// true when the channel dropped the request.
func (s *Stub) attempt(ctx context.Context, req *message.InvocationRequest, n int) (resp *message.InvocationResponse, lost bool, err error) {
	ch, err := transport.Dial(ctx, s.addr, s.opts.transport)
	if err != nil {
		return nil, false, errors.Trace(err)
	}
	defer ch.Close()

	ch.SetSeq(uint32(n))
	sent, err := ch.Send(req)
	if err != nil {
		return nil, false, errors.Trace(err)
	}
	if !sent {
		return nil, true, nil
	}

	msg, err := ch.Recv()
	if err != nil {
		return nil, false, errors.Trace(err)
	}
	resp, ok := msg.(*message.InvocationResponse)
	if !ok {
		return nil, false, errors.Annotatef(remote.ErrInvalidResponse, "got %T", msg)
	}
	return resp, false, nil
}

// result turns a response into the call's outcome.
func (s *Stub) result(m *remote.Method, resp *message.InvocationResponse, reply any) error {
	if resp.Failed() {
		err := remote.DecodeError(resp.Error)
		switch resp.Error.Kind {
		case remote.KindMethodNotFound, remote.KindServiceStopped, remote.KindInvalidRequest, remote.KindRateLimited:
			return remote.NewObjectError(m.Name, err)
		}
		return err
	}
	if reply == nil || m.Result == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := codec.ValueCodec(s.opts.codec).Decode(resp.Result, reply); err != nil {
		return remote.NewObjectError(m.Name, errors.Annotatef(remote.ErrInvalidResponse, "decoding result: %v", err))
	}
	return nil
}
