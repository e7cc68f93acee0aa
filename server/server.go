// Package server implements the skeleton side of the runtime: a Service
// exposes one object through one remote interface on a TCP port.
//
// Request processing pipeline:
//
//	Accept conn → worker goroutine (one per connection)
//	  → Channel.Recv (exactly one request)
//	  → Recover → user middlewares → dispatcher (monitor held, reflect.Call)
//	  → Channel.Send (exactly one response) → Close
//
// A Service moves between RUNNING and STOPPED any number of times. Each Start
// launches a fresh accept loop under its own tomb.
package server

import (
	"context"
	"net"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"gopkg.in/tomb.v2"

	"remoteobj/message"
	"remoteobj/middleware"
	"remoteobj/remote"
	"remoteobj/transport"
)

// Service serves one object over TCP.
type Service struct {
	iface   *remote.Interface
	target  any
	addr    string
	opts    options
	logger  *zap.Logger
	running atomic.Bool
	sem     *semaphore.Weighted
	wg      sync.WaitGroup // in-flight workers, for Shutdown

	dispatch    *dispatcher
	middlewares []middleware.Middleware // applied in the order they were added

	mu       sync.Mutex // serializes Start and Stop
	listener net.Listener
	tomb     *tomb.Tomb
}

// NewService creates a stopped Service exposing target through the remote
// interface T. T must be given explicitly:
//
//	svc, err := server.NewService[tasks.Manager](executor, 5000)
func NewService[T any](target T, port int, opts ...Option) (*Service, error) {
	return NewServiceFor(remote.TypeOf[T](), target, port, opts...)
}

// NewServiceFor is NewService with the interface given as a reflect.Type.
//
// It fails with remote.ErrInvalidArgument when iface or target is absent,
// the port is out of range or target does not implement iface, and with
// remote.ErrNotRemoteInterface when iface is not a remote interface.
func NewServiceFor(iface reflect.Type, target any, port int, opts ...Option) (*Service, error) {
	if iface == nil {
		return nil, errors.Annotate(remote.ErrInvalidArgument, "nil interface")
	}
	if isNil(target) {
		return nil, errors.Annotate(remote.ErrInvalidArgument, "nil target")
	}
	if port < 0 || port > 65535 {
		return nil, errors.Annotatef(remote.ErrInvalidArgument, "port %d out of range", port)
	}
	desc, err := remote.Describe(iface)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if !reflect.TypeOf(target).Implements(iface) {
		return nil, errors.Annotatef(remote.ErrInvalidArgument, "%T does not implement %s", target, desc.Name)
	}

	o := newOptions(opts)
	s := &Service{
		iface:  desc,
		target: target,
		addr:   net.JoinHostPort(o.host, strconv.Itoa(port)),
		opts:   o,
		logger: o.logger.With(zap.String("interface", desc.Name)),
	}
	if o.maxWorkers > 0 {
		s.sem = semaphore.NewWeighted(o.maxWorkers)
	}
	s.dispatch = newDispatcher(desc, target, s.running.Load)
	return s, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// Use registers a middleware. Middlewares are applied in the order they are
// added and take effect at the next Start.
func (s *Service) Use(mw middleware.Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.middlewares = append(s.middlewares, mw)
}

// Running reports whether the service is accepting calls.
func (s *Service) Running() bool {
	return s.running.Load()
}

// Addr returns the bound address while running, nil otherwise. Useful with
// port 0.
func (s *Service) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.Load() || s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start binds the port and launches the accept loop. It fails with an
// *remote.ObjectError wrapping remote.ErrAlreadyRunning when running, or
// wrapping the bind error.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return remote.NewObjectError("start "+s.addr, remote.ErrAlreadyRunning)
	}
	ln, err := s.opts.listen("tcp", s.addr)
	if err != nil {
		return remote.NewObjectError("listen on "+s.addr, err)
	}

	// Built once per Start, not per request. Recover is outermost so that
	// a panicking method still gets a response.
	chain := append([]middleware.Middleware{middleware.RecoverMiddleware(s.logger)}, s.middlewares...)
	handler := middleware.Chain(chain...)(s.dispatch.handle)

	t := &tomb.Tomb{}
	s.listener = ln
	s.tomb = t
	s.running.Store(true)
	t.Go(func() error {
		return s.acceptLoop(t, ln, handler)
	})

	s.logger.Info("service started", zap.Stringer("addr", ln.Addr()))
	return nil
}

// acceptLoop accepts connections until the listener is closed by Stop or an
// accept error is not absorbed by the AcceptError hook.
func (s *Service) acceptLoop(t *tomb.Tomb, ln net.Listener, handler middleware.HandlerFunc) error {
	ctx := t.Context(context.Background())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !t.Alive() {
				return nil // Stop closed the listener
			}
			s.logger.Warn("accept failed", zap.Error(err))
			if s.opts.hooks.acceptError(err) {
				continue
			}
			if s.running.CompareAndSwap(true, false) {
				ln.Close()
				s.logger.Info("service stopped after accept failure", zap.Error(err))
				s.opts.hooks.stopped(err)
			}
			return errors.Trace(err)
		}

		if s.sem != nil {
			if err := s.sem.Acquire(ctx, 1); err != nil {
				conn.Close()
				return nil
			}
		}
		s.wg.Add(1)
		go s.serve(ctx, conn, handler)
	}
}

// serve handles exactly one call on conn with the handler chain of the run
// that accepted it.
func (s *Service) serve(ctx context.Context, conn net.Conn, handler middleware.HandlerFunc) {
	defer s.wg.Done()
	if s.sem != nil {
		defer s.sem.Release(1)
	}

	ch := transport.Accept(conn, s.opts.transport)
	defer ch.Close()

	msg, err := ch.Recv()
	if err != nil {
		s.logger.Debug("receive failed", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
		return
	}
	req, ok := msg.(*message.InvocationRequest)
	if !ok {
		return
	}

	resp := handler(ctx, req)
	if resp.CallID == "" {
		resp.CallID = req.CallID
	}
	if _, err := ch.Send(resp); err != nil {
		s.logger.Debug("send failed", zap.String("call_id", req.CallID), zap.Error(err))
		s.opts.hooks.dispatchError(err)
	}
}

// Stop stops accepting calls. Calls already holding the object's monitor
// run to completion with a cancelled context, and calls parked in
// remote.Wait are woken with that cancellation; calls still waiting to
// acquire the monitor fail with ServiceStopped.
// Stop waits up to the stop timeout for the accept loop and then runs the
// Stopped hook. It is safe to call on a service that is not running.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.running.CompareAndSwap(true, false) {
		s.tomb.Kill(nil)
		s.listener.Close()
		select {
		case <-s.tomb.Dead():
		case <-s.opts.clock.After(s.opts.stopTimeout):
			s.logger.Warn("accept loop did not exit in time", zap.Duration("timeout", s.opts.stopTimeout))
		}
		s.logger.Info("service stopped")
	}
	s.mu.Unlock()
	s.opts.hooks.stopped(nil)
}

// Shutdown stops the service and waits for in-flight calls to finish.
func (s *Service) Shutdown(timeout time.Duration) error {
	s.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-s.opts.clock.After(timeout):
		return errors.Errorf("timeout waiting for ongoing calls to finish")
	}
}
