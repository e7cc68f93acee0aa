package remote

import (
	"context"
	"reflect"
	"sync"
)

// Monitor serializes dispatch onto one object. A call holds the monitor for
// its whole method body; the method may Wait on the monitor's condition,
// which releases it until another holder calls Signal or Broadcast.
type Monitor struct {
	mu   sync.Mutex
	cond *sync.Cond
}

func newMonitor() *Monitor {
	m := &Monitor{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *Monitor) Lock()   { m.mu.Lock() }
func (m *Monitor) Unlock() { m.mu.Unlock() }

// Wait must be called with the monitor held.
func (m *Monitor) Wait()      { m.cond.Wait() }
func (m *Monitor) Signal()    { m.cond.Signal() }
func (m *Monitor) Broadcast() { m.cond.Broadcast() }

type identity struct {
	typ reflect.Type
	ptr uintptr
}

var monitors sync.Map // identity or comparable value -> *Monitor

// MonitorFor returns the monitor of obj. Every service exposing the same
// object, and the object's own code, share one monitor. Objects that are
// neither reference-like nor comparable get a fresh monitor each time.
func MonitorFor(obj any) *Monitor {
	key, ok := monitorKey(obj)
	if !ok {
		return newMonitor()
	}
	if m, ok := monitors.Load(key); ok {
		return m.(*Monitor)
	}
	m, _ := monitors.LoadOrStore(key, newMonitor())
	return m.(*Monitor)
}

func monitorKey(obj any) (any, bool) {
	v := reflect.ValueOf(obj)
	if !v.IsValid() {
		return nil, false
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.Slice, reflect.UnsafePointer:
		return identity{typ: v.Type(), ptr: v.Pointer()}, true
	}
	if v.Comparable() {
		return obj, true
	}
	return nil, false
}

type monitorContextKey struct{}

// WithMonitor returns a context that carries m for the duration of one
// dispatched call.
func WithMonitor(ctx context.Context, m *Monitor) context.Context {
	return context.WithValue(ctx, monitorContextKey{}, m)
}

// MonitorFromContext returns the monitor held by the dispatched call ctx
// belongs to.
func MonitorFromContext(ctx context.Context) (*Monitor, bool) {
	m, ok := ctx.Value(monitorContextKey{}).(*Monitor)
	return m, ok
}

// Wait releases the object's monitor until another call signals it or ctx
// is done, then reacquires it. It returns ctx.Err() when woken by
// cancellation, so callers looping on their own condition around Wait should
// stop on a non-nil error.
func Wait(ctx context.Context) error {
	m, ok := MonitorFromContext(ctx)
	if !ok {
		return ErrNoMonitor
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	// The wakeup takes the monitor, so it cannot fire before m.Wait has
	// released it.
	stop := context.AfterFunc(ctx, func() {
		m.Lock()
		defer m.Unlock()
		m.Broadcast()
	})
	m.Wait()
	stop()
	return ctx.Err()
}

// Signal wakes one call waiting on the object's monitor.
func Signal(ctx context.Context) error {
	m, ok := MonitorFromContext(ctx)
	if !ok {
		return ErrNoMonitor
	}
	m.Signal()
	return nil
}

// Broadcast wakes every call waiting on the object's monitor.
func Broadcast(ctx context.Context) error {
	m, ok := MonitorFromContext(ctx)
	if !ok {
		return ErrNoMonitor
	}
	m.Broadcast()
	return nil
}
