package remote_test

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/juju/errors"

	"remoteobj/message"
	"remoteobj/remote"
)

type item struct {
	Name string
}

type goodInterface interface {
	Ping() error
	Echo(ctx context.Context, s string, n int) (string, error)
	Items(ctx context.Context) ([]item, error)
	Strict(flag bool) *remote.ObjectError
}

type noResults interface {
	Fire()
}

type wrongError interface {
	Count() (int, *item)
}

type intLast interface {
	Get() int
}

type variadic interface {
	Sum(ctx context.Context, n ...int) (int, error)
}

type threeResults interface {
	Pair() (int, int, error)
}

type emptyRemote interface{}

type anyLast interface {
	Get() any
}

type lateContext interface {
	Do(n int, ctx context.Context) error
}

func (i *item) Error() string { return i.Name }

func TestIsRemoteInterface(t *testing.T) {
	c := qt.New(t)

	c.Assert(remote.IsRemoteInterface(nil), qt.IsFalse)
	c.Assert(remote.IsRemoteInterface(reflect.TypeOf(item{})), qt.IsFalse)
	c.Assert(remote.IsRemoteInterface(reflect.TypeOf(&item{})), qt.IsFalse)
	c.Assert(remote.IsRemoteInterface(reflect.TypeOf(func() error { return nil })), qt.IsFalse)

	c.Assert(remote.IsRemoteInterface(remote.TypeOf[goodInterface]()), qt.IsTrue)
	c.Assert(remote.IsRemoteInterface(remote.TypeOf[emptyRemote]()), qt.IsTrue)
	c.Assert(remote.IsRemoteInterface(remote.TypeOf[error]()), qt.IsFalse)

	c.Assert(remote.IsRemoteInterface(remote.TypeOf[noResults]()), qt.IsFalse)
	c.Assert(remote.IsRemoteInterface(remote.TypeOf[wrongError]()), qt.IsFalse)
	c.Assert(remote.IsRemoteInterface(remote.TypeOf[intLast]()), qt.IsFalse)

	// *ObjectError is assignable to any, but any is not an error.
	c.Assert(remote.IsRemoteInterface(remote.TypeOf[anyLast]()), qt.IsFalse)
	_, err := remote.Describe(remote.TypeOf[anyLast]())
	c.Assert(err, qt.ErrorIs, remote.ErrNotRemoteInterface)
}

func TestDescribe(t *testing.T) {
	c := qt.New(t)

	d, err := remote.Describe(remote.TypeOf[goodInterface]())
	c.Assert(err, qt.IsNil)
	c.Assert(d.Methods(), qt.HasLen, 4)

	var names []string
	for _, m := range d.Methods() {
		names = append(names, m.Name)
	}
	c.Assert(names, qt.DeepEquals, []string{"Echo", "Items", "Ping", "Strict"})

	echo, ok := d.Method("Echo")
	c.Assert(ok, qt.IsTrue)
	c.Assert(echo.Context, qt.IsTrue)
	c.Assert(echo.ParamTags, qt.DeepEquals, []string{"string", "int"})
	c.Assert(echo.ResultTag, qt.Equals, "string")
	c.Assert(echo.Signature(), qt.Equals, "Echo(string,int)string")

	ping, _ := d.Method("Ping")
	c.Assert(ping.Context, qt.IsFalse)
	c.Assert(ping.Params, qt.HasLen, 0)
	c.Assert(ping.Result, qt.IsNil)

	items, _ := d.Method("Items")
	c.Assert(items.ResultTag, qt.Equals, "[]remote_test.item")

	m, ok := d.Lookup("Echo", []string{"string", "int"}, "string")
	c.Assert(ok, qt.IsTrue)
	c.Assert(m, qt.Equals, echo)

	// Same name, different shape.
	_, ok = d.Lookup("Echo", []string{"string", "int"}, "int")
	c.Assert(ok, qt.IsFalse)
	_, ok = d.Lookup("Echo", []string{"string"}, "string")
	c.Assert(ok, qt.IsFalse)
	_, ok = d.Lookup("Missing", nil, "")
	c.Assert(ok, qt.IsFalse)

	again, err := remote.Describe(remote.TypeOf[goodInterface]())
	c.Assert(err, qt.IsNil)
	c.Assert(again, qt.Equals, d)
}

func TestDescribeRejects(t *testing.T) {
	c := qt.New(t)

	for _, typ := range []reflect.Type{
		remote.TypeOf[noResults](),
		remote.TypeOf[variadic](),
		remote.TypeOf[threeResults](),
		remote.TypeOf[lateContext](),
		reflect.TypeOf(item{}),
	} {
		_, err := remote.Describe(typ)
		c.Check(err, qt.ErrorIs, remote.ErrNotRemoteInterface, qt.Commentf("%s", typ))
	}

	_, err := remote.Describe(nil)
	c.Assert(err, qt.ErrorIs, remote.ErrInvalidArgument)
}

func TestDescribeEmptyInterface(t *testing.T) {
	c := qt.New(t)
	d, err := remote.Describe(remote.TypeOf[emptyRemote]())
	c.Assert(err, qt.IsNil)
	c.Assert(d.Methods(), qt.HasLen, 0)
}

func TestObjectError(t *testing.T) {
	c := qt.New(t)

	err := remote.NewObjectError("call failed", remote.ErrAttemptsExhausted)
	c.Assert(err.Error(), qt.Equals, "call failed: attempts exhausted")
	c.Assert(errors.Is(err, remote.ErrAttemptsExhausted), qt.IsTrue)

	c.Assert((&remote.ObjectError{Message: "plain"}).Error(), qt.Equals, "plain")
	c.Assert((&remote.ObjectError{Err: remote.ErrMethodNotFound}).Error(), qt.Equals, "method not found")
}

const errQuota = errors.ConstError("quota exceeded")

type limitError struct {
	Limit int    `json:"limit"`
	Scope string `json:"scope"`
}

func (e *limitError) Error() string { return e.Scope + " limit reached" }

func init() {
	remote.RegisterError("test.Quota", errQuota)
	remote.RegisterErrorType[*limitError]("test.Limit")
}

func TestErrorRegistrySentinel(t *testing.T) {
	c := qt.New(t)

	d := remote.EncodeError(errQuota)
	c.Assert(d.Kind, qt.Equals, "test.Quota")
	c.Assert(d.Message, qt.Equals, "quota exceeded")

	decoded := remote.DecodeError(d)
	c.Assert(decoded, qt.Equals, error(errQuota))
}

func TestErrorRegistryAnnotatedSentinel(t *testing.T) {
	c := qt.New(t)

	d := remote.EncodeError(errors.Annotatef(errQuota, "user %q", "ada"))
	c.Assert(d.Kind, qt.Equals, "test.Quota")
	c.Assert(d.Message, qt.Equals, `user "ada": quota exceeded`)

	decoded := remote.DecodeError(d)
	c.Assert(decoded, qt.ErrorIs, errQuota)
	c.Assert(decoded.Error(), qt.Equals, `user "ada": quota exceeded`)
}

func TestErrorRegistryType(t *testing.T) {
	c := qt.New(t)

	d := remote.EncodeError(errors.Trace(&limitError{Limit: 3, Scope: "disk"}))
	c.Assert(d.Kind, qt.Equals, "test.Limit")

	decoded := remote.DecodeError(d)
	var le *limitError
	c.Assert(errors.As(decoded, &le), qt.IsTrue)
	c.Assert(le, qt.DeepEquals, &limitError{Limit: 3, Scope: "disk"})
}

func TestErrorRegistryUnregistered(t *testing.T) {
	c := qt.New(t)

	d := remote.EncodeError(errors.New("something odd"))
	c.Assert(d.Message, qt.Equals, "something odd")

	decoded := remote.DecodeError(d)
	var app *remote.ApplicationError
	c.Assert(errors.As(decoded, &app), qt.IsTrue)
	c.Assert(app.Message, qt.Equals, "something odd")
	c.Assert(app.Kind, qt.Equals, d.Kind)

	c.Assert(remote.EncodeError(nil), qt.IsNil)
	c.Assert(remote.DecodeError(nil), qt.IsNil)
}

func TestErrorRegistryBuiltins(t *testing.T) {
	c := qt.New(t)

	d := remote.EncodeError(remote.ErrMethodNotFound)
	c.Assert(d.Kind, qt.Equals, remote.KindMethodNotFound)

	d = remote.EncodeError(&remote.PanicError{Value: "boom"})
	c.Assert(d.Kind, qt.Equals, remote.KindPanic)
	var pe *remote.PanicError
	c.Assert(errors.As(remote.DecodeError(d), &pe), qt.IsTrue)
	c.Assert(pe.Value, qt.Equals, "boom")

	d = remote.EncodeError(remote.NewObjectError("inner", errQuota))
	c.Assert(d.Kind, qt.Equals, remote.KindObjectError)
	var oe *remote.ObjectError
	c.Assert(errors.As(remote.DecodeError(d), &oe), qt.IsTrue)
	c.Assert(oe.Message, qt.Equals, "inner: quota exceeded")
}

func TestDecodeErrorBadPayload(t *testing.T) {
	c := qt.New(t)
	decoded := remote.DecodeError(&message.ErrorDescriptor{Kind: "test.Limit", Message: "m", Payload: []byte("{")})
	var app *remote.ApplicationError
	c.Assert(errors.As(decoded, &app), qt.IsTrue)
}

func TestMonitorFor(t *testing.T) {
	c := qt.New(t)

	a, b := &item{}, &item{}
	c.Assert(remote.MonitorFor(a), qt.Equals, remote.MonitorFor(a))
	c.Assert(remote.MonitorFor(a), qt.Not(qt.Equals), remote.MonitorFor(b))
	c.Assert(remote.MonitorFor("x"), qt.Equals, remote.MonitorFor("x"))
}

func TestMonitorOutsideDispatch(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	c.Assert(remote.Wait(ctx), qt.ErrorIs, remote.ErrNoMonitor)
	c.Assert(remote.Signal(ctx), qt.ErrorIs, remote.ErrNoMonitor)
	c.Assert(remote.Broadcast(ctx), qt.ErrorIs, remote.ErrNoMonitor)
}

func TestMonitorRendezvous(t *testing.T) {
	c := qt.New(t)

	obj := &item{}
	m := remote.MonitorFor(obj)
	arrived := 0

	meet := func() {
		m.Lock()
		defer m.Unlock()
		ctx := remote.WithMonitor(context.Background(), m)
		arrived++
		if arrived == 2 {
			c.Check(remote.Broadcast(ctx), qt.IsNil)
			return
		}
		for arrived < 2 {
			c.Check(remote.Wait(ctx), qt.IsNil)
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			meet()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		c.Fatal("rendezvous did not complete")
	}
}

func TestMonitorWaitCancelled(t *testing.T) {
	c := qt.New(t)

	m := remote.MonitorFor(&item{})
	ctx, cancel := context.WithCancel(context.Background())
	ctx = remote.WithMonitor(ctx, m)

	done := make(chan error, 1)
	go func() {
		m.Lock()
		defer m.Unlock()
		done <- remote.Wait(ctx)
	}()

	// Let the waiter park before cancelling.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		c.Assert(err, qt.ErrorIs, context.Canceled)
	case <-time.After(5 * time.Second):
		c.Fatal("cancellation did not wake the waiter")
	}

	// An already cancelled context does not wait at all.
	m.Lock()
	defer m.Unlock()
	c.Assert(remote.Wait(ctx), qt.ErrorIs, context.Canceled)
}
