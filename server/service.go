package server

import (
	"context"
	"reflect"

	"github.com/juju/errors"

	"remoteobj/codec"
	"remoteobj/message"
	"remoteobj/remote"
)

// dispatcher invokes requests on the target object through its remote
// interface. It is the innermost handler of the middleware chain.
type dispatcher struct {
	iface   *remote.Interface
	target  reflect.Value // interface-typed, so method indexes follow iface
	monitor *remote.Monitor
	running func() bool
}

func newDispatcher(iface *remote.Interface, target any, running func() bool) *dispatcher {
	tv := reflect.New(iface.Type).Elem()
	tv.Set(reflect.ValueOf(target))
	return &dispatcher{
		iface:   iface,
		target:  tv,
		monitor: remote.MonitorFor(target),
		running: running,
	}
}

func failed(req *message.InvocationRequest, err error) *message.InvocationResponse {
	return &message.InvocationResponse{CallID: req.CallID, Error: remote.EncodeError(err)}
}

// handle has the middleware.HandlerFunc signature.
//
// Flow: lookup by signature → decode args → acquire the object's monitor →
// check the service still runs → reflect.Call → encode the result or error.
func (d *dispatcher) handle(ctx context.Context, req *message.InvocationRequest) *message.InvocationResponse {
	m, ok := d.iface.Lookup(req.Method, req.ParamTypes, req.ResultType)
	if !ok {
		return failed(req, errors.Annotatef(remote.ErrMethodNotFound, "%s has no method %s",
			d.iface.Name, remote.SignatureOf(req.Method, req.ParamTypes, req.ResultType)))
	}

	vc := codec.ValueCodec(codec.CodecType(req.Codec))
	if len(req.Args) != len(m.Params) {
		return failed(req, errors.Annotatef(remote.ErrInvalidRequest, "%s takes %d arguments, got %d",
			m.Name, len(m.Params), len(req.Args)))
	}
	in := make([]reflect.Value, 0, len(m.Params)+1)
	if m.Context {
		in = append(in, reflect.Value{}) // filled once the monitor is held
	}
	for i, p := range m.Params {
		pv := reflect.New(p)
		if err := vc.Decode(req.Args[i], pv.Interface()); err != nil {
			return failed(req, errors.Annotatef(remote.ErrInvalidRequest, "argument %d of %s: %v", i, m.Name, err))
		}
		in = append(in, pv.Elem())
	}

	d.monitor.Lock()
	defer d.monitor.Unlock()
	if !d.running() {
		return failed(req, remote.ErrServiceStopped)
	}
	if m.Context {
		in[0] = reflect.ValueOf(remote.WithMonitor(ctx, d.monitor))
	}

	out := d.target.Method(m.Index).Call(in)

	if errv := out[len(out)-1]; !errv.IsNil() {
		return failed(req, errv.Interface().(error))
	}
	resp := &message.InvocationResponse{CallID: req.CallID}
	if m.Result != nil {
		data, err := vc.Encode(out[0].Interface())
		if err != nil {
			return failed(req, remote.NewObjectError("encoding result of "+m.Name, err))
		}
		resp.Result = data
	}
	return resp
}
