package remote

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/juju/errors"

	"remoteobj/message"
)

// Built-in error kinds.
const (
	KindObjectError    = "remote.ObjectError"
	KindMethodNotFound = "remote.MethodNotFound"
	KindServiceStopped = "remote.ServiceStopped"
	KindInvalidRequest = "remote.InvalidRequest"
	KindRateLimited    = "remote.RateLimited"
	KindPanic          = "remote.Panic"
)

type errorEntry struct {
	kind     string
	sentinel error        // set for RegisterError
	typ      reflect.Type // set for RegisterErrorType
}

// errorRegistry maps application errors to stable kind names so that an
// error returned on the service side reaches the caller as the same kind.
type errorRegistry struct {
	mu        sync.RWMutex
	byKind    map[string]*errorEntry
	byType    map[reflect.Type]*errorEntry
	sentinels []*errorEntry
}

var registry = &errorRegistry{
	byKind: make(map[string]*errorEntry),
	byType: make(map[reflect.Type]*errorEntry),
}

func init() {
	RegisterErrorType[*ObjectError](KindObjectError)
	RegisterErrorType[*PanicError](KindPanic)
	RegisterError(KindMethodNotFound, ErrMethodNotFound)
	RegisterError(KindServiceStopped, ErrServiceStopped)
	RegisterError(KindInvalidRequest, ErrInvalidRequest)
	RegisterError(KindRateLimited, ErrRateLimited)
}

// RegisterError registers a sentinel error value under kind. Both ends of a
// call must register the same kinds. Registering a kind again replaces it.
func RegisterError(kind string, sentinel error) {
	if sentinel == nil || !reflect.TypeOf(sentinel).Comparable() {
		panic(fmt.Sprintf("remote: sentinel for kind %q must be a non-nil comparable error", kind))
	}
	registry.add(&errorEntry{kind: kind, sentinel: sentinel})
}

// RegisterErrorType registers the concrete error type E under kind. Values of
// E travel as JSON, so their exported fields should describe them fully.
func RegisterErrorType[E error](kind string) {
	t := reflect.TypeOf((*E)(nil)).Elem()
	if t.Kind() == reflect.Interface {
		panic(fmt.Sprintf("remote: kind %q must name a concrete error type, not %s", kind, t))
	}
	registry.add(&errorEntry{kind: kind, typ: t})
}

func (r *errorRegistry) add(e *errorEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byKind[e.kind]; ok {
		r.removeLocked(old)
	}
	r.byKind[e.kind] = e
	if e.typ != nil {
		r.byType[e.typ] = e
	} else {
		r.sentinels = append(r.sentinels, e)
	}
}

func (r *errorRegistry) removeLocked(e *errorEntry) {
	if e.typ != nil {
		delete(r.byType, e.typ)
		return
	}
	for i, s := range r.sentinels {
		if s == e {
			r.sentinels = append(r.sentinels[:i], r.sentinels[i+1:]...)
			return
		}
	}
}

// match finds the entry for exactly err, ignoring anything it wraps.
func (r *errorRegistry) match(err error) *errorEntry {
	t := reflect.TypeOf(err)
	if e, ok := r.byType[t]; ok {
		return e
	}
	if !t.Comparable() {
		return nil
	}
	for _, e := range r.sentinels {
		if reflect.TypeOf(e.sentinel) == t && e.sentinel == err {
			return e
		}
	}
	return nil
}

// EncodeError converts err into its wire form. The outermost error in the
// Unwrap chain that is registered determines the kind; the message is always
// err.Error(). An unregistered error travels under its Go type name.
func EncodeError(err error) *message.ErrorDescriptor {
	if err == nil {
		return nil
	}
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	for e := err; e != nil; e = stderrors.Unwrap(e) {
		entry := registry.match(e)
		if entry == nil {
			continue
		}
		d := &message.ErrorDescriptor{Kind: entry.kind, Message: err.Error()}
		if entry.typ != nil {
			if payload, jerr := json.Marshal(e); jerr == nil {
				d.Payload = payload
			}
		}
		return d
	}
	return &message.ErrorDescriptor{Kind: reflect.TypeOf(err).String(), Message: err.Error()}
}

// DecodeError converts a wire error back into a Go error.
//
//   - A registered sentinel comes back as the sentinel itself, or as an error
//     wrapping it when the remote side had annotated it.
//   - A registered type comes back as a fresh value decoded from the payload.
//   - Anything else becomes an *ApplicationError.
func DecodeError(d *message.ErrorDescriptor) error {
	if d == nil {
		return nil
	}
	registry.mu.RLock()
	entry, ok := registry.byKind[d.Kind]
	registry.mu.RUnlock()
	if !ok {
		return &ApplicationError{Kind: d.Kind, Message: d.Message}
	}

	if entry.sentinel != nil {
		if d.Message == entry.sentinel.Error() {
			return entry.sentinel
		}
		return &wrappedError{msg: d.Message, cause: entry.sentinel}
	}

	var v reflect.Value
	if entry.typ.Kind() == reflect.Pointer {
		v = reflect.New(entry.typ.Elem())
	} else {
		v = reflect.New(entry.typ)
	}
	if len(d.Payload) > 0 {
		if err := json.Unmarshal(d.Payload, v.Interface()); err != nil {
			return &ApplicationError{Kind: d.Kind, Message: d.Message}
		}
	}
	if entry.typ.Kind() != reflect.Pointer {
		v = v.Elem()
	}
	decoded, ok := v.Interface().(error)
	if !ok {
		return errors.Errorf("%s: %s", d.Kind, d.Message)
	}
	// The cause of an ObjectError does not travel; keep its text.
	if oe, ok := decoded.(*ObjectError); ok {
		oe.Message = d.Message
	}
	return decoded
}
