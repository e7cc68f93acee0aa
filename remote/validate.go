// Package remote defines what makes a Go interface callable across the
// network and the pieces shared by both ends of a call: method descriptors,
// the network-error kind, the error-kind registry and per-object monitors.
package remote

import (
	"reflect"
)

var objectErrorType = reflect.TypeOf((*ObjectError)(nil))

// IsRemoteInterface reports whether t is an interface type whose every method
// can report the network-error kind, i.e. whose last result is an error type
// that *ObjectError is assignable to. Interfaces without methods qualify.
func IsRemoteInterface(t reflect.Type) bool {
	if t == nil || t.Kind() != reflect.Interface {
		return false
	}
	for i := 0; i < t.NumMethod(); i++ {
		mt := t.Method(i).Type
		if mt.NumOut() == 0 {
			return false
		}
		last := mt.Out(mt.NumOut() - 1)
		if !last.Implements(errorType) || !objectErrorType.AssignableTo(last) {
			return false
		}
	}
	return true
}

// TypeOf returns the reflect.Type of the interface T.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
