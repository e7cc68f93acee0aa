package remote

import (
	"github.com/juju/errors"
)

const (
	// ErrInvalidArgument reports local misuse: an absent interface, target or
	// address, or a call whose arguments do not match the method.
	ErrInvalidArgument = errors.ConstError("invalid argument")

	// ErrNotRemoteInterface is returned when a type fails IsRemoteInterface
	// or declares a method shape Describe cannot carry.
	ErrNotRemoteInterface = errors.ConstError("not a remote interface")

	ErrMethodNotFound    = errors.ConstError("method not found")
	ErrServiceStopped    = errors.ConstError("service stopped")
	ErrAlreadyRunning    = errors.ConstError("service already running")
	ErrAttemptsExhausted = errors.ConstError("attempts exhausted")
	ErrInvalidResponse   = errors.ConstError("invalid response")
	ErrInvalidRequest    = errors.ConstError("invalid request")
	ErrRateLimited       = errors.ConstError("rate limited")

	// ErrNoMonitor is returned by Wait, Signal and Broadcast when the context
	// does not belong to a dispatched call.
	ErrNoMonitor = errors.ConstError("no monitor in context")
)

// ObjectError is the network-error kind. Every method of a remote interface
// must be able to return it: the runtime reports communication and dispatch
// failures through it, with the underlying cause in Err.
type ObjectError struct {
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// NewObjectError returns an ObjectError with the given message and cause.
func NewObjectError(msg string, cause error) *ObjectError {
	return &ObjectError{Message: msg, Err: cause}
}

func (e *ObjectError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

// ApplicationError stands in for an error whose kind is not registered on
// the receiving side.
type ApplicationError struct {
	Kind    string
	Message string
}

func (e *ApplicationError) Error() string {
	return e.Message
}

// PanicError reports a method that panicked instead of returning.
type PanicError struct {
	Value string `json:"value"`
}

func (e *PanicError) Error() string {
	return "panic: " + e.Value
}

// wrappedError carries a remote message for an error that was annotated
// around a registered sentinel.
type wrappedError struct {
	msg   string
	cause error
}

func (e *wrappedError) Error() string { return e.msg }
func (e *wrappedError) Unwrap() error { return e.cause }
