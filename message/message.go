// Package message defines the envelopes exchanged between a stub and a service.
//
// Exactly one InvocationRequest travels from stub to service on a connection and
// exactly one InvocationResponse travels back. Both get serialized by the codec
// layer and wrapped in a protocol frame for transmission over TCP.
package message

// InvocationRequest carries a single method call.
type InvocationRequest struct {
	CallID     string   // Correlates log lines on both sides; a fresh uuid per call
	Method     string   // Interface method name, e.g. "CreateTask"
	ParamTypes []string // Ordered type tags of the declared parameters, e.g. ["string", "int"]
	ResultType string   // Type tag of the non-error result, "" for error-only methods
	Args       [][]byte // Each argument encoded with the value codec

	// Codec is the codec type the request arrived with. It is filled in by the
	// receiving channel and never transmitted.
	Codec byte `json:"-" cbor:"-"`
}

// InvocationResponse carries the outcome of a call.
//
//   - Success with a value: Result is set, Error is nil.
//   - Success of an error-only method: both are empty.
//   - Failure: Error is set, Result is empty.
type InvocationResponse struct {
	CallID string
	Result []byte
	Error  *ErrorDescriptor
}

// ErrorDescriptor is the wire form of an error. Kind names an entry of the
// error registry on the receiving side, Payload optionally carries the
// structured error value as JSON.
type ErrorDescriptor struct {
	Kind    string
	Message string
	Payload []byte
}

// Failed reports whether the response carries an error.
func (r *InvocationResponse) Failed() bool {
	return r.Error != nil
}
