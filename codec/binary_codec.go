package codec

import (
	"encoding/binary"

	"github.com/juju/errors"

	"remoteobj/message"
)

// ErrTruncated is returned when a binary body ends before its declared fields.
const ErrTruncated = errors.ConstError("binary codec: truncated data")

// BinaryCodec lays envelopes out as length-prefixed fields. Argument and result
// values inside the envelope are already encoded by the value codec and are
// copied through untouched.
//
// Request layout:
//
//	callID(str16) method(str16) nParams(u16) param(str16)... result(str16) nArgs(u16) arg(bytes32)...
//
// Response layout:
//
//	callID(str16) result(bytes32) hasErr(u8) [kind(str16) message(bytes32) payload(bytes32)]
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	var w binWriter
	switch msg := v.(type) {
	case *message.InvocationRequest:
		w.str16(msg.CallID)
		w.str16(msg.Method)
		w.u16(uint16(len(msg.ParamTypes)))
		for _, p := range msg.ParamTypes {
			w.str16(p)
		}
		w.str16(msg.ResultType)
		w.u16(uint16(len(msg.Args)))
		for _, a := range msg.Args {
			w.bytes32(a)
		}
	case *message.InvocationResponse:
		w.str16(msg.CallID)
		w.bytes32(msg.Result)
		if msg.Error == nil {
			w.buf = append(w.buf, 0)
			break
		}
		w.buf = append(w.buf, 1)
		w.str16(msg.Error.Kind)
		w.bytes32([]byte(msg.Error.Message))
		w.bytes32(msg.Error.Payload)
	default:
		return nil, errors.Errorf("BinaryCodec: cannot encode %T", v)
	}
	return w.buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	r := binReader{data: data}
	switch msg := v.(type) {
	case *message.InvocationRequest:
		msg.CallID = r.str16()
		msg.Method = r.str16()
		n := int(r.u16())
		msg.ParamTypes = make([]string, 0, min(n, len(data)))
		for i := 0; i < n && r.err == nil; i++ {
			msg.ParamTypes = append(msg.ParamTypes, r.str16())
		}
		msg.ResultType = r.str16()
		n = int(r.u16())
		msg.Args = make([][]byte, 0, min(n, len(data)))
		for i := 0; i < n && r.err == nil; i++ {
			msg.Args = append(msg.Args, r.bytes32())
		}
	case *message.InvocationResponse:
		msg.CallID = r.str16()
		msg.Result = r.bytes32()
		if r.u8() == 1 {
			msg.Error = &message.ErrorDescriptor{
				Kind:    r.str16(),
				Message: string(r.bytes32()),
				Payload: r.bytes32(),
			}
		}
	default:
		return errors.Errorf("BinaryCodec: cannot decode into %T", v)
	}
	if r.err == nil && r.off != len(data) {
		return errors.Errorf("BinaryCodec: %d trailing bytes", len(data)-r.off)
	}
	return r.err
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

type binWriter struct {
	buf []byte
}

func (w *binWriter) u16(n uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, n)
}

func (w *binWriter) str16(s string) {
	w.u16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *binWriter) bytes32(b []byte) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// binReader reads fields in order and latches the first error; every read after
// a failure returns a zero value.
type binReader struct {
	data []byte
	off  int
	err  error
}

func (r *binReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.data)-r.off < n {
		r.err = ErrTruncated
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *binReader) u8() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *binReader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *binReader) str16() string {
	return string(r.take(int(r.u16())))
}

func (r *binReader) bytes32() []byte {
	lb := r.take(4)
	if lb == nil {
		return nil
	}
	n := binary.BigEndian.Uint32(lb)
	b := r.take(int(n))
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
