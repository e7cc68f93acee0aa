// Package codec serializes envelopes and the values they carry.
//
// Two roles are distinguished. An envelope codec (GetCodec) turns a
// message.InvocationRequest or message.InvocationResponse into a frame body.
// A value codec (ValueCodec) turns individual arguments and results into the
// opaque byte slices stored inside those envelopes.
package codec

import "github.com/juju/errors"

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
	CodecTypeCBOR   CodecType = 2
)

// ErrUnknownCodec is returned by ParseCodecType for names it does not know.
const ErrUnknownCodec = errors.ConstError("unknown codec")

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=Binary, 2=CBOR
}

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeBinary:
		return "binary"
	case CodecTypeCBOR:
		return "cbor"
	}
	return "unknown"
}

// ParseCodecType maps a configuration name to a CodecType. The empty string
// selects JSON.
func ParseCodecType(name string) (CodecType, error) {
	switch name {
	case "", "json":
		return CodecTypeJSON, nil
	case "binary":
		return CodecTypeBinary, nil
	case "cbor":
		return CodecTypeCBOR, nil
	}
	return 0, errors.Annotatef(ErrUnknownCodec, "%q", name)
}

// GetCodec returns the envelope codec for codecType. Unknown types fall back
// to JSON; the frame layer rejects them before they get here.
func GetCodec(codecType CodecType) Codec {
	switch codecType {
	case CodecTypeBinary:
		return &BinaryCodec{}
	case CodecTypeCBOR:
		return cborCodec
	}
	return &JSONCodec{}
}

// ValueCodec returns the codec used for arguments and results inside an
// envelope of the given type. Binary envelopes carry JSON values.
func ValueCodec(codecType CodecType) Codec {
	if codecType == CodecTypeCBOR {
		return cborCodec
	}
	return &JSONCodec{}
}
