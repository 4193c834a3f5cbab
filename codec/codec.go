// Package codec decodes routing configuration documents.
//
// Documents describe one Go value (the router's Config) and may be written
// in any supported Format. Every codec honours `json` struct tags, so one
// set of tags serves all formats.
package codec

import "fmt"

// Codec encodes/decodes values V to []byte.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// Format names a document encoding.
type Format string

const (
	FormatJSON     Format = "json"
	FormatMsgpack  Format = "msgpack"
	FormatCBOR     Format = "cbor"
	FormatProtobuf Format = "protobuf" // google.protobuf.Struct, binary wire form
)

// For returns the codec for f, limited to maxDecode bytes when > 0.
// The empty format means JSON.
func For[V any](f Format, maxDecode int) (Codec[V], error) {
	var inner Codec[V]
	switch f {
	case "", FormatJSON:
		inner = JSONCodec[V]{}
	case FormatMsgpack:
		inner = Msgpack[V]{}
	case FormatCBOR:
		c, err := NewCBOR[V]()
		if err != nil {
			return nil, err
		}
		inner = c
	case FormatProtobuf:
		inner = StructPB[V]{}
	default:
		return nil, fmt.Errorf("codec: unknown format %q", f)
	}
	if maxDecode <= 0 {
		return inner, nil
	}
	return LimitCodec[V]{Inner: inner, MaxDecode: maxDecode}, nil
}
