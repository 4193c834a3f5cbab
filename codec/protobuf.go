package codec

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Protobuf is a Codec for a concrete proto message.
type Protobuf[T proto.Message] struct {
	new func() T // constructor for a concrete message (e.g., func() *structpb.Struct { return &structpb.Struct{} })
}

func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	return Protobuf[T]{new: ctor}
}

func (c Protobuf[T]) Encode(v T) ([]byte, error) {
	return proto.Marshal(v)
}
func (c Protobuf[T]) Decode(b []byte) (T, error) {
	m := c.new()
	err := proto.Unmarshal(b, m)
	return m, err
}

var structCodec = NewProtobuf(func() *structpb.Struct { return &structpb.Struct{} })

// StructPB carries V as a binary google.protobuf.Struct, for config
// pushed by tooling that speaks protobuf. V travels through its JSON form,
// so numbers must fit a float64 exactly.
type StructPB[V any] struct{}

func (StructPB[V]) Encode(v V) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("codec: struct value must be a JSON object: %w", err)
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, err
	}
	return structCodec.Encode(st)
}

func (StructPB[V]) Decode(b []byte) (V, error) {
	var v V
	st, err := structCodec.Decode(b)
	if err != nil {
		return v, err
	}
	raw, err := json.Marshal(st.AsMap())
	if err != nil {
		return v, err
	}
	return JSONCodec[V]{}.Decode(raw)
}
