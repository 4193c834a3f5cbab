package codec

import (
	"bytes"
	"encoding/json"
	"errors"
)

// JSONCodec rejects unknown fields and trailing data on Decode, so a typo in
// a config document fails the load instead of being ignored.
type JSONCodec[V any] struct{}

func (JSONCodec[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }
func (JSONCodec[V]) Decode(b []byte) (V, error) {
	var v V
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, err
	}
	if dec.More() {
		return v, errors.New("codec: trailing data after JSON document")
	}
	return v, nil
}
