package durable

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Codec converts the durable part of a payload to and from bytes.
//
// Decode must fully replace the durable part of into (not merge) and may
// leave in-memory-only fields of into untouched. The store relies on this
// to roll a payload back to its last persisted bytes.
type Codec[T any] interface {
	New() T
	Encode(v T) ([]byte, error)
	Decode(data []byte, into T) (T, error)
}

// Resetter is implemented by payloads whose durable fields must be cleared
// before decoding. encoding/json merges into existing maps, so a payload
// holding maps needs it to satisfy the Codec replace contract.
type Resetter interface {
	ResetDurable()
}

// JSONCodec encodes payloads as indented JSON. T must be a pointer type.
type JSONCodec[T any] struct {
	NewFunc func() T
}

// New returns a fresh default payload.
func (c JSONCodec[T]) New() T {
	return c.NewFunc()
}

// Encode marshals v as indented JSON.
func (c JSONCodec[T]) Encode(v T) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("durable: encode: %w", err)
	}
	return data, nil
}

// Decode unmarshals data into into and returns it.
func (c JSONCodec[T]) Decode(data []byte, into T) (T, error) {
	if r, ok := any(into).(Resetter); ok {
		r.ResetDurable()
	}
	if err := json.Unmarshal(data, into); err != nil {
		return into, fmt.Errorf("durable: decode: %w", err)
	}
	return into, nil
}
