// Package store - codec.go encodes cached values.
//
// DESIGN: Values that are not already bytes or strings are stored CBOR-encoded
// with Core Deterministic Encoding (sorted map keys, shortest integers), so the
// same logical value always produces identical bytes. The serialized flag on an
// entry records which path was taken.
package store

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Decoded any-typed maps must be usable as map[string]any by callers.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("store: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v deterministically.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// encodeValue converts a value for storage. Strings and byte slices are stored
// raw; anything else is encoded and flagged as serialized.
func encodeValue(value any) ([]byte, bool, error) {
	switch v := value.(type) {
	case []byte:
		return v, false, nil
	case string:
		return []byte(v), false, nil
	}
	data, err := Marshal(value)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode cache value: %w", err)
	}
	return data, true, nil
}
