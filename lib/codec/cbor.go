// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
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
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Session fields travel as map[string]any. Without this the
		// decoder picks map[interface{}]interface{} for any-typed
		// targets, which nothing downstream can use.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// Sync blobs can be large; the wire layer already bounds the
		// payload, so only nesting depth is limited here.
		MaxNestedLevels: 64,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Valid reports whether data is exactly one well-formed CBOR item.
func Valid(data []byte) error {
	return decMode.Wellformed(data)
}

// RawMessage is an encoded CBOR value whose decoding is deferred.
type RawMessage = cbor.RawMessage
