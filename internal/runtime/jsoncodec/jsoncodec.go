// Package jsoncodec is the single JSON implementation used for event
// payloads on both the publish and the consume side.
package jsoncodec

import (
	"bytes"
	"errors"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

// ErrNotObject is returned by UnmarshalObject for valid JSON that is not an object.
var ErrNotObject = errors.New("jsoncodec: payload is not a JSON object")

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// Valid reports whether data is well-formed JSON.
func Valid(data []byte) bool {
	return defaultConfig.Valid(data)
}

// UnmarshalObject decodes data into v, rejecting anything that is not a
// single JSON object (arrays, scalars, null, garbage).
func UnmarshalObject(data []byte, v any) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ErrNotObject
	}
	return defaultConfig.Unmarshal(trimmed, v)
}
