// Package codec serializes the body of Request and Response frames.
//
// The protocol header carries a codec type byte, so each request picks its body
// format and the server answers with the same one.
package codec

import (
	"errors"
	"fmt"
)

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

// ErrUnsupportedValue is returned when a codec is asked to handle anything other
// than *message.Request or *message.Response.
var ErrUnsupportedValue = errors.New("codec: value must be *message.Request or *message.Response")

// ErrCorrupt is returned when a body cannot be decoded.
var ErrCorrupt = errors.New("codec: corrupt body")

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=Binary
}

var (
	jsonCodec   = &JSONCodec{}
	binaryCodec = &BinaryCodec{}
)

// Valid reports whether t names a known codec.
func (t CodecType) Valid() bool {
	return t == CodecTypeJSON || t == CodecTypeBinary
}

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeBinary:
		return "binary"
	default:
		return fmt.Sprintf("codec(%d)", byte(t))
	}
}

// GetCodec returns the codec for the given type, defaulting to binary.
func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return jsonCodec
	}

	return binaryCodec
}

// ParseCodecType maps a configuration name ("json", "binary") to a codec type.
func ParseCodecType(name string) (CodecType, error) {
	switch name {
	case "json":
		return CodecTypeJSON, nil
	case "binary":
		return CodecTypeBinary, nil
	default:
		return 0, fmt.Errorf("invalid codec %q (expected json or binary)", name)
	}
}
