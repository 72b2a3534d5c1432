// Package message defines the frames exchanged between an RPC client and the server.
//
// A Frame is one of three kinds:
//
//   - Request:   client → server call, carries a correlation id, the target service, the method and its arguments.
//   - Response:  server → client reply with the same correlation id, carrying a result or an error descriptor.
//   - Heartbeat: keep-alive probe, no id and no payload. Echoed by the server.
//
// Frames are encoded by the protocol package; their bodies by the codec package.
package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind is the frame type discriminator written in front of every frame.
type Kind byte

const (
	KindRequest   Kind = 0
	KindResponse  Kind = 1
	KindHeartbeat Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindHeartbeat:
		return "heartbeat"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// Frame is the tagged union of Request, Response and Heartbeat.
type Frame interface {
	Kind() Kind
}

// Request is a decoded call. It must not be modified after decode.
type Request struct {
	ID      uint32   // Correlation id, unique within the connection's in-flight set
	Service string   // Service address: "Name" or "Name:Version"
	Method  string   // Method name within the service
	Args    [][]byte // Encoded argument values, in order

	// Arrived is stamped by the decoder for diagnostics. Not part of the wire format.
	Arrived time.Time
}

func (*Request) Kind() Kind { return KindRequest }

// Response carries exactly one of Result or Error.
type Response struct {
	ID     uint32
	Result []byte           // Encoded result value, "null" for methods without one
	Error  *ErrorDescriptor // Non-nil if the call failed
}

func (*Response) Kind() Kind { return KindResponse }

// Failed reports whether the response carries an error descriptor.
func (r *Response) Failed() bool { return r.Error != nil }

// Heartbeat is the keep-alive frame. It has no fields.
type Heartbeat struct{}

func (Heartbeat) Kind() Kind { return KindHeartbeat }

// NewResult builds a successful response. A nil result is normalized to JSON null
// so that a successful response always carries a result.
func NewResult(id uint32, result []byte) *Response {
	if result == nil {
		result = []byte("null")
	}
	return &Response{ID: id, Result: result}
}

// NewError builds a failed response.
func NewError(id uint32, code Code, format string, args ...any) *Response {
	return &Response{ID: id, Error: &ErrorDescriptor{Code: code, Message: fmt.Sprintf(format, args...)}}
}

// NewErrorFrom builds a failed response from an error. If err is (or wraps) an
// *ErrorDescriptor, its code is kept, otherwise fallback is used.
func NewErrorFrom(id uint32, fallback Code, err error) *Response {
	return &Response{ID: id, Error: DescriptorOf(err, fallback)}
}

// EncodeValue encodes a single argument or result value.
// Values are opaque to the transport; JSON is the default representation.
func EncodeValue(v any) ([]byte, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

// DecodeValue decodes a value produced by EncodeValue.
func DecodeValue(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// EncodeArgs encodes each argument with EncodeValue.
func EncodeArgs(args ...any) ([][]byte, error) {
	out := make([][]byte, len(args))
	for i, a := range args {
		b, err := EncodeValue(a)
		if err != nil {
			return nil, fmt.Errorf("encode argument %d: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}
