package codec

import (
	"encoding/json"
	"fmt"

	"jrpc/message"
)

// JSONCodec uses Go's standard library encoding/json for serialization.
// Pros: human-readable, cross-language, easy to debug.
// Cons: slower due to reflection + string parsing, larger payload (field names repeated).
//
// Argument and result values are carried as base64 strings so that any
// value encoding survives the round trip unchanged.
type JSONCodec struct{}

type jsonRequest struct {
	Service string   `json:"service"`
	Method  string   `json:"method"`
	Args    [][]byte `json:"args"`
}

type jsonResponse struct {
	Result []byte                   `json:"result,omitempty"`
	Error  *message.ErrorDescriptor `json:"error,omitempty"`
}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	switch m := v.(type) {
	case *message.Request:
		return json.Marshal(&jsonRequest{Service: m.Service, Method: m.Method, Args: m.Args})
	case *message.Response:
		return json.Marshal(&jsonResponse{Result: m.Result, Error: m.Error})
	default:
		return nil, ErrUnsupportedValue
	}
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	switch m := v.(type) {
	case *message.Request:
		var w jsonRequest
		if err := json.Unmarshal(data, &w); err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		m.Service, m.Method, m.Args = w.Service, w.Method, w.Args
		return nil
	case *message.Response:
		var w jsonResponse
		if err := json.Unmarshal(data, &w); err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if (w.Error == nil) == (w.Result == nil) {
			return fmt.Errorf("%w: response must carry exactly one of result or error", ErrCorrupt)
		}
		m.Result, m.Error = w.Result, w.Error
		return nil
	default:
		return ErrUnsupportedValue
	}
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
