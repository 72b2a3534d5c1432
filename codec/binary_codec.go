package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"jrpc/message"
)

// BinaryCodec is a hand-rolled length-prefixed layout, big-endian.
//
// Request body:
//
//	u16 len | service | u16 len | method | u16 argc | argc × (u32 len | arg)
//
// Response body:
//
//	u8 0 | u32 len | result
//	u8 1 | u16 code | u32 len | message
type BinaryCodec struct{}

const (
	responseOK    byte = 0
	responseError byte = 1
)

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	switch m := v.(type) {
	case *message.Request:
		return encodeRequest(m)
	case *message.Response:
		return encodeResponse(m)
	default:
		return nil, ErrUnsupportedValue
	}
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	switch m := v.(type) {
	case *message.Request:
		return decodeRequest(data, m)
	case *message.Response:
		return decodeResponse(data, m)
	default:
		return ErrUnsupportedValue
	}
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

func encodeRequest(req *message.Request) ([]byte, error) {
	if len(req.Service) > math.MaxUint16 || len(req.Method) > math.MaxUint16 || len(req.Args) > math.MaxUint16 {
		return nil, fmt.Errorf("codec: request field exceeds binary limits")
	}
	// Calculate the length of the body
	total := 2 + len(req.Service) + 2 + len(req.Method) + 2
	for _, a := range req.Args {
		total += 4 + len(a)
	}
	buf := make([]byte, 0, total)

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(req.Service)))
	buf = append(buf, req.Service...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(req.Method)))
	buf = append(buf, req.Method...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(req.Args)))
	for _, a := range req.Args {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(a)))
		buf = append(buf, a...)
	}
	return buf, nil
}

func encodeResponse(resp *message.Response) ([]byte, error) {
	if resp.Error != nil {
		msg := resp.Error.Message
		buf := make([]byte, 0, 1+2+4+len(msg))
		buf = append(buf, responseError)
		buf = binary.BigEndian.AppendUint16(buf, uint16(resp.Error.Code))
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(msg)))
		return append(buf, msg...), nil
	}
	if resp.Result == nil {
		return nil, fmt.Errorf("codec: response carries neither result nor error")
	}
	buf := make([]byte, 0, 1+4+len(resp.Result))
	buf = append(buf, responseOK)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(resp.Result)))
	return append(buf, resp.Result...), nil
}

func decodeRequest(data []byte, req *message.Request) error {
	r := reader{data: data}
	req.Service = string(r.bytes(int(r.u16())))
	req.Method = string(r.bytes(int(r.u16())))
	argc := int(r.u16())
	if argc > 0 && r.err == nil {
		req.Args = make([][]byte, 0, argc)
		for i := 0; i < argc && r.err == nil; i++ {
			req.Args = append(req.Args, r.copy(int(r.u32())))
		}
	}
	return r.done()
}

func decodeResponse(data []byte, resp *message.Response) error {
	r := reader{data: data}
	switch r.u8() {
	case responseOK:
		resp.Result = r.copy(int(r.u32()))
	case responseError:
		code := message.Code(r.u16())
		msg := string(r.bytes(int(r.u32())))
		resp.Error = &message.ErrorDescriptor{Code: code, Message: msg}
	default:
		if r.err == nil {
			r.err = fmt.Errorf("%w: unknown response status", ErrCorrupt)
		}
	}
	return r.done()
}

// reader walks a body, remembering the first out-of-bounds access.
type reader struct {
	data   []byte
	offset int
	err    error
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.offset+n > len(r.data) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrCorrupt, n, r.offset, len(r.data))
		return nil
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b
}

func (r *reader) copy(n int) []byte {
	b := r.bytes(n)
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (r *reader) u8() byte {
	if b := r.bytes(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if b := r.bytes(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.bytes(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *reader) done() error {
	if r.err != nil {
		return r.err
	}
	if r.offset != len(r.data) {
		return fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(r.data)-r.offset)
	}
	return nil
}
