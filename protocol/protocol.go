// Package protocol implements the binary frame protocol.
//
// Every frame starts with a 5-byte prefix: the magic "jrp", the protocol version
// and the frame kind. A heartbeat is the prefix alone. Requests and responses
// continue with the codec type, the correlation id and the body length, then the
// body itself, so the receiver always knows how many bytes to wait for.
//
// Frame format:
//
//	0      3  4  5  6         10        14
//	┌──────┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │k │ct│   id    │ bodyLen │    body ...    │
//	│ jrp  │01│  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴─────────┴───────────────┘
//	heartbeat: bytes 0..5 only
//
// The declared body length is checked against the configured maximum frame size
// before any body byte is consumed. An oversized frame fails with
// ErrFrameTooLarge and leaves the stream unusable.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"jrpc/codec"
	"jrpc/message"
)

// Magic number bytes: "jrp".
// Used to quickly identify whether the incoming data is a valid frame,
// rejecting non-protocol connections (e.g., HTTP clients hitting the wrong port).
const (
	MagicByte1 byte = 0x6a // 'j'
	MagicByte2 byte = 0x72 // 'r'
	MagicByte3 byte = 0x70 // 'p'
	Version    byte = 0x01

	PrefixSize int = 5  // 3 (magic) + 1 (version) + 1 (kind)
	HeaderSize int = 14 // PrefixSize + 1 (codec) + 4 (id) + 4 (bodyLen)

	// DefaultMaxFrameSize bounds a frame body when no limit is configured.
	DefaultMaxFrameSize = 8 << 20
)

var (
	// ErrFrameTooLarge is returned when a frame body exceeds the maximum frame size.
	ErrFrameTooLarge = errors.New("protocol: frame too large")
	// ErrMalformedFrame is returned for bad magic, version, kind or codec bytes and undecodable bodies.
	ErrMalformedFrame = errors.New("protocol: malformed frame")
	// ErrIncomplete is returned by DecodeFrame when the buffer does not hold a whole frame yet.
	ErrIncomplete = errors.New("protocol: incomplete frame")
)

// Header is the decoded fixed part of a frame. For heartbeats only Kind is set.
type Header struct {
	Kind      message.Kind
	CodecType codec.CodecType // Serialization format of the body
	ID        uint32          // Correlation id, matches request ↔ response
	BodyLen   uint32
}

// AppendHeartbeat appends a heartbeat frame, which is the bare prefix.
func AppendHeartbeat(dst []byte) []byte {
	return append(dst, MagicByte1, MagicByte2, MagicByte3, Version, byte(message.KindHeartbeat))
}

// AppendFrame appends the encoded frame to dst. The body is serialized with the
// codec named by codecType. A body above maxFrameSize fails with ErrFrameTooLarge;
// maxFrameSize <= 0 disables the check.
func AppendFrame(dst []byte, f message.Frame, codecType codec.CodecType, maxFrameSize int) ([]byte, error) {
	var id uint32
	switch m := f.(type) {
	case message.Heartbeat, *message.Heartbeat:
		return AppendHeartbeat(dst), nil
	case *message.Request:
		id = m.ID
	case *message.Response:
		id = m.ID
	default:
		return dst, fmt.Errorf("%w: unknown frame %T", ErrMalformedFrame, f)
	}
	if !codecType.Valid() {
		return dst, fmt.Errorf("%w: unsupported codec type %d", ErrMalformedFrame, codecType)
	}

	body, err := codec.GetCodec(codecType).Encode(f)
	if err != nil {
		return dst, err
	}
	if maxFrameSize > 0 && len(body) > maxFrameSize {
		return dst, fmt.Errorf("%w: body of %d bytes exceeds %d", ErrFrameTooLarge, len(body), maxFrameSize)
	}

	dst = append(dst, MagicByte1, MagicByte2, MagicByte3, Version, byte(f.Kind()), byte(codecType))
	// Correlation id and body length: 4 bytes each, big-endian (network byte order)
	dst = binary.BigEndian.AppendUint32(dst, id)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(body)))
	return append(dst, body...), nil
}

// Encode writes a complete frame to w in a single Write call.
// The caller must serialize writers sharing one connection, otherwise frames
// from different requests interleave and corrupt the stream.
func Encode(w io.Writer, f message.Frame, codecType codec.CodecType, maxFrameSize int) error {
	buf, err := AppendFrame(nil, f, codecType, maxFrameSize)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// DecodeFrame decodes the first frame in buf and returns it with the number of
// bytes it occupies. If buf holds only part of a frame it returns ErrIncomplete
// and the caller retries once more bytes have arrived; nothing is consumed.
func DecodeFrame(buf []byte, maxFrameSize int) (Header, message.Frame, int, error) {
	if len(buf) < PrefixSize {
		return Header{}, nil, 0, ErrIncomplete
	}
	kind, err := parsePrefix(buf[:PrefixSize])
	if err != nil {
		return Header{}, nil, 0, err
	}
	if kind == message.KindHeartbeat {
		return Header{Kind: kind}, message.Heartbeat{}, PrefixSize, nil
	}

	if len(buf) < HeaderSize {
		return Header{}, nil, 0, ErrIncomplete
	}
	h, err := parseHeader(kind, buf[PrefixSize:HeaderSize], maxFrameSize)
	if err != nil {
		return Header{}, nil, 0, err
	}

	total := HeaderSize + int(h.BodyLen)
	if len(buf) < total {
		return Header{}, nil, 0, ErrIncomplete
	}
	f, err := decodeBody(h, buf[HeaderSize:total])
	if err != nil {
		return Header{}, nil, 0, err
	}
	return h, f, total, nil
}

// parsePrefix validates magic and version and returns the frame kind.
func parsePrefix(b []byte) (message.Kind, error) {
	// Validate magic number, reject non-protocol connections
	if b[0] != MagicByte1 || b[1] != MagicByte2 || b[2] != MagicByte3 {
		return 0, fmt.Errorf("%w: invalid magic number: %x", ErrMalformedFrame, b[0:3])
	}
	if b[3] != Version {
		return 0, fmt.Errorf("%w: unsupported version: %d", ErrMalformedFrame, b[3])
	}
	kind := message.Kind(b[4])
	if kind != message.KindRequest && kind != message.KindResponse && kind != message.KindHeartbeat {
		return 0, fmt.Errorf("%w: unsupported frame kind: %d", ErrMalformedFrame, b[4])
	}
	return kind, nil
}

// parseHeader reads codec, id and body length (the 9 bytes following the prefix).
func parseHeader(kind message.Kind, b []byte, maxFrameSize int) (Header, error) {
	ct := codec.CodecType(b[0])
	if !ct.Valid() {
		return Header{}, fmt.Errorf("%w: unsupported codec type: %d", ErrMalformedFrame, b[0])
	}
	h := Header{
		Kind:      kind,
		CodecType: ct,
		ID:        binary.BigEndian.Uint32(b[1:5]),
		BodyLen:   binary.BigEndian.Uint32(b[5:9]),
	}
	if maxFrameSize > 0 && uint64(h.BodyLen) > uint64(maxFrameSize) {
		return Header{}, fmt.Errorf("%w: declared body of %d bytes exceeds %d", ErrFrameTooLarge, h.BodyLen, maxFrameSize)
	}
	return h, nil
}

func decodeBody(h Header, body []byte) (message.Frame, error) {
	c := codec.GetCodec(h.CodecType)
	switch h.Kind {
	case message.KindRequest:
		req := &message.Request{ID: h.ID}
		if err := c.Decode(body, req); err != nil {
			return nil, fmt.Errorf("%w: request %d: %v", ErrMalformedFrame, h.ID, err)
		}
		req.Arrived = time.Now()
		return req, nil
	default:
		resp := &message.Response{ID: h.ID}
		if err := c.Decode(body, resp); err != nil {
			return nil, fmt.Errorf("%w: response %d: %v", ErrMalformedFrame, h.ID, err)
		}
		return resp, nil
	}
}
