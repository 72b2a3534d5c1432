package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"testing"
	"time"

	"jrpc/codec"
	"jrpc/message"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFrames() []message.Frame {
	return []message.Frame{
		&message.Request{ID: 1, Service: "Echo", Method: "echo", Args: [][]byte{[]byte(`"hi"`)}},
		&message.Request{ID: 2, Service: "Arith:1.0", Method: "Add", Args: [][]byte{[]byte(`1`), []byte(`2`)}},
		message.NewResult(1, []byte(`"hi"`)),
		message.NewError(2, message.CodeBusiness, "boom"),
		message.Heartbeat{},
	}
}

// clearArrival drops the decode timestamp, which is not part of the wire format.
func clearArrival(t *testing.T, f message.Frame) message.Frame {
	if req, ok := f.(*message.Request); ok {
		assert.False(t, req.Arrived.IsZero(), "decoder must stamp the arrival time")
		cp := *req
		cp.Arrived = time.Time{}
		return &cp
	}
	return f
}

func TestRoundTrip(t *testing.T) {
	for _, ct := range []codec.CodecType{codec.CodecTypeJSON, codec.CodecTypeBinary} {
		for _, f := range sampleFrames() {
			buf, err := AppendFrame(nil, f, ct, 1024)
			require.NoError(t, err)

			h, decoded, n, err := DecodeFrame(buf, 1024)
			require.NoError(t, err)
			assert.Equal(t, len(buf), n)
			assert.Equal(t, f.Kind(), h.Kind)
			assert.Equal(t, f, clearArrival(t, decoded), "codec %s", ct)
		}
	}
}

func TestLongErrorMessageRoundTrip(t *testing.T) {
	msg := strings.Repeat("x", 70000)
	for _, ct := range []codec.CodecType{codec.CodecTypeJSON, codec.CodecTypeBinary} {
		buf, err := AppendFrame(nil, message.NewError(9, message.CodeBusiness, "%s", msg), ct, DefaultMaxFrameSize)
		require.NoError(t, err)

		_, decoded, _, err := DecodeFrame(buf, DefaultMaxFrameSize)
		require.NoError(t, err)
		resp, ok := decoded.(*message.Response)
		require.True(t, ok)
		require.True(t, resp.Failed())
		assert.Equal(t, msg, resp.Error.Message, "codec %s", ct)
	}
}

func TestHeartbeatIsPrefixOnly(t *testing.T) {
	buf, err := AppendFrame(nil, message.Heartbeat{}, codec.CodecTypeBinary, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{MagicByte1, MagicByte2, MagicByte3, Version, byte(message.KindHeartbeat)}, buf)
	assert.Equal(t, buf, AppendHeartbeat(nil))
	assert.Equal(t, append([]byte{0xff}, buf...), AppendHeartbeat([]byte{0xff}))
}

func TestDecodeFrameIncomplete(t *testing.T) {
	buf, err := AppendFrame(nil, &message.Request{ID: 9, Service: "Echo", Method: "echo"}, codec.CodecTypeBinary, 0)
	require.NoError(t, err)

	// Every strict prefix is incomplete, never an error and never consumed.
	for i := 0; i < len(buf); i++ {
		_, _, n, err := DecodeFrame(buf[:i], 0)
		assert.ErrorIs(t, err, ErrIncomplete, "prefix of %d bytes", i)
		assert.Zero(t, n)
	}

	// Two frames back to back decode one at a time.
	double := append(append([]byte{}, buf...), buf...)
	_, _, n, err := DecodeFrame(double, 0)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	_, _, n, err = DecodeFrame(double[n:], 0)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
}

func TestFrameTooLarge(t *testing.T) {
	big := &message.Request{ID: 1, Service: "Echo", Method: "echo", Args: [][]byte{bytes.Repeat([]byte("a"), 2048)}}

	// Encoding refuses bodies above the limit.
	_, err := AppendFrame(nil, big, codec.CodecTypeBinary, 1024)
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	// Decoding refuses on the declared length alone, before the body arrives.
	buf, err := AppendFrame(nil, big, codec.CodecTypeBinary, 0)
	require.NoError(t, err)
	_, _, _, err = DecodeFrame(buf[:HeaderSize], 1024)
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	_, _, err = NewDecoder(bytes.NewReader(buf), 1024).Next()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecodeInvalidMagic(t *testing.T) {
	invalid := []byte{0x00, 0x00, 0x00, Version, byte(message.KindRequest), 0, 0, 0, 0x30, 0x39, 0, 0, 0, 0}
	_, _, _, err := DecodeFrame(invalid, 0)
	require.ErrorIs(t, err, ErrMalformedFrame)
	assert.Contains(t, err.Error(), "invalid magic number")
}

func TestDecodeInvalidVersion(t *testing.T) {
	invalid := []byte{MagicByte1, MagicByte2, MagicByte3, 0xFF, byte(message.KindHeartbeat)}
	_, _, err := NewDecoder(bytes.NewReader(invalid), 0).Next()
	require.ErrorIs(t, err, ErrMalformedFrame)
	assert.Contains(t, err.Error(), "unsupported version")
}

func TestDecodeInvalidCodec(t *testing.T) {
	frame := []byte{MagicByte1, MagicByte2, MagicByte3, Version, byte(message.KindRequest), 0x7F}
	frame = binary.BigEndian.AppendUint32(frame, 1)
	frame = binary.BigEndian.AppendUint32(frame, 0)
	_, _, _, err := DecodeFrame(frame, 0)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecoderFrames(t *testing.T) {
	var buf bytes.Buffer
	frames := sampleFrames()
	for _, f := range frames {
		require.NoError(t, Encode(&buf, f, codec.CodecTypeJSON, 0))
	}

	var got []message.Frame
	for f, err := range NewDecoder(&buf, 0).Frames() {
		require.NoError(t, err)
		got = append(got, clearArrival(t, f))
	}
	assert.Equal(t, frames, got)
}

func TestDecoderTruncatedBody(t *testing.T) {
	buf, err := AppendFrame(nil, message.NewResult(3, []byte(`"x"`)), codec.CodecTypeBinary, 0)
	require.NoError(t, err)

	var lastErr error
	for _, err := range NewDecoder(bytes.NewReader(buf[:len(buf)-1]), 0).Frames() {
		lastErr = err
	}
	assert.ErrorIs(t, lastErr, io.ErrUnexpectedEOF)
}

func TestDecodeLargeBody(t *testing.T) {
	largeArg := make([]byte, 1024*1024)
	for i := range largeArg {
		largeArg[i] = byte(i % 256)
	}
	req := &message.Request{ID: 999, Service: "Blob", Method: "put", Args: [][]byte{largeArg}}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, req, codec.CodecTypeBinary, DefaultMaxFrameSize))

	_, f, err := NewDecoder(&buf, DefaultMaxFrameSize).Next()
	require.NoError(t, err)
	assert.Equal(t, largeArg, f.(*message.Request).Args[0])
}
