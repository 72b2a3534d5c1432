package protocol

import (
	"errors"
	"io"
	"iter"

	"jrpc/message"
)

// Decoder reads frames from a byte stream, one at a time. It uses io.ReadFull
// to guarantee whole headers and bodies, so it must be the only reader of r.
// A decoder is bound to one stream and must not be reused for another.
type Decoder struct {
	r            io.Reader
	maxFrameSize int
	header       [HeaderSize]byte
	err          error
}

// NewDecoder creates a decoder enforcing maxFrameSize (<= 0 disables the check).
func NewDecoder(r io.Reader, maxFrameSize int) *Decoder {
	return &Decoder{r: r, maxFrameSize: maxFrameSize}
}

// Next reads the next frame. After the first error every call returns it again.
func (d *Decoder) Next() (Header, message.Frame, error) {
	if d.err != nil {
		return Header{}, nil, d.err
	}
	h, f, err := d.next()
	if err != nil {
		d.err = err
	}
	return h, f, err
}

func (d *Decoder) next() (Header, message.Frame, error) {
	// Step 1: Read the prefix: magic, version, kind
	if _, err := io.ReadFull(d.r, d.header[:PrefixSize]); err != nil {
		return Header{}, nil, err
	}
	kind, err := parsePrefix(d.header[:PrefixSize])
	if err != nil {
		return Header{}, nil, err
	}
	if kind == message.KindHeartbeat {
		return Header{Kind: kind}, message.Heartbeat{}, nil
	}

	// Step 2: Read codec, id and body length, reject oversized bodies before reading them
	if _, err := io.ReadFull(d.r, d.header[PrefixSize:]); err != nil {
		return Header{}, nil, unexpected(err)
	}
	h, err := parseHeader(kind, d.header[PrefixSize:], d.maxFrameSize)
	if err != nil {
		return Header{}, nil, err
	}

	// Step 3: Read exactly BodyLen bytes
	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(d.r, body); err != nil {
		return Header{}, nil, unexpected(err)
	}
	f, err := decodeBody(h, body)
	if err != nil {
		return Header{}, nil, err
	}
	return h, f, nil
}

// Frames returns a lazy sequence of the remaining frames. The sequence ends
// silently on a clean end of stream and yields the error otherwise.
func (d *Decoder) Frames() iter.Seq2[message.Frame, error] {
	return func(yield func(message.Frame, error) bool) {
		for {
			_, f, err := d.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(f, nil) {
				return
			}
		}
	}
}

// unexpected turns an EOF in the middle of a frame into io.ErrUnexpectedEOF.
func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
