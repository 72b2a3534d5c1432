package transport

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"jrpc/codec"
	"jrpc/dispatch"
	"jrpc/message"
	"jrpc/protocol"

	"go.uber.org/zap"
)

// ErrProtocolViolation reports a well-formed frame that is not allowed here:
// a response sent by a client or a request id that is already in flight.
var ErrProtocolViolation = errors.New("transport: protocol violation")

// ConnectionEvent is what drives a connection: a decoded frame, an expired
// idle window or a fault in the pipeline.
type ConnectionEvent interface {
	connectionEvent()
}

// FrameEvent carries one decoded inbound frame.
type FrameEvent struct {
	Header protocol.Header
	Frame  message.Frame
}

// IdleTimeoutEvent is raised by the liveness monitor.
type IdleTimeoutEvent struct{}

// PipelineErrorEvent is raised by decoding, encoding or writing failures.
type PipelineErrorEvent struct {
	Err error
}

func (FrameEvent) connectionEvent()         {}
func (IdleTimeoutEvent) connectionEvent()   {}
func (PipelineErrorEvent) connectionEvent() {}

// link is the socket side of a connection.
type link interface {
	// write sends buf. Event loop only.
	write(buf []byte) error
	// writeAsync sends buf from any goroutine; done runs on the event loop.
	writeAsync(buf []byte, done func(err error)) error
	// close closes the socket. Safe from any goroutine.
	close() error
	remoteAddr() string
}

var heartbeatFrame = protocol.AppendHeartbeat(nil)

// connection is the per-socket handler. The in-flight set is owned by the
// event loop; responses finished on business goroutines come back to the loop
// through writeAsync callbacks.
type connection struct {
	id           uint64
	link         link
	dispatcher   *dispatch.Dispatcher
	maxFrameSize int
	log          *zap.Logger

	ctx     context.Context // Cancelled when the connection closes
	cancel  context.CancelFunc
	monitor *livenessMonitor

	inflight map[uint32]struct{}
	closed   atomic.Bool

	framesIn  atomic.Uint64
	framesOut atomic.Uint64
	bytesIn   atomic.Uint64
	bytesOut  atomic.Uint64
}

func newConnection(id uint64, l link, d *dispatch.Dispatcher, cfg *TransportConfig, log *zap.Logger) *connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &connection{
		id:           id,
		link:         l,
		dispatcher:   d,
		maxFrameSize: cfg.MaxFrameSize,
		log:          log.With(zap.Uint64("conn", id), zap.String("remote", l.remoteAddr())),
		ctx:          ctx,
		cancel:       cancel,
		inflight:     make(map[uint32]struct{}),
	}
	c.monitor = newLivenessMonitor(cfg.IdleTimeout(), func() {
		c.handle(IdleTimeoutEvent{})
	})
	c.log.Debug("connection opened")
	return c
}

// feed decodes every complete frame at the front of buf and returns the
// number of bytes consumed. Event loop only.
func (c *connection) feed(buf []byte) int {
	if c.closed.Load() {
		return len(buf)
	}
	if len(buf) > 0 {
		c.monitor.touch()
	}
	consumed := 0
	for !c.closed.Load() {
		h, f, n, err := protocol.DecodeFrame(buf[consumed:], c.maxFrameSize)
		if errors.Is(err, protocol.ErrIncomplete) {
			return consumed
		}
		if err != nil {
			c.handle(PipelineErrorEvent{Err: err})
			return len(buf)
		}
		consumed += n
		c.framesIn.Add(1)
		c.bytesIn.Add(uint64(n))
		c.handle(FrameEvent{Header: h, Frame: f})
	}
	return len(buf)
}

// handle applies one event. FrameEvents must come from the event loop; the
// other events only close the connection and may come from any goroutine.
func (c *connection) handle(ev ConnectionEvent) {
	switch ev := ev.(type) {
	case FrameEvent:
		c.onFrame(ev)
	case IdleTimeoutEvent:
		c.log.Debug("closing idle connection")
		c.close()
	case PipelineErrorEvent:
		if c.closed.Load() {
			return
		}
		c.log.Error("connection pipeline failed, closing", zap.Error(ev.Err))
		c.close()
	}
}

func (c *connection) onFrame(ev FrameEvent) {
	switch f := ev.Frame.(type) {
	case message.Heartbeat:
		c.writeFrame(heartbeatFrame)
	case *message.Request:
		if _, ok := c.inflight[f.ID]; ok {
			c.handle(PipelineErrorEvent{Err: fmt.Errorf("%w: request id %d already in flight", ErrProtocolViolation, f.ID)})
			return
		}
		c.inflight[f.ID] = struct{}{}
		ct := ev.Header.CodecType
		resp := c.dispatcher.Dispatch(c.ctx, f, func(resp *message.Response) {
			c.replyAsync(ct, resp)
		})
		if resp != nil {
			c.reply(ct, resp)
		}
	case *message.Response:
		c.handle(PipelineErrorEvent{Err: fmt.Errorf("%w: unexpected response frame %d", ErrProtocolViolation, f.ID)})
	}
}

// reply writes a response produced on the event loop.
func (c *connection) reply(ct codec.CodecType, resp *message.Response) {
	delete(c.inflight, resp.ID)
	buf, err := protocol.AppendFrame(nil, resp, ct, c.maxFrameSize)
	if err != nil {
		c.handle(PipelineErrorEvent{Err: fmt.Errorf("encode response %d: %w", resp.ID, err)})
		return
	}
	c.writeFrame(buf)
}

// replyAsync encodes a response on the calling business goroutine and hands
// the bytes to the event loop.
func (c *connection) replyAsync(ct codec.CodecType, resp *message.Response) {
	if c.closed.Load() {
		return
	}
	buf, err := protocol.AppendFrame(nil, resp, ct, c.maxFrameSize)
	if err != nil {
		c.handle(PipelineErrorEvent{Err: fmt.Errorf("encode response %d: %w", resp.ID, err)})
		return
	}
	id := resp.ID
	err = c.link.writeAsync(buf, func(err error) {
		delete(c.inflight, id)
		if err != nil {
			c.handle(PipelineErrorEvent{Err: fmt.Errorf("write response %d: %w", id, err)})
			return
		}
		c.wrote(len(buf))
	})
	if err != nil {
		c.handle(PipelineErrorEvent{Err: fmt.Errorf("queue response %d: %w", id, err)})
	}
}

func (c *connection) writeFrame(buf []byte) {
	if err := c.link.write(buf); err != nil {
		c.handle(PipelineErrorEvent{Err: fmt.Errorf("write: %w", err)})
		return
	}
	c.wrote(len(buf))
}

func (c *connection) wrote(n int) {
	c.framesOut.Add(1)
	c.bytesOut.Add(uint64(n))
	c.monitor.touch()
}

// close asks the socket to close; onClose runs once it has.
func (c *connection) close() {
	if c.closed.CompareAndSwap(false, true) {
		if err := c.link.close(); err != nil {
			c.log.Debug("close connection", zap.Error(err))
		}
	}
}

// onClose releases the connection after the socket is gone. Event loop only.
func (c *connection) onClose(err error) {
	c.closed.Store(true)
	c.monitor.stop()
	c.cancel()
	fields := []zap.Field{
		zap.Int("abandoned", len(c.inflight)),
		zap.Uint64("frames_in", c.framesIn.Load()),
		zap.Uint64("frames_out", c.framesOut.Load()),
		zap.Uint64("bytes_in", c.bytesIn.Load()),
		zap.Uint64("bytes_out", c.bytesOut.Load()),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	c.log.Debug("connection closed", fields...)
	clear(c.inflight)
}
