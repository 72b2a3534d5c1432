package transport

import (
	"errors"
	"fmt"
	"net"
	"runtime"
	"strings"
	"time"

	"jrpc/protocol"
)

// Defaults applied by Normalize to zero-valued fields.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultIdleMultiplier    = 2
	DefaultSocketBuffer      = 64 << 10
	DefaultBacklog           = 128
	DefaultShutdownTimeout   = 30 * time.Second
	DefaultQueueSize         = 10000
)

var (
	// ErrBindFailure is returned by Bind when the listener cannot be opened.
	ErrBindFailure = errors.New("transport: bind failure")
	// ErrInvalidConfig is returned by Validate.
	ErrInvalidConfig = errors.New("transport: invalid config")
)

// TransportConfig is the immutable transport configuration. Fields left zero
// are filled in by Normalize.
type TransportConfig struct {
	// Address to listen on, "host:port". The port must be explicit, 0 is rejected
	// because the configured address is what gets advertised.
	Address string

	// Event loops multiplexing connection I/O and framing
	WorkerCount int
	// Business goroutines running invocations. 0 runs them on the event loop.
	BusinessCount int
	// Bounded queue in front of the business goroutines
	BusinessQueueSize int

	// Connections without traffic for HeartbeatInterval*IdleMultiplier are closed
	HeartbeatInterval time.Duration
	IdleMultiplier    int

	MaxFrameSize     int
	SocketRecvBuffer int
	SocketSendBuffer int
	// Listen backlog. The reactor uses the kernel default, so this is only validated.
	Backlog int

	// Upper bound for draining connections and running business tasks on Destroy
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a config listening on addr with every other field defaulted.
func DefaultConfig(addr string) TransportConfig {
	c := TransportConfig{Address: addr}
	c.Normalize()
	return c
}

// Normalize fills zero-valued fields with their defaults.
func (c *TransportConfig) Normalize() {
	if c.WorkerCount == 0 {
		c.WorkerCount = runtime.NumCPU()
	}
	if c.BusinessCount > 0 && c.BusinessQueueSize == 0 {
		c.BusinessQueueSize = DefaultQueueSize
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.IdleMultiplier == 0 {
		c.IdleMultiplier = DefaultIdleMultiplier
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = protocol.DefaultMaxFrameSize
	}
	if c.SocketRecvBuffer == 0 {
		c.SocketRecvBuffer = DefaultSocketBuffer
	}
	if c.SocketSendBuffer == 0 {
		c.SocketSendBuffer = DefaultSocketBuffer
	}
	if c.Backlog == 0 {
		c.Backlog = DefaultBacklog
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// Validate checks a normalized config.
func (c *TransportConfig) Validate() error {
	switch {
	case c.Address == "":
		return fmt.Errorf("%w: address is empty", ErrInvalidConfig)
	case wildcardPort(c.Address):
		return fmt.Errorf("%w: address %s needs an explicit port", ErrInvalidConfig, c.Address)
	case c.WorkerCount < 1:
		return fmt.Errorf("%w: worker count %d < 1", ErrInvalidConfig, c.WorkerCount)
	case c.BusinessCount < 0:
		return fmt.Errorf("%w: business count %d < 0", ErrInvalidConfig, c.BusinessCount)
	case c.BusinessQueueSize < 0:
		return fmt.Errorf("%w: business queue size %d < 0", ErrInvalidConfig, c.BusinessQueueSize)
	case c.HeartbeatInterval <= 0:
		return fmt.Errorf("%w: heartbeat interval %s <= 0", ErrInvalidConfig, c.HeartbeatInterval)
	case c.IdleMultiplier < 1:
		return fmt.Errorf("%w: idle multiplier %d < 1", ErrInvalidConfig, c.IdleMultiplier)
	case c.MaxFrameSize <= 0:
		return fmt.Errorf("%w: max frame size %d <= 0", ErrInvalidConfig, c.MaxFrameSize)
	case c.SocketRecvBuffer < 0 || c.SocketSendBuffer < 0:
		return fmt.Errorf("%w: negative socket buffer size", ErrInvalidConfig)
	case c.Backlog < 1:
		return fmt.Errorf("%w: backlog %d < 1", ErrInvalidConfig, c.Backlog)
	case c.ShutdownTimeout <= 0:
		return fmt.Errorf("%w: shutdown timeout %s <= 0", ErrInvalidConfig, c.ShutdownTimeout)
	}
	return nil
}

func wildcardPort(addr string) bool {
	_, port, err := net.SplitHostPort(addr)
	return err == nil && (port == "0" || port == "")
}

// IdleTimeout is the idle window after which a connection is closed.
func (c *TransportConfig) IdleTimeout() time.Duration {
	return c.HeartbeatInterval * time.Duration(c.IdleMultiplier)
}

// String returns a formatted representation of the configuration
func (c TransportConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Transport")
	addField("Address", c.Address)
	addField("Event Loops", fmt.Sprintf("%d", c.WorkerCount))
	addField("Max Frame Size", fmt.Sprintf("%d bytes", c.MaxFrameSize))
	addField("Socket Buffers", fmt.Sprintf("%d / %d bytes", c.SocketRecvBuffer, c.SocketSendBuffer))
	addField("Backlog", fmt.Sprintf("%d", c.Backlog))

	addSection("Dispatch")
	if c.BusinessCount > 0 {
		addField("Business Workers", fmt.Sprintf("%d", c.BusinessCount))
		addField("Queue Size", fmt.Sprintf("%d", c.BusinessQueueSize))
	} else {
		addField("Business Workers", "inline")
	}

	addSection("Liveness")
	addField("Heartbeat Interval", c.HeartbeatInterval.String())
	addField("Idle Timeout", c.IdleTimeout().String())

	addSection("Shutdown")
	addField("Timeout", c.ShutdownTimeout.String())

	return sb.String()
}
