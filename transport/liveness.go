package transport

import (
	"sync"
	"sync/atomic"
	"time"
)

// livenessMonitor closes connections that stay silent for longer than the idle
// window. Traffic only stamps a timestamp; the timer compares it when it fires
// and re-arms for the remaining time, so busy connections never reset a timer.
type livenessMonitor struct {
	window       time.Duration
	lastActivity atomic.Int64 // UnixNano
	onIdle       func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func newLivenessMonitor(window time.Duration, onIdle func()) *livenessMonitor {
	m := &livenessMonitor{window: window, onIdle: onIdle}
	m.touch()
	m.mu.Lock()
	m.timer = time.AfterFunc(window, m.check)
	m.mu.Unlock()
	return m
}

// touch records traffic in either direction.
func (m *livenessMonitor) touch() {
	m.lastActivity.Store(time.Now().UnixNano())
}

// idle returns the time since the last traffic.
func (m *livenessMonitor) idle() time.Duration {
	return time.Since(time.Unix(0, m.lastActivity.Load()))
}

func (m *livenessMonitor) check() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	if remaining := m.window - m.idle(); remaining > 0 {
		m.timer.Reset(remaining)
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()
	m.onIdle()
}

// stop disarms the timer. onIdle is not called after stop returns.
func (m *livenessMonitor) stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	m.timer.Stop()
}
