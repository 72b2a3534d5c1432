package transport

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLivenessFiresWhenIdle(t *testing.T) {
	var fired atomic.Int32
	start := time.Now()
	m := newLivenessMonitor(50*time.Millisecond, func() { fired.Add(1) })
	defer m.stop()

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load(), "fires once")
}

func TestLivenessTrafficPostpones(t *testing.T) {
	var fired atomic.Int32
	m := newLivenessMonitor(80*time.Millisecond, func() { fired.Add(1) })
	defer m.stop()

	for i := 0; i < 10; i++ {
		time.Sleep(20 * time.Millisecond)
		m.touch()
	}
	assert.Zero(t, fired.Load())

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, m.idle(), 80*time.Millisecond)
}

func TestLivenessStop(t *testing.T) {
	var fired atomic.Int32
	m := newLivenessMonitor(30*time.Millisecond, func() { fired.Add(1) })
	m.stop()

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, fired.Load())
}
