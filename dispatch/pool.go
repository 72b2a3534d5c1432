package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	ErrPoolFull   = errors.New("business pool queue is full")
	ErrPoolClosed = errors.New("business pool is shut down")
)

// Pool is a fixed set of business workers fed by a bounded queue.
// Submit never blocks; Shutdown cancels whatever is still queued and waits
// for the running tasks.
type Pool struct {
	tasks chan func()
	quit  chan struct{}
	wg    sync.WaitGroup

	mu     sync.RWMutex // Guards closed against Submit
	closed bool

	running atomic.Int64
	log     *zap.Logger
}

// NewPool starts workers goroutines sharing a queue of queueSize tasks.
func NewPool(workers, queueSize int, log *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pool{
		tasks: make(chan func(), queueSize),
		quit:  make(chan struct{}),
		log:   log,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case task := <-p.tasks:
			// Both channels may be ready; queued work is cancelled once quit is closed.
			select {
			case <-p.quit:
				return
			default:
			}
			p.run(task)
		}
	}
}

func (p *Pool) run(task func()) {
	p.running.Add(1)
	defer p.running.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("business task panicked", zap.Any("panic", r))
		}
	}()
	task()
}

// Submit queues task. It fails with ErrPoolFull when the queue is at capacity
// and with ErrPoolClosed after Shutdown.
func (p *Pool) Submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrPoolFull
	}
}

// Shutdown stops accepting tasks, drops the queued ones and waits for the
// running ones until ctx is done.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.quit)
	p.mu.Unlock()

	cancelled := 0
drain:
	for {
		select {
		case <-p.tasks:
			cancelled++
		default:
			break drain
		}
	}
	if cancelled > 0 {
		p.log.Info("cancelled queued business tasks", zap.Int("count", cancelled))
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running returns the number of tasks currently executing.
func (p *Pool) Running() int { return int(p.running.Load()) }

// Queued returns the number of tasks waiting for a worker.
func (p *Pool) Queued() int { return len(p.tasks) }
