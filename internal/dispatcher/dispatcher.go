// Package dispatcher bounds crawl task fan-out with a shared worker pool.
package dispatcher

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// Pool runs crawl tasks on a bounded set of goroutines shared by every site.
// Tasks wait in a FIFO queue fed to the workers by a single goroutine, so a
// deep fan-out costs queue slots rather than parked goroutines.
type Pool struct {
	pool   *ants.Pool
	logger *zap.Logger

	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	fed    chan struct{}
}

// New creates a Pool with size workers. A non-positive size uses the CPU count.
func New(size int, logger *zap.Logger) (*Pool, error) {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := ants.NewPool(size, ants.WithPanicHandler(func(p any) {
		logger.Error("crawl task panicked", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	p := &Pool{
		pool:   pool,
		logger: logger,
		wake:   make(chan struct{}, 1),
		fed:    make(chan struct{}),
	}
	go p.feed()
	return p, nil
}

// Go queues task without blocking the caller. Tasks may schedule further
// tasks. After Release the task runs on its own goroutine.
func (p *Pool) Go(task func()) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		go task()
		return
	}
	p.queue = append(p.queue, task)
	p.mu.Unlock()
	p.signal()
}

func (p *Pool) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pool) feed() {
	defer close(p.fed)
	for {
		task, ok := p.next()
		if !ok {
			return
		}
		if err := p.pool.Submit(task); err != nil {
			p.logger.Warn("worker pool rejected task; running unpooled", zap.Error(err))
			go task()
		}
	}
}

// next blocks until a task is queued. It reports false once the pool is
// released and the queue is empty.
func (p *Pool) next() (func(), bool) {
	for {
		p.mu.Lock()
		if len(p.queue) > 0 {
			task := p.queue[0]
			p.queue[0] = nil
			p.queue = p.queue[1:]
			p.mu.Unlock()
			return task, true
		}
		if p.closed {
			p.mu.Unlock()
			return nil, false
		}
		p.mu.Unlock()
		<-p.wake
	}
}

// Pending reports the number of queued tasks not yet handed to a worker.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Running reports the number of busy workers.
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Cap reports the pool size.
func (p *Pool) Cap() int {
	return p.pool.Cap()
}

// Release stops the pool. Tasks still queued run on their own goroutines.
func (p *Pool) Release() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	pending := p.queue
	p.queue = nil
	p.mu.Unlock()

	p.signal()
	p.pool.Release()
	<-p.fed
	for _, task := range pending {
		go task()
	}
}
