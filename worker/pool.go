package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/deepnoodle-ai/plunge/log"
)

// ErrPoolClosed is returned by Submit after Shutdown has been called.
var ErrPoolClosed = errors.New("worker pool is closed")

// Task is a unit of background work.
type Task func(ctx context.Context)

// PoolOptions configures a Pool.
type PoolOptions struct {
	// Workers is the number of goroutines draining the queue (default 4).
	Workers int

	// QueueSize bounds the number of queued tasks (default 64). Submit
	// blocks while the queue is full.
	QueueSize int

	Logger log.Logger
}

// Pool runs submitted tasks on a fixed set of worker goroutines. Chains
// and workflows are driven by exactly one worker at a time; independent
// submissions run in parallel across workers.
type Pool struct {
	tasks   chan Task
	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
	pending sync.WaitGroup
	logger  log.Logger

	mutex  sync.RWMutex
	closed bool
}

// NewPool starts a pool with the given options.
func NewPool(opts PoolOptions) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNullLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		tasks:  make(chan Task, opts.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: opts.Logger,
	}
	for i := 0; i < opts.Workers; i++ {
		p.workers.Add(1)
		go p.run(i)
	}
	return p
}

func (p *Pool) run(id int) {
	defer p.workers.Done()
	for task := range p.tasks {
		p.invoke(id, task)
	}
}

func (p *Pool) invoke(id int, task Task) {
	defer p.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker task panicked",
				"worker", id, "panic", fmt.Sprintf("%v", r))
		}
	}()
	task(p.ctx)
}

// Submit queues a task for execution, blocking while the queue is full.
func (p *Pool) Submit(task Task) error {
	// The read lock is held across the send so Shutdown cannot close the
	// channel underneath a blocked Submit.
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.pending.Add(1)
	p.tasks <- task
	return nil
}

// Wait blocks until every submitted task has finished.
func (p *Pool) Wait() {
	p.pending.Wait()
}

// Shutdown stops intake and waits for queued tasks to drain. A canceled
// ctx abandons the wait and cancels the context passed to running tasks.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		return nil
	}
	p.closed = true
	close(p.tasks)
	p.mutex.Unlock()

	done := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}
