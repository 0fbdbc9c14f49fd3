package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/jonesrussell/north-cloud/blog-crawler/internal/logger"
)

// PoolState represents the current state of the pool.
type PoolState int32

const (
	// PoolStateStopped means the pool is not running.
	PoolStateStopped PoolState = iota

	// PoolStateRunning means the pool is accepting and running tasks.
	PoolStateRunning

	// PoolStateDraining means the pool is shutting down gracefully.
	PoolStateDraining
)

// String returns the string representation of a pool state.
func (s PoolState) String() string {
	switch s {
	case PoolStateStopped:
		return "stopped"
	case PoolStateRunning:
		return "running"
	case PoolStateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

var (
	// ErrPoolNotRunning is returned by Submit before Start or after Stop.
	ErrPoolNotRunning = errors.New("worker pool is not running")
	// ErrQueueFull is returned by Submit when every queue slot is taken.
	ErrQueueFull = errors.New("worker pool queue is full")
)

// Task is one unit of work. ctx is cancelled when the pool stops.
type Task func(ctx context.Context)

// Pool runs tasks on a fixed number of goroutines fed by a bounded queue.
type Pool struct {
	workers int
	queue   chan Task
	log     logger.Logger

	mu     sync.RWMutex
	state  atomic.Int32
	stopCh chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup

	busy      atomic.Int32
	processed atomic.Int64
}

// NewPool creates a stopped pool.
func NewPool(workers, queueSize int, log logger.Logger) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Pool{
		workers: workers,
		queue:   make(chan Task, queueSize),
		log:     log,
	}
}

// State returns the current pool state.
func (p *Pool) State() PoolState {
	return PoolState(p.state.Load())
}

// Busy returns how many workers are running a task.
func (p *Pool) Busy() int {
	return int(p.busy.Load())
}

// Queued returns how many tasks are waiting for a worker.
func (p *Pool) Queued() int {
	return len(p.queue)
}

// Processed returns how many tasks have finished.
func (p *Pool) Processed() int64 {
	return p.processed.Load()
}

// Start launches the workers. Tasks receive a context derived from ctx.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.State() != PoolStateStopped {
		return errors.New("pool is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.stopCh = make(chan struct{})

	for i := range p.workers {
		p.wg.Add(1)
		go p.work(runCtx, i)
	}

	p.state.Store(int32(PoolStateRunning))
	p.log.Info("Worker pool started", logger.Int("workers", p.workers), logger.Int("queue_size", cap(p.queue)))
	return nil
}

// Submit queues t without blocking.
func (p *Pool) Submit(t Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.State() != PoolStateRunning {
		return ErrPoolNotRunning
	}

	select {
	case p.queue <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop cancels the task context, runs whatever is still queued so every
// task observes the cancellation, and waits for the workers or ctx.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.State() != PoolStateRunning {
		p.mu.Unlock()
		return ErrPoolNotRunning
	}
	p.state.Store(int32(PoolStateDraining))
	p.cancel()
	close(p.stopCh)
	p.mu.Unlock()

	p.log.Info("Worker pool draining", logger.Int("queued", p.Queued()), logger.Int("busy", p.Busy()))

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		p.log.Info("Worker pool stopped gracefully")
	case <-ctx.Done():
		p.log.Warn("Worker pool stop timed out")
		err = ctx.Err()
	}

	p.state.Store(int32(PoolStateStopped))
	return err
}

func (p *Pool) work(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case t := <-p.queue:
			p.execute(ctx, id, t)
		case <-p.stopCh:
			for {
				select {
				case t := <-p.queue:
					p.execute(ctx, id, t)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) execute(ctx context.Context, id int, t Task) {
	p.busy.Add(1)
	defer func() {
		p.busy.Add(-1)
		p.processed.Add(1)
		if r := recover(); r != nil {
			p.log.Error("Task panicked", logger.Int("worker", id), logger.Any("panic", r))
		}
	}()
	t(ctx)
}
