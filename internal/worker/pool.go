package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/iconidentify/vidfetch/internal/domain"
)

// ErrShutdownTimeout is returned when workers don't stop within timeout.
var ErrShutdownTimeout = errors.New("worker pool shutdown timed out")

// Job runs one extractor invocation.
type Job func(ctx context.Context) domain.DownloadResult

// AbandonFunc receives the result of a task whose waiter gave up, so the
// artifact it produced can be released.
type AbandonFunc func(domain.DownloadResult)

// Pool runs extraction jobs on a fixed set of goroutines so request
// handlers never block on the engine directly.
type Pool struct {
	workers int
	queue   chan *Task
	logger  *slog.Logger

	active    atomic.Int64
	completed atomic.Int64
	abandoned atomic.Int64

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// Config holds worker pool configuration.
type Config struct {
	Workers   int
	QueueSize int
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Workers   int   `json:"workers"`
	Queued    int   `json:"queued"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Abandoned int64 `json:"abandoned"`
}

// NewPool creates a new worker pool.
func NewPool(cfg Config, logger *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		workers: cfg.Workers,
		queue:   make(chan *Task, cfg.QueueSize),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches all workers.
func (p *Pool) Start() {
	p.logger.Info("starting worker pool", "workers", p.workers)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop stops accepting work and waits for running jobs. Jobs still queued
// are failed so their waiters return.
func (p *Pool) Stop(timeout time.Duration) error {
	p.logger.Info("stopping worker pool")
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		return ErrShutdownTimeout
	}

	for {
		select {
		case t := <-p.queue:
			p.finish(t, domain.Failed(domain.UnexpectedPrefix+domain.ErrPoolStopped.Error()))
		default:
			p.logger.Info("worker pool stopped gracefully")
			return nil
		}
	}
}

// Submit queues fn. It blocks until there is room in the queue, ctx ends or
// the pool stops. onAbandon may be nil.
func (p *Pool) Submit(ctx context.Context, fn Job, onAbandon AbandonFunc) (*Task, error) {
	t := &Task{
		ID:        uuid.New().String(),
		fn:        fn,
		ctx:       context.WithoutCancel(ctx),
		onAbandon: onAbandon,
		done:      make(chan struct{}),
	}

	select {
	case <-p.ctx.Done():
		return nil, domain.ErrPoolStopped
	default:
	}

	select {
	case p.queue <- t:
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.ctx.Done():
		return nil, domain.ErrPoolStopped
	}
}

// Stats returns current pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.workers,
		Queued:    len(p.queue),
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Abandoned: p.abandoned.Load(),
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	logger := p.logger.With("worker_id", id)
	logger.Debug("worker started")

	for {
		select {
		case <-p.ctx.Done():
			logger.Debug("worker stopping")
			return
		case t := <-p.queue:
			p.process(logger, t)
		}
	}
}

func (p *Pool) process(logger *slog.Logger, t *Task) {
	p.active.Add(1)
	defer p.active.Add(-1)

	logger = logger.With("task_id", t.ID)
	start := time.Now()

	result := p.run(logger, t)

	logger.Debug("task finished", "ok", result.OK(), "duration", time.Since(start))
	p.finish(t, result)
}

func (p *Pool) run(logger *slog.Logger, t *Task) (result domain.DownloadResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("task panicked", "panic", r)
			result = domain.Failed(domain.UnexpectedPrefix + fmt.Sprint(r))
		}
	}()
	return t.fn(t.ctx)
}

func (p *Pool) finish(t *Task, result domain.DownloadResult) {
	p.completed.Add(1)
	if t.complete(result) {
		p.abandoned.Add(1)
		p.logger.Info("task abandoned by waiter, releasing result", "task_id", t.ID, "ok", result.OK())
		if t.onAbandon != nil {
			t.onAbandon(result)
		}
	}
}

// Task is a queued or running job.
type Task struct {
	ID string

	fn        Job
	ctx       context.Context
	onAbandon AbandonFunc
	done      chan struct{}

	mu        sync.Mutex
	result    domain.DownloadResult
	finished  bool
	abandoned bool
}

// Wait blocks until the task finishes or ctx ends. When it returns a nil
// error the caller owns the result. Otherwise the task is abandoned and the
// pool hands the result to the abandon callback once the job completes.
func (t *Task) Wait(ctx context.Context) (domain.DownloadResult, error) {
	select {
	case <-t.done:
		return t.result, nil
	case <-ctx.Done():
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return t.result, nil
	}
	t.abandoned = true
	return domain.DownloadResult{}, ctx.Err()
}

// complete records the result and reports whether the waiter already left.
func (t *Task) complete(result domain.DownloadResult) bool {
	t.mu.Lock()
	t.result = result
	t.finished = true
	abandoned := t.abandoned
	t.mu.Unlock()

	close(t.done)
	return abandoned
}
