package worker

import (
	"context"
	"log/slog"
	"sync"
)

// Pool runs image processing jobs on a bounded set of goroutines. Jobs are
// image IDs; the work itself is injected so the pool stays free of storage
// and database concerns. A per-image lock keeps two jobs for the same image
// from running concurrently.
type Pool struct {
	run     func(ctx context.Context, imageID int64)
	workers int
	jobs    chan int64

	mu     sync.Mutex
	locks  map[int64]*sync.Mutex
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a pool of n workers. The pool does not start until Start is
// called.
func New(n int, run func(ctx context.Context, imageID int64)) *Pool {
	if n < 1 {
		n = 1
	}
	return &Pool{
		run:     run,
		workers: n,
		jobs:    make(chan int64, n*4),
		locks:   make(map[int64]*sync.Mutex),
	}
}

// Start launches the workers. They drain the queue until Stop is called.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	slog.Info("started thumbnail workers", "count", p.workers)
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-p.jobs:
			if !ok {
				return
			}
			p.process(ctx, id)
		}
	}
}

func (p *Pool) process(ctx context.Context, imageID int64) {
	lock := p.imageLock(imageID)
	lock.Lock()
	defer lock.Unlock()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("worker panic", "image_id", imageID, "panic", r)
		}
	}()

	p.run(ctx, imageID)
}

func (p *Pool) imageLock(imageID int64) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[imageID]
	if !ok {
		l = &sync.Mutex{}
		p.locks[imageID] = l
	}
	return l
}

// Enqueue queues an image for processing. When the queue is full the job is
// dropped and logged rather than blocking the caller; the image stays in
// the processing state for an operator to re-trigger.
func (p *Pool) Enqueue(imageID int64) {
	select {
	case p.jobs <- imageID:
	default:
		slog.Warn("thumbnail queue full, dropping job", "image_id", imageID)
	}
}

// Stop cancels in-flight work and waits for the workers to exit.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}
