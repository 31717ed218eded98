package worker

import (
	"context"
	"sync"
	"sync/atomic"
)

type ProcessFunc[J any] func(ctx context.Context, job J) error

// Stats counts jobs handled by a pool. Failed jobs are included in Processed.
type Stats struct {
	Processed int64
	Failed    int64
}

// Pool runs a ProcessFunc over typed jobs on a fixed number of goroutines.
// A failing job does not stop the others; Stop reports the first error.
type Pool[J any] struct {
	size  int
	queue chan J
	fn    ProcessFunc[J]
	wg    sync.WaitGroup

	processed atomic.Int64
	failed    atomic.Int64

	errOnce  sync.Once
	firstErr error
}

func NewPool[J any](size, buffer int, fn ProcessFunc[J]) *Pool[J] {
	return &Pool[J]{
		size:  max(size, 1),
		queue: make(chan J, max(buffer, 0)),
		fn:    fn,
	}
}

func (p *Pool[J]) Start(ctx context.Context) {
	p.wg.Add(p.size)
	for range p.size {
		go p.loop(ctx)
	}
}

func (p *Pool[J]) loop(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.queue:
			if !ok {
				return
			}
			p.handle(ctx, job)
		}
	}
}

func (p *Pool[J]) handle(ctx context.Context, job J) {
	err := p.fn(ctx, job)
	p.processed.Add(1)
	if err == nil {
		return
	}
	p.failed.Add(1)
	p.errOnce.Do(func() { p.firstErr = err })
}

// Submit queues a job, blocking while the buffer is full. It returns ctx's
// error if ctx ends first.
func (p *Pool[J]) Submit(ctx context.Context, job J) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.queue <- job:
		return nil
	}
}

// Stop closes the queue, waits for the workers and returns the first
// processing error.
func (p *Pool[J]) Stop() error {
	close(p.queue)
	p.wg.Wait()
	return p.firstErr
}

func (p *Pool[J]) Stats() Stats {
	return Stats{Processed: p.processed.Load(), Failed: p.failed.Load()}
}

// Run feeds jobs through a pool of the given size and waits for it to drain.
// A cancelled ctx stops submission and is returned in place of processing
// errors.
func Run[J any](ctx context.Context, size, buffer int, jobs []J, fn ProcessFunc[J]) (Stats, error) {
	p := NewPool(size, buffer, fn)
	p.Start(ctx)

	for _, job := range jobs {
		if err := p.Submit(ctx, job); err != nil {
			p.Stop()
			return p.Stats(), err
		}
	}
	err := p.Stop()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return p.Stats(), ctxErr
	}
	return p.Stats(), err
}
