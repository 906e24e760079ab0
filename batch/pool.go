package batch

import (
	"context"
	"errors"
	"sync"

	"flatbatch/convert"
	"flatbatch/matcher"
)

// ErrClosed is returned by dispatches on a closed orchestrator.
var ErrClosed = errors.New("orchestrator is closed")

type job struct {
	ctx    context.Context
	runner *convert.Runner
	pair   matcher.Pair
	index  int
	done   chan<- indexedResult
}

type indexedResult struct {
	index  int
	result convert.Result
}

// pool is a fixed set of workers fed through one channel. It lives as
// long as its orchestrator and is shared by every dispatch.
type pool struct {
	size int
	jobs chan job
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func newPool(size int) *pool {
	if size < 1 {
		size = 1
	}
	p := &pool{size: size, jobs: make(chan job, size)}
	for range size {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for j := range p.jobs {
				j.done <- indexedResult{index: j.index, result: j.runner.Convert(j.ctx, j.pair)}
			}
		}()
	}
	return p
}

// submit queues j, blocking while every worker is busy. It fails when
// ctx ends first or the pool is closed.
func (p *pool) submit(ctx context.Context, j job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.jobs <- j:
		return nil
	}
}

func (p *pool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}
