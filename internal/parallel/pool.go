// Package parallel runs host kernels across a fixed set of goroutines.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool is a pool of goroutines executing batches of work.
//
// Each worker has its own queue and steals from the others when its queue
// runs dry, so uneven items (for example Mandelbrot rows near the set) do
// not leave workers idle.
//
// Thread safety: Pool is safe for concurrent use. Work items must not call
// back into the pool that runs them.
type Pool struct {
	workers int
	queues  []chan func()
	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewPool creates a pool with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	depth := workers * 4
	if depth < 8 {
		depth = 8
	}

	p := &Pool{
		workers: workers,
		queues:  make([]chan func(), workers),
		done:    make(chan struct{}),
	}
	for i := range workers {
		p.queues[i] = make(chan func(), depth)
	}
	p.running.Store(true)

	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	own := p.queues[id]
	for {
		select {
		case <-p.done:
			return
		case work := <-own:
			work()
			continue
		default:
		}
		if work := p.steal(id); work != nil {
			work()
			continue
		}
		select {
		case <-p.done:
			return
		case work := <-own:
			work()
		}
	}
}

func (p *Pool) steal(id int) func() {
	for i := range p.workers {
		if i == id {
			continue
		}
		select {
		case work := <-p.queues[i]:
			return work
		default:
		}
	}
	return nil
}

// Run executes every item and waits for all of them. Items that cannot be
// queued because the pool is closed run on the calling goroutine.
func (p *Pool) Run(work []func()) {
	if len(work) == 0 {
		return
	}
	var pending sync.WaitGroup
	pending.Add(len(work))
	for i, fn := range work {
		wrapped := func() {
			defer pending.Done()
			fn()
		}
		if !p.running.Load() {
			wrapped()
			continue
		}
		select {
		case p.queues[i%p.workers] <- wrapped:
		case <-p.done:
			wrapped()
		}
	}
	pending.Wait()
}

// Range splits [0, n) into contiguous chunks and calls fn for each chunk
// in parallel, returning when all chunks are done.
func (p *Pool) Range(n int, fn func(lo, hi int)) {
	if n <= 0 {
		return
	}
	chunks := p.workers * 4
	if chunks > n {
		chunks = n
	}
	size := (n + chunks - 1) / chunks
	work := make([]func(), 0, chunks)
	for lo := 0; lo < n; lo += size {
		hi := min(lo+size, n)
		work = append(work, func() { fn(lo, hi) })
	}
	p.Run(work)
}

// Close stops the workers after the queued work drains from the callers
// still inside Run. Close is safe to call multiple times.
func (p *Pool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
	// Anything still queued was never picked up; run it so no Run caller
	// waits forever.
	for _, q := range p.queues {
		for {
			select {
			case work := <-q:
				work()
				continue
			default:
			}
			break
		}
	}
}

// Workers returns the number of workers in the pool.
func (p *Pool) Workers() int {
	return p.workers
}
