// Package parallel runs index ranges across a fixed set of goroutines.
package parallel

import (
	"runtime"
	"sync"
)

// Pool splits index ranges into chunks and runs them on worker goroutines.
//
// Each worker has its own queue; a worker whose queue is empty steals from
// the others, which balances chunks of uneven cost.
//
// Pool is safe for concurrent use.
type Pool struct {
	workers int
	queues  []chan func()

	done chan struct{}
	wg   sync.WaitGroup

	// mu is held for reading while For enqueues, so Close never closes
	// done with chunks still on their way to a queue.
	mu     sync.RWMutex
	closed bool
}

// New starts a pool with the given number of workers. If workers is 0 or
// negative, GOMAXPROCS is used.
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	queueSize := workers * 4
	if queueSize < 8 {
		queueSize = 8
	}

	p := &Pool{
		workers: workers,
		queues:  make([]chan func(), workers),
		done:    make(chan struct{}),
	}
	for i := range workers {
		p.queues[i] = make(chan func(), queueSize)
	}

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
			drain(own)
			return
		case work := <-own:
			work()
		default:
			if stolen := p.steal(id); stolen != nil {
				stolen()
				continue
			}
			select {
			case <-p.done:
				drain(own)
				return
			case work := <-own:
				work()
			}
		}
	}
}

func drain(q chan func()) {
	for {
		select {
		case work := <-q:
			work()
		default:
			return
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

// For calls fn over [0, n) split into chunks of at most grain indices and
// waits for all of them. Chunk boundaries are multiples of grain. Small
// ranges, and any call on a closed pool, run on the calling goroutine.
// A panic in fn is re-raised on the calling goroutine once every chunk
// has finished.
func (p *Pool) For(n, grain int, fn func(lo, hi int)) {
	if n <= 0 {
		return
	}
	if grain <= 0 {
		grain = 1
	}
	chunks := (n + grain - 1) / grain
	if chunks == 1 || p.workers == 1 {
		fn(0, n)
		return
	}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		fn(0, n)
		return
	}
	var (
		wg    sync.WaitGroup
		once  sync.Once
		fault any
	)
	wg.Add(chunks)
	for c := range chunks {
		lo := c * grain
		hi := min(lo+grain, n)
		p.queues[c%p.workers] <- func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					once.Do(func() { fault = r })
				}
			}()
			fn(lo, hi)
		}
	}
	p.mu.RUnlock()
	wg.Wait()
	if fault != nil {
		panic(fault)
	}
}

// Close stops the workers after the queued chunks have run. It is safe to
// call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()
	p.wg.Wait()
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int { return p.workers }
