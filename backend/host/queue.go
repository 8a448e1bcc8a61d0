package host

import (
	"fmt"
	"sync"

	"github.com/gogpu/dispatch/backend"
)

type job struct {
	p    *pipeline
	inv  *Invocation
	bufs []*buffer
	done *backend.Completion
}

// queue executes passes for one pipeline in submission order on a single
// worker goroutine.
type queue struct {
	dev *Device

	mu     sync.Mutex
	closed bool
	jobs   chan *job

	stopped chan struct{}
}

func newQueue(dev *Device, depth int) *queue {
	q := &queue{
		dev:     dev,
		jobs:    make(chan *job, depth),
		stopped: make(chan struct{}),
	}
	go q.loop()
	return q
}

// Submit validates pass and enqueues it. It blocks only when the queue is
// full.
func (q *queue) Submit(pass *backend.ComputePass) (*backend.Completion, error) {
	p, ok := pass.Pipeline.(*pipeline)
	if !ok || p.q != q {
		return nil, fmt.Errorf("host: pass pipeline does not belong to this queue")
	}

	bufs := make([]*buffer, len(pass.Args))
	args := make([][]byte, len(pass.Args))
	for i, a := range pass.Args {
		b, ok := a.(*buffer)
		if !ok {
			return nil, fmt.Errorf("host: argument %d is a %T, not a host buffer", i, a)
		}
		bufs[i] = b
		args[i] = b.data
	}

	j := &job{
		p: p,
		inv: &Invocation{
			EntryPoint: p.refl.EntryPoint,
			Args:       args,
			Elements:   pass.Elements,
			Workgroup:  p.refl.Workgroup,
			Grid:       pass.Workgroups(),
			pool:       q.dev.pool,
		},
		bufs: bufs,
		done: backend.NewCompletion(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, backend.ErrReleased
	}
	q.jobs <- j
	q.dev.submissions.Add(1)
	return j.done, nil
}

func (q *queue) loop() {
	defer close(q.stopped)
	for j := range q.jobs {
		j.done.Complete(q.run(j))
	}
}

func (q *queue) run(j *job) (err error) {
	if q.dev.lost.Load() {
		return fmt.Errorf("host: %q: %w", j.inv.EntryPoint, backend.ErrDeviceLost)
	}
	for i, b := range j.bufs {
		if b.released.Load() {
			return fmt.Errorf("host: argument %d: %w", i, backend.ErrReleased)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			slogger().Warn("host: kernel panicked", "entry", j.inv.EntryPoint, "panic", r)
			err = fmt.Errorf("host: kernel %q panicked: %v", j.inv.EntryPoint, r)
		}
	}()
	return j.p.fn(j.inv)
}

// close stops accepting passes, waits for queued ones to finish and stops
// the worker. It is safe to call more than once.
func (q *queue) close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()
	<-q.stopped
}
