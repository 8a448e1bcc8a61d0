package wgpu

import (
	"context"
	"fmt"
	"sync"

	"github.com/gogpu/wgpu"

	"github.com/gogpu/dispatch/backend"
)

// defaultMaxWorkgroups is the WebGPU default for
// maxComputeWorkgroupsPerDimension, used when the device reports none.
const defaultMaxWorkgroups = 65535

const queueDepth = 16

type job struct {
	pass *backend.ComputePass
	bufs []*buffer
	done *backend.Completion
}

// queue orders the passes of one pipeline. Passes run on a worker
// goroutine in submission order; the shared native queue is guarded by
// Device.submitMu.
type queue struct {
	p *pipeline

	mu     sync.Mutex
	closed bool
	jobs   chan *job

	stopped chan struct{}
}

func newQueue(p *pipeline) *queue {
	q := &queue{
		p:       p,
		jobs:    make(chan *job, queueDepth),
		stopped: make(chan struct{}),
	}
	go q.loop()
	return q
}

// Submit validates pass and enqueues it.
func (q *queue) Submit(pass *backend.ComputePass) (*backend.Completion, error) {
	if pass.Pipeline != backend.Pipeline(q.p) {
		return nil, fmt.Errorf("wgpu: pass pipeline does not belong to this queue")
	}
	if len(pass.Args) != q.p.NumArgs() {
		return nil, fmt.Errorf("wgpu: %q declares %d arguments, pass binds %d",
			q.p.EntryPoint(), q.p.NumArgs(), len(pass.Args))
	}
	if err := checkGrid(pass, q.p.dev.limits.MaxComputeWorkgroupsPerDimension); err != nil {
		return nil, err
	}

	bufs := make([]*buffer, len(pass.Args))
	for i, a := range pass.Args {
		b, ok := a.(*buffer)
		if !ok || b.dev != q.p.dev {
			return nil, fmt.Errorf("wgpu: argument %d is not a buffer of this device", i)
		}
		bufs[i] = b
	}

	j := &job{pass: pass, bufs: bufs, done: backend.NewCompletion()}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, backend.ErrReleased
	}
	q.jobs <- j
	return j.done, nil
}

// checkGrid fails when pass needs more than limit workgroups along x.
func checkGrid(pass *backend.ComputePass, limit uint32) error {
	if limit == 0 {
		limit = defaultMaxWorkgroups
	}
	grid := pass.Workgroups()
	if grid[0] <= limit {
		return nil
	}
	width := pass.Pipeline.Workgroup()[0]
	return fmt.Errorf("wgpu: %q: %d elements need %d workgroups, at most %d (%d elements): %w",
		pass.Pipeline.EntryPoint(), pass.Elements, grid[0], limit, uint64(limit)*uint64(width), backend.ErrGridTooLarge)
}

func (q *queue) loop() {
	defer close(q.stopped)
	for j := range q.jobs {
		j.done.Complete(q.run(j))
	}
}

// run uploads the bound buffers, encodes and submits the pass, waits for
// it and copies writable arguments back into their shadows.
func (q *queue) run(j *job) error {
	p := q.p
	d := p.dev

	d.submitMu.Lock()
	defer d.submitMu.Unlock()

	// A buffer may be bound to more than one slot; lock and upload it once.
	unique := make([]*buffer, 0, len(j.bufs))
	seen := make(map[*buffer]bool, len(j.bufs))
	for _, b := range j.bufs {
		if !seen[b] {
			seen[b] = true
			unique = append(unique, b)
		}
	}
	for _, b := range unique {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.released {
			return fmt.Errorf("wgpu: %q: %w", p.EntryPoint(), backend.ErrReleased)
		}
	}

	for _, b := range unique {
		if err := b.upload(d.queue); err != nil {
			return err
		}
	}

	entries := make([]wgpu.BindGroupEntry, len(j.bufs))
	for i, b := range j.bufs {
		entries[i] = wgpu.BindGroupEntry{
			Binding: uint32(i), //nolint:gosec // slot is a small index
			Buffer:  b.native,
			Size:    b.alignedSize(),
		}
	}
	bg, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   d.cfg.label(p.EntryPoint() + "_bind"),
		Layout:  p.bgl,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("wgpu: bind group: %w", deviceLost(err))
	}
	defer bg.Release()

	encoder, err := d.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{
		Label: d.cfg.label(p.EntryPoint() + "_encoder"),
	})
	if err != nil {
		return fmt.Errorf("wgpu: command encoder: %w", deviceLost(err))
	}

	pass, err := encoder.BeginComputePass(&wgpu.ComputePassDescriptor{
		Label: d.cfg.label(p.EntryPoint() + "_pass"),
	})
	if err != nil {
		encoder.DiscardEncoding()
		return fmt.Errorf("wgpu: begin compute pass: %w", deviceLost(err))
	}
	grid := j.pass.Workgroups()
	pass.SetPipeline(p.compute)
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch(grid[0], grid[1], grid[2])
	if err := pass.End(); err != nil {
		encoder.DiscardEncoding()
		return fmt.Errorf("wgpu: end compute pass: %w", deviceLost(err))
	}

	var readback []*buffer
	copied := make(map[*buffer]bool, len(j.bufs))
	for i, b := range j.bufs {
		if !p.writable(i) || copied[b] {
			continue
		}
		copied[b] = true
		staging, err := b.stagingBuffer()
		if err != nil {
			encoder.DiscardEncoding()
			return err
		}
		encoder.CopyBufferToBuffer(b.native, 0, staging, 0, b.alignedSize())
		readback = append(readback, b)
	}

	cmd, err := encoder.Finish()
	if err != nil {
		return fmt.Errorf("wgpu: finish: %w", deviceLost(err))
	}
	defer d.device.FreeCommandBuffer(cmd)

	if _, err := d.queue.Submit(cmd); err != nil {
		return fmt.Errorf("wgpu: submit: %w", deviceLost(err))
	}
	d.device.Poll(wgpu.PollWait)

	slogger().Debug("wgpu: pass complete",
		"entry", p.EntryPoint(), "elements", j.pass.Elements, "workgroups", grid, "readback", len(readback))

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.mapTimeout())
	defer cancel()
	for _, b := range readback {
		if err := b.readback(ctx); err != nil {
			return err
		}
	}
	return nil
}

// close stops accepting passes, waits for queued ones and stops the worker.
func (q *queue) close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()
	<-q.stopped
}
