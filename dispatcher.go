package dispatch

import (
	"errors"
	"sync/atomic"

	"github.com/gogpu/dispatch/backend"
)

// Dispatcher commits kernels to their queues.
type Dispatcher struct {
	s *Session

	submitted atomic.Uint64
	failed    atomic.Uint64
	inFlight  atomic.Int64
}

func newDispatcher(s *Session) *Dispatcher {
	return &Dispatcher{s: s}
}

// Run dispatches the kernel at h and blocks until the device has finished.
// Buffer contents are valid for host reads once Run returns nil. After an
// *ExecutionError they are undefined.
//
// The grid is one-dimensional. On the wgpu backend the first bound buffer
// may hold at most maxComputeWorkgroupsPerDimension × workgroup width
// elements (65535 × 64 with default limits and @workgroup_size(64)).
// Larger dispatches fail before submission with an *ExecutionError
// wrapping backend.ErrGridTooLarge.
func (d *Dispatcher) Run(h KernelHandle) error {
	c, err := d.Submit(h)
	if err != nil {
		return err
	}
	return c.Wait()
}

// Submit dispatches the kernel at h and returns once the work is committed
// to the kernel's queue. The returned Completion resolves with nil or an
// *ExecutionError; the kernel is back in the Configured state by then.
//
// Dispatches on one kernel, or on kernels sharing a pipeline, complete in
// submission order. The host must not touch the bound buffers until the
// completion resolves.
func (d *Dispatcher) Submit(h KernelHandle) (*backend.Completion, error) {
	if err := d.s.acquire(); err != nil {
		return nil, err
	}
	defer d.s.release()

	snap, err := d.s.kernels.begin(h)
	if err != nil {
		return nil, err
	}
	k := snap.kernel

	args := make([]backend.Buffer, len(snap.args))
	for i, b := range snap.args {
		args[i] = b.native
	}
	elements := 0
	if len(snap.args) > 0 {
		elements = snap.args[0].ByteLength / snap.elemSize
	}
	pass := &backend.ComputePass{
		Pipeline: k.Pipeline.native,
		Args:     args,
		Elements: elements,
	}

	d.s.logger().Debug("dispatch: submit",
		"kernel", h, "entry", k.Pipeline.EntryPoint, "elements", elements, "workgroups", pass.Workgroups())

	d.s.inflight.Add(1)
	native, err := k.Queue.Submit(pass)
	if err != nil {
		d.s.inflight.Done()
		d.s.kernels.finish(h)
		d.failed.Add(1)
		if errors.Is(err, backend.ErrReleased) {
			return nil, nativeError("submit", err)
		}
		return nil, &ExecutionError{Kernel: h, EntryPoint: k.Pipeline.EntryPoint, Err: err}
	}
	d.submitted.Add(1)
	d.inFlight.Add(1)

	done := backend.NewCompletion()
	native.AfterFunc(func(err error) {
		d.s.kernels.finish(h)
		d.inFlight.Add(-1)
		if err != nil {
			d.failed.Add(1)
			d.s.logger().Debug("dispatch: execution failed", "kernel", h, "err", err)
			err = &ExecutionError{Kernel: h, EntryPoint: k.Pipeline.EntryPoint, Err: err}
		}
		done.Complete(err)
		d.s.inflight.Done()
	})
	return done, nil
}
