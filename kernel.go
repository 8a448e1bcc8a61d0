package dispatch

import (
	"errors"
	"fmt"
	"slices"

	"github.com/gogpu/dispatch/backend"
	"github.com/gogpu/dispatch/internal/arena"
)

// KernelState is the lifecycle state of a kernel.
type KernelState int

const (
	// KernelCreated is a kernel with no buffers bound yet.
	KernelCreated KernelState = iota
	// KernelConfigured is a kernel that has been bound or has finished a
	// dispatch.
	KernelConfigured
	// KernelDispatched is a kernel with at least one dispatch in flight.
	KernelDispatched
)

func (s KernelState) String() string {
	switch s {
	case KernelCreated:
		return "Created"
	case KernelConfigured:
		return "Configured"
	case KernelDispatched:
		return "Dispatched"
	default:
		return fmt.Sprintf("KernelState(%d)", int(s))
	}
}

// Kernel bundles a pipeline, its queue and the ordered list of buffers
// bound to its arguments. Kernels live in the registry and are handled by
// pointer only.
type Kernel struct {
	_ noCopy

	Handle   KernelHandle
	Pipeline *Pipeline
	Device   backend.Device
	Queue    backend.Queue

	reg *KernelRegistry

	// Guarded by the registry lock.
	bound    []*Buffer
	elemSize int
	state    KernelState
	pending  int
}

// BoundBuffers returns a copy of the bound buffers in bind order.
func (k *Kernel) BoundBuffers() []*Buffer {
	var out []*Buffer
	_ = k.reg.arena.View(int(k.Handle), func(*Kernel) error {
		out = slices.Clone(k.bound)
		return nil
	})
	return out
}

// State returns the kernel's lifecycle state.
func (k *Kernel) State() KernelState {
	var st KernelState
	_ = k.reg.arena.View(int(k.Handle), func(*Kernel) error {
		st = k.state
		return nil
	})
	return st
}

// ElementSize returns the byte size of one element used to size dispatches.
func (k *Kernel) ElementSize() int { return k.elemSize }

// KernelRegistry issues kernel handles. Binding a buffer mutates the kernel
// under the same lock that serializes registration.
type KernelRegistry struct {
	s     *Session
	arena *arena.Arena[*Kernel]
}

func newKernelRegistry(s *Session) *KernelRegistry {
	return &KernelRegistry{s: s, arena: arena.New[*Kernel](8)}
}

// Create builds a kernel for the pipeline at p with no buffers bound.
func (r *KernelRegistry) Create(p PipelineHandle, opts ...KernelOption) (KernelHandle, error) {
	if err := r.s.acquire(); err != nil {
		return InvalidHandle, err
	}
	defer r.s.release()

	pipe, err := r.s.pipelines.Resolve(p)
	if err != nil {
		return InvalidHandle, err
	}
	o := kernelOptions{elemSize: DefaultElementSize}
	for _, opt := range opts {
		opt(&o)
	}

	h, _ := r.arena.InsertFunc(func(h int) (*Kernel, error) {
		return &Kernel{
			Handle:   KernelHandle(h),
			Pipeline: pipe,
			Device:   r.s.dev,
			Queue:    pipe.Queue(),
			reg:      r,
			elemSize: o.elemSize,
		}, nil
	})
	r.s.logger().Debug("dispatch: kernel created", "handle", h, "pipeline", p, "element_size", o.elemSize)
	return KernelHandle(h), nil
}

// Resolve returns the kernel registered at h.
func (r *KernelRegistry) Resolve(h KernelHandle) (*Kernel, error) {
	k, err := r.arena.Get(int(h))
	if err != nil {
		return nil, invalidHandle("kernel", err)
	}
	return k, nil
}

// BindBuffer appends the buffer at b to the arguments of the kernel at k.
// The n-th call binds argument slot n-1. Binding the same buffer twice is
// allowed and occupies two slots.
func (r *KernelRegistry) BindBuffer(k KernelHandle, b BufferHandle) error {
	if err := r.s.acquire(); err != nil {
		return err
	}
	defer r.s.release()

	buf, err := r.s.buffers.Resolve(b)
	if err != nil {
		return err
	}
	err = r.arena.Update(int(k), func(kp **Kernel) error {
		kern := *kp
		kern.bound = append(kern.bound, buf)
		if kern.state == KernelCreated {
			kern.state = KernelConfigured
		}
		return nil
	})
	if err != nil {
		return invalidHandle("kernel", err)
	}
	r.s.logger().Debug("dispatch: buffer bound", "kernel", k, "buffer", b)
	return nil
}

// Len returns the number of handles issued.
func (r *KernelRegistry) Len() int { return r.arena.Len() }

// snapshot is what a dispatch needs from a kernel, taken under the
// registry lock.
type snapshot struct {
	kernel   *Kernel
	args     []*Buffer
	elemSize int
}

// begin validates the kernel at h for dispatch and marks it Dispatched.
func (r *KernelRegistry) begin(h KernelHandle) (snapshot, error) {
	var snap snapshot
	err := r.arena.Update(int(h), func(kp **Kernel) error {
		k := *kp
		if want := k.Pipeline.NumArgs(); len(k.bound) != want {
			return fmt.Errorf("%w: kernel %d binds %d buffers, %q declares %d arguments",
				ErrInvalidArgument, h, len(k.bound), k.Pipeline.EntryPoint, want)
		}
		snap = snapshot{kernel: k, args: slices.Clone(k.bound), elemSize: k.elemSize}
		k.state = KernelDispatched
		k.pending++
		return nil
	})
	if err != nil && !errors.Is(err, ErrInvalidArgument) {
		return snap, invalidHandle("kernel", err)
	}
	return snap, err
}

// finish records the end of one dispatch of the kernel at h. The kernel
// returns to Configured once nothing is in flight.
func (r *KernelRegistry) finish(h KernelHandle) {
	_ = r.arena.Update(int(h), func(kp **Kernel) error {
		k := *kp
		if k.pending > 0 {
			k.pending--
		}
		if k.pending == 0 {
			k.state = KernelConfigured
		}
		return nil
	})
}
