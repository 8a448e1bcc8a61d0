// Package host is the CPU reference backend.
//
// Buffers live in ordinary Go memory and compute functions are implemented
// as Go functions (KernelFunc) keyed by entry-point name. Source still goes
// through the WGSL front end, so compile errors and argument reflection
// behave exactly as on the GPU backend; only execution differs.
//
// Each pipeline owns a queue served by one worker goroutine, giving the
// same in-order completion a native command queue provides. Within a pass,
// kernels spread their element range over the device's worker pool one
// workgroup at a time (see Invocation.Range).
//
// The backend registers itself as "host" on import.
package host

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/dispatch/backend"
	"github.com/gogpu/dispatch/internal/parallel"
	"github.com/gogpu/dispatch/internal/shader"
)

// ErrNoKernel is returned when no host implementation is registered for a
// compiled entry point.
var ErrNoKernel = errors.New("host: no kernel registered for entry point")

const defaultQueueDepth = 16

func init() {
	backend.Register(backend.NameHost, func() backend.Backend { return New() })
}

// Option configures a host Backend.
type Option func(*options)

type options struct {
	kernels       map[string]KernelFunc
	queueDepth    int
	maxBufferSize int
	workers       int
}

// WithKernel adds a kernel available only to devices opened by this backend.
func WithKernel(entryPoint string, fn KernelFunc) Option {
	return func(o *options) {
		if o.kernels == nil {
			o.kernels = make(map[string]KernelFunc)
		}
		o.kernels[entryPoint] = fn
	}
}

// WithQueueDepth sets how many passes may be pending on one queue before
// Submit blocks.
func WithQueueDepth(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueDepth = n
		}
	}
}

// WithMaxBufferSize limits the size of a single buffer. Zero means no limit.
func WithMaxBufferSize(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxBufferSize = n
		}
	}
}

// WithWorkers sets the size of each device's worker pool. Zero or negative
// uses GOMAXPROCS; 1 runs every pass on its queue goroutine.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// Backend opens host devices.
type Backend struct {
	opts options
}

// New creates a host backend.
func New(opts ...Option) *Backend {
	o := options{queueDepth: defaultQueueDepth}
	for _, opt := range opts {
		opt(&o)
	}
	return &Backend{opts: o}
}

// Name returns "host".
func (b *Backend) Name() string { return backend.NameHost }

// Open returns a new Device. The set of kernels is fixed at this point:
// the global registrations merged with the backend's own.
func (b *Backend) Open() (backend.Device, error) {
	k := snapshotKernels()
	for name, fn := range b.opts.kernels {
		k[name] = fn
	}
	d := &Device{
		opts:    b.opts,
		kernels: k,
		pool:    parallel.New(b.opts.workers),
	}
	slogger().Debug("host: device opened",
		"kernels", len(k), "queue_depth", b.opts.queueDepth, "workers", d.pool.Workers())
	return d, nil
}

// Device is a host compute device.
type Device struct {
	opts    options
	kernels map[string]KernelFunc
	pool    *parallel.Pool

	mu        sync.Mutex
	closed    bool
	pipelines []*pipeline

	lost        atomic.Bool
	submissions atomic.Uint64
}

var _ backend.Device = (*Device)(nil)

// Info describes the host as a software adapter.
func (d *Device) Info() backend.Info {
	return backend.Info{
		Backend: backend.NameHost,
		Adapter: gpucontext.AdapterInfo{
			Name: fmt.Sprintf("Go %s/%s (%d CPUs)", runtime.GOOS, runtime.GOARCH, runtime.NumCPU()),
			Type: gpucontext.AdapterTypeSoftware,
		},
		MaxBufferSize: uint64(d.opts.maxBufferSize), //nolint:gosec // non-negative by construction
	}
}

// SetLogger sets the logger for the host backend.
func (d *Device) SetLogger(l *slog.Logger) { setLogger(l) }

// NewBuffer allocates size zeroed bytes.
func (d *Device) NewBuffer(size int) (backend.Buffer, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, fmt.Errorf("host: buffer size must be positive, got %d", size)
	}
	if d.opts.maxBufferSize > 0 && size > d.opts.maxBufferSize {
		return nil, fmt.Errorf("host: buffer size %d exceeds limit %d", size, d.opts.maxBufferSize)
	}
	return &buffer{data: make([]byte, size)}, nil
}

// NewPipeline validates source, reflects entryPoint and pairs it with the
// registered host kernel of the same name.
func (d *Device) NewPipeline(source, entryPoint string) (backend.Pipeline, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}

	refl, err := shader.Reflect(source, entryPoint)
	if err != nil {
		var se *shader.Error
		if errors.As(err, &se) {
			return nil, &backend.CompileError{EntryPoint: entryPoint, Diagnostics: se.Diagnostics, Err: err}
		}
		return nil, &backend.CompileError{EntryPoint: entryPoint, Diagnostics: err.Error(), Err: err}
	}

	fn, ok := d.kernels[entryPoint]
	if !ok {
		return nil, &backend.CompileError{
			EntryPoint:  entryPoint,
			Diagnostics: fmt.Sprintf("no host kernel for %q (have %v)", entryPoint, sortedNames(d.kernels)),
			Err:         ErrNoKernel,
		}
	}

	p := &pipeline{refl: refl, fn: fn}
	p.q = newQueue(d, d.opts.queueDepth)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		p.q.close()
		return nil, backend.ErrReleased
	}
	d.pipelines = append(d.pipelines, p)
	d.mu.Unlock()

	slogger().Debug("host: pipeline created",
		"entry", entryPoint, "args", len(refl.Args), "workgroup", refl.Workgroup)
	return p, nil
}

// Close drains every pipeline queue, stops the worker pool and marks the
// device closed.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	pipes := d.pipelines
	d.pipelines = nil
	d.mu.Unlock()

	for _, p := range pipes {
		p.q.close()
	}
	d.pool.Close()
	return nil
}

// Lose simulates removal of the device: passes that have not started yet,
// and all later ones, fail with backend.ErrDeviceLost.
func (d *Device) Lose() { d.lost.Store(true) }

// Submissions returns the number of passes committed to any queue.
func (d *Device) Submissions() uint64 { return d.submissions.Load() }

func (d *Device) usable() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return backend.ErrReleased
	}
	return nil
}

type buffer struct {
	data     []byte
	released atomic.Bool
}

func (b *buffer) Len() int      { return len(b.data) }
func (b *buffer) Bytes() []byte { return b.data }
func (b *buffer) Release()      { b.released.Store(true) }

type pipeline struct {
	refl *shader.Reflection
	fn   KernelFunc
	q    *queue
}

func (p *pipeline) EntryPoint() string   { return p.refl.EntryPoint }
func (p *pipeline) NumArgs() int         { return len(p.refl.Args) }
func (p *pipeline) Workgroup() [3]uint32 { return p.refl.Workgroup }
func (p *pipeline) Queue() backend.Queue { return p.q }
func (p *pipeline) Release()             { p.q.close() }
