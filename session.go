package dispatch

import (
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/gogpu/dispatch/backend"
)

// Session is one opened device with its buffer, pipeline and kernel
// registries. All methods are safe for concurrent use.
type Session struct {
	dev  backend.Device
	info backend.Info
	opts options

	buffers    *BufferRegistry
	pipelines  *PipelineRegistry
	kernels    *KernelRegistry
	dispatcher *Dispatcher

	// mu is held for reading by every operation and for writing by Close,
	// so Close never overlaps an operation that is still issuing handles or
	// submitting work.
	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

// Open selects a backend, opens its device and returns a Session with empty
// registries.
func Open(opts ...Option) (*Session, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var (
		dev backend.Device
		err error
	)
	switch {
	case o.backend != nil:
		dev, err = o.backend.Open()
	case o.backendName != "":
		dev, err = backend.Open(o.backendName)
	default:
		dev, err = backend.OpenDefault()
	}
	if err != nil {
		return nil, fmt.Errorf("dispatch: open device: %w", err)
	}
	return newSession(dev, o), nil
}

// NewSession wraps an already opened device. The session takes ownership
// of dev and closes it in Close.
func NewSession(dev backend.Device, opts ...Option) *Session {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return newSession(dev, o)
}

func newSession(dev backend.Device, o options) *Session {
	s := &Session{dev: dev, info: dev.Info(), opts: o}
	s.buffers = newBufferRegistry(s)
	s.pipelines = newPipelineRegistry(s)
	s.kernels = newKernelRegistry(s)
	s.dispatcher = newDispatcher(s)

	propagateLogger(dev, s.logger())
	s.logger().Info("dispatch: device selected", "device", s.info.String())
	return s
}

func (s *Session) logger() *slog.Logger {
	if s.opts.logger != nil {
		return s.opts.logger
	}
	return Logger()
}

// acquire enters an operation. Every successful acquire must be paired
// with release.
func (s *Session) acquire() error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	return nil
}

func (s *Session) release() { s.mu.RUnlock() }

// Device describes the adapter the session runs on.
func (s *Session) Device() backend.Info { return s.info }

// Buffers returns the buffer registry.
func (s *Session) Buffers() *BufferRegistry { return s.buffers }

// Pipelines returns the pipeline registry.
func (s *Session) Pipelines() *PipelineRegistry { return s.pipelines }

// Kernels returns the kernel registry.
func (s *Session) Kernels() *KernelRegistry { return s.kernels }

// Dispatcher returns the session's dispatcher.
func (s *Session) Dispatcher() *Dispatcher { return s.dispatcher }

// AllocateBuffer allocates numBytes of zeroed device memory. It returns the
// buffer handle and the host-visible contents.
func (s *Session) AllocateBuffer(numBytes int) (BufferHandle, []byte, error) {
	return s.buffers.Allocate(numBytes)
}

// CompileKernel compiles source for entryPoint into a new pipeline.
func (s *Session) CompileKernel(source, entryPoint string) (PipelineHandle, error) {
	return s.pipelines.CompileAndRegister(source, entryPoint)
}

// CreateKernel creates a kernel for pipeline p with no buffers bound.
func (s *Session) CreateKernel(p PipelineHandle, opts ...KernelOption) (KernelHandle, error) {
	return s.kernels.Create(p, opts...)
}

// BindBuffer binds buffer b to the next argument slot of kernel k.
func (s *Session) BindBuffer(k KernelHandle, b BufferHandle) error {
	return s.kernels.BindBuffer(k, b)
}

// Run dispatches kernel k and waits for it to finish.
func (s *Session) Run(k KernelHandle) error {
	return s.dispatcher.Run(k)
}

// Submit dispatches kernel k without waiting.
func (s *Session) Submit(k KernelHandle) (*backend.Completion, error) {
	return s.dispatcher.Submit(k)
}

// Bytes returns the host-visible contents of buffer b.
func (s *Session) Bytes(b BufferHandle) ([]byte, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()
	buf, err := s.buffers.Resolve(b)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RawPointer returns the address of the host-visible contents of buffer b.
func (s *Session) RawPointer(b BufferHandle) (unsafe.Pointer, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()
	buf, err := s.buffers.Resolve(b)
	if err != nil {
		return nil, err
	}
	return buf.Pointer(), nil
}

// Close waits for dispatches in flight, releases every pipeline and buffer
// and closes the device. Handles are not reused afterwards; every
// operation fails with ErrClosed. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.inflight.Wait()
	s.pipelines.releaseAll()
	s.buffers.releaseAll()
	if err := s.dev.Close(); err != nil {
		s.logger().Warn("dispatch: close device", "err", err)
		return fmt.Errorf("dispatch: close device: %w", err)
	}
	s.logger().Debug("dispatch: session closed", "stats", s.Stats().String())
	return nil
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
