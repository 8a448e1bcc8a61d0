package backend

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpucontext"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not
	// registered or could not open a device.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrReleased is returned when operating on a released resource or a
	// closed device.
	ErrReleased = errors.New("backend: resource released")

	// ErrDeviceLost is returned when the native device was removed or reset
	// while work was pending. Backends wrap their own device-lost condition
	// with it so callers can match a single sentinel.
	ErrDeviceLost = errors.New("backend: device lost")

	// ErrGridTooLarge is returned when a pass needs more workgroups along x
	// than the device allows. Grids are one-dimensional.
	ErrGridTooLarge = errors.New("backend: dispatch grid exceeds device limit")
)

// Backend is a native compute API that can open a Device.
//
// Backends must be registered via Register() and are selected via
// Get() or OpenDefault().
type Backend interface {
	// Name returns the backend identifier (e.g., "wgpu", "host").
	Name() string

	// Open selects a compute-capable device and returns it ready for use.
	Open() (Device, error)
}

// Info describes an opened device.
type Info struct {
	// Backend is the name of the backend that opened the device.
	Backend string
	// Adapter is the physical adapter name and type.
	Adapter gpucontext.AdapterInfo
	// API is the native graphics API in use (e.g., "Vulkan"); empty for the
	// host backend.
	API string
	// MaxBufferSize is the largest buffer the device can allocate, or 0 if
	// unbounded.
	MaxBufferSize uint64
}

// String returns a human-readable description of the device.
func (i Info) String() string {
	if i.API == "" {
		return fmt.Sprintf("%s (%s, %s)", i.Adapter.Name, i.Adapter.Type, i.Backend)
	}
	return fmt.Sprintf("%s (%s, %s/%s)", i.Adapter.Name, i.Adapter.Type, i.Backend, i.API)
}

// Device is the native compute device. It creates buffers and compiles
// compute functions into pipelines.
//
// Device methods are safe for concurrent use.
type Device interface {
	// Info reports which adapter backs the device.
	Info() Info

	// NewBuffer allocates size bytes of device memory that is also visible
	// to the host. size must be positive. The contents are zeroed.
	NewBuffer(size int) (Buffer, error)

	// NewPipeline compiles source and builds a compute pipeline for
	// entryPoint. Compilation failures are returned as *CompileError.
	NewPipeline(source, entryPoint string) (Pipeline, error)

	// Close waits for submitted work and releases the device. Objects it
	// created must not be used afterwards.
	Close() error
}

// Buffer is a region of device memory with a host-visible view.
type Buffer interface {
	// Len returns the size of the buffer in bytes.
	Len() int

	// Bytes returns the host-visible contents. The slice stays valid for the
	// lifetime of the buffer; it must not be accessed while a pass that binds
	// the buffer is in flight.
	Bytes() []byte

	// Release frees the native allocation.
	Release()
}

// Pipeline is a compiled compute function plus the command queue that
// executes it.
type Pipeline interface {
	// EntryPoint returns the name of the compiled function.
	EntryPoint() string

	// NumArgs returns the number of buffer argument slots the function
	// declares.
	NumArgs() int

	// Workgroup returns the workgroup size declared by the function.
	Workgroup() [3]uint32

	// Queue returns the command queue dedicated to this pipeline.
	Queue() Queue

	// Release frees the pipeline and its queue.
	Release()
}

// Queue orders compute passes for execution. Passes submitted to the same
// queue complete in submission order.
type Queue interface {
	// Submit encodes pass, commits it and returns without waiting. The
	// returned Completion resolves once the work has finished.
	Submit(pass *ComputePass) (*Completion, error)
}

// ComputePass is one dispatch of a pipeline over a set of bound buffers.
type ComputePass struct {
	// Pipeline is the compute function to run.
	Pipeline Pipeline
	// Args holds the buffer bound to each argument slot; Args[i] is bound
	// at @group(0) @binding(i).
	Args []Buffer
	// Elements is the number of invocations the grid must cover along x.
	Elements int
}

// Workgroups returns the dispatch grid for the pass: enough workgroups
// along x to cover Elements with the pipeline's workgroup width.
func (p *ComputePass) Workgroups() [3]uint32 {
	return Workgroups(p.Elements, p.Pipeline.Workgroup())
}

// Workgroups returns ceil(elements / wg[0]) workgroups along x and one along
// y and z. A non-positive element count still dispatches one workgroup.
func Workgroups(elements int, wg [3]uint32) [3]uint32 {
	width := int(wg[0])
	if width <= 0 {
		width = 1
	}
	if elements <= 0 {
		return [3]uint32{1, 1, 1}
	}
	n := (elements + width - 1) / width
	return [3]uint32{uint32(n), 1, 1} //nolint:gosec // n bounded by buffer length
}

// CompileError reports a compute function that could not be compiled.
// Diagnostics is the compiler output verbatim.
type CompileError struct {
	EntryPoint  string
	Diagnostics string
	Err         error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("backend: compile %q: %s", e.EntryPoint, e.Diagnostics)
}

func (e *CompileError) Unwrap() error { return e.Err }
