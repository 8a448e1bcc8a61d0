package dispatch

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/gogpu/dispatch/backend"
	"github.com/gogpu/dispatch/internal/arena"
)

// Buffer is a block of device memory with a host-visible view.
type Buffer struct {
	Handle     BufferHandle
	ByteLength int

	native backend.Buffer
}

// Bytes returns the host-visible contents. Writes before Run are seen by
// the device; results are visible once Run returns. The slice must not be
// touched while a dispatch binding the buffer is in flight.
func (b *Buffer) Bytes() []byte { return b.native.Bytes() }

// Pointer returns the address of the first byte of Bytes.
func (b *Buffer) Pointer() unsafe.Pointer {
	return unsafe.Pointer(unsafe.SliceData(b.native.Bytes()))
}

// BufferRegistry issues buffer handles.
type BufferRegistry struct {
	s     *Session
	arena *arena.Arena[*Buffer]

	// allocated is written only under the arena lock; it is atomic so
	// Stats can read it without taking that lock.
	allocated atomic.Int64
}

func newBufferRegistry(s *Session) *BufferRegistry {
	return &BufferRegistry{s: s, arena: arena.New[*Buffer](16)}
}

// Allocate asks the device for numBytes of zeroed memory, registers it and
// returns its handle together with the host-visible contents.
func (r *BufferRegistry) Allocate(numBytes int) (BufferHandle, []byte, error) {
	if numBytes <= 0 {
		return InvalidHandle, nil, fmt.Errorf("%w: buffer size must be positive, got %d", ErrInvalidArgument, numBytes)
	}
	if err := r.s.acquire(); err != nil {
		return InvalidHandle, nil, err
	}
	defer r.s.release()

	var buf *Buffer
	h, err := r.arena.InsertFunc(func(h int) (*Buffer, error) {
		total := r.allocated.Load() + int64(numBytes)
		if budget := r.s.opts.budget; budget > 0 && total > budget {
			return nil, fmt.Errorf("%w: %d + %d bytes > %d", ErrMemoryBudgetExceeded, r.allocated.Load(), numBytes, budget)
		}
		native, err := r.s.dev.NewBuffer(numBytes)
		if err != nil {
			return nil, nativeError(fmt.Sprintf("allocate %d bytes", numBytes), err)
		}
		r.allocated.Store(total)
		buf = &Buffer{Handle: BufferHandle(h), ByteLength: numBytes, native: native}
		return buf, nil
	})
	if err != nil {
		return InvalidHandle, nil, err
	}
	r.s.logger().Debug("dispatch: buffer allocated", "handle", h, "bytes", numBytes)
	return BufferHandle(h), buf.Bytes(), nil
}

// Resolve returns the buffer registered at h.
func (r *BufferRegistry) Resolve(h BufferHandle) (*Buffer, error) {
	b, err := r.arena.Get(int(h))
	if err != nil {
		return nil, invalidHandle("buffer", err)
	}
	return b, nil
}

// Len returns the number of handles issued.
func (r *BufferRegistry) Len() int { return r.arena.Len() }

// Bytes returns the total number of bytes allocated.
func (r *BufferRegistry) Bytes() int64 { return r.allocated.Load() }

func (r *BufferRegistry) releaseAll() {
	r.arena.Range(func(_ int, b *Buffer) bool {
		b.native.Release()
		return true
	})
}
