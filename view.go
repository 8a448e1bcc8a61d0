package dispatch

import (
	"fmt"
	"math"
	"unsafe"
)

// NewBuffer allocates a buffer of n elements of T and returns its handle
// with a typed view of its contents. T must be a fixed-size type without
// pointers, laid out the way the compute function expects (u32, f32,
// vec4<f32> as [4]float32, and so on).
func NewBuffer[T any](s *Session, n int) (BufferHandle, []T, error) {
	size := int(unsafe.Sizeof(*new(T)))
	if size == 0 {
		return InvalidHandle, nil, fmt.Errorf("%w: zero-size element type", ErrInvalidArgument)
	}
	if n <= 0 || n > math.MaxInt/size {
		return InvalidHandle, nil, fmt.Errorf("%w: element count %d", ErrInvalidArgument, n)
	}
	h, b, err := s.AllocateBuffer(n * size)
	if err != nil {
		return InvalidHandle, nil, err
	}
	return h, asSlice[T](b, size), nil
}

// View returns the contents of buffer h as a slice of T. Trailing bytes
// that do not fill a whole element are not part of the view.
func View[T any](s *Session, h BufferHandle) ([]T, error) {
	size := int(unsafe.Sizeof(*new(T)))
	if size == 0 {
		return nil, fmt.Errorf("%w: zero-size element type", ErrInvalidArgument)
	}
	b, err := s.Bytes(h)
	if err != nil {
		return nil, err
	}
	return asSlice[T](b, size), nil
}

func asSlice[T any](b []byte, size int) []T {
	n := len(b) / size
	if n == 0 {
		return []T{}
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), n)
}
