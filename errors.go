package dispatch

import (
	"errors"
	"fmt"

	"github.com/gogpu/dispatch/backend"
)

var (
	// ErrInvalidArgument is returned for malformed requests, such as a
	// non-positive buffer size or a kernel whose bound buffers do not match
	// the function's arguments.
	ErrInvalidArgument = errors.New("dispatch: invalid argument")

	// ErrInvalidHandle is returned for a handle that was never issued by
	// the registry it was passed to.
	ErrInvalidHandle = errors.New("dispatch: invalid handle")

	// ErrClosed is returned by every operation on a closed session.
	ErrClosed = errors.New("dispatch: session closed")

	// ErrMemoryBudgetExceeded is returned when an allocation would take the
	// session past the budget set with WithMemoryBudget.
	ErrMemoryBudgetExceeded = errors.New("dispatch: memory budget exceeded")
)

// CompileError reports compute source that the backend could not compile.
// Diagnostics carries the compiler output verbatim.
type CompileError = backend.CompileError

// ExecutionError reports a dispatch that failed on the device, for example
// because the device was lost. Contents of the buffers bound to the kernel
// are undefined afterwards.
type ExecutionError struct {
	Kernel     KernelHandle
	EntryPoint string
	Err        error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("dispatch: kernel %d (%s): execution failed: %v", e.Kernel, e.EntryPoint, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func invalidHandle(kind string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInvalidHandle, kind, err)
}

// nativeError maps an error from the backend device. A closed device means
// the session is closed; anything else is passed through with context.
func nativeError(op string, err error) error {
	if errors.Is(err, backend.ErrReleased) {
		return fmt.Errorf("dispatch: %s: %w", op, ErrClosed)
	}
	return fmt.Errorf("dispatch: %s: %w", op, err)
}
