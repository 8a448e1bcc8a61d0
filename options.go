package dispatch

import (
	"log/slog"

	"github.com/gogpu/dispatch/backend"
)

// Option configures a Session during Open.
//
// Example:
//
//	// Highest-priority registered backend
//	s, err := dispatch.Open()
//
//	// CPU reference backend with a 64 MiB budget
//	s, err := dispatch.Open(
//	    dispatch.WithBackendName("host"),
//	    dispatch.WithMemoryBudget(64<<20),
//	)
type Option func(*options)

type options struct {
	backend     backend.Backend
	backendName string
	logger      *slog.Logger
	budget      int64
}

// WithBackend opens the session on b instead of a registered backend.
// It takes precedence over WithBackendName.
func WithBackend(b backend.Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// WithBackendName opens the session on the registered backend called name
// ("wgpu", "host"). Without it Open falls back through the registered
// backends in priority order.
func WithBackendName(name string) Option {
	return func(o *options) {
		o.backendName = name
	}
}

// WithLogger sets a logger for this session and its device, overriding the
// package logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMemoryBudget limits the total bytes a session may allocate. Zero or
// negative means no limit.
func WithMemoryBudget(bytes int64) Option {
	return func(o *options) {
		if bytes < 0 {
			bytes = 0
		}
		o.budget = bytes
	}
}

// KernelOption configures a kernel during CreateKernel.
type KernelOption func(*kernelOptions)

type kernelOptions struct {
	elemSize int
}

// DefaultElementSize is the element size assumed when sizing a dispatch:
// one 32-bit word.
const DefaultElementSize = 4

// WithElementSize sets the byte size of one element of the kernel's first
// bound buffer. Run launches one invocation per element. Non-positive
// values are ignored.
func WithElementSize(n int) KernelOption {
	return func(o *kernelOptions) {
		if n > 0 {
			o.elemSize = n
		}
	}
}
