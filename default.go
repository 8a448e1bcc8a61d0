package dispatch

import (
	"sync"
	"unsafe"

	// The host backend is always registered so Open and the default
	// session work without a GPU. Import backend/wgpu to prefer the GPU.
	_ "github.com/gogpu/dispatch/backend/host"
)

var (
	defaultMu      sync.Mutex
	defaultSession *Session
)

// Default returns the process-wide session used by the package-level
// functions, opening it with the highest-priority backend on first use.
// A failed open is not cached; the next call tries again.
func Default() (*Session, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultSession != nil {
		return defaultSession, nil
	}
	s, err := Open()
	if err != nil {
		return nil, err
	}
	defaultSession = s
	return s, nil
}

// SetDefault replaces the process-wide session and returns the previous
// one, which may be nil. The caller owns the returned session.
func SetDefault(s *Session) *Session {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	prev := defaultSession
	defaultSession = s
	return prev
}

// AllocateBuffer allocates numBytes on the default session.
func AllocateBuffer(numBytes int) (BufferHandle, []byte, error) {
	s, err := Default()
	if err != nil {
		return InvalidHandle, nil, err
	}
	return s.AllocateBuffer(numBytes)
}

// CompileKernel compiles source for entryPoint on the default session.
func CompileKernel(source, entryPoint string) (PipelineHandle, error) {
	s, err := Default()
	if err != nil {
		return InvalidHandle, err
	}
	return s.CompileKernel(source, entryPoint)
}

// CreateKernel creates a kernel for p on the default session.
func CreateKernel(p PipelineHandle, opts ...KernelOption) (KernelHandle, error) {
	s, err := Default()
	if err != nil {
		return InvalidHandle, err
	}
	return s.CreateKernel(p, opts...)
}

// BindBuffer binds b to the next argument of k on the default session.
func BindBuffer(k KernelHandle, b BufferHandle) error {
	s, err := Default()
	if err != nil {
		return err
	}
	return s.BindBuffer(k, b)
}

// Run dispatches k on the default session and waits for it.
func Run(k KernelHandle) error {
	s, err := Default()
	if err != nil {
		return err
	}
	return s.Run(k)
}

// Bytes returns the contents of b on the default session.
func Bytes(b BufferHandle) ([]byte, error) {
	s, err := Default()
	if err != nil {
		return nil, err
	}
	return s.Bytes(b)
}

// RawPointer returns the address of the contents of b on the default
// session.
func RawPointer(b BufferHandle) (unsafe.Pointer, error) {
	s, err := Default()
	if err != nil {
		return nil, err
	}
	return s.RawPointer(b)
}
