package backend

import (
	"errors"
	"fmt"
	"sort"

	"github.com/gogpu/gpucontext"
)

// Backend name constants.
const (
	// NameWGPU is the name of the GPU backend (gogpu/wgpu).
	NameWGPU = "wgpu"
	// NameHost is the name of the CPU reference backend.
	NameHost = "host"
)

// Factory creates a new backend instance.
type Factory func() Backend

// backends holds registered backends. Priority order for selection:
// the GPU backend first, the host backend as fallback.
var backends = gpucontext.NewRegistry[Backend](
	gpucontext.WithPriority(NameWGPU, NameHost),
)

var priority = []string{NameWGPU, NameHost}

// Register registers a backend factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it will be replaced.
func Register(name string, factory Factory) {
	backends.Register(name, factory)
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	backends.Unregister(name)
}

// Available returns the registered backend names in selection order.
func Available() []string {
	names := backends.Available()
	rank := func(name string) int {
		for i, p := range priority {
			if p == name {
				return i
			}
		}
		return len(priority)
	}
	sort.Slice(names, func(i, j int) bool {
		ri, rj := rank(names[i]), rank(names[j])
		if ri != rj {
			return ri < rj
		}
		return names[i] < names[j]
	})
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	return backends.Has(name)
}

// Get returns a backend instance by name.
// Returns nil if the backend is not registered.
func Get(name string) Backend {
	return backends.Get(name)
}

// Default returns the best available backend based on priority.
// Returns nil if no backends are registered.
func Default() Backend {
	return backends.Best()
}

// Open opens a device on the named backend.
func Open(name string) (Device, error) {
	b := Get(name)
	if b == nil {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrBackendNotAvailable, name, Available())
	}
	return b.Open()
}

// OpenDefault opens a device on the first backend, in priority order, that
// can provide one. Backends that fail to open are skipped; if none succeed
// the individual failures are joined into the returned error.
func OpenDefault() (Device, error) {
	names := Available()
	if len(names) == 0 {
		return nil, ErrBackendNotAvailable
	}

	var errs []error
	for _, name := range names {
		b := Get(name)
		if b == nil {
			continue
		}
		dev, err := b.Open()
		if err == nil {
			return dev, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	return nil, fmt.Errorf("%w: %w", ErrBackendNotAvailable, errors.Join(errs...))
}
