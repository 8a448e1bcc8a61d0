package host

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/gogpu/dispatch/internal/parallel"
)

// KernelFunc is the host implementation of a compute entry point. It runs
// once per pass and is responsible for covering every element itself.
type KernelFunc func(inv *Invocation) error

// Invocation is the state a KernelFunc sees for one pass.
type Invocation struct {
	// EntryPoint is the compiled function name.
	EntryPoint string
	// Args holds the contents of the buffer bound to each argument slot.
	Args [][]byte
	// Elements is the element count the pass was sized for.
	Elements int
	// Workgroup is the declared workgroup size.
	Workgroup [3]uint32
	// Grid is the number of workgroups dispatched.
	Grid [3]uint32

	pool *parallel.Pool
}

// Range calls fn over [0, n) in chunks of one workgroup width, spread over
// the device's worker pool, and returns when every chunk has run. Chunks
// never overlap, so fn may write its own elements without locking.
// fn must not call Range itself.
func (inv *Invocation) Range(n int, fn func(lo, hi int)) {
	if inv.pool == nil {
		if n > 0 {
			fn(0, n)
		}
		return
	}
	inv.pool.For(n, int(inv.Workgroup[0]), fn)
}

// Invocations returns the total number of invocations the grid launches,
// which may exceed Elements by up to one workgroup.
func (inv *Invocation) Invocations() int {
	n := 1
	for i := range inv.Grid {
		n *= int(inv.Grid[i]) * int(inv.Workgroup[i])
	}
	return n
}

// Uint32 reads element i of argument arg as a little-endian u32.
func (inv *Invocation) Uint32(arg, i int) uint32 {
	return binary.LittleEndian.Uint32(inv.Args[arg][i*4:])
}

// SetUint32 writes element i of argument arg as a little-endian u32.
func (inv *Invocation) SetUint32(arg, i int, v uint32) {
	binary.LittleEndian.PutUint32(inv.Args[arg][i*4:], v)
}

// elems returns how many u32 elements the kernel may touch in every
// listed argument.
func (inv *Invocation) elems(args ...int) int {
	n := inv.Elements
	for _, a := range args {
		if m := len(inv.Args[a]) / 4; m < n {
			n = m
		}
	}
	return n
}

var (
	kernelsMu sync.RWMutex
	kernels   = map[string]KernelFunc{
		"copy":   copyKernel,
		"addOne": addOneKernel,
		"add":    addKernel,
	}
)

// RegisterKernel makes fn the host implementation of entryPoint for
// backends created afterwards. Registering an existing name replaces it.
func RegisterKernel(entryPoint string, fn KernelFunc) {
	kernelsMu.Lock()
	defer kernelsMu.Unlock()
	kernels[entryPoint] = fn
}

// UnregisterKernel removes the host implementation of entryPoint.
func UnregisterKernel(entryPoint string) {
	kernelsMu.Lock()
	defer kernelsMu.Unlock()
	delete(kernels, entryPoint)
}

// Kernels returns the registered entry point names, sorted.
func Kernels() []string {
	kernelsMu.RLock()
	defer kernelsMu.RUnlock()
	return sortedNames(kernels)
}

func sortedNames(m map[string]KernelFunc) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func snapshotKernels() map[string]KernelFunc {
	kernelsMu.RLock()
	defer kernelsMu.RUnlock()
	m := make(map[string]KernelFunc, len(kernels))
	for k, v := range kernels {
		m[k] = v
	}
	return m
}

// copyKernel: out[i] = in[i] for u32 elements, args (in, out).
func copyKernel(inv *Invocation) error {
	if len(inv.Args) != 2 {
		return fmt.Errorf("copy: want 2 arguments, got %d", len(inv.Args))
	}
	in, out := inv.Args[0], inv.Args[1]
	inv.Range(inv.elems(0, 1), func(lo, hi int) {
		copy(out[lo*4:hi*4], in[lo*4:hi*4])
	})
	return nil
}

// addOneKernel: data[i] += 1 for u32 elements, args (data).
func addOneKernel(inv *Invocation) error {
	if len(inv.Args) != 1 {
		return fmt.Errorf("addOne: want 1 argument, got %d", len(inv.Args))
	}
	inv.Range(inv.elems(0), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			inv.SetUint32(0, i, inv.Uint32(0, i)+1)
		}
	})
	return nil
}

// addKernel: c[i] = a[i] + b[i] for u32 elements, args (a, b, c).
func addKernel(inv *Invocation) error {
	if len(inv.Args) != 3 {
		return fmt.Errorf("add: want 3 arguments, got %d", len(inv.Args))
	}
	inv.Range(inv.elems(0, 1, 2), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			inv.SetUint32(2, i, inv.Uint32(0, i)+inv.Uint32(1, i))
		}
	})
	return nil
}
