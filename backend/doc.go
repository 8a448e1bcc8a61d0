// Package backend provides a pluggable native compute abstraction.
//
// The backend package lets the dispatch library drive more than one native
// compute API. A Backend opens a Device; the Device allocates host-visible
// Buffers and compiles compute functions into Pipelines; each Pipeline owns
// the Queue that executes its passes.
//
// # Backend Registration
//
// Backends are registered via init() functions and selected at runtime.
// Importing a backend package registers it:
//
//	import _ "github.com/gogpu/dispatch/backend/wgpu"
//
// # Backend Selection
//
// Use OpenDefault() to open a device on the best backend that works, or
// Open() to request a specific backend by name:
//
//	dev, err := backend.OpenDefault()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer dev.Close()
//
// # Submitting Work
//
// Queue.Submit returns a Completion that resolves when the pass has run:
//
//	done, err := pipe.Queue().Submit(&backend.ComputePass{
//		Pipeline: pipe,
//		Args:     []backend.Buffer{in, out},
//		Elements: n,
//	})
//	if err != nil {
//		return err
//	}
//	return done.Wait()
//
// # Available Backends
//
// - "wgpu": GPU compute via gogpu/wgpu (Vulkan, Metal, DX12, GLES)
// - "host": CPU reference backend with kernels written in Go
package backend
