// Package wgpu provides the GPU compute backend built on gogpu/wgpu.
//
// This package implements the backend.Backend interface using the pure-Go
// WebGPU implementation, which drives Vulkan, Metal, DX12 or GLES through
// its HAL. It registers itself as "wgpu" on import.
//
// # Architecture
//
//	dispatch.Session
//	       |
//	       v
//	backend.Device (this package)
//	       |
//	       +-- buffer:   storage buffer + host shadow + MapRead staging
//	       +-- pipeline: naga reflection -> bind group layout -> compute pipeline
//	       +-- queue:    per-pipeline FIFO worker over the shared wgpu.Queue
//	       |
//	       v
//	gogpu/wgpu -> hal (Vulkan / Metal / DX12 / GLES)
//
// # Buffers
//
// WebGPU storage buffers are not host-addressable, so every buffer keeps a
// host shadow that callers read and write directly. Before a pass the
// shadows of all bound buffers are written to the device; after the pass
// completes, arguments the function may write (var<storage, read_write>)
// are copied to a staging buffer, mapped and copied back. Contents are
// therefore coherent whenever no pass binding the buffer is in flight.
//
// # Pipelines
//
// WGSL source is validated and reflected by naga before it reaches the
// driver. The reflected argument slots, all in @group(0), become the bind
// group layout; read-only and uniform arguments keep their access mode.
//
// # HAL Backends
//
// gogpu/wgpu only enumerates adapters for HAL backends that are linked in.
// Binaries should import them for side effects:
//
//	import _ "github.com/gogpu/wgpu/hal/allbackends"
//
// Without them, Open fails with ErrNoHAL or an adapter request error and
// backend.OpenDefault falls through to the host backend.
//
// # Device Sharing
//
// Device implements gpucontext.DeviceProvider, so the compute device can be
// handed to other gogpu libraries that accept one.
package wgpu
