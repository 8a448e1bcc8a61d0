// Package dispatch lets a Go program drive a GPU compute device through
// small integer handles instead of native object references.
//
// # Overview
//
// A Session owns one backend Device and three append-only handle tables:
// buffers, pipelines and kernels. Handles are issued sequentially from 0,
// are never reused, and every lookup is bounds-checked, so a handle keeps
// naming the same object until the session is closed.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/dispatch"
//	    _ "github.com/gogpu/dispatch/backend/wgpu"
//	    _ "github.com/gogpu/wgpu/hal/allbackends"
//	)
//
// The host backend is always registered. Importing backend/wgpu (and the
// HAL backends) makes Open prefer a GPU adapter and fall back to the host
// when none is usable.
//
//	s, err := dispatch.Open()
//	if err != nil { ... }
//	defer s.Close()
//
//	buf, data, _ := s.AllocateBuffer(4096)
//	pipe, _ := s.CompileKernel(source, "addOne")
//	k, _ := s.CreateKernel(pipe)
//	_ = s.BindBuffer(k, buf)
//	// write inputs into data
//	if err := s.Run(k); err != nil { ... }
//	// read results from data
//
// The package-level functions (AllocateBuffer, CompileKernel, ...) use a
// process-wide default session opened on first use.
//
// # Argument Order
//
// BindBuffer appends to the kernel's argument list. The n-th bound buffer
// is bound at @group(0) @binding(n); order is never changed.
//
// # Dispatch
//
// Run blocks until the device has finished, after which buffer contents are
// valid for host reads. Submit is the non-blocking form and returns a
// completion to wait on. The grid covers the element count of the first
// bound buffer (byte length divided by the kernel's element size) with the
// workgroup width the compute function declares.
//
// # Errors
//
// Failures match one of four kinds with errors.Is / errors.As:
// ErrInvalidArgument, ErrInvalidHandle, *CompileError and *ExecutionError.
// Invalid arguments and handles never change a registry.
//
// # Backends
//
// Backends register themselves on import: "wgpu" (gogpu/wgpu over Vulkan,
// Metal, DX12 or GLES) and "host" (CPU reference). Open picks the highest
// priority backend that can open a device unless WithBackend or
// WithBackendName says otherwise.
package dispatch

// Version is the library version.
const Version = "0.1.0"
