// Command gpurun compiles a WGSL compute function, binds buffers to it and
// runs it on the selected backend.
//
// Usage:
//
//	gpurun device
//	gpurun run --source add.wgsl --entry add \
//	    --buffer 4096 --buffer 4096 --buffer 4096 \
//	    --input 0=a.bin --input 1=b.bin --output 2=c.bin
//	gpurun version
package main

import (
	"os"

	// Vulkan, Metal, DX12 and GLES for the wgpu backend.
	_ "github.com/gogpu/wgpu/hal/allbackends"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
