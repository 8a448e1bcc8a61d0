package wgpu

import (
	"context"
	"fmt"
	"sync"

	"github.com/gogpu/wgpu"
)

// copyAlign is the WebGPU alignment for buffer copies and mapped ranges.
const copyAlign = 4

func alignUp(n int) int {
	return (n + copyAlign - 1) &^ (copyAlign - 1)
}

// buffer pairs a native storage buffer with a host shadow. The shadow is
// what callers read and write; it is uploaded before every pass that binds
// the buffer and refreshed from a staging copy afterwards.
type buffer struct {
	dev  *Device
	size int

	// shadow has the aligned length; Bytes exposes the first size bytes.
	shadow []byte

	mu       sync.Mutex
	native   *wgpu.Buffer
	staging  *wgpu.Buffer
	released bool
}

func newBuffer(d *Device, size int) (*buffer, error) {
	aligned := alignUp(size)
	native, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: d.cfg.label("storage"),
		Size:  uint64(aligned), //nolint:gosec // positive by check in NewBuffer
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create buffer (%d bytes): %w", size, deviceLost(err))
	}
	slogger().Debug("wgpu: buffer created", "size", size, "aligned", aligned)
	return &buffer{
		dev:    d,
		size:   size,
		shadow: make([]byte, aligned),
		native: native,
	}, nil
}

func (b *buffer) Len() int      { return b.size }
func (b *buffer) Bytes() []byte { return b.shadow[:b.size:b.size] }

// Release frees the native buffers. The shadow stays readable.
func (b *buffer) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return
	}
	b.released = true
	b.native.Release()
	if b.staging != nil {
		b.staging.Release()
	}
}

func (b *buffer) alignedSize() uint64 { return uint64(len(b.shadow)) }

// upload writes the shadow into the native buffer.
func (b *buffer) upload(q *wgpu.Queue) error {
	if err := q.WriteBuffer(b.native, 0, b.shadow); err != nil {
		return fmt.Errorf("wgpu: upload: %w", deviceLost(err))
	}
	return nil
}

// stagingBuffer returns the lazily created MapRead buffer used for
// readback.
func (b *buffer) stagingBuffer() (*wgpu.Buffer, error) {
	if b.staging != nil {
		return b.staging, nil
	}
	s, err := b.dev.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: b.dev.cfg.label("staging"),
		Size:  b.alignedSize(),
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create staging buffer: %w", deviceLost(err))
	}
	b.staging = s
	return s, nil
}

// readback maps the staging buffer and copies it into the shadow.
func (b *buffer) readback(ctx context.Context) error {
	size := b.alignedSize()
	if err := b.staging.Map(ctx, wgpu.MapModeRead, 0, size); err != nil {
		return fmt.Errorf("wgpu: map staging buffer: %w", deviceLost(err))
	}
	defer func() { _ = b.staging.Unmap() }()

	rng, err := b.staging.MappedRange(0, size)
	if err != nil {
		return fmt.Errorf("wgpu: mapped range: %w", err)
	}
	copy(b.shadow, rng.Bytes())
	return nil
}
