package wgpu

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu"

	"github.com/gogpu/dispatch/backend"
)

// ErrNoHAL is returned when the selected adapter has no native queue, which
// happens when no HAL backend is linked into the binary. Import
// github.com/gogpu/wgpu/hal/allbackends to register them.
var ErrNoHAL = errors.New("wgpu: adapter has no HAL integration")

// ErrSoftwareAdapter is returned when the only adapter is gogpu's built-in
// software renderer, which does not execute general compute functions.
// It wraps backend.ErrBackendNotAvailable so selection falls through to the
// next backend. Set Config.ForceFallbackAdapter to accept it anyway.
var ErrSoftwareAdapter = fmt.Errorf("%w: wgpu: software renderer adapter", backend.ErrBackendNotAvailable)

func init() {
	backend.Register(backend.NameWGPU, func() backend.Backend { return New(DefaultConfig()) })
}

// Backend opens wgpu devices.
type Backend struct {
	cfg Config
}

// New creates a wgpu backend with cfg.
func New(cfg Config) *Backend {
	return &Backend{cfg: cfg}
}

// Name returns "wgpu".
func (b *Backend) Name() string { return backend.NameWGPU }

// Open creates an instance, selects an adapter and requests a device.
// Everything created along the way is released if a later step fails.
func (b *Backend) Open() (backend.Device, error) {
	var desc *wgpu.InstanceDescriptor
	if b.cfg.Backends != 0 {
		desc = &wgpu.InstanceDescriptor{Backends: b.cfg.Backends}
	}
	instance, err := wgpu.CreateInstance(desc)
	if err != nil {
		return nil, fmt.Errorf("wgpu: create instance: %w", err)
	}

	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference:      b.cfg.PowerPreference,
		ForceFallbackAdapter: b.cfg.ForceFallbackAdapter,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("wgpu: request adapter: %w", err)
	}
	if err := checkAdapter(adapter.Info(), b.cfg); err != nil {
		slogger().Debug("wgpu: adapter rejected", "name", adapter.Info().Name, "err", err)
		adapter.Release()
		instance.Release()
		return nil, err
	}

	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label:          b.cfg.label("device"),
		RequiredLimits: wgpu.DefaultLimits(),
	})
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("wgpu: request device: %w", err)
	}

	queue := device.Queue()
	if queue == nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, ErrNoHAL
	}

	d := &Device{
		cfg:      b.cfg,
		instance: instance,
		adapter:  adapter,
		device:   device,
		queue:    queue,
		info:     adapter.Info(),
		limits:   device.Limits(),
	}
	logAdapter(d.info)
	return d, nil
}

// checkAdapter rejects adapters without a real HAL behind them.
func checkAdapter(info gputypes.AdapterInfo, cfg Config) error {
	if info.Backend == gputypes.BackendEmpty && !cfg.ForceFallbackAdapter {
		return fmt.Errorf("%w (%q)", ErrSoftwareAdapter, info.Name)
	}
	return nil
}

// logAdapter logs information about the selected GPU.
func logAdapter(info gputypes.AdapterInfo) {
	slogger().Info("wgpu: GPU selected",
		"name", info.Name,
		"vendor", info.Vendor,
		"type", info.DeviceType.String(),
		"api", info.Backend.String(),
	)
	if info.Driver != "" {
		slogger().Debug("wgpu: driver", "driver", info.Driver, "info", info.DriverInfo)
	}
}

// Device is a wgpu compute device. It implements backend.Device and
// gpucontext.DeviceProvider, so other gogpu libraries can share it.
type Device struct {
	cfg Config

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	info     gputypes.AdapterInfo
	limits   gputypes.Limits

	// submitMu serializes encoding, submission and readback on the shared
	// native queue.
	submitMu sync.Mutex

	mu        sync.Mutex
	closed    bool
	pipelines []*pipeline
	buffers   []*buffer
}

var (
	_ backend.Device            = (*Device)(nil)
	_ gpucontext.DeviceProvider = (*Device)(nil)
)

// Info reports the adapter backing the device.
func (d *Device) Info() backend.Info {
	return backend.Info{
		Backend:       backend.NameWGPU,
		Adapter:       d.AdapterInfo(),
		API:           d.info.Backend.String(),
		MaxBufferSize: d.limits.MaxBufferSize,
	}
}

// SetLogger sets the logger for this backend and for gogpu/wgpu.
func (d *Device) SetLogger(l *slog.Logger) {
	setLogger(l)
	wgpu.SetLogger(l)
}

// Device returns the native *wgpu.Device.
func (d *Device) Device() gpucontext.Device { return d.device }

// Queue returns the native *wgpu.Queue shared by all pipelines.
func (d *Device) Queue() gpucontext.Queue { return d.queue }

// Adapter returns the native *wgpu.Adapter.
func (d *Device) Adapter() gpucontext.Adapter { return d.adapter }

// SurfaceFormat returns TextureFormatUndefined: compute devices are headless.
func (d *Device) SurfaceFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatUndefined
}

// AdapterInfo returns the adapter name and type.
func (d *Device) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{Name: d.info.Name, Type: adapterType(d.info.DeviceType)}
}

func adapterType(t gputypes.DeviceType) gpucontext.AdapterType {
	switch t {
	case gputypes.DeviceTypeDiscreteGPU:
		return gpucontext.AdapterTypeDiscrete
	case gputypes.DeviceTypeIntegratedGPU:
		return gpucontext.AdapterTypeIntegrated
	case gputypes.DeviceTypeCPU:
		return gpucontext.AdapterTypeSoftware
	default:
		return gpucontext.AdapterTypeUnknown
	}
}

// NewBuffer creates a storage buffer and its host shadow.
func (d *Device) NewBuffer(size int) (backend.Buffer, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, fmt.Errorf("wgpu: buffer size must be positive, got %d", size)
	}
	if limit := d.limits.MaxBufferSize; limit > 0 && uint64(size) > limit {
		return nil, fmt.Errorf("wgpu: buffer size %d exceeds device limit %d", size, limit)
	}

	b, err := newBuffer(d, size)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		b.Release()
		return nil, backend.ErrReleased
	}
	d.buffers = append(d.buffers, b)
	return b, nil
}

// Close drains every pipeline queue, releases all native objects and then
// the device itself.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	pipes, bufs := d.pipelines, d.buffers
	d.pipelines, d.buffers = nil, nil
	d.mu.Unlock()

	for _, p := range pipes {
		p.Release()
	}
	var err error
	if werr := d.device.WaitIdle(); werr != nil {
		slogger().Warn("wgpu: wait idle on close", "err", werr)
		err = fmt.Errorf("wgpu: wait idle: %w", werr)
	}
	for _, b := range bufs {
		b.Release()
	}
	d.device.Release()
	d.adapter.Release()
	d.instance.Release()
	return err
}

func (d *Device) usable() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return backend.ErrReleased
	}
	return nil
}

// deviceLost maps native device-loss errors onto backend.ErrDeviceLost.
func deviceLost(err error) error {
	if errors.Is(err, wgpu.ErrDeviceLost) || errors.Is(err, wgpu.ErrMapDeviceLost) {
		return fmt.Errorf("%w: %w", backend.ErrDeviceLost, err)
	}
	return err
}
