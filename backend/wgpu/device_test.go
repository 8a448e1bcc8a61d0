package wgpu

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	_ "github.com/gogpu/wgpu/hal/allbackends"

	"github.com/gogpu/dispatch/backend"
	"github.com/gogpu/dispatch/backend/host"
)

const twiceSource = `
@group(0) @binding(0) var<storage, read> input: array<u32>;
@group(0) @binding(1) var<storage, read_write> output: array<u32>;

@compute @workgroup_size(64)
fn twice(@builtin(global_invocation_id) id: vec3<u32>) {
    let i = id.x;
    if (i >= arrayLength(&output)) {
        return;
    }
    output[i] = input[i] * 2u;
}
`

// openDevice opens a device or skips the test when no adapter is available.
func openDevice(t *testing.T) *Device {
	t.Helper()
	dev, err := New(DefaultConfig()).Open()
	if err != nil {
		t.Skipf("no wgpu device: %v", err)
	}
	t.Cleanup(func() { _ = dev.Close() })
	d := dev.(*Device)
	if d.info.Backend == gputypes.BackendEmpty {
		t.Skipf("software renderer adapter %q cannot run compute functions", d.info.Name)
	}
	return d
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.PowerPreference != gputypes.PowerPreferenceHighPerformance {
		t.Errorf("PowerPreference = %v, want HighPerformance", cfg.PowerPreference)
	}
	if cfg.mapTimeout() != DefaultMapTimeout {
		t.Errorf("mapTimeout() = %v, want %v", cfg.mapTimeout(), DefaultMapTimeout)
	}

	var zero Config
	if zero.mapTimeout() != DefaultMapTimeout {
		t.Errorf("zero Config mapTimeout() = %v, want default", zero.mapTimeout())
	}
	if got := zero.label("x"); got != "x" {
		t.Errorf("label() = %q, want x", got)
	}
	cfg.MapTimeout = time.Second
	if cfg.mapTimeout() != time.Second {
		t.Errorf("mapTimeout() = %v, want 1s", cfg.mapTimeout())
	}
	if got := cfg.label("x"); got != "dispatch_x" {
		t.Errorf("label() = %q, want dispatch_x", got)
	}
}

func TestAlignUp(t *testing.T) {
	tests := []struct{ in, want int }{
		{1, 4}, {4, 4}, {5, 8}, {7, 8}, {8, 8}, {4097, 4100},
	}
	for _, tt := range tests {
		if got := alignUp(tt.in); got != tt.want {
			t.Errorf("alignUp(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestAdapterType(t *testing.T) {
	tests := []struct {
		in   gputypes.DeviceType
		want gpucontext.AdapterType
	}{
		{gputypes.DeviceTypeDiscreteGPU, gpucontext.AdapterTypeDiscrete},
		{gputypes.DeviceTypeIntegratedGPU, gpucontext.AdapterTypeIntegrated},
		{gputypes.DeviceTypeCPU, gpucontext.AdapterTypeSoftware},
		{gputypes.DeviceTypeVirtualGPU, gpucontext.AdapterTypeUnknown},
		{gputypes.DeviceTypeOther, gpucontext.AdapterTypeUnknown},
	}
	for _, tt := range tests {
		if got := adapterType(tt.in); got != tt.want {
			t.Errorf("adapterType(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCheckAdapter(t *testing.T) {
	software := gputypes.AdapterInfo{Name: "Software Renderer", Backend: gputypes.BackendEmpty}
	vulkan := gputypes.AdapterInfo{Name: "GPU", Backend: gputypes.BackendVulkan}
	fallback := DefaultConfig()
	fallback.ForceFallbackAdapter = true

	tests := []struct {
		name    string
		info    gputypes.AdapterInfo
		cfg     Config
		wantErr bool
	}{
		{"software refused", software, DefaultConfig(), true},
		{"software forced", software, fallback, false},
		{"native accepted", vulkan, DefaultConfig(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkAdapter(tt.info, tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("checkAdapter() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrSoftwareAdapter) || !errors.Is(err, backend.ErrBackendNotAvailable) {
					t.Errorf("error = %v, want ErrSoftwareAdapter wrapping ErrBackendNotAvailable", err)
				}
			}
		})
	}
}

func TestOpenNeverSelectsSoftwareRenderer(t *testing.T) {
	dev, err := New(DefaultConfig()).Open()
	if err != nil {
		t.Skipf("no wgpu device: %v", err)
	}
	defer dev.Close()
	if api := dev.Info().API; api == gputypes.BackendEmpty.String() {
		t.Errorf("Open() selected adapter %q with API %s", dev.Info().Adapter.Name, api)
	}
}

// Whichever backend default selection lands on must actually compute.
func TestDefaultSelectionComputes(t *testing.T) {
	if !backend.IsRegistered(backend.NameHost) {
		backend.Register(backend.NameHost, func() backend.Backend { return host.New() })
	}
	dev, err := backend.OpenDefault()
	if err != nil {
		t.Fatalf("OpenDefault() error = %v", err)
	}
	defer dev.Close()

	p, err := dev.NewPipeline(copySource, "copy")
	if err != nil {
		t.Fatalf("NewPipeline() on %s error = %v", dev.Info(), err)
	}
	in, _ := dev.NewBuffer(64)
	out, _ := dev.NewBuffer(64)
	for i := 0; i < 16; i++ {
		binary.LittleEndian.PutUint32(in.Bytes()[i*4:], uint32(i+7))
	}
	done, err := p.Queue().Submit(&backend.ComputePass{Pipeline: p, Args: []backend.Buffer{in, out}, Elements: 16})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := done.Wait(); err != nil {
		t.Fatalf("Wait() on %s error = %v", dev.Info(), err)
	}
	for i := 0; i < 16; i++ {
		if got := binary.LittleEndian.Uint32(out.Bytes()[i*4:]); got != uint32(i+7) {
			t.Fatalf("out[%d] = %d on %s, want %d", i, got, dev.Info(), i+7)
		}
	}
}

func TestRegisteredOnImport(t *testing.T) {
	if !backend.IsRegistered(backend.NameWGPU) {
		t.Fatal("wgpu backend should be registered on import")
	}
}

func TestDeviceProvider(t *testing.T) {
	dev := openDevice(t)

	var provider gpucontext.DeviceProvider = dev
	if provider.Device() == nil || provider.Queue() == nil {
		t.Error("DeviceProvider returned nil device or queue")
	}
	if provider.SurfaceFormat() != gputypes.TextureFormatUndefined {
		t.Errorf("SurfaceFormat() = %v, want Undefined", provider.SurfaceFormat())
	}
	if info := dev.Info(); info.Backend != backend.NameWGPU || info.Adapter.Name == "" {
		t.Errorf("Info() = %+v", info)
	}
}

func TestCompileError(t *testing.T) {
	dev := openDevice(t)

	_, err := dev.NewPipeline("fn broken( {", "broken")
	var ce *backend.CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("NewPipeline() error = %v, want *backend.CompileError", err)
	}
	if ce.Diagnostics == "" {
		t.Error("Diagnostics is empty")
	}
}

const copySource = `
@group(0) @binding(0) var<storage, read> input: array<u32>;
@group(0) @binding(1) var<storage, read_write> output: array<u32>;

@compute @workgroup_size(64)
fn copy(@builtin(global_invocation_id) id: vec3<u32>) {
    let i = id.x;
    if (i >= arrayLength(&output)) {
        return;
    }
    output[i] = input[i];
}
`

func TestDispatchTwice(t *testing.T) {
	dev := openDevice(t)

	p, err := dev.NewPipeline(twiceSource, "twice")
	if err != nil {
		// Software adapters may not support compute pipelines.
		t.Skipf("NewPipeline: %v", err)
	}
	if p.NumArgs() != 2 || p.Workgroup() != [3]uint32{64, 1, 1} {
		t.Fatalf("NumArgs() = %d, Workgroup() = %v", p.NumArgs(), p.Workgroup())
	}

	const n = 100
	in, err := dev.NewBuffer(n * 4)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	out, err := dev.NewBuffer(n * 4)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(in.Bytes()[i*4:], uint32(i))
	}

	done, err := p.Queue().Submit(&backend.ComputePass{Pipeline: p, Args: []backend.Buffer{in, out}, Elements: n})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := done.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	for i := 0; i < n; i++ {
		if got := binary.LittleEndian.Uint32(out.Bytes()[i*4:]); got != uint32(i)*2 {
			t.Fatalf("out[%d] = %d, want %d", i, got, i*2)
		}
	}
}

func TestSubmitArgumentMismatch(t *testing.T) {
	dev := openDevice(t)
	p, err := dev.NewPipeline(twiceSource, "twice")
	if err != nil {
		t.Skipf("NewPipeline: %v", err)
	}
	buf, err := dev.NewBuffer(16)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	if _, err := p.Queue().Submit(&backend.ComputePass{Pipeline: p, Args: []backend.Buffer{buf}, Elements: 4}); err == nil {
		t.Error("Submit() with one argument for a two-argument function succeeded")
	}
}

func TestClosedDevice(t *testing.T) {
	dev := openDevice(t)
	if err := dev.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := dev.NewBuffer(4); !errors.Is(err, backend.ErrReleased) {
		t.Errorf("NewBuffer after Close error = %v, want ErrReleased", err)
	}
	if err := dev.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

type stubPipeline struct {
	backend.Pipeline
	width uint32
}

func (p stubPipeline) EntryPoint() string   { return "big" }
func (p stubPipeline) Workgroup() [3]uint32 { return [3]uint32{p.width, 1, 1} }

func TestCheckGrid(t *testing.T) {
	tests := []struct {
		name     string
		elements int
		limit    uint32
		wantErr  bool
	}{
		{"fits default", 65535 * 64, 0, false},
		{"over default", 65535*64 + 1, 0, true},
		{"device limit", 129, 2, true},
		{"at device limit", 128, 2, false},
		{"empty", 0, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pass := &backend.ComputePass{Pipeline: stubPipeline{width: 64}, Elements: tt.elements}
			err := checkGrid(pass, tt.limit)
			if (err != nil) != tt.wantErr {
				t.Fatalf("checkGrid() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, backend.ErrGridTooLarge) {
				t.Errorf("error = %v, want ErrGridTooLarge", err)
			}
		})
	}
}
