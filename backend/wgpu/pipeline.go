package wgpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu"

	"github.com/gogpu/dispatch/backend"
	"github.com/gogpu/dispatch/internal/shader"
)

// pipeline is a compiled compute function with the bind group layout
// reflected from its argument slots.
type pipeline struct {
	dev  *Device
	refl *shader.Reflection

	module  *wgpu.ShaderModule
	bgl     *wgpu.BindGroupLayout
	layout  *wgpu.PipelineLayout
	compute *wgpu.ComputePipeline

	q *queue
}

// NewPipeline compiles source and builds a compute pipeline for
// entryPoint. wgpu has no automatic pipeline layout, so the bind group
// layout is derived from the reflected argument slots: slot i becomes
// @group(0) @binding(i) with the access mode the function declares.
func (d *Device) NewPipeline(source, entryPoint string) (backend.Pipeline, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}

	refl, err := shader.Reflect(source, entryPoint)
	if err != nil {
		return nil, compileError(entryPoint, err)
	}

	p := &pipeline{dev: d, refl: refl}
	if err := p.build(source); err != nil {
		p.releaseNative()
		return nil, err
	}
	p.q = newQueue(p)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		p.Release()
		return nil, backend.ErrReleased
	}
	d.pipelines = append(d.pipelines, p)
	d.mu.Unlock()

	slogger().Debug("wgpu: pipeline created",
		"entry", entryPoint, "args", len(refl.Args), "workgroup", refl.Workgroup)
	return p, nil
}

func (p *pipeline) build(source string) error {
	d, entry := p.dev, p.refl.EntryPoint

	module, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: d.cfg.label(entry),
		WGSL:  source,
	})
	if err != nil {
		return compileError(entry, err)
	}
	p.module = module

	entries := make([]wgpu.BindGroupLayoutEntry, len(p.refl.Args))
	for i, arg := range p.refl.Args {
		entries[i] = wgpu.BindGroupLayoutEntry{
			Binding:    uint32(arg.Slot), //nolint:gosec // slot is a small index
			Visibility: wgpu.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: bindingType(arg.Kind)},
		}
	}
	bgl, err := d.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   d.cfg.label(entry + "_bgl"),
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("wgpu: bind group layout for %q: %w", entry, deviceLost(err))
	}
	p.bgl = bgl

	layout, err := d.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            d.cfg.label(entry + "_layout"),
		BindGroupLayouts: []*wgpu.BindGroupLayout{bgl},
	})
	if err != nil {
		return fmt.Errorf("wgpu: pipeline layout for %q: %w", entry, deviceLost(err))
	}
	p.layout = layout

	compute, err := d.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:      d.cfg.label(entry + "_pipeline"),
		Layout:     layout,
		Module:     module,
		EntryPoint: entry,
	})
	if err != nil {
		return compileError(entry, err)
	}
	p.compute = compute
	return nil
}

func bindingType(k shader.ArgKind) gputypes.BufferBindingType {
	switch k {
	case shader.ArgReadOnlyStorage:
		return gputypes.BufferBindingTypeReadOnlyStorage
	case shader.ArgUniform:
		return gputypes.BufferBindingTypeUniform
	default:
		return gputypes.BufferBindingTypeStorage
	}
}

// compileError wraps a front-end or driver rejection as *backend.CompileError
// carrying the compiler diagnostics verbatim.
func compileError(entryPoint string, err error) error {
	diag := err.Error()
	var se *shader.Error
	if errors.As(err, &se) {
		diag = se.Diagnostics
	}
	return &backend.CompileError{EntryPoint: entryPoint, Diagnostics: diag, Err: deviceLost(err)}
}

func (p *pipeline) EntryPoint() string   { return p.refl.EntryPoint }
func (p *pipeline) NumArgs() int         { return len(p.refl.Args) }
func (p *pipeline) Workgroup() [3]uint32 { return p.refl.Workgroup }
func (p *pipeline) Queue() backend.Queue { return p.q }

// writable reports whether slot i can be modified by the function and so
// needs reading back after a pass.
func (p *pipeline) writable(i int) bool {
	return p.refl.Args[i].Kind == shader.ArgStorage
}

// Release drains the pipeline's queue and frees its native objects.
func (p *pipeline) Release() {
	if p.q != nil {
		p.q.close()
	}
	p.releaseNative()
}

func (p *pipeline) releaseNative() {
	if p.compute != nil {
		p.compute.Release()
		p.compute = nil
	}
	if p.layout != nil {
		p.layout.Release()
		p.layout = nil
	}
	if p.bgl != nil {
		p.bgl.Release()
		p.bgl = nil
	}
	if p.module != nil {
		p.module.Release()
		p.module = nil
	}
}
