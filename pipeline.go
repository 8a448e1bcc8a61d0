package dispatch

import (
	"errors"

	"github.com/gogpu/dispatch/backend"
	"github.com/gogpu/dispatch/internal/arena"
)

// Pipeline is a compiled compute function bound to its own command queue.
type Pipeline struct {
	Handle     PipelineHandle
	EntryPoint string

	native backend.Pipeline
}

// NumArgs returns the number of buffer arguments the function declares.
func (p *Pipeline) NumArgs() int { return p.native.NumArgs() }

// Workgroup returns the workgroup size the function declares.
func (p *Pipeline) Workgroup() [3]uint32 { return p.native.Workgroup() }

// Queue returns the command queue the pipeline's dispatches are committed to.
func (p *Pipeline) Queue() backend.Queue { return p.native.Queue() }

// PipelineRegistry issues pipeline handles. Every compile yields a new
// handle; identical source is not deduplicated.
type PipelineRegistry struct {
	s     *Session
	arena *arena.Arena[*Pipeline]
}

func newPipelineRegistry(s *Session) *PipelineRegistry {
	return &PipelineRegistry{s: s, arena: arena.New[*Pipeline](8)}
}

// CompileAndRegister compiles source for entryPoint on a fresh command queue
// and registers the result. A compiler rejection is returned as
// *CompileError, unchanged.
func (r *PipelineRegistry) CompileAndRegister(source, entryPoint string) (PipelineHandle, error) {
	if err := r.s.acquire(); err != nil {
		return InvalidHandle, err
	}
	defer r.s.release()

	native, err := r.s.dev.NewPipeline(source, entryPoint)
	if err != nil {
		var ce *CompileError
		if errors.As(err, &ce) {
			r.s.logger().Debug("dispatch: compile failed", "entry", entryPoint, "diagnostics", ce.Diagnostics)
			return InvalidHandle, err
		}
		return InvalidHandle, nativeError("compile "+entryPoint, err)
	}

	h, _ := r.arena.InsertFunc(func(h int) (*Pipeline, error) {
		return &Pipeline{Handle: PipelineHandle(h), EntryPoint: entryPoint, native: native}, nil
	})
	r.s.logger().Debug("dispatch: pipeline compiled",
		"handle", h, "entry", entryPoint, "args", native.NumArgs(), "workgroup", native.Workgroup())
	return PipelineHandle(h), nil
}

// Resolve returns the pipeline registered at h.
func (r *PipelineRegistry) Resolve(h PipelineHandle) (*Pipeline, error) {
	p, err := r.arena.Get(int(h))
	if err != nil {
		return nil, invalidHandle("pipeline", err)
	}
	return p, nil
}

// Len returns the number of handles issued.
func (r *PipelineRegistry) Len() int { return r.arena.Len() }

func (r *PipelineRegistry) releaseAll() {
	r.arena.Range(func(_ int, p *Pipeline) bool {
		p.native.Release()
		return true
	})
}
