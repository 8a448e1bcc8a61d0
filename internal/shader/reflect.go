// Package shader is the WGSL front end shared by the compute backends.
//
// It runs WGSL source through naga (parse, lower, validate), locates the
// requested compute entry point and reflects the information the dispatcher
// needs: the ordered argument slots and the workgroup size.
//
// Results are cached by source digest and entry point, so compiling the
// same function repeatedly runs naga once.
package shader

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"

	"github.com/gogpu/dispatch/internal/cache"
)

// ArgGroup is the bind group every kernel argument must live in.
const ArgGroup = 0

// ErrEntryPointNotFound is returned when the source has no compute entry
// point with the requested name.
var ErrEntryPointNotFound = errors.New("shader: compute entry point not found")

// Stage names the front-end phase that rejected the source.
type Stage string

// Front-end phases.
const (
	StageParse    Stage = "parse"
	StageLower    Stage = "lower"
	StageValidate Stage = "validate"
	StageReflect  Stage = "reflect"
)

// Error carries the diagnostics naga produced for a rejected source.
type Error struct {
	Stage       Stage
	EntryPoint  string
	Diagnostics string
	Err         error
}

func (e *Error) Error() string {
	return fmt.Sprintf("shader: %s %q: %s", e.Stage, e.EntryPoint, e.Diagnostics)
}

func (e *Error) Unwrap() error { return e.Err }

// ArgKind is how a kernel argument is accessed by the compute function.
type ArgKind int

const (
	// ArgStorage is a read-write storage buffer.
	ArgStorage ArgKind = iota
	// ArgReadOnlyStorage is a var<storage, read> buffer.
	ArgReadOnlyStorage
	// ArgUniform is a var<uniform> buffer.
	ArgUniform
)

func (k ArgKind) String() string {
	switch k {
	case ArgStorage:
		return "storage"
	case ArgReadOnlyStorage:
		return "read-only-storage"
	case ArgUniform:
		return "uniform"
	default:
		return fmt.Sprintf("ArgKind(%d)", int(k))
	}
}

// Arg is one argument slot of a compute function. Slot i is bound at
// @group(0) @binding(i).
type Arg struct {
	Slot int
	Name string
	Kind ArgKind
}

// Reflection describes a compiled compute entry point.
type Reflection struct {
	EntryPoint string
	Workgroup  [3]uint32
	Args       []Arg
	Module     *ir.Module
}

// WorkgroupInvocations returns the number of invocations in one workgroup.
func (r *Reflection) WorkgroupInvocations() int {
	return int(r.Workgroup[0]) * int(r.Workgroup[1]) * int(r.Workgroup[2])
}

// CacheSize is the number of reflections kept.
const CacheSize = 128

type cacheKey struct {
	digest     [sha256.Size]byte
	entryPoint string
}

type cached struct {
	refl *Reflection
	err  error
}

var reflections = cache.New[cacheKey, cached](CacheSize)

// Reflect compiles source through naga and reflects entryPoint.
// Any rejection is returned as *Error.
//
// The returned Reflection may be shared with other callers and must not be
// modified.
func Reflect(source, entryPoint string) (*Reflection, error) {
	key := cacheKey{digest: sha256.Sum256([]byte(source)), entryPoint: entryPoint}
	c := reflections.GetOrCreate(key, func() cached {
		r, err := compile(source, entryPoint)
		return cached{refl: r, err: err}
	})
	return c.refl, c.err
}

// CacheStats reports the reflection cache counters.
func CacheStats() cache.Stats { return reflections.Stats() }

func compile(source, entryPoint string) (*Reflection, error) {
	ast, err := naga.Parse(source)
	if err != nil {
		return nil, &Error{Stage: StageParse, EntryPoint: entryPoint, Diagnostics: err.Error(), Err: err}
	}

	module, err := naga.LowerWithSource(ast, source)
	if err != nil {
		return nil, &Error{Stage: StageLower, EntryPoint: entryPoint, Diagnostics: err.Error(), Err: err}
	}

	verrs, err := naga.Validate(module)
	if err != nil {
		return nil, &Error{Stage: StageValidate, EntryPoint: entryPoint, Diagnostics: err.Error(), Err: err}
	}
	if len(verrs) > 0 {
		msgs := make([]string, len(verrs))
		for i := range verrs {
			msgs[i] = verrs[i].Error()
		}
		return nil, &Error{Stage: StageValidate, EntryPoint: entryPoint, Diagnostics: strings.Join(msgs, "; "), Err: &verrs[0]}
	}

	ep := findComputeEntryPoint(module, entryPoint)
	if ep == nil {
		return nil, &Error{
			Stage:       StageReflect,
			EntryPoint:  entryPoint,
			Diagnostics: fmt.Sprintf("no @compute function named %q (have %s)", entryPoint, entryPointNames(module)),
			Err:         ErrEntryPointNotFound,
		}
	}

	args, err := reflectArgs(module)
	if err != nil {
		return nil, &Error{Stage: StageReflect, EntryPoint: entryPoint, Diagnostics: err.Error(), Err: err}
	}

	wg := ep.Workgroup
	for i := range wg {
		if wg[i] == 0 {
			wg[i] = 1
		}
	}

	return &Reflection{
		EntryPoint: entryPoint,
		Workgroup:  wg,
		Args:       args,
		Module:     module,
	}, nil
}

func findComputeEntryPoint(m *ir.Module, name string) *ir.EntryPoint {
	for i := range m.EntryPoints {
		ep := &m.EntryPoints[i]
		if ep.Name == name && ep.Stage == ir.StageCompute {
			return ep
		}
	}
	return nil
}

func entryPointNames(m *ir.Module) string {
	var names []string
	for i := range m.EntryPoints {
		if m.EntryPoints[i].Stage == ir.StageCompute {
			names = append(names, m.EntryPoints[i].Name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}

// reflectArgs collects buffer bindings and checks they form the dense slot
// sequence @group(0) @binding(0..n-1).
func reflectArgs(m *ir.Module) ([]Arg, error) {
	type bound struct {
		binding uint32
		arg     Arg
	}
	var found []bound
	for i := range m.GlobalVariables {
		gv := &m.GlobalVariables[i]
		if gv.Binding == nil {
			continue
		}
		var kind ArgKind
		switch gv.Space {
		case ir.SpaceStorage:
			kind = ArgStorage
			if gv.Access == ir.StorageRead {
				kind = ArgReadOnlyStorage
			}
		case ir.SpaceUniform:
			kind = ArgUniform
		default:
			return nil, fmt.Errorf("binding %q: only buffer arguments are supported", gv.Name)
		}
		if gv.Binding.Group != ArgGroup {
			return nil, fmt.Errorf("binding %q: arguments must use @group(%d), got @group(%d)", gv.Name, ArgGroup, gv.Binding.Group)
		}
		found = append(found, bound{binding: gv.Binding.Binding, arg: Arg{Name: gv.Name, Kind: kind}})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].binding < found[j].binding })

	args := make([]Arg, len(found))
	for i, b := range found {
		if b.binding != uint32(i) { //nolint:gosec // i bounded by global count
			return nil, fmt.Errorf("binding %q: argument slots must be dense from 0, found @binding(%d) at slot %d", b.arg.Name, b.binding, i)
		}
		b.arg.Slot = i
		args[i] = b.arg
	}
	return args, nil
}
