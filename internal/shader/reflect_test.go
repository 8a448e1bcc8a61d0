package shader

import (
	"errors"
	"testing"
)

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

func TestReflectCopyKernel(t *testing.T) {
	r, err := Reflect(copySource, "copy")
	if err != nil {
		t.Fatalf("Reflect() error = %v", err)
	}
	if r.EntryPoint != "copy" {
		t.Errorf("EntryPoint = %q, want copy", r.EntryPoint)
	}
	if r.Workgroup != [3]uint32{64, 1, 1} {
		t.Errorf("Workgroup = %v, want [64 1 1]", r.Workgroup)
	}
	if r.WorkgroupInvocations() != 64 {
		t.Errorf("WorkgroupInvocations() = %d, want 64", r.WorkgroupInvocations())
	}
	if len(r.Args) != 2 {
		t.Fatalf("len(Args) = %d, want 2", len(r.Args))
	}
	want := []Arg{
		{Slot: 0, Name: "input", Kind: ArgReadOnlyStorage},
		{Slot: 1, Name: "output", Kind: ArgStorage},
	}
	for i := range want {
		if r.Args[i] != want[i] {
			t.Errorf("Args[%d] = %+v, want %+v", i, r.Args[i], want[i])
		}
	}
}

func TestReflectRejections(t *testing.T) {
	tests := []struct {
		name      string
		source    string
		entry     string
		wantStage Stage
	}{
		{
			name:      "syntax error",
			source:    "@compute @workgroup_size(1) fn main( {",
			entry:     "main",
			wantStage: StageParse,
		},
		{
			name:      "missing entry point",
			source:    copySource,
			entry:     "addOne",
			wantStage: StageReflect,
		},
		{
			name: "sparse bindings",
			source: `
@group(0) @binding(0) var<storage, read_write> a: array<u32>;
@group(0) @binding(2) var<storage, read_write> b: array<u32>;
@compute @workgroup_size(1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    b[id.x] = a[id.x];
}
`,
			entry:     "main",
			wantStage: StageReflect,
		},
		{
			name: "wrong group",
			source: `
@group(1) @binding(0) var<storage, read_write> a: array<u32>;
@compute @workgroup_size(1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    a[id.x] = 1u;
}
`,
			entry:     "main",
			wantStage: StageReflect,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Reflect(tt.source, tt.entry)
			var se *Error
			if !errors.As(err, &se) {
				t.Fatalf("Reflect() error = %v, want *Error", err)
			}
			if se.Stage != tt.wantStage {
				t.Errorf("Stage = %q, want %q (diagnostics: %s)", se.Stage, tt.wantStage, se.Diagnostics)
			}
			if se.Diagnostics == "" {
				t.Error("Diagnostics is empty")
			}
			if se.EntryPoint != tt.entry {
				t.Errorf("EntryPoint = %q, want %q", se.EntryPoint, tt.entry)
			}
		})
	}
}

func TestReflectMissingEntryPointUnwraps(t *testing.T) {
	_, err := Reflect(copySource, "nope")
	if !errors.Is(err, ErrEntryPointNotFound) {
		t.Errorf("error = %v, want ErrEntryPointNotFound", err)
	}
}

func TestReflectUniformArg(t *testing.T) {
	src := `
struct Params {
    scale: f32,
}
@group(0) @binding(0) var<storage, read_write> data: array<f32>;
@group(0) @binding(1) var<uniform> params: Params;

@compute @workgroup_size(32, 2)
fn scale(@builtin(global_invocation_id) id: vec3<u32>) {
    data[id.x] = data[id.x] * params.scale;
}
`
	r, err := Reflect(src, "scale")
	if err != nil {
		t.Fatalf("Reflect() error = %v", err)
	}
	if r.Args[1].Kind != ArgUniform {
		t.Errorf("Args[1].Kind = %v, want uniform", r.Args[1].Kind)
	}
	if r.Workgroup != [3]uint32{32, 2, 1} {
		t.Errorf("Workgroup = %v, want [32 2 1]", r.Workgroup)
	}
}

func TestArgKindString(t *testing.T) {
	tests := []struct {
		k    ArgKind
		want string
	}{
		{ArgStorage, "storage"},
		{ArgReadOnlyStorage, "read-only-storage"},
		{ArgUniform, "uniform"},
		{ArgKind(9), "ArgKind(9)"},
	}
	for _, tt := range tests {
		if got := tt.k.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestReflectCached(t *testing.T) {
	// A source no other test compiles, so the counters start from a miss.
	src := copySource + "\n// cached\n"

	before := CacheStats()
	a, err := Reflect(src, "copy")
	if err != nil {
		t.Fatalf("Reflect() error = %v", err)
	}
	b, err := Reflect(src, "copy")
	if err != nil {
		t.Fatalf("second Reflect() error = %v", err)
	}
	if a != b {
		t.Error("second Reflect() returned a different *Reflection")
	}
	after := CacheStats()
	if after.Hits-before.Hits < 1 {
		t.Errorf("Hits went from %d to %d, want at least one hit", before.Hits, after.Hits)
	}

	if _, err := Reflect(src, "missing"); !errors.Is(err, ErrEntryPointNotFound) {
		t.Errorf("Reflect(missing) error = %v, want ErrEntryPointNotFound", err)
	}
	if _, err := Reflect(src, "missing"); !errors.Is(err, ErrEntryPointNotFound) {
		t.Errorf("cached Reflect(missing) error = %v, want ErrEntryPointNotFound", err)
	}
}
