package backend

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/gpucontext"
)

func TestWorkgroups(t *testing.T) {
	tests := []struct {
		name     string
		elements int
		wg       [3]uint32
		want     [3]uint32
	}{
		{"exact", 128, [3]uint32{64, 1, 1}, [3]uint32{2, 1, 1}},
		{"rounds up", 129, [3]uint32{64, 1, 1}, [3]uint32{3, 1, 1}},
		{"smaller than one group", 3, [3]uint32{64, 1, 1}, [3]uint32{1, 1, 1}},
		{"width one", 7, [3]uint32{1, 1, 1}, [3]uint32{7, 1, 1}},
		{"zero elements", 0, [3]uint32{64, 1, 1}, [3]uint32{1, 1, 1}},
		{"zero width", 5, [3]uint32{0, 1, 1}, [3]uint32{5, 1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Workgroups(tt.elements, tt.wg); got != tt.want {
				t.Errorf("Workgroups(%d, %v) = %v, want %v", tt.elements, tt.wg, got, tt.want)
			}
		})
	}
}

func TestInfoString(t *testing.T) {
	info := Info{
		Backend: NameWGPU,
		API:     "Vulkan",
		Adapter: gpucontext.AdapterInfo{Name: "Test GPU", Type: gpucontext.AdapterTypeDiscrete},
	}
	if got, want := info.String(), "Test GPU (Discrete, wgpu/Vulkan)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	info = Info{
		Backend: NameHost,
		Adapter: gpucontext.AdapterInfo{Name: "cpu", Type: gpucontext.AdapterTypeSoftware},
	}
	if got, want := info.String(), "cpu (Software, host)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestCompileErrorUnwrap(t *testing.T) {
	cause := errors.New("unexpected token")
	err := error(&CompileError{EntryPoint: "main", Diagnostics: "1:5 unexpected token", Err: cause})

	if !errors.Is(err, cause) {
		t.Error("CompileError does not unwrap to its cause")
	}
	var ce *CompileError
	if !errors.As(err, &ce) || ce.Diagnostics != "1:5 unexpected token" {
		t.Errorf("errors.As = %+v", ce)
	}
}

func TestCompletionWait(t *testing.T) {
	c := NewCompletion()
	if c.Err() != nil {
		t.Fatal("pending completion has an error")
	}

	boom := errors.New("boom")
	go c.Complete(boom)

	if err := c.Wait(); !errors.Is(err, boom) {
		t.Errorf("Wait() = %v, want boom", err)
	}
	// Later calls have no effect.
	c.Complete(nil)
	if err := c.Wait(); !errors.Is(err, boom) {
		t.Errorf("Wait() after second Complete = %v, want boom", err)
	}
}

func TestCompletionWaitContext(t *testing.T) {
	c := NewCompletion()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := c.WaitContext(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitContext() = %v, want DeadlineExceeded", err)
	}

	c.Complete(nil)
	if err := c.WaitContext(context.Background()); err != nil {
		t.Errorf("WaitContext() after Complete = %v", err)
	}
}

func TestCompletionAfterFunc(t *testing.T) {
	c := NewCompletion()
	var calls atomic.Int32

	c.AfterFunc(func(err error) {
		if err != nil {
			t.Errorf("AfterFunc got %v", err)
		}
		calls.Add(1)
	})
	c.Complete(nil)
	if calls.Load() != 1 {
		t.Fatalf("AfterFunc before Complete ran %d times, want 1", calls.Load())
	}

	// Registered after resolution: runs immediately.
	c.AfterFunc(func(error) { calls.Add(1) })
	if calls.Load() != 2 {
		t.Errorf("AfterFunc after Complete ran %d times total, want 2", calls.Load())
	}
}
