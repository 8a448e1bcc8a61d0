package backend

import (
	"errors"
	"testing"
)

type fakeBackend struct {
	name string
	err  error
}

func (b *fakeBackend) Name() string { return b.name }

func (b *fakeBackend) Open() (Device, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &fakeDevice{name: b.name}, nil
}

type fakeDevice struct {
	Device
	name string
}

func (d *fakeDevice) Info() Info { return Info{Backend: d.name} }

func register(t *testing.T, name string, err error) {
	t.Helper()
	Register(name, func() Backend { return &fakeBackend{name: name, err: err} })
	t.Cleanup(func() { Unregister(name) })
}

func TestRegistryRegisterAndGet(t *testing.T) {
	register(t, "fake", nil)

	if !IsRegistered("fake") {
		t.Fatal("fake backend should be registered")
	}
	b := Get("fake")
	if b == nil {
		t.Fatal("Get(fake) returned nil")
	}
	if b.Name() != "fake" {
		t.Errorf("Get(fake).Name() = %q, want %q", b.Name(), "fake")
	}
}

func TestRegistryGetUnregistered(t *testing.T) {
	if b := Get("nonexistent"); b != nil {
		t.Error("Get(nonexistent) should return nil")
	}
	if _, err := Open("nonexistent"); !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("Open(nonexistent) error = %v, want ErrBackendNotAvailable", err)
	}
}

func TestRegistryAvailablePriorityOrder(t *testing.T) {
	register(t, "zeta", nil)
	register(t, NameHost, nil)
	register(t, NameWGPU, nil)

	got := Available()
	if len(got) < 3 {
		t.Fatalf("Available() = %v, want at least 3 names", got)
	}
	if got[0] != NameWGPU || got[1] != NameHost {
		t.Errorf("Available() = %v, want wgpu then host first", got)
	}
	if got[len(got)-1] != "zeta" {
		t.Errorf("Available() = %v, want unprioritized names last", got)
	}
}

func TestRegistryDefault(t *testing.T) {
	register(t, NameHost, nil)
	register(t, NameWGPU, nil)

	b := Default()
	if b == nil {
		t.Fatal("Default() returned nil")
	}
	if b.Name() != NameWGPU {
		t.Errorf("Default().Name() = %q, want %q", b.Name(), NameWGPU)
	}
}

func TestOpenDefaultFallsBack(t *testing.T) {
	register(t, NameWGPU, errors.New("no adapter"))
	register(t, NameHost, nil)

	dev, err := OpenDefault()
	if err != nil {
		t.Fatalf("OpenDefault() error = %v", err)
	}
	if dev.Info().Backend != NameHost {
		t.Errorf("OpenDefault() opened %q, want %q", dev.Info().Backend, NameHost)
	}
}

func TestOpenDefaultAllFail(t *testing.T) {
	noAdapter := errors.New("no adapter")
	register(t, NameWGPU, noAdapter)
	register(t, NameHost, errors.New("disabled"))

	_, err := OpenDefault()
	if !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("OpenDefault() error = %v, want ErrBackendNotAvailable", err)
	}
	if !errors.Is(err, noAdapter) {
		t.Errorf("OpenDefault() error = %v, want it to wrap the wgpu failure", err)
	}
}

func TestRegistryUnregister(t *testing.T) {
	Register("temp", func() Backend { return &fakeBackend{name: "temp"} })
	if !IsRegistered("temp") {
		t.Fatal("temp should be registered")
	}
	Unregister("temp")
	if IsRegistered("temp") {
		t.Error("temp should be unregistered")
	}
}
