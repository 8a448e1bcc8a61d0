package config

import (
	"go/ast"
	"go/parser"
	"go/token"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/spf13/viper"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(nil, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := Default()
	if cfg.Backend.Name != want.Backend.Name || cfg.Dispatch.ElementSize != want.Dispatch.ElementSize ||
		cfg.Logging.Level != want.Logging.Level || cfg.Backend.MapTimeout != want.Backend.MapTimeout {
		t.Errorf("Load() = %+v, want defaults %+v", cfg, want)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpurun.yaml")
	data := `
backend:
  name: host
  power_preference: low-power
  apis: [vulkan, gl]
  map_timeout: 2s
dispatch:
  memory_budget: 1048576
  element_size: 16
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(viper.New(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend.Name != "host" {
		t.Errorf("Backend.Name = %q, want host", cfg.Backend.Name)
	}
	if cfg.Backend.MapTimeout != 2*time.Second {
		t.Errorf("Backend.MapTimeout = %v, want 2s", cfg.Backend.MapTimeout)
	}
	if cfg.Dispatch.MemoryBudget != 1<<20 || cfg.Dispatch.ElementSize != 16 {
		t.Errorf("Dispatch = %+v", cfg.Dispatch)
	}
	if cfg.Dispatch.PreviewBytes != 64 {
		t.Errorf("PreviewBytes = %d, want default 64", cfg.Dispatch.PreviewBytes)
	}
	if cfg.PowerPreference() != gputypes.PowerPreferenceLowPower {
		t.Errorf("PowerPreference() = %v, want LowPower", cfg.PowerPreference())
	}
	if got := cfg.Backends(); got != gputypes.BackendsVulkan|gputypes.BackendsGL {
		t.Errorf("Backends() = %v, want Vulkan|GL", got)
	}
	if cfg.LogLevel() != slog.LevelDebug {
		t.Errorf("LogLevel() = %v, want Debug", cfg.LogLevel())
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpurun.yaml")
	if err := os.WriteFile(path, []byte("backend:\n  name: wgpu\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GPUDISPATCH_BACKEND_NAME", "host")
	t.Setenv("GPUDISPATCH_DISPATCH_ELEMENT_SIZE", "8")

	cfg, err := Load(nil, path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend.Name != "host" || cfg.Dispatch.ElementSize != 8 {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
}

func TestLoadFlagOverridesEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("GPUDISPATCH_BACKEND_NAME", "wgpu")

	v := viper.New()
	v.Set("backend.name", "host")
	cfg, err := Load(v, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend.Name != "host" {
		t.Errorf("Backend.Name = %q, want host", cfg.Backend.Name)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("backend: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	invalid := filepath.Join(dir, "invalid.yaml")
	if err := os.WriteFile(invalid, []byte("backend:\n  name: cuda\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		want string
	}{
		{"malformed yaml", bad, "reading config"},
		{"invalid value", invalid, "backend.name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(nil, tt.path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"default", func(*Config) {}, ""},
		{"backend", func(c *Config) { c.Backend.Name = "metal" }, "backend.name"},
		{"power", func(c *Config) { c.Backend.PowerPreference = "max" }, "backend.power_preference"},
		{"api", func(c *Config) { c.Backend.APIs = []string{"Vulkan", "glide"} }, "glide"},
		{"timeout", func(c *Config) { c.Backend.MapTimeout = -time.Second }, "backend.map_timeout"},
		{"budget", func(c *Config) { c.Dispatch.MemoryBudget = -1 }, "dispatch.memory_budget"},
		{"element size", func(c *Config) { c.Dispatch.ElementSize = 0 }, "dispatch.element_size"},
		{"preview", func(c *Config) { c.Dispatch.PreviewBytes = -1 }, "dispatch.preview_bytes"},
		{"level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestMappingDefaults(t *testing.T) {
	cfg := Default()
	if cfg.PowerPreference() != gputypes.PowerPreferenceHighPerformance {
		t.Errorf("PowerPreference() = %v", cfg.PowerPreference())
	}
	if cfg.Backends() != gputypes.BackendsNone {
		t.Errorf("Backends() = %v, want none (all)", cfg.Backends())
	}
	if cfg.LogLevel() != slog.LevelWarn {
		t.Errorf("LogLevel() = %v, want Warn", cfg.LogLevel())
	}
	cfg.Backend.PowerPreference = "none"
	if cfg.PowerPreference() != gputypes.PowerPreferenceNone {
		t.Errorf("PowerPreference(none) = %v", cfg.PowerPreference())
	}
}

// Every exported config type carries a doc comment.
func TestExportedTypesDocumented(t *testing.T) {
	f, err := parser.ParseFile(token.NewFileSet(), "config.go", nil, parser.ParseComments)
	if err != nil {
		t.Fatal(err)
	}
	for _, decl := range f.Decls {
		gd, ok := decl.(*ast.GenDecl)
		if !ok || gd.Tok != token.TYPE {
			continue
		}
		for _, s := range gd.Specs {
			ts := s.(*ast.TypeSpec)
			if ts.Name.IsExported() && gd.Doc == nil && ts.Doc == nil {
				t.Errorf("type %s has no doc comment", ts.Name.Name)
			}
		}
	}
}
