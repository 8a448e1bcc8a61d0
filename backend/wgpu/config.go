package wgpu

import (
	"time"

	"github.com/gogpu/gputypes"
)

// Config controls adapter selection and device behavior.
type Config struct {
	// PowerPreference is passed to adapter selection.
	PowerPreference gputypes.PowerPreference

	// ForceFallbackAdapter requests a software adapter and lets Open accept
	// gogpu's software renderer, which it otherwise refuses.
	ForceFallbackAdapter bool

	// Backends restricts which native APIs are enumerated. Zero means all
	// registered backends.
	Backends gputypes.Backends

	// MapTimeout bounds each readback of a buffer after a pass. Zero means
	// DefaultMapTimeout.
	MapTimeout time.Duration

	// Label prefixes the debug labels of native objects.
	Label string
}

// DefaultMapTimeout is the readback timeout used when Config.MapTimeout is
// zero.
const DefaultMapTimeout = 10 * time.Second

// DefaultConfig returns the configuration the registered backend uses.
func DefaultConfig() Config {
	return Config{
		PowerPreference: gputypes.PowerPreferenceHighPerformance,
		MapTimeout:      DefaultMapTimeout,
		Label:           "dispatch",
	}
}

func (c Config) mapTimeout() time.Duration {
	if c.MapTimeout <= 0 {
		return DefaultMapTimeout
	}
	return c.MapTimeout
}

func (c Config) label(name string) string {
	if c.Label == "" {
		return name
	}
	return c.Label + "_" + name
}
