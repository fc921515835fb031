package audioio

import (
	"time"

	"github.com/teslashibe/go-sentry/pkg/faults"
)

// Backend names an audio implementation.
type Backend string

const (
	BackendAuto Backend = "auto"
	BackendALSA Backend = "alsa"
	BackendEdge Backend = "edge"
	BackendMock Backend = "mock"
	// BackendNone disables audio. The loud noise signal stays inactive.
	BackendNone Backend = "none"
)

// Config describes the capture stream. Playback reuses the rate and
// channel count so synthesized speech is resampled once.
type Config struct {
	Backend    Backend `koanf:"backend" json:"backend" validate:"oneof=auto alsa edge mock none"`
	SampleRate int     `koanf:"sample_rate" json:"sample_rate"`
	Channels   int     `koanf:"channels" json:"channels"`
	// BufferDuration is the chunk length, which is also the interval
	// between loudness levels.
	BufferDuration time.Duration `koanf:"buffer_duration" json:"buffer_duration"`

	// Device and OutputDevice are ALSA names such as "plughw:1,0". Empty
	// means "default".
	Device       string `koanf:"device" json:"device"`
	OutputDevice string `koanf:"output_device" json:"output_device"`
}

// DefaultConfig captures 16kHz mono in 50ms chunks.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     16000,
		Channels:       1,
		BufferDuration: 50 * time.Millisecond,
	}
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var ce faults.ConfigError
	if !c.Backend.valid() {
		ce.Add("backend", "unsupported backend %q", c.Backend)
	}
	if c.SampleRate <= 0 {
		ce.Add("sample_rate", "must be positive, got %d", c.SampleRate)
	}
	if c.Channels != 1 && c.Channels != 2 {
		ce.Add("channels", "must be 1 or 2, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		ce.Add("buffer_duration", "must be positive, got %v", c.BufferDuration)
	}
	return ce.Err()
}

func (b Backend) valid() bool {
	switch b {
	case BackendAuto, BackendALSA, BackendEdge, BackendMock, BackendNone:
		return true
	}
	return false
}

// BufferSize is the number of frames in one chunk.
func (c *Config) BufferSize() int {
	return int(int64(c.SampleRate) * int64(c.BufferDuration) / int64(time.Second))
}

// BufferBytes is the PCM16 size of one chunk.
func (c *Config) BufferBytes() int { return 2 * c.Channels * c.BufferSize() }
