// Package camera provides frame sources and a latest-frame buffer shared by
// the perception producers.
package camera

import (
	"github.com/teslashibe/go-sentry/pkg/faults"
)

// Backends
const (
	BackendDevice = "device"
	BackendWebRTC = "webrtc"
	BackendEdge   = "edge"
	BackendMock   = "mock"
)

// Config holds camera configuration parameters.
type Config struct {
	// Backend selects the frame source: device, webrtc, edge or mock.
	Backend string `koanf:"backend" json:"backend" validate:"oneof=device webrtc edge mock"`

	// Device is the capture device index or path (device backend).
	Device string `koanf:"device" json:"device"`

	// URL is the signalling endpoint (webrtc backend).
	URL string `koanf:"url" json:"url"`

	// Preset applies a named resolution profile before the fields below.
	Preset string `koanf:"preset" json:"preset"`

	// === Resolution ===
	Width     int `koanf:"width" json:"width"`         // Frame width in pixels
	Height    int `koanf:"height" json:"height"`       // Frame height in pixels
	Framerate int `koanf:"framerate" json:"framerate"` // Target FPS
	Quality   int `koanf:"quality" json:"quality"`     // JPEG quality 1-100
}

// Resolution limits
const (
	MinWidth     = 160
	MaxWidth     = 4096
	MinHeight    = 120
	MaxHeight    = 2160
	MaxFramerate = 120
)

// DefaultConfig returns a 640x480 device camera at 15 FPS, enough for
// pose and object inference at the default 10 Hz fusion rate.
func DefaultConfig() Config {
	return Config{
		Backend:   BackendDevice,
		Device:    "0",
		Width:     640,
		Height:    480,
		Framerate: 15,
		Quality:   85,
	}
}

// Validate checks if the config values are within valid ranges.
func (c *Config) Validate() error {
	var errs faults.ConfigError

	switch c.Backend {
	case BackendDevice:
		if c.Device == "" {
			errs.Add("device", "required for device backend")
		}
	case BackendWebRTC:
		if c.URL == "" {
			errs.Add("url", "required for webrtc backend")
		}
	case BackendEdge, BackendMock:
	default:
		errs.Add("backend", "must be device, webrtc, edge or mock, got %q", c.Backend)
	}

	if c.Preset != "" && GetPreset(c.Preset) == nil {
		errs.Add("preset", "unknown preset %q", c.Preset)
	}
	if c.Width < MinWidth || c.Width > MaxWidth {
		errs.Add("width", "must be between %d and %d", MinWidth, MaxWidth)
	}
	if c.Height < MinHeight || c.Height > MaxHeight {
		errs.Add("height", "must be between %d and %d", MinHeight, MaxHeight)
	}
	if c.Framerate < 1 || c.Framerate > MaxFramerate {
		errs.Add("framerate", "must be between 1 and %d", MaxFramerate)
	}
	if c.Quality < 1 || c.Quality > 100 {
		errs.Add("quality", "must be between 1 and 100")
	}
	return errs.Err()
}

// Resolved returns the config with its preset applied. Explicit fields
// set to zero take the preset's value.
func (c Config) Resolved() Config {
	p := GetPreset(c.Preset)
	if p == nil {
		return c
	}
	if c.Width == 0 {
		c.Width = p.Width
	}
	if c.Height == 0 {
		c.Height = p.Height
	}
	if c.Framerate == 0 {
		c.Framerate = p.Framerate
	}
	if c.Quality == 0 {
		c.Quality = p.Quality
	}
	return c
}
