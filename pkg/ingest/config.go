package ingest

import (
	"time"

	"github.com/teslashibe/go-sentry/pkg/faults"
)

// Config controls the edge-node endpoint.
type Config struct {
	// Enabled mounts /ws/edge on the web server.
	Enabled bool `koanf:"enabled" json:"enabled"`

	// Node pins ingest to one node id. Empty follows the first node that
	// streams, until it disconnects.
	Node string `koanf:"node" json:"node"`

	// ReadTimeout drops a node that has sent nothing for this long.
	ReadTimeout time.Duration `koanf:"read_timeout" json:"read_timeout" validate:"gt=0"`

	// MaxMessageSize caps one inbound message. Frames arrive base64 encoded.
	MaxMessageSize int `koanf:"max_message_size" json:"max_message_size" validate:"gte=1024"`

	// MicBuffer is how many decoded chunks may queue before the oldest
	// are counted as overruns and dropped.
	MicBuffer int `koanf:"mic_buffer" json:"mic_buffer" validate:"gte=1"`

	// SampleRate is the rate reported to the audio pipeline. Edge payloads
	// carry their own rate; the loudness level does not depend on it.
	SampleRate int `koanf:"sample_rate" json:"sample_rate" validate:"gt=0"`
}

// DefaultConfig returns the ingest defaults.
func DefaultConfig() Config {
	return Config{
		ReadTimeout:    10 * time.Second,
		MaxMessageSize: 4 << 20,
		MicBuffer:      32,
		SampleRate:     16000,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	return faults.ValidateStruct(c)
}
