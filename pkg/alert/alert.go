// Package alert delivers alert transitions from the fusion engine to sinks.
//
// The engine hands each transition to a Dispatcher, which never blocks it.
// Every sink has its own bounded queue; a slow sink only loses its own
// oldest pending alerts.
package alert

import (
	"context"
	"time"

	"github.com/teslashibe/go-sentry/pkg/fusion"
	"github.com/teslashibe/go-sentry/pkg/tts"
)

// Sink receives alert transitions.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Deliver handles one transition. ctx carries the per-delivery timeout.
	Deliver(ctx context.Context, state fusion.AlertState) error
}

// Config holds dispatcher and sink settings.
type Config struct {
	// Buffer is how many undelivered alerts each sink may hold.
	Buffer int `koanf:"buffer" json:"buffer" validate:"gte=1,lte=4096"`

	// SinkTimeout bounds one delivery.
	SinkTimeout time.Duration `koanf:"sink_timeout" json:"sink_timeout" validate:"gt=0"`

	// HistorySize is how many transitions the dashboard keeps.
	HistorySize int `koanf:"history_size" json:"history_size" validate:"gte=1"`

	Voice VoiceConfig `koanf:"voice" json:"voice"`
}

// VoiceConfig controls spoken announcements.
type VoiceConfig struct {
	Enabled bool `koanf:"enabled" json:"enabled"`

	// MinInterval is the average spacing between announcements.
	MinInterval time.Duration `koanf:"min_interval" json:"min_interval" validate:"gte=0"`

	// Burst is how many announcements may be spoken back to back.
	Burst int `koanf:"burst" json:"burst" validate:"gte=1"`

	TTS tts.Settings `koanf:"tts" json:"tts"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Buffer:      32,
		SinkTimeout: 5 * time.Second,
		HistorySize: 200,
		Voice: VoiceConfig{
			Enabled:     false,
			MinInterval: 3 * time.Second,
			Burst:       2,
			TTS:         tts.DefaultSettings(),
		},
	}
}

// Event is the websocket envelope for an alert transition.
type Event struct {
	Type  string            `json:"type"`
	Alert fusion.AlertState `json:"alert"`
}

// Event types.
const (
	EventTransition = "alert"
	EventCurrent    = "current"
)
