package engine

import (
	"strings"
	"time"

	"github.com/teslashibe/go-sentry/pkg/faults"
	"github.com/teslashibe/go-sentry/pkg/fusion"
	"github.com/teslashibe/go-sentry/pkg/signals"
	"github.com/teslashibe/go-sentry/pkg/tracks"
)

// Config is the fusion tuning surface. Every field can be changed at
// runtime through SetConfig; the new values take effect on the next cycle.
type Config struct {
	// MotionSpeedThreshold is the vertical wrist speed that counts as a strike,
	// in px between consecutive pose results. A pose result is the detector's
	// cycle; when it keeps up with the fusion rate the two are the same.
	MotionSpeedThreshold float64 `koanf:"motion_speed_threshold" json:"motion_speed_threshold" validate:"gt=0"`

	// HandProximityThreshold is the wrist separation, px, below which hands are close.
	HandProximityThreshold float64 `koanf:"hand_proximity_threshold" json:"hand_proximity_threshold" validate:"gt=0"`

	// WeaponClasses are the object classes that raise a weapon alert.
	WeaponClasses []string `koanf:"weapon_classes" json:"weapon_classes" validate:"min=1,dive,required"`

	// WeaponMinConfidence drops weapon detections scoring at or below it.
	WeaponMinConfidence float64 `koanf:"weapon_min_confidence" json:"weapon_min_confidence" validate:"gte=0,lt=1"`

	// AudioLoudnessThreshold is on the 0-255 analyser scale.
	AudioLoudnessThreshold float64 `koanf:"audio_loudness_threshold" json:"audio_loudness_threshold" validate:"gt=0,lte=255"`

	// AudioWindowSize is how many recent audio levels are averaged.
	AudioWindowSize int `koanf:"audio_window_size" json:"audio_window_size" validate:"gte=1,lte=256"`

	// TrackStalenessWindow is how many consecutive pose results may miss a
	// track before it is retired. While the pose source is stale every fusion
	// cycle counts as a miss.
	TrackStalenessWindow int `koanf:"track_staleness_window" json:"track_staleness_window" validate:"gte=0"`

	// ClearDebounceWindow is how many quiet fusion cycles it takes to return to
	// Clear. Moves between alert levels are immediate.
	ClearDebounceWindow int `koanf:"clear_debounce_window" json:"clear_debounce_window" validate:"gte=1"`

	// CycleFrequency is the fusion rate in Hz.
	CycleFrequency float64 `koanf:"cycle_frequency" json:"cycle_frequency" validate:"gt=0,lte=100"`

	// KeypointMinConfidence is the keypoint score needed for centroids and wrists.
	KeypointMinConfidence float64 `koanf:"keypoint_min_confidence" json:"keypoint_min_confidence" validate:"gte=0,lte=1"`

	// MaxAssociationDistance is the largest centroid jump, px, that continues a track.
	MaxAssociationDistance float64 `koanf:"max_association_distance" json:"max_association_distance" validate:"gt=0"`

	// DetectorStalenessWindow is how many cycles a detector result stays usable.
	DetectorStalenessWindow int `koanf:"detector_staleness_window" json:"detector_staleness_window" validate:"gte=1"`

	// EvidenceIoUThreshold is the box overlap below which a weapon counts as new.
	EvidenceIoUThreshold float64 `koanf:"evidence_iou_threshold" json:"evidence_iou_threshold" validate:"gt=0,lte=1"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MotionSpeedThreshold:    15,
		HandProximityThreshold:  100,
		WeaponClasses:           []string{"knife", "gun"},
		WeaponMinConfidence:     0,
		AudioLoudnessThreshold:  80,
		AudioWindowSize:         5,
		TrackStalenessWindow:    2,
		ClearDebounceWindow:     3,
		CycleFrequency:          10,
		KeypointMinConfidence:   0.5,
		MaxAssociationDistance:  120,
		DetectorStalenessWindow: 5,
		EvidenceIoUThreshold:    0.5,
	}
}

// Validate checks every knob and reports all invalid ones at once.
func (c Config) Validate() error {
	return faults.ValidateStruct(c)
}

// Interval is the time between fusion cycles.
func (c Config) Interval() time.Duration {
	return time.Duration(float64(time.Second) / c.CycleFrequency)
}

// StalenessAge is how old a detector result may be before it is ignored.
func (c Config) StalenessAge() time.Duration {
	return time.Duration(c.DetectorStalenessWindow) * c.Interval()
}

// Tracks derives the track store settings.
func (c Config) Tracks() tracks.Config {
	return tracks.Config{
		MaxAssociationDistance: c.MaxAssociationDistance,
		StalenessWindow:        c.TrackStalenessWindow,
		KeypointMinConfidence:  c.KeypointMinConfidence,
	}
}

// Motion derives the fighting heuristic settings.
func (c Config) Motion() signals.MotionConfig {
	return signals.MotionConfig{
		SpeedThreshold:        c.MotionSpeedThreshold,
		ProximityThreshold:    c.HandProximityThreshold,
		KeypointMinConfidence: c.KeypointMinConfidence,
	}
}

// Weapon derives the weapon extractor settings. Class names are lower-cased.
func (c Config) Weapon() signals.WeaponConfig {
	classes := make([]string, len(c.WeaponClasses))
	for i, cl := range c.WeaponClasses {
		classes[i] = strings.ToLower(strings.TrimSpace(cl))
	}
	return signals.WeaponConfig{
		Classes:       classes,
		MinConfidence: c.WeaponMinConfidence,
	}
}

// Audio derives the loudness extractor settings.
func (c Config) Audio() signals.AudioConfig {
	return signals.AudioConfig{
		LoudnessThreshold: c.AudioLoudnessThreshold,
		WindowSize:        c.AudioWindowSize,
	}
}

// Fusion derives the state machine settings.
func (c Config) Fusion() fusion.Config {
	return fusion.Config{
		ClearDebounceCycles: c.ClearDebounceWindow,
		EvidenceIoU:         c.EvidenceIoUThreshold,
	}
}
