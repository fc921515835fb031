package signals

import (
	"strings"

	"github.com/teslashibe/go-sentry/pkg/detection"
)

// WeaponConfig selects which detections count as weapons.
type WeaponConfig struct {
	// Classes match detection classes ignoring case and surrounding space.
	Classes []string `json:"weapon_classes"`

	// MinConfidence is applied on top of the detector's own threshold.
	// Zero keeps everything the detector reports.
	MinConfidence float64 `json:"weapon_min_confidence"`
}

// DefaultWeaponConfig returns production defaults.
func DefaultWeaponConfig() WeaponConfig {
	return WeaponConfig{
		Classes: []string{"knife", "gun"},
	}
}

// WeaponExtractor reduces a detector pass to one weapon vote.
type WeaponExtractor struct {
	config  WeaponConfig
	classes map[string]bool
}

// NewWeaponExtractor creates an extractor.
func NewWeaponExtractor(cfg WeaponConfig) *WeaponExtractor {
	classes := make(map[string]bool, len(cfg.Classes))
	for _, c := range cfg.Classes {
		classes[normClass(c)] = true
	}
	return &WeaponExtractor{config: cfg, classes: classes}
}

// Extract votes active when any detection is a weapon class above the
// confidence floor. The strongest detection supplies strength, box and class.
func (e *WeaponExtractor) Extract(dets []detection.ObjectDetection) Vote {
	v := Vote{Kind: Weapon}
	var best *detection.ObjectDetection
	for i := range dets {
		d := &dets[i]
		if !e.classes[normClass(d.Class)] {
			continue
		}
		if e.config.MinConfidence > 0 && d.Confidence <= e.config.MinConfidence {
			continue
		}
		if best == nil || d.Confidence > best.Confidence {
			best = d
		}
	}
	if best == nil {
		return v
	}

	box := best.Box
	v.Active = true
	v.Strength = clamp01(best.Confidence)
	v.Box = &box
	v.Class = best.Class
	return v
}

func normClass(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
