package signals

import (
	"math"

	"github.com/teslashibe/go-sentry/pkg/detection"
	"github.com/teslashibe/go-sentry/pkg/tracks"
)

// MotionConfig tunes the fighting heuristic.
type MotionConfig struct {
	// SpeedThreshold is the vertical wrist movement, px between a track's
	// previous and current pose, that counts as a strike.
	SpeedThreshold float64 `json:"motion_speed_threshold"`

	// ProximityThreshold is the horizontal wrist separation, px, below which hands are close.
	ProximityThreshold float64 `json:"hand_proximity_threshold"`

	// KeypointMinConfidence is the confidence a wrist needs to be used.
	KeypointMinConfidence float64 `json:"keypoint_min_confidence"`
}

// DefaultMotionConfig returns production defaults.
func DefaultMotionConfig() MotionConfig {
	return MotionConfig{
		SpeedThreshold:        15,
		ProximityThreshold:    100,
		KeypointMinConfidence: 0.5,
	}
}

// MotionClassifier flags fast, close hand motion as fighting.
type MotionClassifier struct {
	config MotionConfig
}

// NewMotionClassifier creates a classifier.
func NewMotionClassifier(cfg MotionConfig) *MotionClassifier {
	return &MotionClassifier{config: cfg}
}

// Classify votes on a single track. Tracks without a previous pose, or with
// either wrist below the confidence threshold in either pose, vote inactive.
func (c *MotionClassifier) Classify(t tracks.Track) Vote {
	v := Vote{Kind: Fighting, TrackID: t.ID}
	if t.Previous == nil {
		return v
	}

	minConf := c.config.KeypointMinConfidence
	lw, ok1 := t.Current.Confident(detection.LeftWrist, minConf)
	rw, ok2 := t.Current.Confident(detection.RightWrist, minConf)
	plw, ok3 := t.Previous.Confident(detection.LeftWrist, minConf)
	prw, ok4 := t.Previous.Confident(detection.RightWrist, minConf)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return v
	}

	speed := math.Max(math.Abs(lw.Y-plw.Y), math.Abs(rw.Y-prw.Y))
	separation := math.Abs(lw.X - rw.X)

	if speed > c.config.SpeedThreshold && separation < c.config.ProximityThreshold {
		v.Active = true
		v.Strength = excess(speed, c.config.SpeedThreshold)
	}
	return v
}

// ClassifyAll votes on every matched track.
func (c *MotionClassifier) ClassifyAll(ts []tracks.Track) []Vote {
	votes := make([]Vote, 0, len(ts))
	for _, t := range ts {
		if !t.Matched() {
			continue
		}
		votes = append(votes, c.Classify(t))
	}
	return votes
}
