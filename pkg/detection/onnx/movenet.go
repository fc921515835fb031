package onnx

import (
	"context"
	"image"
	"log/slog"

	"github.com/teslashibe/go-sentry/pkg/detection"
)

// MoveNet output layout: up to 6 people, each 17 keypoints as (y, x, score)
// followed by a box (ymin, xmin, ymax, xmax) and the person score.
const (
	moveNetPeople = 6
	moveNetStride = detection.NumLabels*3 + 5
)

// MoveNet estimates multi-person poses with a MoveNet MultiPose ONNX export.
type MoveNet struct {
	*model
	cfg MoveNetConfig
}

var _ detection.PoseEstimator = (*MoveNet)(nil)

// MoveNetConfig configures the pose estimator.
type MoveNetConfig struct {
	ModelPath      string
	ScoreThreshold float32
	MaxDetections  int
	InputSize      int
}

// DefaultMoveNetConfig matches the browser pipeline: five people at most,
// person score above 0.5.
func DefaultMoveNetConfig() MoveNetConfig {
	return MoveNetConfig{
		ModelPath:      "models/movenet_multipose.onnx",
		ScoreThreshold: 0.5,
		MaxDetections:  5,
		InputSize:      256,
	}
}

// NewMoveNet loads the pose model.
func NewMoveNet(cfg MoveNetConfig, logger *slog.Logger) (*MoveNet, error) {
	if cfg.MaxDetections <= 0 || cfg.MaxDetections > moveNetPeople {
		cfg.MaxDetections = moveNetPeople
	}
	m, err := loadModel("movenet", cfg.ModelPath, image.Pt(cfg.InputSize, cfg.InputSize), 1, logger)
	if err != nil {
		return nil, err
	}
	return &MoveNet{model: m, cfg: cfg}, nil
}

// Estimate implements detection.PoseEstimator. Keypoints are in frame
// pixels.
func (m *MoveNet) Estimate(ctx context.Context, jpeg []byte) ([]detection.PersonPose, error) {
	var poses []detection.PersonPose
	err := m.forward(ctx, jpeg, func(out []float32, _ []int, w, h float64) {
		poses = decodeMoveNet(out, w, h, m.cfg.ScoreThreshold, m.cfg.MaxDetections)
	})
	m.logger.Debug("poses estimated", "count", len(poses))
	return poses, err
}

// decodeMoveNet converts the flat [1, 6, 56] tensor into poses scaled to
// a w x h frame.
func decodeMoveNet(data []float32, w, h float64, minScore float32, maxPeople int) []detection.PersonPose {
	var poses []detection.PersonPose
	for p := 0; p < moveNetPeople && len(poses) < maxPeople; p++ {
		base := p * moveNetStride
		if base+moveNetStride > len(data) {
			break
		}
		score := data[base+moveNetStride-1]
		if score < minScore {
			continue
		}
		pose := detection.PersonPose{
			Keypoints:  make([]detection.Keypoint, 0, detection.NumLabels),
			Confidence: float64(score),
		}
		for k := 0; k < detection.NumLabels; k++ {
			off := base + k*3
			pose.Keypoints = append(pose.Keypoints, detection.Keypoint{
				Label:      detection.Label(k),
				Y:          float64(data[off]) * h,
				X:          float64(data[off+1]) * w,
				Confidence: clamp01(float64(data[off+2])),
			})
		}
		poses = append(poses, pose)
	}
	return poses
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
