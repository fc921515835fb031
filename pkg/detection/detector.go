package detection

import (
	"context"
)

// ObjectDetector finds objects in a JPEG frame.
type ObjectDetector interface {
	// Detect returns every object found in the frame.
	Detect(ctx context.Context, jpeg []byte) ([]ObjectDetection, error)

	// Close releases resources
	Close() error
}

// PoseEstimator finds people and their keypoints in a JPEG frame.
type PoseEstimator interface {
	// Estimate returns one PersonPose per detected subject.
	Estimate(ctx context.Context, jpeg []byte) ([]PersonPose, error)

	// Close releases resources
	Close() error
}

// Config holds detector model configuration.
type Config struct {
	// ObjectModel is the path to a YOLOv8 ONNX model.
	ObjectModel string `koanf:"object_model" json:"object_model"`

	// ObjectLabels optionally points to a newline-separated class list.
	// Empty means the 80 COCO classes.
	ObjectLabels string `koanf:"object_labels" json:"object_labels"`

	// ObjectConfidence is the minimum class score kept by the object detector.
	ObjectConfidence float64 `koanf:"object_confidence" json:"object_confidence" validate:"gte=0,lte=1"`

	// PoseModel is the path to a MoveNet MultiPose ONNX model.
	PoseModel string `koanf:"pose_model" json:"pose_model"`

	// PoseScoreThreshold drops people whose overall score is below it.
	PoseScoreThreshold float64 `koanf:"pose_score_threshold" json:"pose_score_threshold" validate:"gte=0,lte=1"`

	// MaxPoses caps the number of people returned per frame.
	MaxPoses int `koanf:"max_poses" json:"max_poses" validate:"gte=1,lte=6"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ObjectModel:        "models/yolov8n.onnx",
		ObjectConfidence:   0.5,
		PoseModel:          "models/movenet_multipose.onnx",
		PoseScoreThreshold: 0.5,
		MaxPoses:           5,
	}
}
