// Package detection defines the perception data model shared by detector
// backends and the fusion engine: pose keypoints, person poses and object
// detections, all in frame pixel space.
package detection

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/teslashibe/go-sentry/pkg/faults"
)

// Label names an anatomical landmark. Values follow the 17-point COCO order
// used by MoveNet and PoseNet.
type Label int

const (
	Nose Label = iota
	LeftEye
	RightEye
	LeftEar
	RightEar
	LeftShoulder
	RightShoulder
	LeftElbow
	RightElbow
	LeftWrist
	RightWrist
	LeftHip
	RightHip
	LeftKnee
	RightKnee
	LeftAnkle
	RightAnkle

	NumLabels = 17
)

var labelNames = [NumLabels]string{
	"nose", "leftEye", "rightEye", "leftEar", "rightEar",
	"leftShoulder", "rightShoulder", "leftElbow", "rightElbow",
	"leftWrist", "rightWrist", "leftHip", "rightHip",
	"leftKnee", "rightKnee", "leftAnkle", "rightAnkle",
}

// String returns the camelCase landmark name.
func (l Label) String() string {
	if l < 0 || int(l) >= NumLabels {
		return fmt.Sprintf("label(%d)", int(l))
	}
	return labelNames[l]
}

// ParseLabel looks up a landmark by name.
func ParseLabel(s string) (Label, bool) {
	for i, n := range labelNames {
		if n == s {
			return Label(i), true
		}
	}
	return 0, false
}

// MarshalJSON encodes the label as its name.
func (l Label) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON decodes a label name.
func (l *Label) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, ok := ParseLabel(s)
	if !ok {
		return fmt.Errorf("%w: unknown keypoint %q", faults.ErrMalformedDetection, s)
	}
	*l = v
	return nil
}

// Keypoint is one landmark in frame pixel space.
type Keypoint struct {
	Label      Label   `json:"label"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
}

// PersonPose is the set of keypoints for one subject in one frame.
type PersonPose struct {
	Keypoints  []Keypoint `json:"keypoints"`
	Confidence float64    `json:"confidence"`
}

// Keypoint returns the landmark with the given label.
func (p *PersonPose) Keypoint(l Label) (Keypoint, bool) {
	for _, kp := range p.Keypoints {
		if kp.Label == l {
			return kp, true
		}
	}
	return Keypoint{}, false
}

// Confident returns the landmark only when its confidence is above minConf.
func (p *PersonPose) Confident(l Label, minConf float64) (Keypoint, bool) {
	kp, ok := p.Keypoint(l)
	if !ok || kp.Confidence <= minConf {
		return Keypoint{}, false
	}
	return kp, true
}

// Centroid is the mean position of keypoints with confidence >= minConf.
// ok is false when no keypoint qualifies.
func (p *PersonPose) Centroid(minConf float64) (x, y float64, ok bool) {
	n := 0
	for _, kp := range p.Keypoints {
		if kp.Confidence < minConf {
			continue
		}
		x += kp.X
		y += kp.Y
		n++
	}
	if n == 0 {
		return 0, 0, false
	}
	return x / float64(n), y / float64(n), true
}

// Validate reports malformed poses: no keypoints, non-finite coordinates,
// or confidences outside 0..1.
func (p *PersonPose) Validate() error {
	if len(p.Keypoints) == 0 {
		return fmt.Errorf("%w: pose has no keypoints", faults.ErrMalformedDetection)
	}
	for _, kp := range p.Keypoints {
		if !finite(kp.X) || !finite(kp.Y) {
			return fmt.Errorf("%w: keypoint %s has non-finite position", faults.ErrMalformedDetection, kp.Label)
		}
		if kp.Confidence < 0 || kp.Confidence > 1 || math.IsNaN(kp.Confidence) {
			return fmt.Errorf("%w: keypoint %s confidence %v", faults.ErrMalformedDetection, kp.Label, kp.Confidence)
		}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
