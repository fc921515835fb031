package detection

import (
	"fmt"
	"math"
	"strings"

	"github.com/teslashibe/go-sentry/pkg/faults"
)

// Box is an axis-aligned bounding box in frame pixels, top-left anchored.
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Center returns the center point of the box
func (b Box) Center() (x, y float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Area returns the area of the box
func (b Box) Area() float64 {
	return b.W * b.H
}

// IoU returns the intersection over union of two boxes.
func (b Box) IoU(o Box) float64 {
	x1 := math.Max(b.X, o.X)
	y1 := math.Max(b.Y, o.Y)
	x2 := math.Min(b.X+b.W, o.X+o.W)
	y2 := math.Min(b.Y+b.H, o.Y+o.H)

	inter := math.Max(0, x2-x1) * math.Max(0, y2-y1)
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// ObjectDetection is one detected object from a single detector pass.
type ObjectDetection struct {
	Class      string  `json:"class"`
	Box        Box     `json:"box"`
	Confidence float64 `json:"confidence"`
}

// Validate reports detections without a class or with an unusable box.
func (d ObjectDetection) Validate() error {
	if strings.TrimSpace(d.Class) == "" {
		return fmt.Errorf("%w: detection has no class", faults.ErrMalformedDetection)
	}
	if !finite(d.Box.X) || !finite(d.Box.Y) || !finite(d.Box.W) || !finite(d.Box.H) || d.Box.W < 0 || d.Box.H < 0 {
		return fmt.Errorf("%w: detection %s has invalid box", faults.ErrMalformedDetection, d.Class)
	}
	if math.IsNaN(d.Confidence) {
		return fmt.Errorf("%w: detection %s has NaN confidence", faults.ErrMalformedDetection, d.Class)
	}
	return nil
}

// FilterClass returns the detections whose class is in classes.
func FilterClass(dets []ObjectDetection, classes ...string) []ObjectDetection {
	var out []ObjectDetection
	for _, d := range dets {
		for _, c := range classes {
			if d.Class == c {
				out = append(out, d)
				break
			}
		}
	}
	return out
}
