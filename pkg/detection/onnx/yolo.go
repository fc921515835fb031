package onnx

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-sentry/pkg/detection"
)

// YOLO detects objects with a YOLOv8 ONNX export.
type YOLO struct {
	*model
	cfg YOLOConfig
}

var _ detection.ObjectDetector = (*YOLO)(nil)

// YOLOConfig configures the object detector.
type YOLOConfig struct {
	ModelPath        string
	Labels           []string
	ConfidenceThresh float32
	NMSThresh        float32
	InputWidth       int
	InputHeight      int
}

// DefaultYOLOConfig is YOLOv8n at 640x640 with the COCO labels.
func DefaultYOLOConfig() YOLOConfig {
	return YOLOConfig{
		ModelPath:        "models/yolov8n.onnx",
		Labels:           detection.COCOClasses,
		ConfidenceThresh: 0.5,
		NMSThresh:        0.45,
		InputWidth:       640,
		InputHeight:      640,
	}
}

// NewYOLO loads the model.
func NewYOLO(cfg YOLOConfig, logger *slog.Logger) (*YOLO, error) {
	if len(cfg.Labels) == 0 {
		cfg.Labels = detection.COCOClasses
	}
	m, err := loadModel("yolo", cfg.ModelPath, image.Pt(cfg.InputWidth, cfg.InputHeight), 1.0/255, logger)
	if err != nil {
		return nil, err
	}
	return &YOLO{model: m, cfg: cfg}, nil
}

// Detect implements detection.ObjectDetector. Boxes are in frame pixels.
func (y *YOLO) Detect(ctx context.Context, jpeg []byte) ([]detection.ObjectDetection, error) {
	var dets []detection.ObjectDetection
	err := y.forward(ctx, jpeg, func(out []float32, shape []int, w, h float64) {
		if len(shape) != 3 {
			y.logger.Warn("unexpected output shape", "shape", shape)
			return
		}
		c := decodeYOLO(out, shape[1], shape[2], w/float64(y.cfg.InputWidth), h/float64(y.cfg.InputHeight), y.cfg.ConfidenceThresh)
		dets = y.suppress(c)
	})
	if len(dets) > 0 {
		y.logger.Debug("objects detected", "count", len(dets))
	}
	return dets, err
}

// candidate is a box that passed the confidence threshold, before NMS.
type candidate struct {
	box   image.Rectangle
	score float32
	class int
}

// decodeYOLO reads a [1, 4+classes, anchors] tensor. Each anchor column
// holds cx, cy, w, h in input pixels, then one score per class. sx and sy
// scale input pixels to frame pixels.
func decodeYOLO(out []float32, rows, anchors int, sx, sy float64, minScore float32) []candidate {
	if rows <= 4 || len(out) < rows*anchors {
		return nil
	}
	at := func(r, a int) float64 { return float64(out[r*anchors+a]) }

	var cs []candidate
	for a := 0; a < anchors; a++ {
		best, class := float32(0), -1
		for r := 4; r < rows; r++ {
			if s := out[r*anchors+a]; s > best {
				best, class = s, r-4
			}
		}
		if class < 0 || best < minScore {
			continue
		}
		cx, cy, w, h := at(0, a), at(1, a), at(2, a), at(3, a)
		cs = append(cs, candidate{
			box: image.Rect(
				int((cx-w/2)*sx), int((cy-h/2)*sy),
				int((cx+w/2)*sx), int((cy+h/2)*sy),
			),
			score: best,
			class: class,
		})
	}
	return cs
}

// suppress drops overlapping candidates with OpenCV's NMS.
func (y *YOLO) suppress(cs []candidate) []detection.ObjectDetection {
	if len(cs) == 0 {
		return nil
	}
	boxes := make([]image.Rectangle, len(cs))
	scores := make([]float32, len(cs))
	for i, c := range cs {
		boxes[i], scores[i] = c.box, c.score
	}

	keep := gocv.NMSBoxes(boxes, scores, y.cfg.ConfidenceThresh, y.cfg.NMSThresh)
	dets := make([]detection.ObjectDetection, 0, len(keep))
	for _, i := range keep {
		c := cs[i]
		dets = append(dets, detection.ObjectDetection{
			Class:      y.label(c.class),
			Confidence: float64(c.score),
			Box: detection.Box{
				X: float64(c.box.Min.X),
				Y: float64(c.box.Min.Y),
				W: float64(c.box.Dx()),
				H: float64(c.box.Dy()),
			},
		})
	}
	return dets
}

func (y *YOLO) label(class int) string {
	if class < len(y.cfg.Labels) {
		return y.cfg.Labels[class]
	}
	return fmt.Sprintf("class_%d", class)
}
