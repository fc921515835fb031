// Package onnx runs the pose and object models through OpenCV's DNN module.
package onnx

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// model is a loaded network. gocv.Net is not safe for concurrent use, so
// every forward pass holds mu.
type model struct {
	name   string
	input  image.Point
	scale  float64
	logger *slog.Logger

	mu  sync.Mutex
	net gocv.Net
}

func loadModel(name, path string, input image.Point, scale float64, logger *slog.Logger) (*model, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%s model: %w", name, err)
	}
	net := gocv.ReadNetFromONNX(path)
	if net.Empty() {
		return nil, fmt.Errorf("%s model: %s is not a readable ONNX graph", name, path)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	if logger == nil {
		logger = slog.Default()
	}
	return &model{
		name:   name,
		input:  input,
		scale:  scale,
		logger: logger.With("component", name, "model", path),
		net:    net,
	}, nil
}

// forward decodes jpeg, runs the network and hands the flat output tensor,
// its shape and the source image size to read.
func (m *model) forward(ctx context.Context, jpeg []byte, read func(out []float32, shape []int, w, h float64)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	img, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return fmt.Errorf("%s: decode frame: %w", m.name, err)
	}
	defer img.Close()
	if img.Empty() {
		return fmt.Errorf("%s: decode frame: %w", m.name, errors.New("empty image"))
	}

	blob := gocv.BlobFromImage(img, m.scale, m.input, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.net.SetInput(blob, "")
	out := m.net.Forward("")
	defer out.Close()

	data, err := out.DataPtrFloat32()
	if err != nil {
		return fmt.Errorf("%s: read output: %w", m.name, err)
	}
	read(data, out.Size(), float64(img.Cols()), float64(img.Rows()))
	return ctx.Err()
}

func (m *model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.net.Close()
}
