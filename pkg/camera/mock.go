package camera

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync/atomic"
	"time"
)

// MockSource emits a synthetic gray frame at a fixed rate.
type MockSource struct {
	interval time.Duration
	width    int
	height   int
	data     []byte
	frames   atomic.Int64
	closed   atomic.Bool
	failWith error
}

var _ Source = (*MockSource)(nil)

// MockOption configures a MockSource.
type MockOption func(*MockSource)

// WithFailure makes Next return err.
func WithFailure(err error) MockOption {
	return func(m *MockSource) { m.failWith = err }
}

// NewMockSource creates a mock emitting frames at cfg.Framerate.
func NewMockSource(cfg Config, opts ...MockOption) *MockSource {
	fps := cfg.Framerate
	if fps <= 0 {
		fps = 15
	}
	m := &MockSource{
		interval: time.Second / time.Duration(fps),
		width:    cfg.Width,
		height:   cfg.Height,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.data = grayJPEG(m.width, m.height, cfg.Quality)
	return m
}

// Next implements Source.
func (m *MockSource) Next(ctx context.Context) (Frame, error) {
	if m.failWith != nil {
		return Frame{}, m.failWith
	}
	t := time.NewTimer(m.interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case now := <-t.C:
		m.frames.Add(1)
		return Frame{Data: m.data, Width: m.width, Height: m.height, CapturedAt: now}, nil
	}
}

// Frames returns how many frames were emitted.
func (m *MockSource) Frames() int64 { return m.frames.Load() }

// Name implements Source.
func (m *MockSource) Name() string { return "mock" }

// Close implements Source.
func (m *MockSource) Close() error {
	m.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (m *MockSource) Closed() bool { return m.closed.Load() }

func grayJPEG(w, h, quality int) []byte {
	if w <= 0 || h <= 0 {
		w, h = 64, 48
	}
	if quality <= 0 {
		quality = 75
	}
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	img.Set(0, 0, color.Gray{Y: 0})
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	return buf.Bytes()
}
