// Package capture reads frames from a local camera through OpenCV.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-sentry/pkg/camera"
	"github.com/teslashibe/go-sentry/pkg/faults"
)

// Device is a camera.Source backed by gocv.VideoCapture.
type Device struct {
	mu     sync.Mutex
	cap    *gocv.VideoCapture
	mat    gocv.Mat
	config camera.Config
	name   string
	period time.Duration
	last   time.Time
	closed bool
	logger *slog.Logger
}

var _ camera.Source = (*Device)(nil)

// Open opens the capture device and reads one frame to prove it works.
// Any failure is a faults.DeviceError.
func Open(cfg camera.Config, logger *slog.Logger) (*Device, error) {
	if logger == nil {
		logger = slog.Default()
	}
	name := "camera:" + cfg.Device

	var (
		vc  *gocv.VideoCapture
		err error
	)
	if idx, convErr := strconv.Atoi(cfg.Device); convErr == nil {
		vc, err = gocv.OpenVideoCapture(idx)
	} else {
		vc, err = gocv.OpenVideoCapture(cfg.Device)
	}
	if err != nil {
		return nil, faults.Device(name, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, faults.Device(name, errors.New("not opened"))
	}

	vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	vc.Set(gocv.VideoCaptureFPS, float64(cfg.Framerate))

	d := &Device{
		cap:    vc,
		mat:    gocv.NewMat(),
		config: cfg,
		name:   name,
		period: time.Second / time.Duration(max(cfg.Framerate, 1)),
		logger: logger.With("component", "capture", "device", cfg.Device),
	}
	if ok := vc.Read(&d.mat); !ok || d.mat.Empty() {
		d.Close()
		return nil, faults.Device(name, errors.New("no frames"))
	}
	d.logger.Info("camera opened", "width", d.mat.Cols(), "height", d.mat.Rows())
	return d, nil
}

// Next reads and JPEG-encodes the next frame, pacing reads to the
// configured framerate.
func (d *Device) Next(ctx context.Context) (camera.Frame, error) {
	if wait := d.period - time.Since(d.last); wait > 0 {
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return camera.Frame{}, ctx.Err()
		case <-t.C:
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return camera.Frame{}, faults.Device(d.name, errors.New("closed"))
	}

	if ok := d.cap.Read(&d.mat); !ok || d.mat.Empty() {
		return camera.Frame{}, faults.Device(d.name, errors.New("read failed"))
	}
	now := time.Now()
	d.last = now

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, d.mat, []int{int(gocv.IMWriteJpegQuality), d.config.Quality})
	if err != nil {
		return camera.Frame{}, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())
	return camera.Frame{
		Data:       data,
		Width:      d.mat.Cols(),
		Height:     d.mat.Rows(),
		CapturedAt: now,
	}, nil
}

// Name implements camera.Source.
func (d *Device) Name() string { return d.name }

// Close releases the device. Safe to call more than once.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.mat.Close()
	return d.cap.Close()
}
