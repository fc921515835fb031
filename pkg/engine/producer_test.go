package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/teslashibe/go-sentry/pkg/audioio"
	"github.com/teslashibe/go-sentry/pkg/camera"
	"github.com/teslashibe/go-sentry/pkg/detection"
	"github.com/teslashibe/go-sentry/pkg/faults"
)

func newFrames() *camera.Buffer {
	b := camera.NewBuffer()
	b.Put(camera.Frame{Data: []byte{0xff, 0xd8, 0xff, 0xd9}, Width: 640, Height: 480, CapturedAt: time.Now()})
	return b
}

func testProducerConfig() ProducerConfig {
	return ProducerConfig{
		Timeout:         50 * time.Millisecond,
		BreakerFailures: 5,
		BreakerCooldown: time.Minute,
	}
}

func TestRegister(t *testing.T) {
	var r Register[int]
	if _, _, _, ok := r.Load(); ok {
		t.Fatal("empty register reported a value")
	}
	if r.Fresh(t0, time.Hour) {
		t.Fatal("empty register reported fresh")
	}

	r.Store(1, t0)
	r.Store(2, t0.Add(time.Second))
	v, at, seq, ok := r.Load()
	if !ok || v != 2 || seq != 2 || !at.Equal(t0.Add(time.Second)) {
		t.Errorf("Load = %v %v %v %v", v, at, seq, ok)
	}
	if !r.Fresh(t0.Add(2*time.Second), time.Second) {
		t.Error("expected fresh at exactly maxAge")
	}
	if r.Fresh(t0.Add(3*time.Second), time.Second) {
		t.Error("expected stale past maxAge")
	}
}

func TestFrameProducer_Success(t *testing.T) {
	frames := newFrames()
	det := detection.NewMockObjectDetector([]detection.ObjectDetection{gun(0.9)})
	p := NewObjectProducer(testProducerConfig(), frames, det, nil)

	f, _ := frames.Latest()
	p.Process(context.Background(), f)

	res, _, seq, ok := p.Output().Load()
	if !ok || seq != 1 {
		t.Fatalf("no result stored")
	}
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if len(res.Items) != 1 || res.Items[0].Class != "gun" {
		t.Errorf("items = %+v", res.Items)
	}
	if res.FrameSeq != f.Seq {
		t.Errorf("frame seq = %d, want %d", res.FrameSeq, f.Seq)
	}
}

func TestFrameProducer_TimeoutReportsAbsence(t *testing.T) {
	frames := newFrames()
	est := detection.NewMockPoseEstimator([]detection.PersonPose{fighter(0, 0)})
	est.SetDelay(2 * time.Second)
	p := NewPoseProducer(testProducerConfig(), frames, est, nil)

	f, _ := frames.Latest()
	start := time.Now()
	p.Process(context.Background(), f)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Process blocked for %v", elapsed)
	}

	res, _, _, ok := p.Output().Load()
	if !ok {
		t.Fatal("timeout should still publish a result")
	}
	if !errors.Is(res.Err, faults.ErrDetectorTimeout) {
		t.Errorf("err = %v, want ErrDetectorTimeout", res.Err)
	}
	if len(res.Items) != 0 {
		t.Errorf("timed out result carried %d items", len(res.Items))
	}
}

type stubbornDetector struct {
	release chan struct{}
}

func (s *stubbornDetector) Detect(context.Context, []byte) ([]detection.ObjectDetection, error) {
	<-s.release
	return nil, nil
}

func (s *stubbornDetector) Close() error { return nil }

func TestFrameProducer_IgnoresContextStillTimesOut(t *testing.T) {
	det := &stubbornDetector{release: make(chan struct{})}
	defer close(det.release)

	frames := newFrames()
	p := NewObjectProducer(testProducerConfig(), frames, det, nil)
	f, _ := frames.Latest()

	for i := 0; i < 2; i++ {
		start := time.Now()
		p.Process(context.Background(), f)
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Fatalf("call %d blocked for %v", i, elapsed)
		}
		res, _, _, _ := p.Output().Load()
		if !errors.Is(res.Err, faults.ErrDetectorTimeout) {
			t.Errorf("call %d: err = %v, want timeout", i, res.Err)
		}
	}
}

func TestFrameProducer_BreakerOpens(t *testing.T) {
	frames := newFrames()
	det := detection.NewMockObjectDetector()
	det.SetError(errors.New("model crashed"))
	p := NewObjectProducer(testProducerConfig(), frames, det, nil)
	f, _ := frames.Latest()

	for i := 0; i < 5; i++ {
		p.Process(context.Background(), f)
	}
	p.Process(context.Background(), f)

	res, _, _, _ := p.Output().Load()
	if !errors.Is(res.Err, gobreaker.ErrOpenState) {
		t.Errorf("err = %v, want open breaker", res.Err)
	}
	if got := det.Calls(); got != 5 {
		t.Errorf("detector called %d times, want 5", got)
	}
}

func TestFrameProducer_DropsMalformed(t *testing.T) {
	frames := newFrames()
	bad := detection.PersonPose{Keypoints: []detection.Keypoint{{Label: detection.Nose, X: math.NaN(), Confidence: 0.9}}}
	est := detection.NewMockPoseEstimator([]detection.PersonPose{fighter(0, 0), bad, {}})
	p := NewPoseProducer(testProducerConfig(), frames, est, nil)
	f, _ := frames.Latest()

	p.Process(context.Background(), f)

	res, _, _, _ := p.Output().Load()
	if res.Err != nil {
		t.Fatalf("malformed items should not fail the result: %v", res.Err)
	}
	if len(res.Items) != 1 {
		t.Errorf("kept %d poses, want 1", len(res.Items))
	}
}

func TestFrameProducer_ServeFollowsNewFrames(t *testing.T) {
	frames := newFrames()
	det := detection.NewMockObjectDetector(nil)
	p := NewObjectProducer(testProducerConfig(), frames, det, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx) }()

	waitFor(t, func() bool { _, _, seq, _ := p.Output().Load(); return seq >= 1 })
	frames.Put(camera.Frame{Data: []byte{1}})
	waitFor(t, func() bool { res, _, _, _ := p.Output().Load(); return res.FrameSeq == 2 })

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve returned %v", err)
	}
}

func TestAudioProducer(t *testing.T) {
	cfg := audioio.DefaultConfig()
	cfg.BufferDuration = 5 * time.Millisecond
	src := audioio.NewMockSource(cfg, nil, audioio.WithLevel(120))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	p := NewAudioProducer(src, nil)
	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx) }()

	waitFor(t, func() bool { v, _, ok := p.Output().Snapshot(); return ok && len(v) >= 3 })
	levels, _, _ := p.Output().Snapshot()
	for _, l := range levels {
		if math.Abs(l-120) > 2 {
			t.Errorf("level = %v, want ~120", l)
		}
	}

	src.Stop()
	if err := <-done; !errors.Is(err, faults.ErrDeviceUnavailable) {
		t.Errorf("stopped source: err = %v, want device unavailable", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
