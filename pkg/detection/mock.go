package detection

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MockPoseEstimator replays scripted results. After the script runs out the
// last entry is repeated.
type MockPoseEstimator struct {
	mu     sync.Mutex
	script [][]PersonPose
	next   int
	delay  time.Duration
	err    error
	calls  atomic.Int64
	closed atomic.Bool
}

var _ PoseEstimator = (*MockPoseEstimator)(nil)

// NewMockPoseEstimator creates a mock that returns the given frames in order.
func NewMockPoseEstimator(script ...[]PersonPose) *MockPoseEstimator {
	return &MockPoseEstimator{script: script}
}

// SetDelay makes every Estimate call take at least d.
func (m *MockPoseEstimator) SetDelay(d time.Duration) {
	m.mu.Lock()
	m.delay = d
	m.mu.Unlock()
}

// SetError makes every Estimate call fail with err.
func (m *MockPoseEstimator) SetError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Estimate implements PoseEstimator.
func (m *MockPoseEstimator) Estimate(ctx context.Context, _ []byte) ([]PersonPose, error) {
	m.calls.Add(1)
	m.mu.Lock()
	delay, err := m.delay, m.err
	var out []PersonPose
	if len(m.script) > 0 {
		i := m.next
		if i >= len(m.script) {
			i = len(m.script) - 1
		} else {
			m.next++
		}
		out = m.script[i]
	}
	m.mu.Unlock()

	if err := sleepCtx(ctx, delay); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Calls returns how many times Estimate ran.
func (m *MockPoseEstimator) Calls() int64 { return m.calls.Load() }

// Closed reports whether Close was called.
func (m *MockPoseEstimator) Closed() bool { return m.closed.Load() }

// Close implements PoseEstimator.
func (m *MockPoseEstimator) Close() error {
	m.closed.Store(true)
	return nil
}

// MockObjectDetector replays scripted detections, repeating the last entry.
type MockObjectDetector struct {
	mu     sync.Mutex
	script [][]ObjectDetection
	next   int
	delay  time.Duration
	err    error
	calls  atomic.Int64
	closed atomic.Bool
}

var _ ObjectDetector = (*MockObjectDetector)(nil)

// NewMockObjectDetector creates a mock that returns the given frames in order.
func NewMockObjectDetector(script ...[]ObjectDetection) *MockObjectDetector {
	return &MockObjectDetector{script: script}
}

// SetDelay makes every Detect call take at least d.
func (m *MockObjectDetector) SetDelay(d time.Duration) {
	m.mu.Lock()
	m.delay = d
	m.mu.Unlock()
}

// SetError makes every Detect call fail with err.
func (m *MockObjectDetector) SetError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Detect implements ObjectDetector.
func (m *MockObjectDetector) Detect(ctx context.Context, _ []byte) ([]ObjectDetection, error) {
	m.calls.Add(1)
	m.mu.Lock()
	delay, err := m.delay, m.err
	var out []ObjectDetection
	if len(m.script) > 0 {
		i := m.next
		if i >= len(m.script) {
			i = len(m.script) - 1
		} else {
			m.next++
		}
		out = m.script[i]
	}
	m.mu.Unlock()

	if err := sleepCtx(ctx, delay); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Calls returns how many times Detect ran.
func (m *MockObjectDetector) Calls() int64 { return m.calls.Load() }

// Closed reports whether Close was called.
func (m *MockObjectDetector) Closed() bool { return m.closed.Load() }

// Close implements ObjectDetector.
func (m *MockObjectDetector) Close() error {
	m.closed.Store(true)
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Pose builds a PersonPose with every keypoint at confidence 1 from a
// label-to-position map. Useful in tests and demos.
func Pose(points map[Label][2]float64) PersonPose {
	p := PersonPose{Confidence: 1}
	for l := Label(0); l < NumLabels; l++ {
		pt, ok := points[l]
		if !ok {
			continue
		}
		p.Keypoints = append(p.Keypoints, Keypoint{Label: l, X: pt[0], Y: pt[1], Confidence: 1})
	}
	return p
}
