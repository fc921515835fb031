package audioio

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-sentry/internal/log"
)

// tone synthesizes a continuous wave across chunks.
type tone struct {
	freq   float64 // Hz; zero is silence
	amp    float64 // fraction of full scale
	square bool
	phase  float64
}

func (t *tone) fill(samples []int16, rate, channels int) {
	if t.freq <= 0 || t.amp <= 0 {
		clear(samples)
		return
	}
	step := 2 * math.Pi * t.freq / float64(rate)
	for i := 0; i+channels <= len(samples); i += channels {
		v := math.Sin(t.phase)
		if t.square {
			v = math.Copysign(1, v)
		}
		s := int16(v * t.amp * math.MaxInt16)
		for c := 0; c < channels; c++ {
			samples[i+c] = s
		}
		t.phase = math.Mod(t.phase+step, 2*math.Pi)
	}
}

// MockSource emits a generated tone at the configured chunk rate.
type MockSource struct {
	cfg    Config
	logger *slog.Logger
	tone   tone
	fail   error

	mu     sync.Mutex
	cancel context.CancelFunc
	out    chan AudioChunk
	closed bool

	chunks, samples, overruns atomic.Int64
}

var _ SourceWithStats = (*MockSource)(nil)

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave emits a sine at freq Hz and amp of full scale.
func WithSineWave(freq, amp float64) MockSourceOption {
	return func(m *MockSource) { m.tone = tone{freq: freq, amp: amp} }
}

// WithLevel emits a square wave whose Level reads level.
func WithLevel(level float64) MockSourceOption {
	return func(m *MockSource) {
		m.tone = tone{freq: 440, amp: math.Min(1, level/MaxLevel), square: true}
	}
}

// WithStartError makes Start return err.
func WithStartError(err error) MockSourceOption {
	return func(m *MockSource) { m.fail = err }
}

// NewMockSource creates a source emitting a quiet 440Hz sine unless an
// option says otherwise.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockSourceOption) *MockSource {
	m := &MockSource{
		cfg:    cfg,
		logger: log.Or(logger, "audioio-mock"),
		tone:   tone{freq: 440, amp: 0.05},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start implements Source. A second Start while running is a no-op.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.fail != nil:
		return m.fail
	case m.closed:
		return io.ErrClosedPipe
	case m.cancel != nil:
		return nil
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.out = make(chan AudioChunk, 8)
	go m.run(ctx, m.out)
	m.logger.Debug("mock capture started", "hz", m.tone.freq, "amp", m.tone.amp)
	return nil
}

func (m *MockSource) run(ctx context.Context, out chan<- AudioChunk) {
	defer close(out)
	tick := time.NewTicker(m.cfg.BufferDuration)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
		c := AudioChunk{
			Samples:    make([]int16, m.cfg.BufferSize()*m.cfg.Channels),
			SampleRate: m.cfg.SampleRate,
			Channels:   m.cfg.Channels,
		}
		m.tone.fill(c.Samples, c.SampleRate, c.Channels)
		select {
		case out <- c:
			m.chunks.Add(1)
			m.samples.Add(int64(len(c.Samples)))
		default:
			m.overruns.Add(1)
		}
	}
}

// Stop implements Source.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	return nil
}

// Read implements Source. Chunks already generated are still delivered
// after Stop; then Read returns io.EOF.
func (m *MockSource) Read(ctx context.Context) (AudioChunk, error) {
	m.mu.Lock()
	out := m.out
	m.mu.Unlock()
	if out == nil {
		return AudioChunk{}, io.EOF
	}
	select {
	case c, ok := <-out:
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return c, nil
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	}
}

func (m *MockSource) Config() Config { return m.cfg }
func (m *MockSource) Name() string   { return "mock" }

// Close stops the source for good.
func (m *MockSource) Close() error {
	m.Stop()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (m *MockSource) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Stats implements SourceWithStats.
func (m *MockSource) Stats() SourceStats {
	m.mu.Lock()
	running := m.cancel != nil
	m.mu.Unlock()
	return SourceStats{
		Backend:     "mock",
		Running:     running,
		ChunksRead:  m.chunks.Load(),
		SamplesRead: m.samples.Load(),
		Overruns:    m.overruns.Load(),
	}
}

// MockSink keeps every chunk written to it instead of playing it.
type MockSink struct {
	cfg Config

	mu     sync.Mutex
	closed bool
	played []AudioChunk
}

var _ Sink = (*MockSink)(nil)

// NewMockSink creates a recording sink.
func NewMockSink(cfg Config) *MockSink { return &MockSink{cfg: cfg} }

func (s *MockSink) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	return nil
}

func (s *MockSink) Write(ctx context.Context, chunk AudioChunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	s.played = append(s.played, chunk)
	return nil
}

// Chunks returns what has been written, oldest first.
func (s *MockSink) Chunks() []AudioChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AudioChunk(nil), s.played...)
}

func (s *MockSink) Config() Config { return s.cfg }
func (s *MockSink) Name() string   { return "mock" }

func (s *MockSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
