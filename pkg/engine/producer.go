package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/teslashibe/go-sentry/internal/log"
	"github.com/teslashibe/go-sentry/pkg/audioio"
	"github.com/teslashibe/go-sentry/pkg/camera"
	"github.com/teslashibe/go-sentry/pkg/detection"
	"github.com/teslashibe/go-sentry/pkg/faults"
	"github.com/teslashibe/go-sentry/pkg/metrics"
	"github.com/teslashibe/go-sentry/pkg/signals"
)

// Result is one completed inference. A failed or timed out inference is
// still a result: its Err is set and the engine treats the signal as absent.
type Result[T any] struct {
	Items    []T
	Err      error
	FrameSeq uint64
	Latency  time.Duration
}

// ProducerConfig bounds a frame producer.
type ProducerConfig struct {
	// Timeout is the budget for one inference.
	Timeout time.Duration `koanf:"detector_timeout" json:"detector_timeout" validate:"gt=0"`

	// BreakerFailures is how many consecutive failures open the breaker.
	BreakerFailures uint32 `koanf:"breaker_failures" json:"breaker_failures" validate:"gte=1"`

	// BreakerCooldown is how long the breaker stays open before probing.
	BreakerCooldown time.Duration `koanf:"breaker_cooldown" json:"breaker_cooldown" validate:"gt=0"`
}

// DefaultProducerConfig returns production defaults.
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		Timeout:         400 * time.Millisecond,
		BreakerFailures: 5,
		BreakerCooldown: 10 * time.Second,
	}
}

// InferFunc runs one detector over a JPEG frame.
type InferFunc[T any] func(ctx context.Context, jpeg []byte) ([]T, error)

// FrameProducer runs a detector over the newest frame whenever one arrives
// and publishes the outcome to a Register. Frames that arrive while an
// inference is running are skipped, never queued.
type FrameProducer[T any] struct {
	name     string
	config   ProducerConfig
	frames   *camera.Buffer
	infer    InferFunc[T]
	validate func(T) error
	out      *Register[Result[T]]
	breaker  *gobreaker.CircuitBreaker[[]T]
	logger   *slog.Logger

	// slot is held by the goroutine running infer, including one that
	// outlived its timeout, so a detector never runs twice at once.
	slot chan struct{}
}

// NewFrameProducer creates a producer named name. validate may be nil.
func NewFrameProducer[T any](name string, cfg ProducerConfig, frames *camera.Buffer, infer InferFunc[T], validate func(T) error, logger *slog.Logger) *FrameProducer[T] {
	p := &FrameProducer[T]{
		name:     name,
		config:   cfg,
		frames:   frames,
		infer:    infer,
		validate: validate,
		out:      &Register[Result[T]]{},
		logger:   log.Or(logger, "producer").With("detector", name),
		slot:     make(chan struct{}, 1),
	}

	metrics.BreakerState.WithLabelValues(name).Set(0)
	p.breaker = gobreaker.NewCircuitBreaker[[]T](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			p.logger.Warn("detector breaker state changed", "from", from.String(), "to", to.String())
		},
	})
	return p
}

// NewPoseProducer wraps a PoseEstimator.
func NewPoseProducer(cfg ProducerConfig, frames *camera.Buffer, est detection.PoseEstimator, logger *slog.Logger) *FrameProducer[detection.PersonPose] {
	return NewFrameProducer("pose", cfg, frames, est.Estimate, func(p detection.PersonPose) error { return p.Validate() }, logger)
}

// NewObjectProducer wraps an ObjectDetector.
func NewObjectProducer(cfg ProducerConfig, frames *camera.Buffer, det detection.ObjectDetector, logger *slog.Logger) *FrameProducer[detection.ObjectDetection] {
	return NewFrameProducer("object", cfg, frames, det.Detect, func(d detection.ObjectDetection) error { return d.Validate() }, logger)
}

// Name returns the detector name.
func (p *FrameProducer[T]) Name() string { return p.name }

// Output returns the register the producer writes to.
func (p *FrameProducer[T]) Output() *Register[Result[T]] { return p.out }

// String implements fmt.Stringer for supervisor logs.
func (p *FrameProducer[T]) String() string { return p.name + "-producer" }

// Serve processes frames until ctx ends.
func (p *FrameProducer[T]) Serve(ctx context.Context) error {
	var last uint64
	for {
		frame, err := p.frames.Wait(ctx, last)
		if err != nil {
			return err
		}
		last = frame.Seq
		p.Process(ctx, frame)
	}
}

// Process runs one inference over frame and publishes the result.
func (p *FrameProducer[T]) Process(ctx context.Context, frame camera.Frame) {
	start := time.Now()
	items, err := p.breaker.Execute(func() ([]T, error) {
		return p.call(ctx, frame.Data)
	})
	latency := time.Since(start)

	if ctx.Err() != nil {
		return
	}

	switch {
	case err == nil:
		metrics.DetectorInference.WithLabelValues(p.name).Observe(latency.Seconds())
		items = p.filter(items)
	case errors.Is(err, faults.ErrDetectorTimeout):
		metrics.DetectorTimeouts.WithLabelValues(p.name).Inc()
		p.logger.Warn("inference timed out", "timeout", p.config.Timeout, "frame", frame.Seq)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.DetectorErrors.WithLabelValues(p.name, "breaker_open").Inc()
	default:
		metrics.DetectorErrors.WithLabelValues(p.name, "inference").Inc()
		p.logger.Warn("inference failed", "error", err, "frame", frame.Seq)
	}

	p.out.Store(Result[T]{Items: items, Err: err, FrameSeq: frame.Seq, Latency: latency}, time.Now())
}

// call runs infer under the per-inference timeout. When the detector ignores
// its context the call still returns on time; the detector keeps the slot
// until it finishes.
func (p *FrameProducer[T]) call(ctx context.Context, jpeg []byte) ([]T, error) {
	ictx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	select {
	case p.slot <- struct{}{}:
	case <-ictx.Done():
		return nil, p.timeoutErr(ctx)
	}

	type outcome struct {
		items []T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() { <-p.slot }()
		items, err := p.infer(ictx, jpeg)
		done <- outcome{items, err}
	}()

	select {
	case o := <-done:
		if o.err != nil && ictx.Err() != nil {
			return nil, p.timeoutErr(ctx)
		}
		return o.items, o.err
	case <-ictx.Done():
		return nil, p.timeoutErr(ctx)
	}
}

func (p *FrameProducer[T]) timeoutErr(parent context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%s after %v: %w", p.name, p.config.Timeout, faults.ErrDetectorTimeout)
}

// filter drops malformed items.
func (p *FrameProducer[T]) filter(items []T) []T {
	if p.validate == nil {
		return items
	}
	kept := items[:0:0]
	for _, it := range items {
		if err := p.validate(it); err != nil {
			metrics.DetectorErrors.WithLabelValues(p.name, "malformed").Inc()
			p.logger.Debug("dropping malformed detection", "error", err)
			continue
		}
		kept = append(kept, it)
	}
	return kept
}

// maxAudioWindow bounds how many audio levels are retained.
const maxAudioWindow = 256

// Levels holds recent audio levels and when the newest arrived.
type Levels struct {
	window *signals.Window
	mu     sync.Mutex
	at     time.Time
}

// NewLevels creates an empty level history.
func NewLevels() *Levels {
	return &Levels{window: signals.NewWindow(maxAudioWindow)}
}

// Push records a level sampled at at.
func (l *Levels) Push(level float64, at time.Time) {
	l.window.Push(level)
	l.mu.Lock()
	l.at = at
	l.mu.Unlock()
}

// Snapshot returns the retained levels oldest first and when the newest arrived.
func (l *Levels) Snapshot() ([]float64, time.Time, bool) {
	l.mu.Lock()
	at := l.at
	l.mu.Unlock()
	vals := l.window.Values()
	return vals, at, len(vals) > 0
}

// AudioProducer samples levels from an audio source.
type AudioProducer struct {
	src    audioio.Source
	out    *Levels
	logger *slog.Logger
}

// NewAudioProducer creates a producer reading from src. src must already be started.
func NewAudioProducer(src audioio.Source, logger *slog.Logger) *AudioProducer {
	return &AudioProducer{
		src:    src,
		out:    NewLevels(),
		logger: log.Or(logger, "producer").With("source", src.Name()),
	}
}

// Output returns the level history the producer writes to.
func (a *AudioProducer) Output() *Levels { return a.out }

// String implements fmt.Stringer for supervisor logs.
func (a *AudioProducer) String() string { return "audio-producer" }

// Serve reads chunks until ctx ends. Losing the microphone is fatal.
func (a *AudioProducer) Serve(ctx context.Context) error {
	for {
		chunk, err := a.src.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return faults.Device(a.src.Name(), err)
			}
			return fmt.Errorf("read audio: %w", err)
		}
		if len(chunk.Samples) == 0 {
			continue
		}
		a.out.Push(chunk.Level(), time.Now())
	}
}
