// Package audioio moves PCM16 audio between devices and the pipeline.
//
// A Source yields fixed-length chunks from a microphone; the audio producer
// turns each chunk into one loudness level. A Sink plays synthesized
// speech. Backends:
//
//	alsa  arecord/aplay on Linux
//	edge  PCM or Opus pushed by a remote node (pkg/ingest)
//	mock  generated tone, for CI and demos
//	none  no audio; loud noise is never detected
package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"time"

	"github.com/teslashibe/go-sentry/internal/log"
)

// AudioChunk is interleaved PCM16.
type AudioChunk struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// FromBytes replaces the chunk contents with little-endian PCM16 data.
func (c *AudioChunk) FromBytes(data []byte, sampleRate, channels int) {
	*c = AudioChunk{Samples: BytesToSamples(data), SampleRate: sampleRate, Channels: channels}
}

// Bytes returns the samples as little-endian PCM16.
func (c *AudioChunk) Bytes() []byte { return SamplesToBytes(c.Samples) }

// Duration is the playback length of the chunk.
func (c *AudioChunk) Duration() time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	frames := int64(len(c.Samples) / c.Channels)
	return time.Duration(frames * int64(time.Second) / int64(c.SampleRate))
}

// Level is the chunk loudness on the 0..MaxLevel scale.
func (c *AudioChunk) Level() float64 { return Level(c.Samples) }

// Source captures audio.
type Source interface {
	// Start opens the device. A device that cannot be opened yields a
	// faults.DeviceError.
	Start(ctx context.Context) error
	// Stop halts capture; later reads return io.EOF. Safe to repeat.
	Stop() error
	// Read blocks for the next chunk.
	Read(ctx context.Context) (AudioChunk, error)
	Config() Config
	Name() string
	io.Closer
}

// SourceStats are capture counters, exposed on the status endpoint.
type SourceStats struct {
	Backend     string `json:"backend"`
	Running     bool   `json:"running"`
	ChunksRead  int64  `json:"chunks_read"`
	SamplesRead int64  `json:"samples_read"`
	// Overruns counts chunks dropped because the reader fell behind.
	Overruns int64 `json:"overruns"`
}

// SourceWithStats is a Source that keeps counters.
type SourceWithStats interface {
	Source
	Stats() SourceStats
}

// Sink plays audio.
type Sink interface {
	Start(ctx context.Context) error
	// Write plays chunk, blocking while the device buffer is full.
	Write(ctx context.Context, chunk AudioChunk) error
	Config() Config
	Name() string
	io.Closer
}

// NewSource builds the capture backend named in cfg. Edge sources come
// from the ingest hub and none means no source, so both are rejected.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = log.Or(logger, "audioio")

	backend := ResolveBackend(cfg.Backend)
	logger.Info("opening audio source", "backend", backend, "rate", cfg.SampleRate,
		"channels", cfg.Channels, "chunk", cfg.BufferDuration)

	switch backend {
	case BackendALSA:
		return newALSASource(cfg, logger)
	case BackendMock:
		return NewMockSource(cfg, logger), nil
	}
	return nil, fmt.Errorf("audioio: backend %q has no local source", backend)
}

// NewSink builds the playback backend named in cfg. Backends without a
// local speaker fall back to the mock, which discards audio.
func NewSink(cfg Config, logger *slog.Logger) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ResolveBackend(cfg.Backend) == BackendALSA {
		return newALSASink(cfg, log.Or(logger, "audioio"))
	}
	return NewMockSink(cfg), nil
}

// ResolveBackend maps auto to ALSA on Linux and the mock elsewhere.
func ResolveBackend(b Backend) Backend {
	switch {
	case b != BackendAuto:
		return b
	case runtime.GOOS == "linux":
		return BackendALSA
	default:
		return BackendMock
	}
}
