package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/teslashibe/go-sentry/internal/log"
	"github.com/teslashibe/go-sentry/pkg/audioio"
	"github.com/teslashibe/go-sentry/pkg/fusion"
	"github.com/teslashibe/go-sentry/pkg/tts"
)

// LogSink writes transitions to the structured log.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log sink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: log.Or(logger, "alert")}
}

// Name implements Sink.
func (s *LogSink) Name() string { return "log" }

// Deliver implements Sink.
func (s *LogSink) Deliver(ctx context.Context, st fusion.AlertState) error {
	attrs := []any{
		"id", st.ID,
		"level", st.Level.String(),
		"previous", st.Previous.String(),
		"since", st.Since,
	}
	if len(st.Evidence.TrackIDs) > 0 {
		attrs = append(attrs, "tracks", st.Evidence.TrackIDs)
	}
	if st.Evidence.Class != "" {
		attrs = append(attrs, "class", st.Evidence.Class)
	}
	if st.Evidence.Box != nil {
		attrs = append(attrs, "box", *st.Evidence.Box)
	}

	level := slog.LevelWarn
	if st.Level == fusion.Clear {
		level = slog.LevelInfo
	}
	s.logger.Log(ctx, level, st.Message, attrs...)
	return nil
}

// Broadcaster pushes JSON to connected dashboard clients.
type Broadcaster interface {
	BroadcastJSON(v any) error
}

// HubSink keeps recent transitions for the dashboard and pushes each one
// to its websocket clients.
type HubSink struct {
	hub  Broadcaster
	size int

	mu      sync.RWMutex
	history []fusion.AlertState
}

// NewHubSink creates a sink keeping the last size transitions. hub may be nil.
func NewHubSink(hub Broadcaster, size int) *HubSink {
	if size < 1 {
		size = 1
	}
	return &HubSink{hub: hub, size: size}
}

// Name implements Sink.
func (s *HubSink) Name() string { return "dashboard" }

// Deliver implements Sink.
func (s *HubSink) Deliver(_ context.Context, st fusion.AlertState) error {
	s.mu.Lock()
	s.history = append(s.history, st)
	if over := len(s.history) - s.size; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}
	s.mu.Unlock()

	if s.hub == nil {
		return nil
	}
	return s.hub.BroadcastJSON(Event{Type: EventTransition, Alert: st})
}

// History returns the retained transitions, oldest first.
func (s *HubSink) History() []fusion.AlertState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]fusion.AlertState(nil), s.history...)
}

// VoiceSink speaks alert messages through a speaker.
type VoiceSink struct {
	provider tts.Provider
	out      audioio.Sink
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewVoiceSink creates a voice sink. out must already be started.
func NewVoiceSink(cfg VoiceConfig, provider tts.Provider, out audioio.Sink, logger *slog.Logger) *VoiceSink {
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &VoiceSink{
		provider: provider,
		out:      out,
		limiter:  rate.NewLimiter(limit, burst),
		logger:   log.Or(logger, "alert").With("sink", "voice"),
	}
}

// Name implements Sink.
func (s *VoiceSink) Name() string { return "voice" }

// Deliver implements Sink. Clear transitions are not spoken, and
// announcements beyond the rate limit are skipped.
func (s *VoiceSink) Deliver(ctx context.Context, st fusion.AlertState) error {
	if st.Level == fusion.Clear {
		return nil
	}
	if !s.limiter.Allow() {
		s.logger.Debug("announcement rate limited", "id", st.ID, "level", st.Level.String())
		return nil
	}

	res, err := s.provider.Synthesize(ctx, st.Message)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}

	var chunk audioio.AudioChunk
	chunk.FromBytes(res.Audio, res.Format.SampleRate, res.Format.Channels)
	if want := s.out.Config().SampleRate; want > 0 && want != chunk.SampleRate {
		if chunk.Channels == 2 {
			chunk.Samples = audioio.StereoToMono(chunk.Samples)
			chunk.Channels = 1
		}
		chunk.Samples = audioio.Resample(chunk.Samples, chunk.SampleRate, want)
		chunk.SampleRate = want
	}

	if err := s.out.Write(ctx, chunk); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("playback cut short: %w", err)
		}
		return fmt.Errorf("play: %w", err)
	}
	s.logger.Info("announced alert", "message", st.Message, "duration", res.Duration, "cached", res.Cached)
	return nil
}
