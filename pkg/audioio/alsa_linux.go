//go:build linux

package audioio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-sentry/pkg/faults"
)

// alsaCommand builds an arecord or aplay invocation for raw PCM16 in cfg's
// format. A missing binary is reported as an unavailable device.
func alsaCommand(ctx context.Context, tool, device string, cfg Config) (*exec.Cmd, error) {
	if device == "" {
		device = "default"
	}
	bin, err := exec.LookPath(tool)
	if err != nil {
		return nil, faults.Device(tool+":"+device, err)
	}
	return exec.CommandContext(ctx, bin,
		"-q", "-D", device, "-t", "raw", "-f", "S16_LE",
		"-r", strconv.Itoa(cfg.SampleRate), "-c", strconv.Itoa(cfg.Channels)), nil
}

// ALSASource reads chunks from an arecord child process.
type ALSASource struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	out    chan AudioChunk
	closed bool

	chunks, samples, overruns atomic.Int64
}

var _ SourceWithStats = (*ALSASource)(nil)

func newALSASource(cfg Config, logger *slog.Logger) (*ALSASource, error) {
	return &ALSASource{cfg: cfg, logger: logger.With("device", cfg.Device)}, nil
}

// Start implements Source.
func (s *ALSASource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	if s.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd, err := alsaCommand(ctx, "arecord", s.cfg.Device, s.cfg)
	if err != nil {
		cancel()
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err == nil {
		err = cmd.Start()
	}
	if err != nil {
		cancel()
		return faults.Device("arecord:"+s.cfg.Device, err)
	}

	s.cancel = cancel
	s.done = make(chan struct{})
	s.out = make(chan AudioChunk, 8)
	go s.capture(cmd, stdout, s.out, s.done)
	s.logger.Info("capture started", "rate", s.cfg.SampleRate, "channels", s.cfg.Channels)
	return nil
}

func (s *ALSASource) capture(cmd *exec.Cmd, r io.Reader, out chan<- AudioChunk, done chan<- struct{}) {
	defer close(done)
	defer close(out)
	defer cmd.Wait()

	buf := make([]byte, s.cfg.BufferBytes())
	for {
		_, err := io.ReadFull(r, buf)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				s.logger.Warn("capture read failed", "error", err)
			}
			return
		}
		var c AudioChunk
		c.FromBytes(buf, s.cfg.SampleRate, s.cfg.Channels)
		select {
		case out <- c:
			s.chunks.Add(1)
			s.samples.Add(int64(len(c.Samples)))
		default:
			s.overruns.Add(1)
		}
	}
}

// Stop kills arecord and waits for it to exit.
func (s *ALSASource) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	s.logger.Info("capture stopped", "chunks", s.chunks.Load(), "overruns", s.overruns.Load())
	return nil
}

// Read implements Source.
func (s *ALSASource) Read(ctx context.Context) (AudioChunk, error) {
	s.mu.Lock()
	out := s.out
	s.mu.Unlock()
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

func (s *ALSASource) Config() Config { return s.cfg }
func (s *ALSASource) Name() string   { return "alsa" }

func (s *ALSASource) Close() error {
	err := s.Stop()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return err
}

// Stats implements SourceWithStats.
func (s *ALSASource) Stats() SourceStats {
	s.mu.Lock()
	running := s.cancel != nil
	s.mu.Unlock()
	return SourceStats{
		Backend:     "alsa",
		Running:     running,
		ChunksRead:  s.chunks.Load(),
		SamplesRead: s.samples.Load(),
		Overruns:    s.overruns.Load(),
	}
}

// ALSASink pipes PCM into an aplay child process.
type ALSASink struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

var _ Sink = (*ALSASink)(nil)

func newALSASink(cfg Config, logger *slog.Logger) (*ALSASink, error) {
	return &ALSASink{cfg: cfg, logger: logger.With("device", cfg.OutputDevice)}, nil
}

// Start implements Sink.
func (s *ALSASink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		return nil
	}
	cmd, err := alsaCommand(ctx, "aplay", s.cfg.OutputDevice, s.cfg)
	if err != nil {
		return err
	}
	stdin, err := cmd.StdinPipe()
	if err == nil {
		err = cmd.Start()
	}
	if err != nil {
		return faults.Device("aplay:"+s.cfg.OutputDevice, err)
	}
	s.cmd, s.stdin = cmd, stdin
	return nil
}

// Write converts chunk to the sink format and plays it.
func (s *ALSASink) Write(ctx context.Context, chunk AudioChunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	samples := chunk.Samples
	if chunk.Channels == 2 && s.cfg.Channels == 1 {
		samples = StereoToMono(samples)
	}
	pcm := SamplesToBytes(Resample(samples, chunk.SampleRate, s.cfg.SampleRate))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdin == nil {
		return io.ErrClosedPipe
	}
	_, err := s.stdin.Write(pcm)
	return err
}

func (s *ALSASink) Config() Config { return s.cfg }
func (s *ALSASink) Name() string   { return "alsa" }

// Close lets buffered audio drain, then reaps aplay.
func (s *ALSASink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil {
		return nil
	}
	s.stdin.Close()
	err := s.cmd.Wait()
	s.cmd, s.stdin = nil, nil
	return err
}
