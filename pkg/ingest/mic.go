package ingest

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-sentry/pkg/audioio"
)

// Mic is the audio source fed by the active edge node.
type Mic struct {
	hub *Hub
	cfg audioio.Config

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	chunks  chan audioio.AudioChunk

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

var _ audioio.SourceWithStats = (*Mic)(nil)

func newMic(h *Hub, cfg Config) *Mic {
	ac := audioio.DefaultConfig()
	ac.Backend = audioio.BackendEdge
	ac.SampleRate = cfg.SampleRate
	return &Mic{
		hub:    h,
		cfg:    ac,
		chunks: make(chan audioio.AudioChunk, cfg.MicBuffer),
	}
}

// Start begins accepting chunks.
func (m *Mic) Start(ctx context.Context) error {
	select {
	case <-m.hub.closed:
		return io.ErrClosedPipe
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}
	m.running = true
	m.stopCh = make(chan struct{})
	return nil
}

// Stop halts the source; pending Reads return io.EOF.
func (m *Mic) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil
	}
	m.running = false
	close(m.stopCh)
	return nil
}

// push queues a chunk, dropping the oldest when the reader falls behind.
func (m *Mic) push(chunk audioio.AudioChunk) {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	if !running {
		return
	}

	for {
		select {
		case m.chunks <- chunk:
			return
		default:
		}
		select {
		case <-m.chunks:
			m.overruns.Add(1)
		default:
		}
	}
}

// Read returns the next chunk from the active node.
func (m *Mic) Read(ctx context.Context) (audioio.AudioChunk, error) {
	m.mu.Lock()
	stop := m.stopCh
	running := m.running
	m.mu.Unlock()
	if !running {
		return audioio.AudioChunk{}, io.EOF
	}

	select {
	case <-ctx.Done():
		return audioio.AudioChunk{}, ctx.Err()
	case <-stop:
		return audioio.AudioChunk{}, io.EOF
	case chunk := <-m.chunks:
		m.chunksRead.Add(1)
		m.samplesRead.Add(int64(len(chunk.Samples)))
		return chunk, nil
	}
}

// Config returns the nominal audio configuration.
func (m *Mic) Config() audioio.Config { return m.cfg }

// Name returns the backend name.
func (m *Mic) Name() string { return string(audioio.BackendEdge) }

// Close stops the source. The hub owns the connections.
func (m *Mic) Close() error { return m.Stop() }

// Stats returns statistics about the source.
func (m *Mic) Stats() audioio.SourceStats {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	return audioio.SourceStats{
		ChunksRead:  m.chunksRead.Load(),
		SamplesRead: m.samplesRead.Load(),
		Overruns:    m.overruns.Load(),
		Running:     running,
		Backend:     string(audioio.BackendEdge),
	}
}
