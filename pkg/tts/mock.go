package tts

import (
	"context"
	"sync"
	"time"
)

// mockFormat matches the OpenAI pcm format.
var mockFormat = AudioFormat{SampleRate: 24000, Channels: 1}

// Mock is an offline Provider for tests and --mock runs. It answers with
// silence, 20ms per character, and remembers what it was asked to say.
type Mock struct {
	// Err, when set, fails every call.
	Err error
	// Delay is waited before each synthesis.
	Delay time.Duration

	mu     sync.Mutex
	spoken []string
	closed bool
}

var _ Provider = (*Mock)(nil)

// NewMock creates a mock that always succeeds.
func NewMock() *Mock { return &Mock{} }

// Synthesize implements Provider.
func (m *Mock) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if m.Delay > 0 {
		t := time.NewTimer(m.Delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, fail(ProviderMock, ctx.Err())
		}
	}
	if m.Err != nil {
		return nil, fail(ProviderMock, m.Err)
	}
	if text == "" {
		return nil, fail(ProviderMock, ErrEmptyText)
	}

	m.mu.Lock()
	m.spoken = append(m.spoken, text)
	m.mu.Unlock()

	pcm := make([]byte, len(text)*960)
	return &AudioResult{
		Audio:     pcm,
		Format:    mockFormat,
		Duration:  DurationOf(len(pcm), mockFormat),
		CharCount: len(text),
	}, nil
}

// Health implements Provider.
func (m *Mock) Health(context.Context) error { return m.Err }

// Close implements Provider.
func (m *Mock) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Spoken returns every successfully synthesized text, oldest first.
func (m *Mock) Spoken() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.spoken...)
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
