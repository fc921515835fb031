package signals

import (
	"sync"

	"gonum.org/v1/gonum/stat"
)

// AudioConfig tunes the loud-noise detector.
type AudioConfig struct {
	// LoudnessThreshold is on the 0-255 analyser scale.
	LoudnessThreshold float64 `json:"audio_loudness_threshold"`

	// WindowSize is how many recent levels are averaged.
	WindowSize int `json:"audio_window_size"`
}

// DefaultAudioConfig returns production defaults.
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		LoudnessThreshold: 80,
		WindowSize:        5,
	}
}

// Window is a fixed-size ring of recent audio levels.
// Safe for one writer and one reader.
type Window struct {
	mu   sync.Mutex
	buf  []float64
	next int
	full bool
}

// NewWindow creates a window holding n levels.
func NewWindow(n int) *Window {
	if n < 1 {
		n = 1
	}
	return &Window{buf: make([]float64, n)}
}

// Push adds a level, evicting the oldest when full.
func (w *Window) Push(level float64) {
	w.mu.Lock()
	w.buf[w.next] = level
	w.next = (w.next + 1) % len(w.buf)
	if w.next == 0 {
		w.full = true
	}
	w.mu.Unlock()
}

// Values returns the levels oldest first.
func (w *Window) Values() []float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.full {
		return append([]float64(nil), w.buf[:w.next]...)
	}
	out := make([]float64, 0, len(w.buf))
	out = append(out, w.buf[w.next:]...)
	return append(out, w.buf[:w.next]...)
}

// Len returns how many levels are held.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.full {
		return len(w.buf)
	}
	return w.next
}

// Reset empties the window.
func (w *Window) Reset() {
	w.mu.Lock()
	w.next = 0
	w.full = false
	w.mu.Unlock()
}

// LoudnessExtractor votes on the windowed mean audio level.
type LoudnessExtractor struct {
	config AudioConfig
}

// NewLoudnessExtractor creates an extractor.
func NewLoudnessExtractor(cfg AudioConfig) *LoudnessExtractor {
	return &LoudnessExtractor{config: cfg}
}

// Extract votes active when the mean of the most recent WindowSize levels
// exceeds the threshold. An empty window votes inactive.
func (e *LoudnessExtractor) Extract(levels []float64) Vote {
	v := Vote{Kind: LoudNoise}
	if n := e.config.WindowSize; n > 0 && len(levels) > n {
		levels = levels[len(levels)-n:]
	}
	if len(levels) == 0 {
		return v
	}

	mean := stat.Mean(levels, nil)
	if mean > e.config.LoudnessThreshold {
		v.Active = true
		v.Strength = excess(mean, e.config.LoudnessThreshold)
	}
	return v
}
