package camera

import (
	"context"
	"sync"
	"time"
)

// Frame is one captured image, JPEG encoded.
type Frame struct {
	Seq        uint64
	Data       []byte
	Width      int
	Height     int
	CapturedAt time.Time
}

// Source produces frames. Next blocks until a frame is available, the
// context ends, or the source fails.
type Source interface {
	Next(ctx context.Context) (Frame, error)
	Name() string
	Close() error
}

// Buffer holds the most recent frame. Writers replace it; readers either
// peek or wait for a newer one. Older frames are never queued.
type Buffer struct {
	mu      sync.Mutex
	frame   Frame
	seq     uint64
	updated chan struct{}
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{updated: make(chan struct{})}
}

// Put stores f as the latest frame and assigns its sequence number.
func (b *Buffer) Put(f Frame) uint64 {
	b.mu.Lock()
	b.seq++
	f.Seq = b.seq
	b.frame = f
	ch := b.updated
	b.updated = make(chan struct{})
	b.mu.Unlock()

	close(ch)
	return f.Seq
}

// Latest returns the newest frame, or false if none has arrived.
func (b *Buffer) Latest() (Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frame, b.seq > 0
}

// Wait returns the first frame newer than after.
func (b *Buffer) Wait(ctx context.Context, after uint64) (Frame, error) {
	for {
		b.mu.Lock()
		if b.seq > after {
			f := b.frame
			b.mu.Unlock()
			return f, nil
		}
		ch := b.updated
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-ch:
		}
	}
}

// Pump copies frames from src into buf until ctx ends or src fails.
func Pump(ctx context.Context, src Source, buf *Buffer) error {
	for {
		f, err := src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		buf.Put(f)
	}
}
