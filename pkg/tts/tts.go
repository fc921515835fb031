// Package tts synthesizes spoken alert announcements.
//
// Every provider answers with little-endian PCM16, so audio goes straight to
// an audioio.Sink. Alert phrases repeat, so New wraps hosted providers in a
// Cache.
package tts

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Provider turns text into audio.
type Provider interface {
	Synthesize(ctx context.Context, text string) (*AudioResult, error)
	// Health checks connectivity and credentials.
	Health(ctx context.Context) error
	Close() error
}

// AudioResult is one synthesized utterance.
type AudioResult struct {
	Audio     []byte
	Format    AudioFormat
	Duration  time.Duration
	CharCount int
	Latency   time.Duration
	// Cached is set when the audio came from a Cache.
	Cached bool
}

// AudioFormat describes PCM16 parameters.
type AudioFormat struct {
	SampleRate int
	Channels   int
}

// DurationOf returns the playback length of n bytes of PCM16 in format f.
func DurationOf(n int, f AudioFormat) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	frames := int64(n / (2 * f.Channels))
	return time.Duration(frames * int64(time.Second) / int64(f.SampleRate))
}

// Cache keeps the last size distinct utterances of an inner provider.
// Results are shared; callers must not modify Audio.
type Cache struct {
	inner Provider
	size  int

	mu    sync.Mutex
	order *list.List // front is most recent; values are *cacheEntry
	items map[string]*list.Element
}

type cacheEntry struct {
	text string
	res  AudioResult
}

var _ Provider = (*Cache)(nil)

// NewCache wraps p. A size below one disables caching.
func NewCache(p Provider, size int) *Cache {
	return &Cache{
		inner: p,
		size:  size,
		order: list.New(),
		items: make(map[string]*list.Element),
	}
}

// Synthesize implements Provider.
func (c *Cache) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	c.mu.Lock()
	if el, ok := c.items[text]; ok {
		c.order.MoveToFront(el)
		res := el.Value.(*cacheEntry).res
		c.mu.Unlock()
		res.Cached, res.Latency = true, 0
		return &res, nil
	}
	c.mu.Unlock()

	res, err := c.inner.Synthesize(ctx, text)
	if err != nil || c.size < 1 {
		return res, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[text]; !ok {
		c.items[text] = c.order.PushFront(&cacheEntry{text: text, res: *res})
		for c.order.Len() > c.size {
			oldest := c.order.Back()
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).text)
		}
	}
	return res, nil
}

// Len returns the number of cached utterances.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Health implements Provider.
func (c *Cache) Health(ctx context.Context) error { return c.inner.Health(ctx) }

// Close implements Provider.
func (c *Cache) Close() error { return c.inner.Close() }
