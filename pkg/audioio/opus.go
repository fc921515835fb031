package audioio

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

// maxOpusFrame is 120ms at 48kHz, the longest Opus frame.
const maxOpusFrame = 5760

// OpusDecoder turns Opus packets into PCM16 chunks.
type OpusDecoder struct {
	dec      *opus.Decoder
	rate     int
	channels int
	buf      []int16
}

// NewOpusDecoder creates a decoder. Opus supports 8, 12, 16, 24 and 48 kHz.
func NewOpusDecoder(sampleRate, channels int) (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}
	return &OpusDecoder{
		dec:      dec,
		rate:     sampleRate,
		channels: channels,
		buf:      make([]int16, maxOpusFrame*channels),
	}, nil
}

// Decode decodes one packet.
func (d *OpusDecoder) Decode(packet []byte) (AudioChunk, error) {
	n, err := d.dec.Decode(packet, d.buf)
	if err != nil {
		return AudioChunk{}, fmt.Errorf("opus decode: %w", err)
	}
	samples := make([]int16, n*d.channels)
	copy(samples, d.buf[:n*d.channels])
	return AudioChunk{Samples: samples, SampleRate: d.rate, Channels: d.channels}, nil
}
