package rtc

import (
	"bytes"
	"testing"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

func TestIsKeyframe(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"idr 4-byte start", []byte{0, 0, 0, 1, 0x65, 0x88}, true},
		{"sps 3-byte start", []byte{0, 0, 1, 0x67, 0x42}, true},
		{"non-idr slice", []byte{0, 0, 0, 1, 0x41, 0x9a}, false},
		{"idr after slice", []byte{0, 0, 1, 0x41, 0x00, 0x00, 0x00, 0x01, 0x65}, true},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isKeyframe(tt.data); got != tt.want {
				t.Errorf("isKeyframe() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDepacketize_SingleNAL(t *testing.T) {
	var depack codecs.H264Packet
	pkt := &rtp.Packet{Payload: []byte{0x65, 0x01, 0x02}}
	nal, err := depacketize(&depack, pkt)
	if err != nil {
		t.Fatal(err)
	}
	if !isKeyframe(nal) {
		t.Errorf("depacketized IDR not recognised: % x", nal)
	}

	if nal, err := depacketize(&depack, &rtp.Packet{}); err != nil || nal != nil {
		t.Errorf("empty payload: %v, %v", nal, err)
	}
}

func TestLastJPEG(t *testing.T) {
	a := []byte{0xFF, 0xD8, 0xFF, 0xE0, 'a', 0xFF, 0xD9}
	b := []byte{0xFF, 0xD8, 0xFF, 0xE0, 'b', 0xFF, 0xD9}

	got, err := lastJPEG(append(append([]byte{}, a...), b...))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, b) {
		t.Errorf("lastJPEG = % x, want % x", got, b)
	}

	if _, err := lastJPEG([]byte("garbage")); err == nil {
		t.Error("expected error for non-jpeg output")
	}
	if _, err := lastJPEG(b[:5]); err == nil {
		t.Error("expected error for truncated jpeg")
	}
}
