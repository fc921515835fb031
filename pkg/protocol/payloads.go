package protocol

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// Media formats.
const (
	FormatJPEG  = "jpeg"
	FormatPCM16 = "pcm16"
	FormatOpus  = "opus"
)

var b64 = base64.StdEncoding

// HelloData is the first message a node sends. It says what the node
// streams.
type HelloData struct {
	Name     string `json:"name,omitempty"`
	Version  string `json:"version,omitempty"`
	Camera   bool   `json:"camera"`
	Mic      bool   `json:"mic"`
	MicCodec string `json:"mic_codec,omitempty"`
}

// FrameData is one base64 JPEG camera frame.
type FrameData struct {
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Format  string `json:"format"`
	Data    string `json:"data"`
	FrameID uint64 `json:"frame_id,omitempty"`
}

func (f *FrameData) check() error {
	if f.Format != FormatJPEG {
		return fmt.Errorf("frame format %q", f.Format)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("frame size %dx%d", f.Width, f.Height)
	}
	return nil
}

// Image returns the decoded JPEG bytes.
func (f *FrameData) Image() ([]byte, error) {
	if err := f.check(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	img, err := b64.DecodeString(f.Data)
	if err == nil && len(img) == 0 {
		err = errors.New("empty image")
	}
	if err != nil {
		return nil, fmt.Errorf("%w: frame: %v", ErrInvalidPayload, err)
	}
	return img, nil
}

// MicData is base64 PCM16 or a single Opus packet.
type MicData struct {
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Data       string `json:"data"`
}

func (m *MicData) check() error {
	if m.Format != FormatPCM16 && m.Format != FormatOpus {
		return fmt.Errorf("mic format %q", m.Format)
	}
	if m.SampleRate <= 0 || m.Channels <= 0 {
		return fmt.Errorf("mic rate %d channels %d", m.SampleRate, m.Channels)
	}
	return nil
}

// Audio returns the decoded payload. PCM16 must hold whole frames.
func (m *MicData) Audio() ([]byte, error) {
	if err := m.check(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	data, err := b64.DecodeString(m.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: mic: %v", ErrInvalidPayload, err)
	}
	if m.Format == FormatPCM16 && len(data)%(2*m.Channels) != 0 {
		return nil, fmt.Errorf("%w: mic: %d bytes is not whole PCM16 frames", ErrInvalidPayload, len(data))
	}
	return data, nil
}

// AlertData mirrors an alert transition so nodes can drive a siren or a
// display.
type AlertData struct {
	ID       string    `json:"id"`
	Level    string    `json:"level"`
	Previous string    `json:"previous,omitempty"`
	Message  string    `json:"message"`
	Since    time.Time `json:"since"`
}

// ConfigUpdate changes node capture settings. Nil sections are left alone.
type ConfigUpdate struct {
	Camera *CameraConfig `json:"camera,omitempty"`
	Audio  *AudioConfig  `json:"audio,omitempty"`
}

type CameraConfig struct {
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Framerate int    `json:"framerate,omitempty"`
	Quality   int    `json:"quality,omitempty"`
	Preset    string `json:"preset,omitempty"`
}

type AudioConfig struct {
	MicEnabled bool   `json:"mic_enabled,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Codec      string `json:"codec,omitempty"`
}

type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData answers a ping. Times are Unix milliseconds.
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}

// Hello builds a hello message.
func Hello(h HelloData) (*Message, error) { return New(TypeHello, h) }

// Frame builds a frame message around raw JPEG bytes.
func Frame(width, height int, jpeg []byte, id uint64) (*Message, error) {
	return New(TypeFrame, FrameData{
		Width: width, Height: height, Format: FormatJPEG,
		Data: b64.EncodeToString(jpeg), FrameID: id,
	})
}

// Mic builds a mono PCM16 mic message.
func Mic(pcm []byte, rate int) (*Message, error) {
	return New(TypeMic, MicData{Format: FormatPCM16, SampleRate: rate, Channels: 1, Data: b64.EncodeToString(pcm)})
}

// OpusMic builds a mono mic message carrying one Opus packet.
func OpusMic(packet []byte, rate int) (*Message, error) {
	return New(TypeMic, MicData{Format: FormatOpus, SampleRate: rate, Channels: 1, Data: b64.EncodeToString(packet)})
}

// Alert builds an alert message.
func Alert(a AlertData) (*Message, error) { return New(TypeAlert, a) }

// Configure builds a config message.
func Configure(u ConfigUpdate) (*Message, error) { return New(TypeConfig, u) }

// Ping builds a ping stamped now.
func Ping(id string) (*Message, error) {
	return New(TypePing, PingData{ID: id, Timestamp: time.Now().UnixMilli()})
}

// Pong answers the ping id sent at pingTS.
func Pong(id string, pingTS, now int64) (*Message, error) {
	return New(TypePong, PongData{ID: id, PingTS: pingTS, PongTS: now, LatencyMs: now - pingTS})
}
