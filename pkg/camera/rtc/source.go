// Package rtc receives camera frames over WebRTC from a GStreamer
// webrtcsink producer.
package rtc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-sentry/pkg/camera"
	"github.com/teslashibe/go-sentry/pkg/faults"
)

// Config holds the WebRTC source settings.
type Config struct {
	// URL is the signalling websocket, e.g. ws://host:8443.
	URL string

	// Producer is the producer's meta name. Empty takes the first producer.
	Producer string

	// DecodeInterval is the minimum time between decoded frames.
	DecodeInterval time.Duration

	// ConnectTimeout bounds signalling and the wait for the first track.
	ConnectTimeout time.Duration
}

// DefaultConfig returns defaults for a source at url.
func DefaultConfig(url string) Config {
	return Config{
		URL:            url,
		DecodeInterval: 100 * time.Millisecond,
		ConnectTimeout: 15 * time.Second,
	}
}

// Source is a camera.Source fed by a remote WebRTC video track.
type Source struct {
	config Config
	logger *slog.Logger

	ws      *websocket.Conn
	wsMu    sync.Mutex
	pc      *webrtc.PeerConnection
	peerID  string
	session string

	frames    chan camera.Frame
	trackSeen chan struct{}
	seenOnce  sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ camera.Source = (*Source)(nil)

// Dial performs signalling and waits for the video track. Failure to reach
// the producer is a faults.DeviceError.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s := &Source{
		config:    cfg,
		logger:    logger.With("component", "rtc", "url", cfg.URL),
		frames:    make(chan camera.Frame, 1),
		trackSeen: make(chan struct{}),
		ctx:       runCtx,
		cancel:    cancel,
	}
	if err := s.connect(ctx); err != nil {
		s.Close()
		return nil, faults.Device(s.Name(), err)
	}
	return s, nil
}

func (s *Source) connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, s.config.URL, nil)
	if err != nil {
		return fmt.Errorf("signalling connect: %w", err)
	}
	s.ws = ws
	deadline, _ := ctx.Deadline()

	var welcome struct {
		Type   string `json:"type"`
		PeerID string `json:"peerId"`
	}
	if err := s.readJSON(deadline, &welcome); err != nil {
		return fmt.Errorf("welcome: %w", err)
	}
	if welcome.Type != "welcome" {
		return fmt.Errorf("expected welcome, got %s", welcome.Type)
	}
	s.peerID = welcome.PeerID

	producer, err := s.findProducer(deadline)
	if err != nil {
		return err
	}
	if err := s.createPeerConnection(); err != nil {
		return fmt.Errorf("peer connection: %w", err)
	}
	if err := s.writeJSON(map[string]string{"type": "startSession", "peerId": producer}); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	s.wg.Add(1)
	go s.handleSignalling()

	select {
	case <-s.trackSeen:
		s.logger.Info("video track connected")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for video: %w", ctx.Err())
	}
}

func (s *Source) readJSON(deadline time.Time, v any) error {
	s.ws.SetReadDeadline(deadline)
	defer s.ws.SetReadDeadline(time.Time{})
	_, msg, err := s.ws.ReadMessage()
	if err != nil {
		return err
	}
	return json.Unmarshal(msg, v)
}

func (s *Source) writeJSON(v any) error {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	return s.ws.WriteJSON(v)
}

func (s *Source) findProducer(deadline time.Time) (string, error) {
	if err := s.writeJSON(map[string]string{"type": "list"}); err != nil {
		return "", err
	}
	var list struct {
		Producers []struct {
			ID   string            `json:"id"`
			Meta map[string]string `json:"meta"`
		} `json:"producers"`
	}
	if err := s.readJSON(deadline, &list); err != nil {
		return "", fmt.Errorf("list producers: %w", err)
	}
	for _, p := range list.Producers {
		if s.config.Producer == "" || p.Meta["name"] == s.config.Producer {
			return p.ID, nil
		}
	}
	return "", fmt.Errorf("producer %q not found in %d producers", s.config.Producer, len(list.Producers))
}

func (s *Source) createPeerConnection() error {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return err
	}
	s.pc = pc

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return err
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeVideo {
			return
		}
		s.logger.Info("track received", "codec", track.Codec().MimeType)
		s.seenOnce.Do(func() { close(s.trackSeen) })
		s.wg.Add(1)
		go s.readTrack(track)
	})
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || s.session == "" {
			return
		}
		init := c.ToJSON()
		_ = s.writeJSON(map[string]any{
			"type":      "peer",
			"sessionId": s.session,
			"ice": map[string]any{
				"candidate":     init.Candidate,
				"sdpMid":        init.SDPMid,
				"sdpMLineIndex": init.SDPMLineIndex,
			},
		})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Debug("connection state", "state", state.String())
	})
	return nil
}

type peerMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	SDP       *struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	} `json:"sdp"`
	ICE *struct {
		Candidate     string  `json:"candidate"`
		SDPMid        *string `json:"sdpMid"`
		SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
	} `json:"ice"`
}

func (s *Source) handleSignalling() {
	defer s.wg.Done()
	for {
		_, raw, err := s.ws.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil {
				s.logger.Warn("signalling closed", "error", err)
			}
			return
		}
		var msg peerMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "sessionStarted":
			s.session = msg.SessionID
		case "peer":
			s.handlePeer(msg)
		case "endSession":
			return
		}
	}
}

func (s *Source) handlePeer(msg peerMessage) {
	if msg.SDP != nil && msg.SDP.Type == "offer" {
		offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP.SDP}
		if err := s.pc.SetRemoteDescription(offer); err != nil {
			s.logger.Warn("set remote description", "error", err)
			return
		}
		answer, err := s.pc.CreateAnswer(nil)
		if err != nil {
			s.logger.Warn("create answer", "error", err)
			return
		}
		if err := s.pc.SetLocalDescription(answer); err != nil {
			s.logger.Warn("set local description", "error", err)
			return
		}
		_ = s.writeJSON(map[string]any{
			"type":      "peer",
			"sessionId": s.session,
			"sdp":       map[string]string{"type": answer.Type.String(), "sdp": answer.SDP},
		})
	}
	if msg.ICE != nil {
		_ = s.pc.AddICECandidate(webrtc.ICECandidateInit{
			Candidate:     msg.ICE.Candidate,
			SDPMid:        msg.ICE.SDPMid,
			SDPMLineIndex: msg.ICE.SDPMLineIndex,
		})
	}
}

func (s *Source) readTrack(track *webrtc.TrackRemote) {
	defer s.wg.Done()

	var (
		depack     codecs.H264Packet
		stream     bytes.Buffer
		lastDecode time.Time
	)
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		nal, err := depacketize(&depack, pkt)
		if err != nil || len(nal) == 0 {
			continue
		}
		if isKeyframe(nal) {
			stream.Reset()
		}
		stream.Write(nal)

		if time.Since(lastDecode) < s.config.DecodeInterval {
			continue
		}
		lastDecode = time.Now()
		jpeg, err := decodeLastFrame(s.ctx, stream.Bytes())
		if err != nil {
			s.logger.Debug("decode failed", "error", err)
			continue
		}
		s.publish(camera.Frame{Data: jpeg, CapturedAt: lastDecode})
	}
}

// publish replaces any undelivered frame with f.
func (s *Source) publish(f camera.Frame) {
	select {
	case <-s.frames:
	default:
	}
	select {
	case s.frames <- f:
	default:
	}
}

func depacketize(depack *codecs.H264Packet, pkt *rtp.Packet) ([]byte, error) {
	if pkt == nil || len(pkt.Payload) == 0 {
		return nil, nil
	}
	return depack.Unmarshal(pkt.Payload)
}

// isKeyframe reports whether an Annex-B buffer contains an SPS or IDR NAL.
func isKeyframe(annexB []byte) bool {
	for i := 0; i+3 < len(annexB); i++ {
		if annexB[i] != 0 || annexB[i+1] != 0 {
			continue
		}
		var hdr int
		switch {
		case annexB[i+2] == 1:
			hdr = i + 3
		case annexB[i+2] == 0 && i+4 < len(annexB) && annexB[i+3] == 1:
			hdr = i + 4
		default:
			continue
		}
		if t := annexB[hdr] & 0x1f; t == 5 || t == 7 {
			return true
		}
	}
	return false
}

func decodeLastFrame(ctx context.Context, h264 []byte) ([]byte, error) {
	if len(h264) < 100 {
		return nil, errors.New("not enough data")
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-loglevel", "error",
		"-f", "h264", "-i", "pipe:0",
		"-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "3",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(h264)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil && out.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg: %w", err)
	}
	return lastJPEG(out.Bytes())
}

// lastJPEG returns the final JPEG image in a concatenated MJPEG stream.
func lastJPEG(stream []byte) ([]byte, error) {
	i := bytes.LastIndex(stream, []byte{0xFF, 0xD8, 0xFF})
	if i < 0 {
		return nil, errors.New("no jpeg in decoder output")
	}
	img := stream[i:]
	if !bytes.HasSuffix(bytes.TrimRight(img, "\x00"), []byte{0xFF, 0xD9}) {
		return nil, errors.New("truncated jpeg")
	}
	return img, nil
}

// Next implements camera.Source.
func (s *Source) Next(ctx context.Context) (camera.Frame, error) {
	select {
	case <-ctx.Done():
		return camera.Frame{}, ctx.Err()
	case <-s.ctx.Done():
		return camera.Frame{}, faults.Device(s.Name(), errors.New("closed"))
	case f := <-s.frames:
		return f, nil
	}
}

// Name implements camera.Source.
func (s *Source) Name() string { return "webrtc:" + s.config.URL }

// Close tears down the peer connection and signalling socket.
func (s *Source) Close() error {
	s.cancel()
	var errs []error
	if s.pc != nil {
		errs = append(errs, s.pc.Close())
	}
	if s.ws != nil {
		errs = append(errs, s.ws.Close())
	}
	s.wg.Wait()
	return errors.Join(errs...)
}
