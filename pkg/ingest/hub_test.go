package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"gopkg.in/hraban/opus.v2"

	"github.com/teslashibe/go-sentry/pkg/audioio"
	"github.com/teslashibe/go-sentry/pkg/fusion"
	"github.com/teslashibe/go-sentry/pkg/protocol"
)

var jpegData = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10}

func mustBytes(t *testing.T) func(msg *protocol.Message, err error) []byte {
	return func(msg *protocol.Message, err error) []byte {
		t.Helper()
		if err != nil {
			t.Fatalf("build message: %v", err)
		}
		b, err := msg.Encode()
		if err != nil {
			t.Fatalf("encode message: %v", err)
		}
		return b
	}
}

// connect registers a node without a socket, for tests that never write back.
func connect(t *testing.T, h *Hub, id string) *Node {
	t.Helper()
	n := &Node{ID: id, Connected: time.Now()}
	if err := h.add(n); err != nil {
		t.Fatalf("add %s: %v", id, err)
	}
	return n
}

func TestNewHub(t *testing.T) {
	hub := NewHub(DefaultConfig(), nil)

	if hub.NodeCount() != 0 {
		t.Error("NodeCount should be 0 initially")
	}
	stats := hub.Stats()
	if stats.MessagesReceived != 0 || stats.FramesReceived != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if got := hub.Mic().Config().Backend; got != audioio.BackendEdge {
		t.Errorf("mic backend = %s", got)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg := DefaultConfig()
	cfg.ReadTimeout = 0
	cfg.MicBuffer = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error")
	}
}

func TestFramesFollowFirstStreamingNode(t *testing.T) {
	hub := NewHub(DefaultConfig(), nil)
	a := connect(t, hub, "a")
	b := connect(t, hub, "b")

	hub.handleMessage(a, mustBytes(t)(protocol.Frame(640, 480, jpegData, 1)))
	hub.handleMessage(b, mustBytes(t)(protocol.Frame(320, 240, jpegData, 1)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f, err := hub.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.Width != 640 {
		t.Errorf("frame from wrong node: width %d", f.Width)
	}
	if hub.Active() != "a" {
		t.Errorf("active = %q, want a", hub.Active())
	}

	// Once a leaves, b takes over.
	hub.remove(a)
	hub.handleMessage(b, mustBytes(t)(protocol.Frame(320, 240, jpegData, 2)))
	f, err = hub.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.Width != 320 {
		t.Errorf("width = %d, want 320 after failover", f.Width)
	}
}

func TestPinnedNode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Node = "door"
	hub := NewHub(cfg, nil)
	other := connect(t, hub, "lobby")

	hub.handleMessage(other, mustBytes(t)(protocol.Frame(640, 480, jpegData, 1)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := hub.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("frame from unpinned node was accepted: %v", err)
	}
}

func TestNextKeepsNewestFrame(t *testing.T) {
	hub := NewHub(DefaultConfig(), nil)
	n := connect(t, hub, "cam")

	for i := 1; i <= 3; i++ {
		hub.handleMessage(n, mustBytes(t)(protocol.Frame(100*i, 100, jpegData, uint64(i))))
	}

	f, err := hub.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.Width != 300 {
		t.Errorf("width = %d, want newest frame (300)", f.Width)
	}
	if got := hub.Stats().FramesReceived; got != 3 {
		t.Errorf("frames received = %d, want 3", got)
	}
}

func TestRejectsMalformed(t *testing.T) {
	hub := NewHub(DefaultConfig(), nil)
	n := connect(t, hub, "cam")

	for _, raw := range []string{
		"not json",
		`{"type":"frame"}`,
		`{"type":"frame","data":{"width":640,"height":480,"format":"h264","data":"AA=="}}`,
		`{"type":"mic","data":{"format":"pcm16","sample_rate":16000,"channels":1,"data":"AAA="}}`,
		`{"type":"motor","data":{}}`,
	} {
		hub.handleMessage(n, []byte(raw))
	}

	if got := hub.Stats().Rejected; got != 5 {
		t.Errorf("rejected = %d, want 5", got)
	}
	select {
	case f := <-hub.frames:
		t.Errorf("malformed frame was queued: %+v", f)
	default:
	}
}

func TestMicPCM(t *testing.T) {
	hub := NewHub(DefaultConfig(), nil)
	mic := hub.Mic()
	n := connect(t, hub, "cam")

	// Not started: chunks are discarded.
	pcm := audioio.SamplesToBytes([]int16{16384, -16384, 16384, -16384})
	hub.handleMessage(n, mustBytes(t)(protocol.Mic(pcm, 16000)))

	ctx := context.Background()
	if err := mic.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	hub.handleMessage(n, mustBytes(t)(protocol.Mic(pcm, 16000)))

	chunk, err := mic.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(chunk.Samples) != 4 || chunk.SampleRate != 16000 {
		t.Errorf("chunk = %+v", chunk)
	}
	if lvl := chunk.Level(); lvl < 120 || lvl > 135 {
		t.Errorf("level = %v, want ~127", lvl)
	}

	mic.Stop()
	if _, err := mic.Read(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("Read after Stop = %v, want EOF", err)
	}
}

func TestMicDropsOldest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MicBuffer = 2
	hub := NewHub(cfg, nil)
	mic := hub.Mic()
	mic.Start(context.Background())

	for i := int16(1); i <= 4; i++ {
		mic.push(audioio.AudioChunk{Samples: []int16{i}, SampleRate: 16000, Channels: 1})
	}

	var got []int16
	for i := 0; i < 2; i++ {
		c, err := mic.Read(context.Background())
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		got = append(got, c.Samples[0])
	}
	if got[0] != 3 || got[1] != 4 {
		t.Errorf("samples = %v, want [3 4]", got)
	}
	if st := mic.Stats(); st.Overruns != 2 {
		t.Errorf("overruns = %d, want 2", st.Overruns)
	}
}

func TestMicOpus(t *testing.T) {
	enc, err := opus.NewEncoder(48000, 1, opus.AppVoIP)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	pcm := make([]int16, 960) // 20ms at 48kHz
	for i := range pcm {
		if (i/24)%2 == 0 {
			pcm[i] = 12000
		} else {
			pcm[i] = -12000
		}
	}
	packet := make([]byte, 1000)
	n, err := enc.Encode(pcm, packet)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	hub := NewHub(DefaultConfig(), nil)
	node := connect(t, hub, "cam")
	mic := hub.Mic()
	mic.Start(context.Background())

	hub.handleMessage(node, mustBytes(t)(protocol.OpusMic(packet[:n], 48000)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	chunk, err := mic.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(chunk.Samples) != 960 || chunk.SampleRate != 48000 {
		t.Errorf("decoded %d samples at %d Hz", len(chunk.Samples), chunk.SampleRate)
	}
}

func TestCloseEndsReads(t *testing.T) {
	hub := NewHub(DefaultConfig(), nil)
	hub.Mic().Start(context.Background())
	hub.Close()

	if _, err := hub.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("Next after Close = %v, want EOF", err)
	}
	if _, err := hub.Mic().Read(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("Read after Close = %v, want EOF", err)
	}
	if err := hub.Mic().Start(context.Background()); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("Start after Close = %v", err)
	}
}

func TestSendToMissingNode(t *testing.T) {
	hub := NewHub(DefaultConfig(), nil)
	msg, _ := protocol.Ping("x")
	if err := hub.Send("nope", msg); !errors.Is(err, ErrNodeNotConnected) {
		t.Errorf("Send = %v, want ErrNodeNotConnected", err)
	}
}

func TestAPIListNodes(t *testing.T) {
	hub := NewHub(DefaultConfig(), nil)
	connect(t, hub, "cam")
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.RegisterAPIRoutes(app.Group("/api"))

	resp, err := app.Test(httptest.NewRequest("GET", "/api/nodes/", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("Status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"id":"cam"`) {
		t.Errorf("body = %s", body)
	}

	req := httptest.NewRequest("POST", "/api/nodes/missing/config", strings.NewReader(`{"camera":{"framerate":5}}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("Status = %d, want 404", resp.StatusCode)
	}
}

func TestWebSocketSession(t *testing.T) {
	hub := NewHub(DefaultConfig(), nil)
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.RegisterRoutes(app)

	go app.Listen(":18181")
	defer app.Shutdown()
	time.Sleep(100 * time.Millisecond)

	ws, _, err := websocket.DefaultDialer.Dial("ws://localhost:18181/ws/edge/porch", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer ws.Close()

	ws.WriteMessage(websocket.TextMessage, mustBytes(t)(protocol.Hello(protocol.HelloData{Name: "porch", Camera: true})))
	ws.WriteMessage(websocket.TextMessage, mustBytes(t)(protocol.Frame(640, 480, jpegData, 1)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f, err := hub.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if string(f.Data) != string(jpegData) {
		t.Errorf("frame data = %x", f.Data)
	}

	nodes := hub.Nodes()
	if len(nodes) != 1 || nodes[0].ID != "porch" || !nodes[0].Active || nodes[0].Hello.Name != "porch" {
		t.Errorf("nodes = %+v", nodes)
	}

	// Ping gets a pong.
	ws.WriteMessage(websocket.TextMessage, mustBytes(t)(protocol.Ping("p1")))
	var pong protocol.Message
	ws.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	json.Unmarshal(data, &pong)
	if pong.Type != protocol.TypePong {
		t.Errorf("Type = %s, want pong", pong.Type)
	}

	// Alerts are pushed to the node.
	state := fusion.AlertState{ID: "a1", Level: fusion.Weapon, Message: "Warning: Weapon Detected (knife)!"}
	dctx, dcancel := context.WithTimeout(context.Background(), time.Second)
	defer dcancel()
	if err := hub.Deliver(dctx, state); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	_, data, err = ws.ReadMessage()
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	msg, err := protocol.Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	alert, err := protocol.Decode[protocol.AlertData](msg)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if alert.ID != "a1" || alert.Level != "Weapon" || alert.Previous != "Clear" {
		t.Errorf("alert = %+v", alert)
	}

	ws.Close()
	time.Sleep(100 * time.Millisecond)
	if hub.NodeCount() != 0 {
		t.Errorf("NodeCount = %d, want 0 after disconnect", hub.NodeCount())
	}
}

func TestWebSocketDuplicateID(t *testing.T) {
	hub := NewHub(DefaultConfig(), nil)
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.RegisterRoutes(app)

	go app.Listen(":18182")
	defer app.Shutdown()
	time.Sleep(100 * time.Millisecond)

	first, _, err := websocket.DefaultDialer.Dial("ws://localhost:18182/ws/edge/cam", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer first.Close()
	time.Sleep(50 * time.Millisecond)

	second, _, err := websocket.DefaultDialer.Dial("ws://localhost:18182/ws/edge/cam", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := second.ReadMessage(); err == nil {
		t.Error("duplicate node should be disconnected")
	}
	if hub.NodeCount() != 1 {
		t.Errorf("NodeCount = %d, want 1", hub.NodeCount())
	}
}
