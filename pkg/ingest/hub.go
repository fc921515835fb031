// Package ingest accepts camera frames and microphone audio pushed by remote
// edge nodes over WebSocket, and feeds them to the pipeline as a frame
// source and an audio source.
//
// Only one node feeds the pipeline at a time: the configured node, or else
// the first node that streams, until it disconnects. Frames from several
// cameras would otherwise be mixed into one track store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-sentry/internal/log"
	"github.com/teslashibe/go-sentry/pkg/audioio"
	"github.com/teslashibe/go-sentry/pkg/camera"
	"github.com/teslashibe/go-sentry/pkg/fusion"
	"github.com/teslashibe/go-sentry/pkg/metrics"
	"github.com/teslashibe/go-sentry/pkg/protocol"
)

// ErrNodeNotConnected is returned when sending to an unknown node.
var ErrNodeNotConnected = errors.New("edge node not connected")

// Node represents a connected edge node
type Node struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time

	mu       sync.Mutex
	lastSeen time.Time
	hello    protocol.HelloData
	opus     *audioio.OpusDecoder
	opusRate int
	opusCh   int
}

// Send sends a message to the node. deadline may be zero.
func (n *Node) Send(msg *protocol.Message, deadline time.Time) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.Conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return n.Conn.WriteMessage(websocket.TextMessage, data)
}

func (n *Node) touch(now time.Time) {
	n.mu.Lock()
	n.lastSeen = now
	n.mu.Unlock()
}

// decoder returns the node's Opus decoder, recreating it if the stream
// changes rate or layout.
func (n *Node) decoder(rate, channels int) (*audioio.OpusDecoder, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.opus != nil && n.opusRate == rate && n.opusCh == channels {
		return n.opus, nil
	}
	dec, err := audioio.NewOpusDecoder(rate, channels)
	if err != nil {
		return nil, err
	}
	n.opus, n.opusRate, n.opusCh = dec, rate, channels
	return dec, nil
}

// Hub manages WebSocket connections from edge nodes
type Hub struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.RWMutex
	nodes  map[string]*Node
	active string

	frames chan camera.Frame
	mic    *Mic

	closed    chan struct{}
	closeOnce sync.Once

	// Stats
	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	framesReceived   atomic.Uint64
	rejected         atomic.Uint64
}

var _ camera.Source = (*Hub)(nil)

// NewHub creates a new edge hub
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	h := &Hub{
		cfg:    cfg,
		logger: log.Or(logger, "ingest"),
		nodes:  make(map[string]*Node),
		frames: make(chan camera.Frame, 1),
		closed: make(chan struct{}),
	}
	h.mic = newMic(h, cfg)
	return h
}

// Mic returns the audio source fed by the active node.
func (h *Hub) Mic() *Mic { return h.mic }

// Next implements camera.Source. It blocks until the active node sends a
// frame. Only the newest frame is kept.
func (h *Hub) Next(ctx context.Context) (camera.Frame, error) {
	select {
	case <-ctx.Done():
		return camera.Frame{}, ctx.Err()
	case <-h.closed:
		return camera.Frame{}, io.EOF
	case f := <-h.frames:
		return f, nil
	}
}

// Name implements camera.Source and alert.Sink.
func (h *Hub) Name() string { return "edge" }

// Close disconnects every node and ends Next and Mic reads.
func (h *Hub) Close() error {
	h.closeOnce.Do(func() {
		close(h.closed)
		h.mu.RLock()
		for _, n := range h.nodes {
			n.Conn.Close()
		}
		h.mu.RUnlock()
		h.mic.Stop()
	})
	return nil
}

// RegisterRoutes registers the edge WebSocket endpoint on a Fiber router
func (h *Hub) RegisterRoutes(r fiber.Router) {
	r.Use("/ws/edge", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	r.Get("/ws/edge", websocket.New(h.handleNode))
	r.Get("/ws/edge/:id", websocket.New(h.handleNode))
}

// handleNode handles an edge node WebSocket connection
func (h *Hub) handleNode(c *websocket.Conn) {
	nodeID := c.Params("id")
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	now := time.Now()
	node := &Node{ID: nodeID, Conn: c, Connected: now, lastSeen: now}

	if err := h.add(node); err != nil {
		h.logger.Warn("edge node rejected", "node", nodeID, "error", err)
		return
	}
	defer h.remove(node)

	c.SetReadLimit(int64(h.cfg.MaxMessageSize))

	for {
		if err := c.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
			return
		}
		_, data, err := c.ReadMessage()
		if err != nil {
			h.logger.Debug("edge node read ended", "node", nodeID, "error", err)
			return
		}

		node.touch(time.Now())
		h.messagesReceived.Add(1)
		h.handleMessage(node, data)
	}
}

func (h *Hub) add(n *Node) error {
	select {
	case <-h.closed:
		return errors.New("hub closed")
	default:
	}

	h.mu.Lock()
	if _, dup := h.nodes[n.ID]; dup {
		h.mu.Unlock()
		return fmt.Errorf("node id %q already connected", n.ID)
	}
	h.nodes[n.ID] = n
	count := len(h.nodes)
	h.mu.Unlock()

	metrics.EdgeNodes.Set(float64(count))
	h.logger.Info("edge node connected", "node", n.ID, "total", count)
	return nil
}

func (h *Hub) remove(n *Node) {
	h.mu.Lock()
	delete(h.nodes, n.ID)
	count := len(h.nodes)
	wasActive := h.active == n.ID
	if wasActive {
		h.active = ""
	}
	h.mu.Unlock()

	metrics.EdgeNodes.Set(float64(count))
	h.logger.Info("edge node disconnected", "node", n.ID, "total", count, "was_active", wasActive)
}

// follow reports whether media from nodeID feeds the pipeline.
func (h *Hub) follow(nodeID string) bool {
	if h.cfg.Node != "" {
		return nodeID == h.cfg.Node
	}

	h.mu.RLock()
	active := h.active
	h.mu.RUnlock()
	if active != "" {
		return active == nodeID
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active == "" {
		if _, ok := h.nodes[nodeID]; !ok {
			return false
		}
		h.active = nodeID
		h.logger.Info("following edge node", "node", nodeID)
	}
	return h.active == nodeID
}

// Active returns the id of the node feeding the pipeline, if any.
func (h *Hub) Active() string {
	if h.cfg.Node != "" {
		return h.cfg.Node
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.active
}

// handleMessage processes an incoming message from a node
func (h *Hub) handleMessage(node *Node, data []byte) {
	msg, err := protocol.Parse(data)
	if err != nil {
		h.reject(node, "invalid", err)
		return
	}

	switch msg.Type {
	case protocol.TypeFrame:
		metrics.IngestMessages.WithLabelValues("frame").Inc()
		if !h.follow(node.ID) {
			return
		}
		if err := h.handleFrame(msg); err != nil {
			h.reject(node, "frame", err)
		}

	case protocol.TypeMic:
		metrics.IngestMessages.WithLabelValues("mic").Inc()
		if !h.follow(node.ID) {
			return
		}
		if err := h.handleMic(node, msg); err != nil {
			h.reject(node, "mic", err)
		}

	case protocol.TypeHello:
		metrics.IngestMessages.WithLabelValues("hello").Inc()
		hello, err := protocol.Decode[protocol.HelloData](msg)
		if err != nil {
			h.reject(node, "hello", err)
			return
		}
		node.mu.Lock()
		node.hello = hello
		node.mu.Unlock()
		h.logger.Info("edge node hello", "node", node.ID, "name", hello.Name,
			"camera", hello.Camera, "mic", hello.Mic, "codec", hello.MicCodec)

	case protocol.TypePing:
		metrics.IngestMessages.WithLabelValues("ping").Inc()
		var pingID string
		if msg.Data != nil {
			if ping, err := protocol.Decode[protocol.PingData](msg); err == nil {
				pingID = ping.ID
			}
		}
		if err := h.sendPong(node, pingID, msg.Timestamp); err != nil {
			h.logger.Debug("pong failed", "node", node.ID, "error", err)
		}

	case protocol.TypePong:
		metrics.IngestMessages.WithLabelValues("pong").Inc()

	default:
		h.reject(node, "unknown", fmt.Errorf("%w: unexpected type %q", protocol.ErrInvalidPayload, msg.Type))
	}
}

func (h *Hub) reject(node *Node, kind string, err error) {
	h.rejected.Add(1)
	metrics.IngestMessages.WithLabelValues("rejected").Inc()
	h.logger.Debug("edge message rejected", "node", node.ID, "kind", kind, "error", err)
}

func (h *Hub) handleFrame(msg *protocol.Message) error {
	fd, err := protocol.Decode[protocol.FrameData](msg)
	if err != nil {
		return err
	}
	img, err := fd.Image()
	if err != nil {
		return err
	}

	h.framesReceived.Add(1)
	f := camera.Frame{Data: img, Width: fd.Width, Height: fd.Height, CapturedAt: time.Now()}

	// Replace any frame the pipeline has not taken yet.
	select {
	case <-h.frames:
	default:
	}
	select {
	case h.frames <- f:
	default:
	}
	return nil
}

func (h *Hub) handleMic(node *Node, msg *protocol.Message) error {
	md, err := protocol.Decode[protocol.MicData](msg)
	if err != nil {
		return err
	}
	payload, err := md.Audio()
	if err != nil {
		return err
	}

	var chunk audioio.AudioChunk
	switch md.Format {
	case protocol.FormatOpus:
		dec, err := node.decoder(md.SampleRate, md.Channels)
		if err != nil {
			return err
		}
		if chunk, err = dec.Decode(payload); err != nil {
			return err
		}
	default:
		chunk.FromBytes(payload, md.SampleRate, md.Channels)
	}

	h.mic.push(chunk)
	return nil
}

func (h *Hub) sendPong(node *Node, id string, pingTS int64) error {
	msg, err := protocol.Pong(id, pingTS, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	h.messagesSent.Add(1)
	return node.Send(msg, time.Now().Add(time.Second))
}

// Send sends a message to one node
func (h *Hub) Send(nodeID string, msg *protocol.Message) error {
	h.mu.RLock()
	node, ok := h.nodes[nodeID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", nodeID, ErrNodeNotConnected)
	}

	h.messagesSent.Add(1)
	return node.Send(msg, time.Now().Add(5*time.Second))
}

// Broadcast sends a message to all connected nodes
func (h *Hub) Broadcast(ctx context.Context, msg *protocol.Message) error {
	deadline, _ := ctx.Deadline()

	h.mu.RLock()
	nodes := make([]*Node, 0, len(h.nodes))
	for _, n := range h.nodes {
		nodes = append(nodes, n)
	}
	h.mu.RUnlock()

	var errs []error
	for _, n := range nodes {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		h.messagesSent.Add(1)
		if err := n.Send(msg, deadline); err != nil {
			errs = append(errs, fmt.Errorf("node %s: %w", n.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Deliver implements alert.Sink: every connected node receives each
// transition, for local sirens or displays.
func (h *Hub) Deliver(ctx context.Context, state fusion.AlertState) error {
	msg, err := protocol.Alert(protocol.AlertData{
		ID:       state.ID,
		Level:    state.Level.String(),
		Previous: state.Previous.String(),
		Message:  state.Message,
		Since:    state.Since,
	})
	if err != nil {
		return err
	}
	return h.Broadcast(ctx, msg)
}

// NodeCount returns the number of connected nodes
func (h *Hub) NodeCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}

// Stats contains hub statistics
type Stats struct {
	NodeCount        int    `json:"node_count"`
	Active           string `json:"active,omitempty"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	FramesReceived   uint64 `json:"frames_received"`
	Rejected         uint64 `json:"rejected"`
	MicOverruns      int64  `json:"mic_overruns"`
}

// Stats returns hub counters.
func (h *Hub) Stats() Stats {
	return Stats{
		NodeCount:        h.NodeCount(),
		Active:           h.Active(),
		MessagesReceived: h.messagesReceived.Load(),
		MessagesSent:     h.messagesSent.Load(),
		FramesReceived:   h.framesReceived.Load(),
		Rejected:         h.rejected.Load(),
		MicOverruns:      h.mic.overruns.Load(),
	}
}

// NodeInfo contains info about a connected node
type NodeInfo struct {
	ID        string             `json:"id"`
	Connected time.Time          `json:"connected"`
	LastSeen  time.Time          `json:"last_seen"`
	Active    bool               `json:"active"`
	Hello     protocol.HelloData `json:"hello"`
}

// Nodes returns info about all connected nodes
func (h *Hub) Nodes() []NodeInfo {
	active := h.Active()

	h.mu.RLock()
	defer h.mu.RUnlock()

	infos := make([]NodeInfo, 0, len(h.nodes))
	for _, n := range h.nodes {
		n.mu.Lock()
		infos = append(infos, NodeInfo{
			ID:        n.ID,
			Connected: n.Connected,
			LastSeen:  n.lastSeen,
			Active:    n.ID == active,
			Hello:     n.hello,
		})
		n.mu.Unlock()
	}
	return infos
}

// RegisterAPIRoutes registers API routes for node management
func (h *Hub) RegisterAPIRoutes(api fiber.Router) {
	nodes := api.Group("/nodes")

	nodes.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"nodes": h.Nodes(),
			"count": h.NodeCount(),
		})
	})

	nodes.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(h.Stats())
	})

	// Push capture settings to a node
	nodes.Post("/:id/config", func(c *fiber.Ctx) error {
		var update protocol.ConfigUpdate
		if err := c.BodyParser(&update); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		msg, err := protocol.Configure(update)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		if err := h.Send(c.Params("id"), msg); err != nil {
			status := fiber.StatusInternalServerError
			if errors.Is(err, ErrNodeNotConnected) {
				status = fiber.StatusNotFound
			}
			return c.Status(status).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "sent"})
	})
}
