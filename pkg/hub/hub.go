// Package hub fans out alert updates and preview frames to dashboard
// websocket clients. A slow client is dropped instead of slowing the rest.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-sentry/internal/log"
)

// Hub tracks connected clients. All membership changes happen on the Serve
// goroutine; mu only guards reads of the client set from other goroutines.
type Hub struct {
	name   string
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}

	broadcast  chan Message
	register   chan *Client
	unregister chan *Client

	// done is closed when Serve returns. A hub serves once.
	done chan struct{}

	greeting func() (Message, bool)
}

// New creates a hub. name shows up in logs.
func New(name string, logger *slog.Logger) *Hub {
	return &Hub{
		name:       name,
		logger:     log.Or(logger, "hub").With("hub", name),
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// SetGreeting sets a function producing the first message each new client
// receives, ahead of any broadcast. Call before Serve.
func (h *Hub) SetGreeting(fn func() (Message, bool)) {
	h.greeting = fn
}

// String implements fmt.Stringer for supervisor logs.
func (h *Hub) String() string { return "hub-" + h.name }

// Serve runs the fan-out loop until ctx ends, then disconnects every
// client.
func (h *Hub) Serve(ctx context.Context) error {
	defer close(h.done)
	defer h.dropAll()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-h.register:
			h.join(c)
		case c := <-h.unregister:
			h.drop(c, "client disconnected")
		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

func (h *Hub) join(c *Client) {
	if h.greeting != nil {
		if msg, ok := h.greeting(); ok {
			c.send <- msg
		}
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client connected", "clients", n)
}

func (h *Hub) drop(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.logger.Info(reason, "clients", n)
	}
}

func (h *Hub) fanOut(msg Message) {
	var slow []*Client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range slow {
		h.drop(c, "dropped slow client")
	}
}

func (h *Hub) dropAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// Broadcast queues msg for every client. It never blocks; when the queue is
// full the message is dropped.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("broadcast queue full, dropping message")
	}
}

// BroadcastJSON encodes and broadcasts v.
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(Text(data))
	return nil
}

// BroadcastBinary broadcasts raw bytes such as a JPEG preview frame.
func (h *Hub) BroadcastBinary(data []byte) {
	h.Broadcast(Binary(data))
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
