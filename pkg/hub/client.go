package hub

import (
	"time"

	"github.com/gofiber/websocket/v2"
)

// Connection timing. Dashboards only send control frames, so reads exist to
// notice a dead peer.
const (
	writeTimeout  = 10 * time.Second
	idleTimeout   = 60 * time.Second
	keepalive     = idleTimeout * 9 / 10
	readLimit     = 4 << 10
	clientBacklog = 64
)

// Message is one websocket payload.
type Message struct {
	Data   []byte
	Binary bool
}

// Text wraps pre-encoded JSON.
func Text(data []byte) Message { return Message{Data: data} }

// Binary wraps raw bytes such as a JPEG frame.
func Binary(data []byte) Message { return Message{Data: data, Binary: true} }

func (m Message) frameType() int {
	if m.Binary {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

// Client is one dashboard connection. The hub owns its send queue and
// closes it when the client leaves or falls behind.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan Message
}

// NewClient registers conn with h. It returns false once h has stopped.
func NewClient(h *Hub, conn *websocket.Conn) (*Client, bool) {
	c := &Client{hub: h, conn: conn, send: make(chan Message, clientBacklog)}
	select {
	case h.register <- c:
		return c, true
	case <-h.done:
		return nil, false
	}
}

// Run serves the connection until the peer goes away or the hub drops it.
// It blocks, so call it from the websocket handler.
func (c *Client) Run() {
	go c.write()
	c.read()
}

func (c *Client) leave() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
}

func (c *Client) read() {
	defer c.conn.Close()
	defer c.leave()

	extend := func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	}
	c.conn.SetReadLimit(readLimit)
	extend("")
	c.conn.SetPongHandler(extend)

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// write is the connection's only writer.
func (c *Client) write() {
	ping := time.NewTicker(keepalive)
	defer ping.Stop()
	defer c.conn.Close()

	for {
		var (
			kind int
			data []byte
		)
		select {
		case msg, ok := <-c.send:
			if !ok {
				kind = websocket.CloseMessage
			} else {
				kind, data = msg.frameType(), msg.Data
			}
		case <-ping.C:
			kind = websocket.PingMessage
		}

		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(kind, data); err != nil || kind == websocket.CloseMessage {
			return
		}
	}
}
