package hub

import (
	"context"
	"errors"
	"testing"
	"time"
)

func startHub(t *testing.T, h *Hub) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	ch := make(chan error, 1)
	go func() { ch <- h.Serve(ctx) }()
	return stop, ch
}

func attach(t *testing.T, h *Hub, buf int) *Client {
	t.Helper()
	c := &Client{hub: h, send: make(chan Message, buf)}
	select {
	case h.register <- c:
	case <-time.After(time.Second):
		t.Fatal("hub did not accept client")
	}
	return c
}

func recv(t *testing.T, c *Client) (Message, bool) {
	t.Helper()
	select {
	case m, ok := <-c.send:
		return m, ok
	case <-time.After(time.Second):
		t.Fatal("no message")
		return Message{}, false
	}
}

func TestHub_GreetingAndBroadcast(t *testing.T) {
	h := New("alerts", nil)
	h.SetGreeting(func() (Message, bool) { return Text([]byte(`{"hello":1}`)), true })
	cancel, done := startHub(t, h)
	defer cancel()

	c := attach(t, h, 8)
	if m, _ := recv(t, c); string(m.Data) != `{"hello":1}` {
		t.Errorf("greeting = %s", m.Data)
	}

	if err := h.BroadcastJSON(map[string]int{"n": 2}); err != nil {
		t.Fatalf("BroadcastJSON: %v", err)
	}
	m, _ := recv(t, c)
	if m.Binary || string(m.Data) != `{"n":2}` {
		t.Errorf("broadcast = %+v", m)
	}

	h.BroadcastBinary([]byte{0xff, 0xd8})
	if m, _ := recv(t, c); !m.Binary {
		t.Errorf("expected binary message, got %+v", m)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve returned %v", err)
	}
	if _, ok := <-c.send; ok {
		t.Error("client channel should be closed on shutdown")
	}
	if h.ClientCount() != 0 {
		t.Errorf("clients = %d after shutdown", h.ClientCount())
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	h := New("alerts", nil)
	cancel, _ := startHub(t, h)
	defer cancel()

	slow := attach(t, h, 1)
	fast := attach(t, h, 8)

	h.Broadcast(Text([]byte("1")))
	h.Broadcast(Text([]byte("2")))

	recv(t, fast)
	recv(t, fast)

	deadline := time.Now().Add(time.Second)
	for h.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := h.ClientCount(); got != 1 {
		t.Fatalf("clients = %d, want 1", got)
	}

	// The slow client got the first message, then its channel was closed.
	if _, ok := recv(t, slow); !ok {
		t.Fatal("expected first message before close")
	}
	if _, ok := <-slow.send; ok {
		t.Error("slow client channel should be closed")
	}
}

func TestHub_NewClientAfterStop(t *testing.T) {
	h := New("alerts", nil)
	cancel, done := startHub(t, h)
	cancel()
	<-done

	if _, ok := NewClient(h, nil); ok {
		t.Error("NewClient should fail once the hub has stopped")
	}
}
