package eventfeed

import (
	"context"
	"testing"
	"time"
)

const testListenAddr = "127.0.0.1:0"

// waitForCondition polls fn every 10ms until it returns true or the timeout
// expires.
func waitForCondition(t *testing.T, timeout time.Duration, fn func() bool) bool {
	t.Helper()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case <-ticker.C:
			if fn() {
				return true
			}
		case <-deadline.C:
			return false
		}
	}
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(HubOptions{Addr: testListenAddr})
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { hub.Stop() })
	return hub
}

func dialHub(t *testing.T, hub *Hub) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := Dial(ctx, hub.Addr())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	if !waitForCondition(t, 2*time.Second, hub.HasActiveConnection) {
		t.Fatal("timed out waiting for hub to register connection")
	}
	return client
}

// nextMessage skips events until one carries msg.
func nextMessage(t *testing.T, c *Client, msg string) Event {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		ev, err := c.Next()
		if err != nil {
			t.Fatalf("Next() error = %v (waiting for %q)", err, msg)
		}
		if ev.Message == msg {
			return ev
		}
	}
}

func TestStartAndStop(t *testing.T) {
	hub := NewHub(HubOptions{Addr: testListenAddr})
	if hub.URL() != "" || hub.Addr() != "" {
		t.Fatal("URL/Addr set before Start")
	}
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if hub.URL() == "" {
		t.Fatal("URL() empty after Start")
	}
	if err := hub.Start(context.Background()); err == nil {
		t.Fatal("second Start() expected error")
	}
	if err := hub.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := hub.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}

func TestStopWithoutStart(t *testing.T) {
	if err := NewHub(HubOptions{}).Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestStartPortConflict(t *testing.T) {
	first := startHub(t)
	second := NewHub(HubOptions{Addr: first.Addr()})
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("Start() on a bound port expected error")
	}
}

func TestPublishDeliversEvent(t *testing.T) {
	hub := startHub(t)
	client := dialHub(t, hub)

	ts := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	hub.Publish(Event{
		Time:    ts,
		Level:   "INFO",
		Source:  "runner",
		Message: "[runner] launched",
		Attrs:   map[string]string{"pid": "42"},
	})

	ev := nextMessage(t, client, "[runner] launched")
	if !ev.Time.Equal(ts) || ev.Level != "INFO" || ev.Source != "runner" || ev.Attrs["pid"] != "42" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestPublishWithoutClientDoesNotBlock(t *testing.T) {
	hub := NewHub(HubOptions{BufferSize: 1})
	done := make(chan struct{})
	go func() {
		for range 100 {
			hub.Publish(Event{Message: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked without a client")
	}
}

func TestPublishDropsWhenQueueFull(t *testing.T) {
	hub := startHub(t)
	dialHub(t, hub)

	// Holding writeMu stalls the writer after it dequeues one event.
	hub.writeMu.Lock()
	for range hub.opts.BufferSize + 10 {
		hub.Publish(Event{Message: "burst"})
	}
	hub.writeMu.Unlock()

	if hub.Dropped() == 0 {
		t.Fatal("expected dropped events when queue overflowed")
	}
}

func TestConnectionReplacement(t *testing.T) {
	hub := startHub(t)
	first := dialHub(t, hub)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	second, err := Dial(ctx, hub.Addr())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer second.Close()

	first.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, err := first.Next(); err != nil {
			break
		}
	}

	hub.Publish(Event{Message: "after replace"})
	nextMessage(t, second, "after replace")
}

func TestClientDisconnectClearsConnection(t *testing.T) {
	hub := startHub(t)
	client := dialHub(t, hub)
	client.Close()
	if !waitForCondition(t, 2*time.Second, func() bool { return !hub.HasActiveConnection() }) {
		t.Fatal("timed out waiting for hub to clear connection")
	}
}

func TestStopClosesClient(t *testing.T) {
	hub := NewHub(HubOptions{Addr: testListenAddr})
	if err := hub.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	client := dialHub(t, hub)
	if err := hub.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	client.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, err := client.Next(); err != nil {
			return
		}
	}
}

func TestDialFailsWithoutServer(t *testing.T) {
	hub := startHub(t)
	addr := hub.Addr()
	hub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := Dial(ctx, addr); err == nil {
		t.Fatal("Dial() expected error after Stop")
	}
}
