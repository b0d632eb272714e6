// Package eventfeed streams daemon log events to one local WebSocket client.
package eventfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Path is the HTTP path serving the feed.
const Path = "/events"

// writeDeadline bounds a single WebSocket write.
const writeDeadline = 5 * time.Second

// readDeadline allows ~3 missed pings before the connection is dead.
const readDeadline = 90 * time.Second

const pingInterval = 30 * time.Second

// maxReadMessageSize limits client frames; the client never sends data.
const maxReadMessageSize = 4 * 1024

const defaultBufferSize = 256

var wsUpgrader = websocket.Upgrader{
	// Loopback-only listener; see config.validateLoopbackAddr.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 4 * 1024,
}

// Event is one JSON record sent to the client.
type Event struct {
	Time    time.Time         `json:"time"`
	Level   string            `json:"level"`
	Source  string            `json:"source,omitempty"`
	Message string            `json:"message"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}

// HubOptions configures the feed server.
type HubOptions struct {
	// Addr is the listen address. Use "127.0.0.1:0" for OS-assigned port.
	Addr string
	// BufferSize is the number of events queued for the writer. Events
	// published while the queue is full are dropped.
	BufferSize int
}

// Hub serves a single WebSocket client. A new connection replaces the
// existing one.
//
// Publish never blocks and never writes to the socket itself; a dedicated
// writer goroutine drains the queue. Slog records emitted by the hub can
// therefore be teed back into Publish without re-entering a lock.
//
// Lock ordering (never acquire in reverse):
//
//	writeMu -> mu
type Hub struct {
	opts HubOptions

	mu   sync.RWMutex
	conn *websocket.Conn

	// writeMu serializes WriteMessage calls; gorilla/websocket does not
	// support concurrent writers.
	writeMu sync.Mutex

	events  chan Event
	dropped atomic.Uint64
	stopCh  chan struct{}
	writerW sync.WaitGroup

	listener net.Listener
	server   *http.Server
	url      string

	closeOnce sync.Once
}

// NewHub creates a Hub. It does not listen until Start.
func NewHub(opts HubOptions) *Hub {
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:0"
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	return &Hub{
		opts:   opts,
		events: make(chan Event, opts.BufferSize),
		stopCh: make(chan struct{}),
	}
}

// Start listens on the configured address and serves the feed. The server
// must be stopped explicitly via Stop.
func (h *Hub) Start(ctx context.Context) error {
	if h.server != nil {
		return fmt.Errorf("eventfeed: already started")
	}

	ln, err := net.Listen("tcp", h.opts.Addr)
	if err != nil {
		return fmt.Errorf("eventfeed: listen: %w", err)
	}
	h.listener = ln
	h.url = "ws://" + ln.Addr().String() + Path

	mux := http.NewServeMux()
	mux.HandleFunc(Path, h.handleWS)
	h.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if serveErr := h.server.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("[eventfeed] server error", "error", serveErr)
		}
	}()
	h.writerW.Go(h.writeLoop)

	slog.Info("[eventfeed] server started", "url", h.url)
	return nil
}

// Stop shuts down the server, closes the client and stops the writer.
// Idempotent.
func (h *Hub) Stop() error {
	var stopErr error
	h.closeOnce.Do(func() {
		close(h.stopCh)
		h.writerW.Wait()

		h.mu.Lock()
		conn := h.conn
		h.conn = nil
		h.mu.Unlock()
		if conn != nil {
			h.closeConn(conn, "hub stop")
		}

		if h.server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.server.Shutdown(shutdownCtx); err != nil {
				stopErr = fmt.Errorf("eventfeed: shutdown: %w", err)
			}
		}
		slog.Debug("[eventfeed] server stopped", "dropped", h.dropped.Load())
	})
	return stopErr
}

// URL returns the feed URL, or "" before Start.
func (h *Hub) URL() string { return h.url }

// Addr returns the bound listen address, or "" before Start.
func (h *Hub) Addr() string {
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

// HasActiveConnection reports whether a client is connected.
func (h *Hub) HasActiveConnection() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conn != nil
}

// Dropped returns the number of events discarded because the queue was full.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Publish queues ev for the connected client. Events are discarded when no
// client is connected, the queue is full, or the hub is stopped.
func (h *Hub) Publish(ev Event) {
	if !h.HasActiveConnection() {
		return
	}
	select {
	case <-h.stopCh:
		return
	default:
	}
	select {
	case h.events <- ev:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hub) writeLoop() {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[DEBUG-PANIC] eventfeed writeLoop recovered",
				"panic", rec,
				"stack", string(debug.Stack()),
			)
		}
	}()
	for {
		select {
		case <-h.stopCh:
			return
		case ev := <-h.events:
			h.send(ev)
		}
	}
}

func (h *Hub) send(ev Event) {
	h.mu.RLock()
	conn := h.conn
	h.mu.RUnlock()
	if conn == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Debug("[eventfeed] failed to encode event", "error", err)
		return
	}

	h.writeMu.Lock()
	if !h.setWriteDeadlineOrClose(conn) {
		h.writeMu.Unlock()
		return
	}
	err = conn.WriteMessage(websocket.TextMessage, payload)
	h.clearWriteDeadline(conn)
	h.writeMu.Unlock()

	if err != nil {
		h.clearIfCurrent(conn)
		h.closeConn(conn, "write error")
		slog.Warn("[eventfeed] write failed, client dropped", "error", err)
	}
}

// clearIfCurrent clears the connection only if conn is still current.
func (h *Hub) clearIfCurrent(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn != conn {
		return false
	}
	h.conn = nil
	return true
}

// closeConn closes conn. Double close is harmless and logged at debug.
func (h *Hub) closeConn(conn *websocket.Conn, reason string) {
	if err := conn.Close(); err != nil {
		slog.Debug("[eventfeed] connection close", "reason", reason, "error", err)
	}
}

func (h *Hub) setWriteDeadlineOrClose(conn *websocket.Conn) bool {
	if err := conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		h.clearIfCurrent(conn)
		h.closeConn(conn, "SetWriteDeadline failure")
		slog.Debug("[eventfeed] SetWriteDeadline failed, closing connection", "error", err)
		return false
	}
	return true
}

func (h *Hub) clearWriteDeadline(conn *websocket.Conn) {
	if err := conn.SetWriteDeadline(time.Time{}); err != nil {
		slog.Debug("[eventfeed] clearWriteDeadline failed (non-fatal)", "error", err)
	}
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.stopCh:
		http.Error(w, "feed stopped", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("[eventfeed] upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxReadMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		h.closeConn(conn, "initial SetReadDeadline failure")
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	h.mu.Lock()
	oldConn := h.conn
	h.conn = conn
	h.mu.Unlock()
	if oldConn != nil {
		h.closeConn(oldConn, "replaced by new connection")
	}
	slog.Info("[eventfeed] client connected", "remoteAddr", conn.RemoteAddr().String())

	pingDone := make(chan struct{})
	go h.pingLoop(conn, pingDone)

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[DEBUG-PANIC] eventfeed handleWS recovered",
				"panic", rec,
				"stack", string(debug.Stack()),
			)
		}
		close(pingDone)
		h.clearIfCurrent(conn)
		h.closeConn(conn, "read pump exit")
		slog.Debug("[eventfeed] client disconnected")
	}()

	// The client only sends control frames; reading drives pong handling
	// and detects disconnects.
	for {
		if _, _, readErr := conn.ReadMessage(); readErr != nil {
			if websocket.IsUnexpectedCloseError(readErr, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("[eventfeed] read error", "error", readErr)
			}
			return
		}
	}
}

func (h *Hub) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[DEBUG-PANIC] eventfeed pingLoop recovered",
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			h.clearIfCurrent(conn)
			h.closeConn(conn, "pingLoop panic recovery")
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			h.writeMu.Lock()
			if !h.setWriteDeadlineOrClose(conn) {
				h.writeMu.Unlock()
				return
			}
			pingErr := conn.WriteMessage(websocket.PingMessage, nil)
			h.clearWriteDeadline(conn)
			h.writeMu.Unlock()
			if pingErr != nil {
				h.clearIfCurrent(conn)
				h.closeConn(conn, "ping failure")
				slog.Debug("[eventfeed] ping failed, connection likely dead", "error", pingErr)
				return
			}
		}
	}
}
