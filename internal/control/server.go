// Package control implements the local stop channel: a listener that
// triggers daemon shutdown when a client sends the text "shutdown".
package control

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

const (
	// ShutdownCommand is the only command the server acts on.
	ShutdownCommand = "shutdown"

	// maxRequestBytes bounds a single request read.
	maxRequestBytes = 1024

	defaultConnTimeout     = 5 * time.Second
	maxConcurrentConns     = 16
	connSlotAcquireTimeout = 2 * time.Second

	replyOK      = "ok\n"
	replyUnknown = "unknown command\n"
	replyBusy    = "server busy\n"
)

// Server accepts one command per connection.
type Server struct {
	name     string
	listener net.Listener
	onStop   func(reason string)

	wg        sync.WaitGroup
	connSlots chan struct{}
	closeOnce sync.Once
}

// NewServer wraps ln. name labels log lines ("tcp", "pipe"). onStop is
// called for every valid shutdown request; it must be idempotent.
func NewServer(name string, ln net.Listener, onStop func(reason string)) *Server {
	return &Server{
		name:      name,
		listener:  ln,
		onStop:    onStop,
		connSlots: make(chan struct{}, maxConcurrentConns),
	}
}

// Addr returns the listener address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve accepts connections until ctx is done, then closes the listener and
// waits for in-flight connections.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, s.close)
	defer stop()
	defer s.wg.Wait()
	defer s.close()

	slog.Info("[control] listening", "transport", s.name, "addr", s.listener.Addr().String())

	consecutiveErrors := 0
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			consecutiveErrors++
			if consecutiveErrors > 10 {
				slog.Warn("[control] accept loop: repeated failures, possible permanent error",
					"transport", s.name, "error", err, "count", consecutiveErrors)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(500 * time.Millisecond):
				}
			} else {
				slog.Debug("[control] accept error", "transport", s.name, "error", err)
			}
			continue
		}
		consecutiveErrors = 0

		if !s.acquireConnectionSlot(ctx) {
			writeReply(conn, replyBusy)
			conn.Close()
			continue
		}
		s.wg.Go(func() {
			defer s.releaseConnectionSlot()
			s.handleConnection(conn)
		})
	}
}

func (s *Server) close() {
	s.closeOnce.Do(func() {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			slog.Debug("[control] listener close", "transport", s.name, "error", err)
		}
	})
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(defaultConnTimeout)); err != nil {
		slog.Warn("[control] failed to set connection deadline", "transport", s.name, "error", err)
		return
	}

	cmd, err := readCommand(conn)
	if err != nil {
		slog.Debug("[control] read failed", "transport", s.name, "error", err)
		return
	}
	slog.Info("[control] received data", "transport", s.name, "data", cmd)
	if cmd != ShutdownCommand {
		writeReply(conn, replyUnknown)
		return
	}

	slog.Warn("[control] shutdown received", "transport", s.name)
	writeReply(conn, replyOK)
	if s.onStop != nil {
		s.onStop("shutdown requested via " + s.name)
	}
}

// readCommand performs a single read of up to maxRequestBytes and returns
// the whitespace-trimmed text.
func readCommand(r io.Reader) (string, error) {
	buf := make([]byte, maxRequestBytes)
	n, err := r.Read(buf)
	if n == 0 {
		if err == nil {
			err = io.EOF
		}
		return "", err
	}
	return strings.TrimSpace(string(buf[:n])), nil
}

func writeReply(conn net.Conn, reply string) {
	if _, err := io.WriteString(conn, reply); err != nil {
		slog.Debug("[control] failed to write reply", "error", err)
	}
}

func (s *Server) acquireConnectionSlot(ctx context.Context) bool {
	timer := time.NewTimer(connSlotAcquireTimeout)
	defer timer.Stop()
	select {
	case s.connSlots <- struct{}{}:
		return true
	case <-timer.C:
		slog.Warn("[control] connection slots exhausted, rejecting client", "transport", s.name)
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *Server) releaseConnectionSlot() {
	select {
	case <-s.connSlots:
	default:
		slog.Warn("[control] releaseConnectionSlot: no slot to release (possible double-release)")
	}
}
