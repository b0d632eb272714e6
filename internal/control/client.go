package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

const (
	defaultDialTimeout = 3 * time.Second
	defaultRWTimeout   = 5 * time.Second
)

// ErrRejected is returned when the daemon answers but does not accept the
// command.
var ErrRejected = errors.New("command rejected by daemon")

// SendTCP sends cmd to the TCP control listener at addr.
func SendTCP(ctx context.Context, addr, cmd string) error {
	dialer := net.Dialer{Timeout: defaultDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return exchange(conn, cmd)
}

// SendPipe sends cmd to the named-pipe control listener.
func SendPipe(name, cmd string) error {
	conn, err := dialPipe(name, defaultDialTimeout)
	if err != nil {
		return err
	}
	return exchange(conn, cmd)
}

func exchange(conn net.Conn, cmd string) error {
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(defaultRWTimeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	if _, err := io.WriteString(conn, cmd+"\n"); err != nil {
		return fmt.Errorf("send %q: %w", cmd, err)
	}
	reply, err := bufio.NewReader(io.LimitReader(conn, maxRequestBytes)).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && reply != "") {
		return fmt.Errorf("read reply: %w", err)
	}
	if strings.TrimSpace(reply) != strings.TrimSpace(replyOK) {
		return fmt.Errorf("%w: %s", ErrRejected, strings.TrimSpace(reply))
	}
	return nil
}

// IsConnectionError reports whether err means no daemon is listening.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial" || opErr.Op == "open"
	}
	return errors.Is(err, ErrPipeUnsupported) || isPipeNotFound(err)
}
