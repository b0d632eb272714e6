//go:build !windows

package control

import (
	"errors"
	"net"
	"time"
)

// ErrPipeUnsupported is returned by pipe operations outside Windows.
var ErrPipeUnsupported = errors.New("named pipes are not supported on this platform")

// ListenPipe is unavailable outside Windows; the TCP listener is the only
// control channel there.
func ListenPipe(string) (net.Listener, error) { return nil, ErrPipeUnsupported }

func dialPipe(string, time.Duration) (net.Conn, error) { return nil, ErrPipeUnsupported }

func isPipeNotFound(error) bool { return false }
