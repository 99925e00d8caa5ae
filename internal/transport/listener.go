package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
)

// ErrAlreadyAccepted is returned by Accept after the one connection a
// listener serves has been taken.
var ErrAlreadyAccepted = errors.New("listener already accepted its connection")

// Listener hands out exactly one inbound stream, then stops listening.
type Listener interface {
	// Port returns the bound port, so callers can advertise it.
	Port() int
	// Accept blocks until the peer connects or ctx is cancelled.
	Accept(ctx context.Context) (io.ReadWriteCloser, error)
	// Close releases the listening socket.
	Close() error
}

// tcpListener is a one-shot TCP listener.
type tcpListener struct {
	ln       net.Listener
	accepted atomic.Bool
}

// Listen starts listening for a single TCP connection on addr. Use port 0
// for any available port.
func Listen(addr string) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return &tcpListener{ln: ln}, nil
}

func (l *tcpListener) Port() int {
	return l.ln.Addr().(*net.TCPAddr).Port
}

func (l *tcpListener) Accept(ctx context.Context) (io.ReadWriteCloser, error) {
	if !l.accepted.CompareAndSwap(false, true) {
		return nil, ErrAlreadyAccepted
	}

	stop := context.AfterFunc(ctx, func() { l.ln.Close() })
	defer stop()

	conn, err := l.ln.Accept()
	// Only one peer per session; later attempts are refused by the OS.
	l.ln.Close()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("accept failed: %w", err)
	}
	return conn, nil
}

func (l *tcpListener) Close() error {
	return l.ln.Close()
}

// Dial opens a TCP stream to addr.
func Dial(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return conn, nil
}
