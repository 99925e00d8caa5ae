// Package transport carries protocol messages over a bidirectional ordered
// byte stream (a TCP connection or a WebSocket).
package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/1ureka/duet/internal/protocol"
	"github.com/1ureka/duet/internal/util"
)

// ErrClosed is returned when sending on a transport that has shut down.
var ErrClosed = errors.New("transport closed")

// Transport wraps a single stream, providing ordered message sending
// through one writer goroutine and a read loop that decodes inbound frames.
//
// Its lifecycle is governed by the stream and the context passed at
// construction time: when either ends, Done is closed and Err reports why.
type Transport struct {
	stream io.ReadWriteCloser
	sender *sender

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

// New creates a Transport over stream and starts its sender goroutine.
// Call OnMessage to start receiving.
func New(ctx context.Context, stream io.ReadWriteCloser) *Transport {
	tCtx, tCancel := context.WithCancel(ctx)

	t := &Transport{
		stream: stream,
		ctx:    tCtx,
		cancel: tCancel,
	}
	t.sender = newSender(tCtx, stream, t.fail)

	// Parent cancellation tears the stream down as well.
	context.AfterFunc(tCtx, func() { t.shutdown(context.Cause(tCtx)) })

	return t
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Done returns a channel that is closed when the Transport is shut down
// (stream ended, write failed, Close called or parent context cancelled).
func (t *Transport) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Err returns the reason the Transport shut down, or nil while it is alive.
// A clean end of stream from the peer is reported as io.EOF.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Close shuts down the stream. Messages still queued are dropped; call
// Flush first to deliver them.
func (t *Transport) Close() error {
	t.fail(ErrClosed)
	return nil
}

// fail records the first shutdown reason and tears down the transport.
func (t *Transport) fail(err error) {
	t.mu.Lock()
	if t.err == nil {
		t.err = err
	}
	t.mu.Unlock()
	t.cancel()
}

func (t *Transport) shutdown(cause error) {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		if t.err == nil {
			t.err = cause
		}
		t.mu.Unlock()
		if err := t.stream.Close(); err != nil {
			util.LogDebug("stream close: %v", err)
		}
	})
}

// ---------------------------------------------------------------------------
// Data
// ---------------------------------------------------------------------------

// Send enqueues msg for transmission. Messages are written in the order
// Send is called, each one fully before the next. It blocks while the send
// queue is full and returns ErrClosed once the transport is done.
func (t *Transport) Send(msg *protocol.Message) error {
	return t.sender.send(t.ctx, outgoing{msg: msg})
}

// Flush blocks until every message enqueued before the call has been
// written to the stream.
func (t *Transport) Flush(ctx context.Context) error {
	written := make(chan struct{})
	if err := t.sender.send(t.ctx, outgoing{flushed: written}); err != nil {
		return err
	}
	select {
	case <-written:
		return nil
	case <-t.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnMessage starts the read loop. fn is invoked sequentially, in arrival
// order, for every inbound message. Framing errors that leave the stream
// aligned are passed to fn with a nil message; any other read error ends
// the transport. OnMessage must be called at most once.
func (t *Transport) OnMessage(fn func(*protocol.Message, error)) {
	go t.readLoop(fn)
}

func (t *Transport) readLoop(fn func(*protocol.Message, error)) {
	r := bufio.NewReader(t.stream)
	for {
		msg, err := protocol.ReadMessage(r)
		if err != nil {
			if protocol.Recoverable(err) {
				fn(nil, err)
				continue
			}
			select {
			case <-t.ctx.Done():
				// Already shutting down; the stream close caused this.
			default:
				if errors.Is(err, io.ErrUnexpectedEOF) {
					err = io.EOF
				}
				t.fail(err)
			}
			return
		}

		util.Stats.AddRecv(protocol.HeaderSize + msg.PayloadSize())
		fn(msg, nil)
	}
}
