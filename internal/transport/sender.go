package transport

import (
	"context"
	"io"

	"github.com/1ureka/duet/internal/protocol"
	"github.com/1ureka/duet/internal/util"
)

const sendBufferSize = 64 // outgoing message channel capacity

// outgoing is one entry of the send queue: either a message to write or a
// flush marker to close once everything before it is written.
type outgoing struct {
	msg     *protocol.Message
	flushed chan struct{}
}

// sender is a goroutine-based message writer that serializes all writes to
// a single stream, so frames never interleave.
type sender struct {
	inbox chan outgoing
}

// newSender creates a sender and starts the background loop. The loop exits
// when ctx is cancelled or a write fails, in which case onErr is called.
func newSender(ctx context.Context, w io.Writer, onErr func(error)) *sender {
	s := &sender{
		inbox: make(chan outgoing, sendBufferSize),
	}

	go s.loop(ctx, w, onErr)

	return s
}

// loop is the single-writer goroutine.
func (s *sender) loop(ctx context.Context, w io.Writer, onErr func(error)) {
	for {
		select {
		case out := <-s.inbox:
			if out.flushed != nil {
				close(out.flushed)
				continue
			}

			data := protocol.Encode(out.msg)
			if _, err := w.Write(data); err != nil {
				util.LogDebug("failed to send %s: %v", out.msg, err)
				onErr(err)
				return
			}

			util.Stats.AddSent(len(data))
		case <-ctx.Done():
			return
		}
	}
}

// send enqueues an entry. It blocks if the internal buffer is full and
// returns ErrClosed when ctx is already cancelled.
func (s *sender) send(ctx context.Context, out outgoing) error {
	if ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case s.inbox <- out:
		return nil
	case <-ctx.Done():
		return ErrClosed
	}
}
