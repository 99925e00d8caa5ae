package peer

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/1ureka/duet/internal/protocol"
	"github.com/1ureka/duet/internal/util"
)

// transferSession is the receiving side of one view transfer. It exists
// from SHARE_VIEW until END_OF_VIEW or teardown.
type transferSession struct {
	name   string
	total  int
	syntax string
	buf    bytes.Buffer
}

// outboundTransfer is the sending side's rendezvous with the read loop:
// acknowledgments arrive on acks, one at a time.
type outboundTransfer struct {
	acks chan *protocol.Message

	abortOnce sync.Once
	aborted   chan struct{}
	err       error
}

func newOutboundTransfer() *outboundTransfer {
	return &outboundTransfer{
		acks:    make(chan *protocol.Message, 1),
		aborted: make(chan struct{}),
	}
}

func (o *outboundTransfer) abort(err error) {
	o.abortOnce.Do(func() {
		o.err = err
		close(o.aborted)
	})
}

// ---------------------------------------------------------------------------
// Sender
// ---------------------------------------------------------------------------

// StartCollab implements Peer. It announces doc with SHARE_VIEW, streams
// the content as VIEW_CHUNKs waiting for each VIEW_CHUNK_ACK, then closes
// with END_OF_VIEW. ErrBadViewSend means the peer's byte count disagreed;
// the caller may retry the whole transfer. Cancelling ctx or an ack
// timeout leaves the peers out of step, so the session is torn down.
func (s *Session) StartCollab(ctx context.Context, doc Document) error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if s.outbound != nil {
		s.mu.Unlock()
		return ErrTransferInProgress
	}
	out := newOutboundTransfer()
	s.outbound = out
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.outbound == out {
			s.outbound = nil
		}
		s.mu.Unlock()
	}()

	content := []byte(doc.Content)
	total := len(content)
	s.log.Info("sharing view %q (%d bytes)", doc.Name, total)

	if err := s.send(protocol.NewShareView(doc.Name, total)); err != nil {
		return err
	}
	if _, err := s.await(ctx, out, protocol.TypeShareViewAck); err != nil {
		return err
	}

	if doc.Syntax != "" {
		if err := s.send(protocol.NewSyntax(doc.Syntax)); err != nil {
			return err
		}
	}

	var mismatch error
	for off := 0; off < total; off += s.opts.ChunkSize {
		end := min(off+s.opts.ChunkSize, total)
		if err := s.send(protocol.NewViewChunk(content[off:end])); err != nil {
			return err
		}
		util.Stats.AddChunk()

		ack, err := s.await(ctx, out, protocol.TypeViewChunkAck, protocol.TypeBadViewSend)
		if err != nil {
			return err
		}
		if ack.Type == protocol.TypeBadViewSend {
			// The peer has already dropped its transfer session.
			util.Stats.AddBadTransfer()
			return fmt.Errorf("%w: after %d of %d bytes", ErrBadViewSend, end, total)
		}
		received, err := protocol.ParseCount(ack)
		if err != nil {
			s.reject(err)
			return err
		}
		if received != end {
			mismatch = fmt.Errorf("%w: peer has %d bytes, sent %d", ErrChunkAckMismatch, received, end)
			s.log.Warn("%v", mismatch)
			break
		}
	}

	// END_OF_VIEW also closes the peer's transfer session after a mismatch.
	if err := s.send(protocol.NewEndOfView(total)); err != nil {
		return err
	}
	reply, err := s.await(ctx, out, protocol.TypeEndOfViewAck, protocol.TypeBadViewSend)
	if err != nil {
		return err
	}
	if reply.Type == protocol.TypeBadViewSend {
		util.Stats.AddBadTransfer()
		if mismatch != nil {
			return fmt.Errorf("%w: %w", ErrBadViewSend, mismatch)
		}
		return ErrBadViewSend
	}
	if mismatch != nil {
		return mismatch
	}

	s.mu.Lock()
	s.collab = true
	s.mu.Unlock()
	s.log.Info("view %q shared", doc.Name)
	return nil
}

// await waits for the next acknowledgment of an outbound transfer.
func (s *Session) await(ctx context.Context, out *outboundTransfer, want ...protocol.MessageType) (*protocol.Message, error) {
	timer := time.NewTimer(s.opts.AckTimeout)
	defer timer.Stop()

	select {
	case msg := <-out.acks:
		if !slices.Contains(want, msg.Type) {
			err := fmt.Errorf("%w while waiting for %v", unexpected(msg), want)
			s.reject(err)
			return nil, fmt.Errorf("%w: %w", ErrRejected, err)
		}
		return msg, nil
	case <-out.aborted:
		return nil, out.err
	case <-timer.C:
		s.reject(ErrAckTimeout)
		return nil, ErrAckTimeout
	case <-ctx.Done():
		s.reject(fmt.Errorf("%w: %w", ErrTransferAborted, ctx.Err()))
		return nil, ctx.Err()
	}
}

// deliverAck hands an acknowledgment from the read loop to the waiting
// sender. An ack nobody is waiting for means the peers are out of step.
func (s *Session) deliverAck(msg *protocol.Message) error {
	s.mu.Lock()
	out := s.outbound
	s.mu.Unlock()

	if out == nil {
		return fmt.Errorf("%w with no view transfer in progress", unexpected(msg))
	}
	select {
	case out.acks <- msg:
		return nil
	default:
		return fmt.Errorf("%w before the previous acknowledgment was consumed", unexpected(msg))
	}
}

// ---------------------------------------------------------------------------
// Receiver
// ---------------------------------------------------------------------------

// receiveTransfer handles SHARE_VIEW, SYNTAX, VIEW_CHUNK and END_OF_VIEW.
func (s *Session) receiveTransfer(msg *protocol.Message) error {
	switch msg.Type {
	case protocol.TypeShareView:
		name, total, err := protocol.ParseShareView(msg)
		if err != nil {
			return err
		}
		s.mu.Lock()
		if s.inbound != nil {
			s.mu.Unlock()
			return fmt.Errorf("%w while receiving %q", unexpected(msg), name)
		}
		s.inbound = &transferSession{name: name, total: total}
		s.mu.Unlock()

		s.log.Info("receiving view %q (%d bytes)", name, total)
		return s.send(protocol.Control(protocol.TypeShareViewAck))

	case protocol.TypeSyntax:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.inbound == nil {
			// Outside a transfer the syntax is advisory only.
			s.log.Debug("peer syntax is now %q", msg.Payload)
			return nil
		}
		s.inbound.syntax = string(msg.Payload)
		return nil

	case protocol.TypeViewChunk:
		s.mu.Lock()
		in := s.inbound
		if in == nil {
			s.mu.Unlock()
			return fmt.Errorf("%w with no view transfer open", unexpected(msg))
		}
		if in.buf.Len()+len(msg.Payload) > in.total {
			s.inbound = nil
			s.mu.Unlock()

			util.Stats.AddBadTransfer()
			s.log.Warn("bad view send for %q: chunk overruns the announced %d bytes", in.name, in.total)
			return s.send(protocol.Control(protocol.TypeBadViewSend))
		}
		in.buf.Write(msg.Payload)
		received := in.buf.Len()
		s.mu.Unlock()

		return s.send(protocol.NewViewChunkAck(received))

	case protocol.TypeEndOfView:
		declared, err := protocol.ParseCount(msg)
		if err != nil {
			return err
		}
		s.mu.Lock()
		in := s.inbound
		if in == nil {
			s.mu.Unlock()
			return fmt.Errorf("%w with no view transfer open", unexpected(msg))
		}
		s.inbound = nil
		ok := in.buf.Len() == in.total && declared == in.total
		if ok {
			s.collab = true
		}
		s.mu.Unlock()

		if !ok {
			util.Stats.AddBadTransfer()
			s.log.Warn("bad view send for %q: received %d bytes, expected %d", in.name, in.buf.Len(), declared)
			return s.send(protocol.Control(protocol.TypeBadViewSend))
		}

		util.Stats.AddTransfer()
		if err := s.send(protocol.Control(protocol.TypeEndOfViewAck)); err != nil {
			return err
		}
		s.log.Info("received view %q", in.name)
		s.handler.OnStartCollab(Document{
			Name:    in.name,
			Content: in.buf.String(),
			Syntax:  in.syntax,
		})
		return nil
	}
	return unexpected(msg)
}
