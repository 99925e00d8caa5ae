package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"strconv"
	"time"

	"github.com/1ureka/duet/internal/config"
	"github.com/1ureka/duet/internal/protocol"
	"github.com/1ureka/duet/internal/transport"
	"github.com/1ureka/duet/internal/util"
)

// ConnectionState is the lifecycle state of a session.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateRejectDisconnecting // disconnecting because the peer broke the protocol
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateRejectDisconnecting:
		return "disconnecting-on-rejected"
	default:
		return "disconnected"
	}
}

// transition moves the session to `to` if it is currently in one of from.
func (s *Session) transition(to ConnectionState, from ...ConnectionState) bool {
	s.mu.Lock()
	if !slices.Contains(from, s.state) {
		s.mu.Unlock()
		return false
	}
	s.state = to
	s.mu.Unlock()

	s.log.Debug("state -> %s", to)
	if s.observe != nil {
		s.observe(s.id, to)
	}
	return true
}

// ---------------------------------------------------------------------------
// Connect
// ---------------------------------------------------------------------------

// begin claims the session for its one connect attempt.
func (s *Session) begin(ctx context.Context) (context.Context, error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	s.started = true
	attemptCtx, cancel := context.WithCancel(ctx)
	s.attemptCancel = cancel
	s.mu.Unlock()

	s.transition(StateConnecting, StateDisconnected)
	return attemptCtx, nil
}

// HostConnect implements Peer.
func (s *Session) HostConnect(ctx context.Context, port int) (int, error) {
	if s.role != config.RoleHost {
		return 0, fmt.Errorf("%w: HostConnect on %s", ErrWrongRole, s.role)
	}
	attemptCtx, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}

	ln, err := s.listen(net.JoinHostPort(s.listenHost, strconv.Itoa(port)))
	if err != nil {
		s.failConnect(err)
		return 0, err
	}

	s.mu.Lock()
	s.notify = true
	s.mu.Unlock()

	s.log.Info("listening on port %d", ln.Port())
	go s.serve(attemptCtx, ln)
	return ln.Port(), nil
}

// serve accepts the partner and arms the handshake timeout. The partner's
// CONNECTED is answered by the read loop.
func (s *Session) serve(ctx context.Context, ln transport.Listener) {
	defer ln.Close()

	stream, err := ln.Accept(ctx)
	if err != nil {
		s.failConnect(err)
		return
	}
	if !s.attach(stream) {
		return
	}
	s.log.Info("partner connected, waiting for handshake")

	context.AfterFunc(ctx, func() { s.failConnect(ctx.Err()) })
	time.AfterFunc(s.opts.HandshakeTimeout, func() {
		s.failConnect(fmt.Errorf("%w: no CONNECTED within %s", ErrHandshake, s.opts.HandshakeTimeout))
	})
}

// ClientConnect implements Peer.
func (s *Session) ClientConnect(ctx context.Context, host string, port int) error {
	if s.role != config.RolePartner {
		return fmt.Errorf("%w: ClientConnect on %s", ErrWrongRole, s.role)
	}
	attemptCtx, err := s.begin(ctx)
	if err != nil {
		return err
	}

	stream, err := s.dial(attemptCtx, net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		s.failConnect(err)
		return err
	}
	if !s.attach(stream) {
		return s.connectErr()
	}
	if err := s.send(protocol.Control(protocol.TypeConnected)); err != nil {
		s.failConnect(err)
		return s.connectErr()
	}

	timer := time.NewTimer(s.opts.HandshakeTimeout)
	defer timer.Stop()

	select {
	case <-s.connected:
		return nil
	case <-s.done:
		return s.connectErr()
	case <-timer.C:
		s.failConnect(fmt.Errorf("%w: no CONNECTED within %s", ErrHandshake, s.opts.HandshakeTimeout))
	case <-attemptCtx.Done():
		s.failConnect(attemptCtx.Err())
	}

	select {
	case <-s.connected:
		return nil
	default:
		return s.connectErr()
	}
}

func (s *Session) connectErr() error {
	if err := s.Err(); err != nil {
		return err
	}
	return ErrHandshake
}

// attach wraps stream in a transport and starts reading. It closes stream
// and returns false if the attempt was abandoned meanwhile.
func (s *Session) attach(stream io.ReadWriteCloser) bool {
	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		stream.Close()
		return false
	}
	tr := transport.New(s.ctx, stream)
	s.tr = tr
	s.mu.Unlock()

	tr.OnMessage(s.handle)
	go s.watch(tr)
	return true
}

// setConnected completes the handshake.
func (s *Session) setConnected() {
	if !s.transition(StateConnected, StateConnecting) {
		return
	}
	s.mu.Lock()
	s.connectedOnce = true
	s.notify = true
	cancel := s.attemptCancel
	s.mu.Unlock()

	close(s.connected)
	cancel()
	util.Stats.AddSession()
	s.log.Info("connected as %s", s.role)
}

// failConnect abandons a connect attempt that has not reached CONNECTED.
// The check and the state change happen under one lock so a late timeout
// can never tear down a session that just reached CONNECTED.
func (s *Session) failConnect(err error) {
	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	if s.err == nil {
		s.err = err
	}
	s.state = StateDisconnecting
	s.mu.Unlock()

	s.log.Warn("connect failed: %v", err)
	s.finish(err)
}

// ---------------------------------------------------------------------------
// Inbound routing
// ---------------------------------------------------------------------------

// watch turns the end of the transport into a state transition.
func (s *Session) watch(tr *transport.Transport) {
	<-tr.Done()
	err := tr.Err()

	switch s.State() {
	case StateConnecting:
		if errors.Is(err, protocol.ErrBadMagic) {
			err = fmt.Errorf("%w: %w", ErrHandshake, err)
		}
		s.failConnect(err)
	case StateConnected:
		if errors.Is(err, protocol.ErrMalformed) {
			// Unrecoverable framing error: the stream is already gone, so
			// reject falls through to finish.
			s.reject(err)
			return
		}
		s.log.Warn("transport ended: %v", err)
		s.finish(fmt.Errorf("%w: %w", ErrConnectionLost, err))
	case StateDisconnecting:
		s.finish(nil)
	case StateRejectDisconnecting:
		s.finish(s.Err())
	}
}

// handle is the transport read loop callback.
func (s *Session) handle(msg *protocol.Message, err error) {
	state := s.State()

	if err != nil {
		switch state {
		case StateConnecting:
			s.failConnect(fmt.Errorf("%w: %w", ErrHandshake, err))
		case StateConnected:
			s.reject(err)
		}
		return
	}

	switch state {
	case StateConnecting:
		s.handshake(msg)

	case StateConnected:
		err := s.dispatch(msg)
		if err != nil && !errors.Is(err, ErrNotConnected) {
			s.reject(err)
		}

	case StateDisconnecting, StateRejectDisconnecting:
		if msg.Type == protocol.TypeDisconnect {
			s.finish(s.Err())
			return
		}
		s.log.Debug("dropping %s while %s", msg, state)

	default:
		s.log.Debug("dropping %s while %s", msg, state)
	}
}

// handshake processes the first message of the connection.
func (s *Session) handshake(msg *protocol.Message) {
	if msg.Type != protocol.TypeConnected {
		s.failConnect(fmt.Errorf("%w: expected CONNECTED, got %s", ErrHandshake, msg.Type))
		return
	}
	if s.role == config.RoleHost {
		// Echo CONNECTED as the acknowledgment.
		if err := s.send(protocol.Control(protocol.TypeConnected)); err != nil {
			s.failConnect(err)
			return
		}
	}
	s.setConnected()
}

// dispatch routes a message received while CONNECTED. A returned error is
// a protocol violation.
func (s *Session) dispatch(msg *protocol.Message) error {
	switch msg.Type {
	case protocol.TypeDisconnect:
		s.remoteDisconnect()
		return nil

	case protocol.TypeShareView, protocol.TypeViewChunk, protocol.TypeEndOfView, protocol.TypeSyntax:
		return s.receiveTransfer(msg)

	case protocol.TypeShareViewAck, protocol.TypeViewChunkAck, protocol.TypeEndOfViewAck, protocol.TypeBadViewSend:
		return s.deliverAck(msg)

	case protocol.TypeSelection, protocol.TypePosition, protocol.TypeEdit, protocol.TypeStopCollab:
		return s.receiveSync(msg)

	default:
		return unexpected(msg)
	}
}

func unexpected(msg *protocol.Message) error {
	return fmt.Errorf("unexpected %s", msg.Type)
}

// ---------------------------------------------------------------------------
// Disconnect
// ---------------------------------------------------------------------------

// Disconnect implements Peer. An outbound view transfer in flight is
// aborted; the DISCONNECT tells the peer to drop its side of it.
func (s *Session) Disconnect() {
	s.mu.Lock()
	state := s.state
	if !s.started {
		s.started = true
		s.mu.Unlock()
		s.finish(nil)
		return
	}
	s.mu.Unlock()

	switch state {
	case StateConnecting:
		s.failConnect(context.Canceled)
	case StateConnected:
		if !s.transition(StateDisconnecting, StateConnected) {
			break
		}
		s.log.Info("disconnecting")
		s.dropTransfers(ErrTransferAborted)
		if err := s.send(protocol.Control(protocol.TypeDisconnect)); err != nil {
			s.finish(nil)
			break
		}
		timer := time.NewTimer(s.opts.DisconnectTimeout)
		defer timer.Stop()
		select {
		case <-s.done:
		case <-timer.C:
			s.log.Warn("no DISCONNECT reply within %s", s.opts.DisconnectTimeout)
			s.finish(nil)
		}
	}
	<-s.done
}

// remoteDisconnect answers a DISCONNECT from the peer and tears down.
func (s *Session) remoteDisconnect() {
	if !s.transition(StateDisconnecting, StateConnected) {
		return
	}
	s.log.Info("peer disconnected")
	s.dropTransfers(ErrRemoteDisconnect)

	s.mu.Lock()
	tr := s.tr
	s.mu.Unlock()

	if err := tr.Send(protocol.Control(protocol.TypeDisconnect)); err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.DisconnectTimeout)
		tr.Flush(ctx)
		cancel()
	}
	s.finish(ErrRemoteDisconnect)
}

// reject tears the session down after a protocol violation by the peer.
func (s *Session) reject(cause error) {
	if !s.transition(StateRejectDisconnecting, StateConnected) {
		return
	}
	err := fmt.Errorf("%w: %w", ErrRejected, cause)
	s.log.Error("rejecting peer: %v", cause)

	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()

	s.dropTransfers(err)
	if sendErr := s.send(protocol.Control(protocol.TypeDisconnect)); sendErr != nil {
		s.finish(err)
		return
	}
	time.AfterFunc(s.opts.DisconnectTimeout, func() { s.finish(err) })
}

// dropTransfers discards the inbound transfer session and aborts the
// outbound one.
func (s *Session) dropTransfers(cause error) {
	s.mu.Lock()
	in, out := s.inbound, s.outbound
	s.inbound = nil
	s.outbound = nil
	s.collab = false
	s.mu.Unlock()

	if in != nil {
		s.log.Warn("discarding incomplete view %q (%d/%d bytes)", in.name, in.buf.Len(), in.total)
	}
	if out != nil {
		out.abort(cause)
	}
}

// finish moves the session to DISCONNECTED, closes the transport and
// notifies the handler. Only the first call has any effect.
func (s *Session) finish(cause error) {
	s.finishOnce.Do(func() {
		s.dropTransfers(fmt.Errorf("%w: %w", ErrTransferAborted, ErrNotConnected))

		s.mu.Lock()
		if cause != nil && s.err == nil {
			s.err = cause
		}
		cause = s.err
		prev := s.state
		s.state = StateDisconnected
		tr := s.tr
		cancelAttempt := s.attemptCancel
		notify := s.notify
		wasConnected := s.connectedOnce
		s.mu.Unlock()

		if prev != StateDisconnected {
			s.log.Debug("state -> %s", StateDisconnected)
			if s.observe != nil {
				s.observe(s.id, StateDisconnected)
			}
		}

		if cancelAttempt != nil {
			cancelAttempt()
		}
		if tr != nil {
			tr.Close()
		}
		s.cancel()
		close(s.done)

		if wasConnected {
			util.Stats.AddDisconnect()
			s.log.Info("disconnected")
		}
		if notify {
			s.handler.OnDisconnect(cause)
		}
	})
}
