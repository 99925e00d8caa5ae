package peer

import (
	"fmt"

	"github.com/1ureka/duet/internal/protocol"
)

// SendViewPositionUpdate implements Peer.
func (s *Session) SendViewPositionUpdate(region protocol.Region) error {
	return s.sendSync(protocol.NewPosition(region))
}

// SendSelectionUpdate implements Peer. regions replaces the peer's full
// selection set.
func (s *Session) SendSelectionUpdate(regions []protocol.Region) error {
	return s.sendSync(protocol.NewSelection(regions))
}

// SendEdit implements Peer. Insert and replace edits must carry content;
// content on a delete is dropped.
func (s *Session) SendEdit(edit protocol.Edit) error {
	if !edit.Type.Known() {
		return fmt.Errorf("%w: %q", ErrEditType, edit.Type)
	}
	if edit.Type.NeedsContent() && edit.Content == "" {
		return fmt.Errorf("%w: %s", ErrEditContent, edit.Type)
	}
	return s.sendSync(protocol.NewEdit(edit))
}

// StopCollab implements Peer.
func (s *Session) StopCollab() error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if !s.collab {
		s.mu.Unlock()
		return ErrNoCollab
	}
	s.collab = false
	s.mu.Unlock()

	s.log.Info("stopping collaboration")
	return s.send(protocol.Control(protocol.TypeStopCollab))
}

// sendSync sends a live event. Events are only valid while CONNECTED and
// after a view has been shared.
func (s *Session) sendSync(msg *protocol.Message) error {
	s.mu.Lock()
	state, collab := s.state, s.collab
	s.mu.Unlock()

	if state != StateConnected {
		return ErrNotConnected
	}
	if !collab {
		return ErrNoCollab
	}
	return s.send(msg)
}

// receiveSync forwards a live event to the handler. Events are applied in
// arrival order; no merging happens here.
func (s *Session) receiveSync(msg *protocol.Message) error {
	switch msg.Type {
	case protocol.TypePosition:
		region, err := protocol.ParsePosition(msg)
		if err != nil {
			return err
		}
		s.handler.RecvViewPositionUpdate(region)

	case protocol.TypeSelection:
		regions, err := protocol.ParseSelection(msg)
		if err != nil {
			return err
		}
		s.handler.RecvSelectionUpdate(regions)

	case protocol.TypeEdit:
		edit, err := protocol.ParseEdit(msg)
		if err != nil {
			return err
		}
		if !edit.Type.Known() {
			return fmt.Errorf("%w: %q", ErrEditType, edit.Type)
		}
		if edit.Type.NeedsContent() && edit.Content == "" {
			return fmt.Errorf("%w: received %s", ErrEditContent, edit.Type)
		}
		s.handler.RecvEdit(edit)

	case protocol.TypeStopCollab:
		s.mu.Lock()
		was := s.collab
		s.collab = false
		s.mu.Unlock()

		if !was {
			s.log.Warn("STOP_COLLAB with no active collaboration")
		}
		s.handler.OnStopCollab()

	default:
		return unexpected(msg)
	}
	return nil
}
