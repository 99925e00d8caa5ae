package editor

import (
	"sync"

	"github.com/1ureka/duet/internal/peer"
	"github.com/1ureka/duet/internal/protocol"
	"github.com/1ureka/duet/internal/util"
)

// Mirror keeps a Buffer in step with the events a peer session receives.
// It implements peer.Handler.
type Mirror struct {
	buf *Buffer
	log *util.Logger

	mu      sync.Mutex
	sharing bool
	edits   int

	started chan peer.Document
	stopped chan struct{}
	closed  chan error
	once    sync.Once
}

var _ peer.Handler = (*Mirror)(nil)

// NewMirror returns a Mirror writing into buf.
func NewMirror(buf *Buffer) *Mirror {
	return &Mirror{
		buf:     buf,
		log:     util.NewLogger("mirror"),
		started: make(chan peer.Document, 1),
		stopped: make(chan struct{}, 1),
		closed:  make(chan error, 1),
	}
}

// Buffer returns the mirrored buffer.
func (m *Mirror) Buffer() *Buffer { return m.buf }

// Started delivers each view received from the peer.
func (m *Mirror) Started() <-chan peer.Document { return m.started }

// Stopped fires when the peer ends the collaboration.
func (m *Mirror) Stopped() <-chan struct{} { return m.stopped }

// Closed delivers the session's end reason once.
func (m *Mirror) Closed() <-chan error { return m.closed }

// Edits returns the number of edits applied since the last view.
func (m *Mirror) Edits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.edits
}

// Track starts mirroring doc without signalling Started. The sharing side
// uses it for the view it sent.
func (m *Mirror) Track(doc peer.Document) {
	m.buf.Reset(doc.Name, doc.Content, doc.Syntax)

	m.mu.Lock()
	m.sharing = true
	m.edits = 0
	m.mu.Unlock()
}

func (m *Mirror) OnStartCollab(doc peer.Document) {
	m.Track(doc)
	m.log.Info("mirroring %q (%d bytes, syntax %q)", doc.Name, len(doc.Content), doc.Syntax)
	select {
	case m.started <- doc:
	default:
	}
}

func (m *Mirror) OnStopCollab() {
	m.mu.Lock()
	m.sharing = false
	m.mu.Unlock()

	m.log.Info("collaboration stopped by peer")
	select {
	case m.stopped <- struct{}{}:
	default:
	}
}

func (m *Mirror) OnDisconnect(err error) {
	m.once.Do(func() {
		m.closed <- err
	})
}

func (m *Mirror) RecvViewPositionUpdate(region protocol.Region) {
	m.buf.SetVisibleRegion(region)
}

func (m *Mirror) RecvSelectionUpdate(regions []protocol.Region) {
	m.buf.SetSelection(regions)
}

// RecvEdit applies edit to the buffer. An edit that does not fit the
// buffer is logged and skipped.
func (m *Mirror) RecvEdit(edit protocol.Edit) {
	m.mu.Lock()
	sharing := m.sharing
	m.mu.Unlock()
	if !sharing {
		m.log.Warn("edit received with no shared view, ignoring")
		return
	}

	if err := m.buf.ApplyEdit(edit); err != nil {
		m.log.Warn("skipping edit: %v", err)
		return
	}
	m.mu.Lock()
	m.edits++
	m.mu.Unlock()
}
