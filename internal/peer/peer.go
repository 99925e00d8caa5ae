// Package peer implements one side of a two-party collaboration session:
// the connection lifecycle, the chunked view transfer and the live event
// channel, all multiplexed over a single transport.
package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/1ureka/duet/internal/config"
	"github.com/1ureka/duet/internal/protocol"
	"github.com/1ureka/duet/internal/transport"
	"github.com/1ureka/duet/internal/util"
)

// Session errors.
var (
	ErrNotConnected       = errors.New("peer is not connected")
	ErrWrongRole          = errors.New("operation not allowed for this role")
	ErrAlreadyStarted     = errors.New("session already used; create a new one to reconnect")
	ErrHandshake          = errors.New("handshake failed")
	ErrTransferInProgress = errors.New("a view transfer is already in progress")
	ErrBadViewSend        = errors.New("peer reported a bad view send")
	ErrChunkAckMismatch   = errors.New("view chunk acknowledgment does not match bytes sent")
	ErrTransferAborted    = errors.New("view transfer aborted")
	ErrAckTimeout         = errors.New("timed out waiting for acknowledgment")
	ErrNoCollab           = errors.New("no active collaboration")
	ErrEditType           = errors.New("unknown edit type")
	ErrEditContent        = errors.New("edit type requires content")
	ErrRejected           = errors.New("protocol violation")
	ErrConnectionLost     = errors.New("connection lost")
	ErrRemoteDisconnect   = errors.New("peer disconnected")
)

// Document is a view handed between peers: its base name, full content and
// syntax identifier.
type Document struct {
	Name    string
	Content string
	Syntax  string
}

// Peer is one side of a peer-to-peer collaboration connection: a direct
// link with another peer for sending view data and events.
type Peer interface {
	// HostConnect listens on port (0 for any available) and returns the
	// bound port. The partner is accepted in the background; ctx bounds
	// that wait until the handshake completes.
	HostConnect(ctx context.Context, port int) (int, error)
	// ClientConnect connects to a host and blocks until the handshake
	// completes or fails.
	ClientConnect(ctx context.Context, host string, port int) error
	// Disconnect tears the session down gracefully and blocks until it is
	// DISCONNECTED.
	Disconnect()

	// StartCollab sends doc to the connected peer.
	StartCollab(ctx context.Context, doc Document) error
	// StopCollab tells the peer the collaboration on the shared view is over
	// without closing the connection.
	StopCollab() error

	SendViewPositionUpdate(region protocol.Region) error
	SendSelectionUpdate(regions []protocol.Region) error
	SendEdit(edit protocol.Edit) error

	State() ConnectionState
}

// Handler receives inbound notifications. Methods are called one at a time
// from the session's read loop, in the order messages arrived, and must
// not block on session operations that wait for the peer (StartCollab,
// Disconnect).
type Handler interface {
	// OnDisconnect is called once when the session reaches DISCONNECTED
	// after connecting, or when a host's background connect attempt fails.
	// err is nil for a clean local disconnect.
	OnDisconnect(err error)
	OnStartCollab(doc Document)
	OnStopCollab()
	RecvViewPositionUpdate(region protocol.Region)
	RecvSelectionUpdate(regions []protocol.Region)
	RecvEdit(edit protocol.Edit)
}

// NopHandler ignores every notification. Embed it to implement only the
// callbacks you need.
type NopHandler struct{}

func (NopHandler) OnDisconnect(error)                     {}
func (NopHandler) OnStartCollab(Document)                 {}
func (NopHandler) OnStopCollab()                          {}
func (NopHandler) RecvViewPositionUpdate(protocol.Region) {}
func (NopHandler) RecvSelectionUpdate([]protocol.Region)  {}
func (NopHandler) RecvEdit(protocol.Edit)                 {}

// Option customises a Session.
type Option func(*Session)

// WithConfig sets the session tuning. Zero fields keep their defaults.
func WithConfig(c config.Session) Option {
	return func(s *Session) { s.opts = c.WithDefaults() }
}

// WithTransport selects the stream kind, config.TransportTCP or
// config.TransportWS.
func WithTransport(kind string) Option {
	return func(s *Session) {
		if kind == config.TransportWS {
			s.listen = transport.ListenWS
			s.dial = transport.DialWS
		} else {
			s.listen = transport.Listen
			s.dial = transport.Dial
		}
	}
}

// WithListenHost sets the interface a host listens on. Default is all.
func WithListenHost(host string) Option {
	return func(s *Session) { s.listenHost = host }
}

// WithStateObserver registers fn to be called after every state change.
func WithStateObserver(fn func(id string, state ConnectionState)) Option {
	return func(s *Session) { s.observe = fn }
}

// Session is the Peer implementation. A Session is single-use: once it is
// DISCONNECTED a new one must be created to reconnect.
type Session struct {
	id      string
	role    config.Role
	opts    config.Session
	handler Handler
	log     *util.Logger

	listen     func(addr string) (transport.Listener, error)
	dial       func(ctx context.Context, addr string) (io.ReadWriteCloser, error)
	listenHost string
	observe    func(id string, state ConnectionState)

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	state         ConnectionState
	started       bool
	connectedOnce bool
	notify        bool
	tr            *transport.Transport
	attemptCancel context.CancelFunc
	inbound       *transferSession
	outbound      *outboundTransfer
	collab        bool
	err           error

	connected  chan struct{}
	done       chan struct{}
	finishOnce sync.Once
}

var _ Peer = (*Session)(nil)

// NewSession creates a DISCONNECTED session for role.
func NewSession(role config.Role, handler Handler, opts ...Option) *Session {
	if handler == nil {
		handler = NopHandler{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	id := ulid.Make().String()

	s := &Session{
		id:        id,
		role:      role,
		opts:      config.DefaultSession(),
		handler:   handler,
		log:       util.NewLogger(id),
		ctx:       ctx,
		cancel:    cancel,
		state:     StateDisconnected,
		connected: make(chan struct{}),
		done:      make(chan struct{}),
	}
	WithTransport(config.TransportTCP)(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Role returns the role fixed at creation.
func (s *Session) Role() config.Role { return s.role }

// State returns the current connection state.
func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected returns a channel that is closed when the session reaches
// CONNECTED.
func (s *Session) Connected() <-chan struct{} { return s.connected }

// Done returns a channel that is closed when the session reaches
// DISCONNECTED after a connect attempt or Disconnect.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the reason the session ended, or nil for a clean shutdown.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Collaborating reports whether a view transfer has completed in either
// direction and the collaboration has not been stopped.
func (s *Session) Collaborating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collab
}

// send hands msg to the transport.
func (s *Session) send(msg *protocol.Message) error {
	s.mu.Lock()
	tr := s.tr
	s.mu.Unlock()

	if tr == nil {
		return ErrNotConnected
	}
	if err := tr.Send(msg); err != nil {
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	return nil
}
