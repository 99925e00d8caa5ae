package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSPath is the HTTP path the WebSocket listener upgrades on.
const WSPath = "/ws"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsListener accepts a single peer over WebSocket, which lets a host sit
// behind an HTTP port forwarder.
type wsListener struct {
	ln       net.Listener
	srv      *http.Server
	connCh   chan *websocket.Conn
	accepted atomic.Bool
}

// ListenWS starts an HTTP server on addr that upgrades the first request on
// WSPath to a WebSocket stream. Use port 0 for any available port.
func ListenWS(addr string) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start WS server: %w", err)
	}

	l := &wsListener{
		ln:     ln,
		connCh: make(chan *websocket.Conn, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(WSPath, l.handleWS)
	l.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		_ = l.srv.Serve(ln)
	}()

	return l, nil
}

func (l *wsListener) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// Only accept the first peer.
	select {
	case l.connCh <- conn:
	default:
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "already connected"))
		conn.Close()
	}
}

func (l *wsListener) Port() int {
	return l.ln.Addr().(*net.TCPAddr).Port
}

func (l *wsListener) Accept(ctx context.Context) (io.ReadWriteCloser, error) {
	if !l.accepted.CompareAndSwap(false, true) {
		return nil, ErrAlreadyAccepted
	}
	defer l.Close()

	select {
	case conn := <-l.connCh:
		return &wsStream{conn: conn}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the HTTP server. Streams already handed out stay open.
func (l *wsListener) Close() error {
	return l.srv.Close()
}

// DialWS opens a WebSocket stream to a host started with ListenWS.
func DialWS(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
	url := fmt.Sprintf("ws://%s%s", addr, WSPath)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return &wsStream{conn: conn}, nil
}

// wsStream presents a WebSocket as a byte stream. Each Write becomes one
// binary message; Read drains messages back to back. Write must not be
// called concurrently, which the transport's single sender guarantees.
type wsStream struct {
	conn *websocket.Conn
	r    io.Reader
}

func (s *wsStream) Read(p []byte) (int, error) {
	for {
		if s.r == nil {
			typ, r, err := s.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if typ != websocket.BinaryMessage {
				continue
			}
			s.r = r
		}

		n, err := s.r.Read(p)
		if err == io.EOF {
			s.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *wsStream) Close() error {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}
