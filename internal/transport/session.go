// Package transport owns the client's single WebSocket connection to the
// presence relay.
package transport

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/christopherjohns/filepresence/internal/protocol"
	"nhooyr.io/websocket"
)

const (
	// sendBufferSize is the number of outbound frames that can be queued.
	sendBufferSize = 16

	// writeTimeout is the max time to wait for a single write to complete.
	writeTimeout = 5 * time.Second

	// defaultDialTimeout bounds the opening handshake.
	defaultDialTimeout = 10 * time.Second

	// defaultReadLimit is the largest inbound frame accepted. Roster
	// updates grow with the number of connected users.
	defaultReadLimit = 1 << 20
)

var (
	// ErrActive is returned by Connect while a connection is in flight or open.
	ErrActive = errors.New("transport: connection already active")

	// ErrNotConnected is returned by Send when no connection is open.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrBufferFull is returned by Send when the write pump is backed up.
	ErrBufferFull = errors.New("transport: send buffer full")
)

// State is the connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Dispatcher runs callbacks on the control goroutine.
type Dispatcher interface {
	Post(f func()) bool
}

// Handler receives connection events. All methods are invoked on the
// dispatcher goroutine.
type Handler interface {
	OnOpen()
	OnConnectFailed(err error)
	OnMessage(frame []byte)
	// OnClose reports a clean close initiated by the server. The session
	// is already Disconnected.
	OnClose(err error)
	// OnError reports a failure on an open connection. The session stays
	// Connected until the handler calls Disconnect.
	OnError(err error)
}

// Option configures a Session.
type Option func(*Session)

// WithDialTimeout bounds how long Connect waits for the handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.dialTimeout = d
	}
}

// WithHTTPHeader adds headers to the opening handshake.
func WithHTTPHeader(h http.Header) Option {
	return func(s *Session) {
		s.header = h
	}
}

// Session holds zero or one connection. Apart from New and SetHandler,
// methods must be called on the dispatcher goroutine.
type Session struct {
	dispatch    Dispatcher
	handler     Handler
	dialTimeout time.Duration
	header      http.Header

	state State
	// gen increments whenever a connection attempt starts or ends, so
	// events from an abandoned connection can be recognised and dropped.
	gen    uint64
	conn   *websocket.Conn
	send   chan []byte
	cancel context.CancelFunc
}

// New creates a disconnected session.
func New(dispatch Dispatcher, opts ...Option) *Session {
	s := &Session{
		dispatch:    dispatch,
		dialTimeout: defaultDialTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetHandler installs the event handler. Call before the first Connect.
func (s *Session) SetHandler(h Handler) {
	s.handler = h
}

// State returns the current connection state.
func (s *Session) State() State {
	return s.state
}

// Connect starts dialing url. The outcome is reported through OnOpen or
// OnConnectFailed. It returns ErrActive if a connection is already in
// flight or open.
func (s *Session) Connect(url string) error {
	if s.state != StateDisconnected {
		return ErrActive
	}

	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.state = StateConnecting

	go func() {
		dialCtx, dialCancel := context.WithTimeout(ctx, s.dialTimeout)
		conn, _, err := websocket.Dial(dialCtx, url, &websocket.DialOptions{HTTPHeader: s.header})
		dialCancel()
		if !s.dispatch.Post(func() { s.dialed(ctx, gen, conn, err) }) && conn != nil {
			conn.CloseNow()
		}
	}()
	return nil
}

// dialed completes a connection attempt on the dispatcher goroutine.
func (s *Session) dialed(ctx context.Context, gen uint64, conn *websocket.Conn, err error) {
	if gen != s.gen {
		// Disconnect was called while dialing.
		if conn != nil {
			conn.CloseNow()
		}
		return
	}
	if err != nil {
		s.reset()
		if s.handler != nil {
			s.handler.OnConnectFailed(err)
		}
		return
	}

	conn.SetReadLimit(defaultReadLimit)
	s.conn = conn
	s.send = make(chan []byte, sendBufferSize)
	s.state = StateConnected

	go writePump(ctx, conn, s.send)
	go s.readPump(ctx, gen, conn)

	if s.handler != nil {
		s.handler.OnOpen()
	}
}

// Send encodes a message and queues it for the write pump.
func (s *Session) Send(typ protocol.Type, payload any) error {
	if s.state != StateConnected {
		return ErrNotConnected
	}
	data, err := protocol.Encode(typ, payload)
	if err != nil {
		return err
	}
	select {
	case s.send <- data:
		return nil
	default:
		log.Printf("transport: send buffer full, dropping %s", typ)
		return ErrBufferFull
	}
}

// Disconnect closes the connection, or abandons an attempt in flight.
// It reports false, and does nothing, when already disconnected.
func (s *Session) Disconnect() bool {
	if s.state == StateDisconnected {
		return false
	}
	conn, cancel := s.conn, s.cancel
	s.cancel = nil
	s.reset()

	if conn == nil {
		if cancel != nil {
			cancel()
		}
		return true
	}
	go func() {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
		if cancel != nil {
			cancel()
		}
	}()
	return true
}

// reset returns the session to Disconnected and invalidates pending events.
func (s *Session) reset() {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.send != nil {
		close(s.send)
		s.send = nil
	}
	s.conn = nil
	s.state = StateDisconnected
}

// readPump hands each inbound text frame to the dispatcher until the
// connection fails.
func (s *Session) readPump(ctx context.Context, gen uint64, conn *websocket.Conn) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			s.dispatch.Post(func() { s.readFailed(gen, err) })
			return
		}
		if typ != websocket.MessageText {
			log.Printf("transport: ignoring %v frame", typ)
			continue
		}
		s.dispatch.Post(func() { s.deliver(gen, data) })
	}
}

func (s *Session) deliver(gen uint64, data []byte) {
	if gen != s.gen || s.state != StateConnected || s.handler == nil {
		return
	}
	s.handler.OnMessage(data)
}

func (s *Session) readFailed(gen uint64, err error) {
	if gen != s.gen || s.state != StateConnected {
		return
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		s.reset()
		if s.handler != nil {
			s.handler.OnClose(err)
		}
	default:
		if s.handler != nil {
			s.handler.OnError(err)
		}
	}
}

// writePump drains send, writing each frame to the connection. It exits
// when send is closed or a write fails.
func writePump(ctx context.Context, conn *websocket.Conn, send <-chan []byte) {
	for msg := range send {
		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := conn.Write(writeCtx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			log.Printf("transport: write failed: %v", err)
			// Force the read pump to observe the failure.
			conn.CloseNow()
			return
		}
	}
}
