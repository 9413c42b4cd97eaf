package relay

import (
	"context"
	"log"
	"net"
	"net/http"

	"github.com/christopherjohns/filepresence/internal/protocol"
	"github.com/christopherjohns/filepresence/internal/ratelimit"
	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

// Handler upgrades HTTP requests to WebSocket peers and runs their read
// loops.
type Handler struct {
	hub     *Hub
	limiter *ratelimit.Limiter
}

// NewHandler creates a Handler. limiter may be nil to accept every
// upgrade.
func NewHandler(hub *Hub, limiter *ratelimit.Limiter) *Handler {
	return &Handler{
		hub:     hub,
		limiter: limiter,
	}
}

// ServeHTTP upgrades the connection and reads client messages until it
// closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow(clientIP(r)) {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Editor clients send no Origin.
	})
	if err != nil {
		log.Printf("relay: accept error: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	peer := &Peer{
		conn: conn,
		id:   uuid.NewString(),
	}
	connCtx := h.hub.addPeer(peer)
	defer h.hub.removePeer(peer)

	h.readLoop(r.Context(), connCtx, peer)
}

// readLoop applies client messages until the connection closes or the
// connection manager cancels connCtx.
func (h *Handler) readLoop(ctx context.Context, connCtx context.Context, p *Peer) {
	for {
		select {
		case <-connCtx.Done():
			return
		default:
		}

		_, data, err := p.conn.Read(ctx)
		if err != nil {
			return
		}

		h.hub.ConnMgr().TouchActivity(p)

		msg, err := protocol.Decode(data)
		if err != nil {
			log.Printf("relay: dropping frame from peer %s: %v", p.id, err)
			continue
		}

		switch msg.Type {
		case protocol.TypeRegister:
			h.hub.register(p, *msg.User)
		case protocol.TypeFileFocus:
			h.hub.focus(p, *msg.Focus)
		default:
			log.Printf("relay: peer %s sent server message %s", p.id, msg.Type)
		}
	}
}

// clientIP returns the remote host of r without its port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
