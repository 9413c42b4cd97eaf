// Package relay is the presence server: it keeps the roster of registered
// users and fans every focus change out to all connected clients.
package relay

import (
	"context"
	"log"
	"sync"

	"github.com/christopherjohns/filepresence/internal/protocol"
)

// Hub tracks connected peers and the roster of registered users.
type Hub struct {
	mu     sync.RWMutex
	peers  map[*Peer]struct{}
	roster map[string]protocol.User
	conns  *ConnManager
}

// NewHub creates a Hub whose connections are managed with opts.
func NewHub(opts ...ConnManagerOption) *Hub {
	return &Hub{
		peers:  make(map[*Peer]struct{}),
		roster: make(map[string]protocol.User),
		conns:  NewConnManager(opts...),
	}
}

// ConnMgr returns the connection manager for this hub.
func (h *Hub) ConnMgr() *ConnManager {
	return h.conns
}

// addPeer starts the peer's write pump and subscribes it to broadcasts.
// The returned context is cancelled when the peer is removed.
func (h *Hub) addPeer(p *Peer) context.Context {
	ctx := h.conns.Add(p)
	if ctx.Err() != nil {
		return ctx
	}

	h.mu.Lock()
	h.peers[p] = struct{}{}
	h.mu.Unlock()
	return ctx
}

// removePeer unsubscribes the peer. Its user leaves the roster unless
// another connection registered the same user id.
func (h *Hub) removePeer(p *Peer) {
	h.conns.Remove(p)

	h.mu.Lock()
	if _, ok := h.peers[p]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.peers, p)
	left := p.userID != "" && !h.userConnectedLocked(p.userID)
	if left {
		delete(h.roster, p.userID)
	}
	h.mu.Unlock()

	if left {
		log.Printf("relay: user %s left", p.userID)
		h.broadcastRoster()
	}
}

// register records u for the peer and broadcasts the full roster.
func (h *Hub) register(p *Peer, u protocol.User) {
	h.mu.Lock()
	if prev := p.userID; prev != "" && prev != u.UserID {
		p.userID = ""
		if !h.userConnectedLocked(prev) {
			delete(h.roster, prev)
		}
	}
	p.userID = u.UserID
	h.roster[u.UserID] = u
	h.mu.Unlock()

	log.Printf("relay: registered user %s (%s)", u.UserID, u.Name)
	h.broadcastRoster()
}

// focus records the peer's current file and broadcasts the activity.
// Focus from a peer that has not registered is ignored.
func (h *Hub) focus(p *Peer, f protocol.FileFocus) {
	h.mu.Lock()
	userID := p.userID
	if userID == "" {
		h.mu.Unlock()
		return
	}
	if u, ok := h.roster[userID]; ok {
		file := f.FilePath
		u.CurrentFile = &file
		h.roster[userID] = u
	}
	h.mu.Unlock()

	h.broadcast(protocol.TypeFileActivityUpdate, protocol.FileActivity{
		UserID:   userID,
		FilePath: f.FilePath,
		RepoID:   f.RepoID,
	})
}

// Roster returns a copy of the registered users keyed by user id.
func (h *Hub) Roster() map[string]protocol.User {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rosterLocked()
}

// PeerCount returns the number of subscribed connections.
func (h *Hub) PeerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

func (h *Hub) broadcastRoster() {
	h.broadcast(protocol.TypeUsersUpdate, h.Roster())
}

// broadcast sends one message to every subscribed peer.
func (h *Hub) broadcast(typ protocol.Type, payload any) {
	data, err := protocol.Encode(typ, payload)
	if err != nil {
		log.Printf("relay: failed to encode %s: %v", typ, err)
		return
	}

	h.mu.RLock()
	targets := make([]*Peer, 0, len(h.peers))
	for p := range h.peers {
		targets = append(targets, p)
	}
	h.mu.RUnlock()

	for _, p := range targets {
		h.conns.Send(p, data)
	}
}

// userConnectedLocked reports whether any peer is registered as userID.
// Must be called while holding mu.
func (h *Hub) userConnectedLocked(userID string) bool {
	for p := range h.peers {
		if p.userID == userID {
			return true
		}
	}
	return false
}

func (h *Hub) rosterLocked() map[string]protocol.User {
	out := make(map[string]protocol.User, len(h.roster))
	for id, u := range h.roster {
		out[id] = u
	}
	return out
}
