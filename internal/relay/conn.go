package relay

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
)

const (
	// sendBufferSize is the number of frames that can be queued per peer.
	sendBufferSize = 32

	// writeTimeout is the max time to wait for a single write to complete.
	writeTimeout = 5 * time.Second

	// idleCheckInterval is how often the idle reaper runs.
	idleCheckInterval = 30 * time.Second
)

// Peer is one client connection to the relay.
type Peer struct {
	conn *websocket.Conn
	send chan []byte
	id   string

	// userID is set by Register and guarded by the hub's mutex.
	userID string
}

// connEntry holds per-connection metadata alongside the cancel function.
type connEntry struct {
	cancel      context.CancelFunc
	connectedAt time.Time
	lastActive  time.Time
}

// ConnStats holds point-in-time connection statistics.
type ConnStats struct {
	Active          int   `json:"active"`
	MaxConns        int   `json:"max_conns"`
	Rejected        int64 `json:"rejected"`
	DroppedMessages int64 `json:"dropped_messages"`
	IdleReaped      int64 `json:"idle_reaped"`
}

// ConnManager owns the write side of every peer: a buffered send channel
// drained by a per-peer write pump, an optional connection limit and an
// optional idle reaper.
type ConnManager struct {
	mu       sync.Mutex
	peers    map[*Peer]*connEntry
	closed   bool
	maxConns int
	idleTTL  time.Duration
	stopIdle context.CancelFunc

	rejected        atomic.Int64
	droppedMessages atomic.Int64
	idleReaped      atomic.Int64
}

// ConnManagerOption configures a ConnManager.
type ConnManagerOption func(*ConnManager)

// WithMaxConns limits concurrent connections. 0 means unlimited.
func WithMaxConns(n int) ConnManagerOption {
	return func(cm *ConnManager) {
		cm.maxConns = n
	}
}

// WithIdleTimeout closes peers that have sent nothing for d. 0 disables
// idle reaping.
func WithIdleTimeout(d time.Duration) ConnManagerOption {
	return func(cm *ConnManager) {
		cm.idleTTL = d
	}
}

// NewConnManager creates a connection manager.
func NewConnManager(opts ...ConnManagerOption) *ConnManager {
	cm := &ConnManager{
		peers: make(map[*Peer]*connEntry),
	}
	for _, opt := range opts {
		opt(cm)
	}
	if cm.idleTTL > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		cm.stopIdle = cancel
		go cm.idleReapLoop(ctx)
	}
	return cm
}

// Add registers a peer and starts its write pump. The returned context
// is cancelled when the peer is removed or the manager shuts down. A
// cancelled context is returned if the manager is closed or full.
func (cm *ConnManager) Add(p *Peer) context.Context {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.closed {
		p.conn.Close(websocket.StatusGoingAway, "relay shutting down")
		return cancelledContext()
	}
	if cm.maxConns > 0 && len(cm.peers) >= cm.maxConns {
		cm.rejected.Add(1)
		p.conn.Close(websocket.StatusTryAgainLater, "relay at capacity")
		return cancelledContext()
	}

	now := time.Now()
	p.send = make(chan []byte, sendBufferSize)
	ctx, cancel := context.WithCancel(context.Background())
	cm.peers[p] = &connEntry{
		cancel:      cancel,
		connectedAt: now,
		lastActive:  now,
	}

	go cm.writePump(ctx, p)

	return ctx
}

// Remove stops a peer's write pump. Removing twice is a no-op.
func (cm *ConnManager) Remove(p *Peer) {
	cm.mu.Lock()
	entry, ok := cm.peers[p]
	if ok {
		delete(cm.peers, p)
	}
	cm.mu.Unlock()

	if ok {
		entry.cancel()
		close(p.send)
	}
}

// Send queues a frame for p. It returns false if the peer's buffer is
// full or the peer is no longer managed.
func (cm *ConnManager) Send(p *Peer, data []byte) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if _, ok := cm.peers[p]; !ok {
		return false
	}
	select {
	case p.send <- data:
		return true
	default:
		cm.droppedMessages.Add(1)
		log.Printf("relay: send buffer full for peer %s, dropping frame", p.id)
		return false
	}
}

// TouchActivity marks p as active so it is not reaped.
func (cm *ConnManager) TouchActivity(p *Peer) {
	cm.mu.Lock()
	if entry, ok := cm.peers[p]; ok {
		entry.lastActive = time.Now()
	}
	cm.mu.Unlock()
}

// Count returns the number of managed peers.
func (cm *ConnManager) Count() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return len(cm.peers)
}

// Stats returns point-in-time connection statistics.
func (cm *ConnManager) Stats() ConnStats {
	cm.mu.Lock()
	active := len(cm.peers)
	cm.mu.Unlock()
	return ConnStats{
		Active:          active,
		MaxConns:        cm.maxConns,
		Rejected:        cm.rejected.Load(),
		DroppedMessages: cm.droppedMessages.Load(),
		IdleReaped:      cm.idleReaped.Load(),
	}
}

// Shutdown closes every peer with StatusGoingAway and rejects new ones.
func (cm *ConnManager) Shutdown() {
	cm.mu.Lock()
	cm.closed = true
	peers := cm.peers
	cm.peers = make(map[*Peer]*connEntry)
	cm.mu.Unlock()

	if cm.stopIdle != nil {
		cm.stopIdle()
	}

	for p, entry := range peers {
		entry.cancel()
		close(p.send)
		p.conn.Close(websocket.StatusGoingAway, "relay shutting down")
	}
}

func (cm *ConnManager) idleReapLoop(ctx context.Context) {
	ticker := time.NewTicker(idleCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cm.reapIdle(time.Now())
		}
	}
}

// reapIdle closes peers idle longer than idleTTL as of now.
func (cm *ConnManager) reapIdle(now time.Time) {
	cm.mu.Lock()
	stale := make(map[*Peer]*connEntry)
	for p, entry := range cm.peers {
		if now.Sub(entry.lastActive) > cm.idleTTL {
			stale[p] = entry
			delete(cm.peers, p)
		}
	}
	cm.mu.Unlock()

	for p, entry := range stale {
		entry.cancel()
		close(p.send)
		p.conn.Close(websocket.StatusPolicyViolation, "idle timeout")
		cm.idleReaped.Add(1)
		log.Printf("relay: reaped idle peer %s", p.id)
	}
}

// writePump drains the peer's send channel until it is closed or ctx is
// cancelled.
func (cm *ConnManager) writePump(ctx context.Context, p *Peer) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-p.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := p.conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				log.Printf("relay: write to peer %s failed: %v", p.id, err)
				return
			}
		}
	}
}

func cancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}
