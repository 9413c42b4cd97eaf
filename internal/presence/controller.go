// Package presence implements the client side of file presence: it
// announces the local user, reports focus changes and turns inbound
// activity into per-file decorations that expire on their own.
package presence

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/christopherjohns/filepresence/internal/protocol"
	"github.com/christopherjohns/filepresence/internal/transport"
)

// ExpiryDelay is how long after an activity update its file's
// decoration is removed.
const ExpiryDelay = 30300 * time.Millisecond

// Decorations renders per-file indicators in the host editor.
type Decorations interface {
	Show(filePath, label string)
	Dispose(filePath string)
}

// Notifier surfaces notices to the operator.
type Notifier interface {
	Info(msg string)
	Error(msg string)
}

// Scheduler runs f on the control goroutine after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func())
}

// Resolver maps an absolute file path to its workspace-relative path and
// workspace id.
type Resolver interface {
	Resolve(file string) (relPath, id string, ok bool)
}

// Transport is the connection used by the controller. transport.Session
// implements it.
type Transport interface {
	SetHandler(h transport.Handler)
	Connect(url string) error
	Disconnect() bool
	Send(typ protocol.Type, payload any) error
	State() transport.State
}

// Host bundles the editor capabilities driven by the controller.
type Host struct {
	Decorations Decorations
	Notifier    Notifier
	Workspaces  Resolver
}

// Config holds the operator settings the controller honours.
type Config struct {
	ServerURL         string
	ShowNotifications bool
}

// Controller is the presence session. All methods, including the
// transport.Handler callbacks, must run on the single control goroutine.
type Controller struct {
	cfg         Config
	user        protocol.User
	transport   Transport
	sched       Scheduler
	decorations Decorations
	notify      Notifier
	workspaces  Resolver

	registered bool
	tracker    *Tracker
	roster     map[string]protocol.User
}

// New creates a controller and installs it as t's event handler.
func New(cfg Config, user protocol.User, t Transport, sched Scheduler, host Host) *Controller {
	c := &Controller{
		cfg:         cfg,
		user:        user,
		transport:   t,
		sched:       sched,
		decorations: host.Decorations,
		notify:      host.Notifier,
		workspaces:  host.Workspaces,
		tracker:     NewTracker(),
	}
	t.SetHandler(c)
	return c
}

// User returns the local user.
func (c *Controller) User() protocol.User {
	return c.user
}

// Registered reports whether the local user has been announced on the
// current connection.
func (c *Controller) Registered() bool {
	return c.registered
}

// Tracker exposes the file activity table for inspection.
func (c *Controller) Tracker() *Tracker {
	return c.tracker
}

// Roster returns a copy of the last roster received from the relay.
func (c *Controller) Roster() map[string]protocol.User {
	out := make(map[string]protocol.User, len(c.roster))
	for id, u := range c.roster {
		out[id] = u
	}
	return out
}

// Connect is the host's connect command.
func (c *Controller) Connect() {
	err := c.transport.Connect(c.cfg.ServerURL)
	switch {
	case errors.Is(err, transport.ErrActive):
		c.notify.Info("Already connected to the presence server")
	case err != nil:
		c.notify.Error(fmt.Sprintf("Failed to connect to the presence server: %v", err))
	default:
		log.Printf("presence: connecting to %s", c.cfg.ServerURL)
	}
}

// Disconnect is the host's disconnect command. It does nothing when
// already disconnected.
func (c *Controller) Disconnect() {
	if !c.transport.Disconnect() {
		return
	}
	c.clear()
	c.notify.Info("Disconnected from the presence server")
}

// Close tears down decorations and the connection when the host
// deactivates. Expiry timers already scheduled are left to fire.
func (c *Controller) Close() {
	c.transport.Disconnect()
	c.clear()
}

// FocusChanged reports that the operator's active file is now file.
// Repeated focus on the same file is sent again.
func (c *Controller) FocusChanged(file string) {
	if c.transport.State() != transport.StateConnected || !c.registered {
		return
	}
	rel, repoID, ok := c.workspaces.Resolve(file)
	if !ok {
		log.Printf("presence: %s is outside every workspace, not reporting focus", file)
		return
	}
	focus := protocol.FileFocus{FilePath: rel, RepoID: repoID}
	if err := c.transport.Send(protocol.TypeFileFocus, focus); err != nil {
		log.Printf("presence: failed to send focus for %s: %v", rel, err)
	}
}

// OnOpen registers the local user on the new connection.
func (c *Controller) OnOpen() {
	if err := c.transport.Send(protocol.TypeRegister, c.user); err != nil {
		log.Printf("presence: failed to send register: %v", err)
		return
	}
	c.registered = true
	c.notify.Info("Connected to the presence server")
}

// OnConnectFailed reports a failed connection attempt.
func (c *Controller) OnConnectFailed(err error) {
	c.clear()
	c.notify.Error(fmt.Sprintf("Failed to connect to the presence server: %v", err))
}

// OnClose handles a close initiated by the relay.
func (c *Controller) OnClose(err error) {
	log.Printf("presence: connection closed: %v", err)
	c.clear()
	c.notify.Info("Disconnected from the presence server")
}

// OnError surfaces a failure on the open connection, then disconnects.
func (c *Controller) OnError(err error) {
	c.notify.Error(fmt.Sprintf("Presence connection error: %v", err))
	c.Disconnect()
}

// OnMessage decodes and applies one inbound frame. Frames that fail to
// decode are logged and dropped.
func (c *Controller) OnMessage(frame []byte) {
	msg, err := protocol.Decode(frame)
	if err != nil {
		log.Printf("presence: dropping inbound frame: %v", err)
		return
	}
	switch msg.Type {
	case protocol.TypeFileActivityUpdate:
		c.handleActivity(*msg.Activity)
	case protocol.TypeUsersUpdate:
		c.roster = msg.Roster
	default:
		log.Printf("presence: ignoring %s from server", msg.Type)
	}
}

// handleActivity records a remote user's focus, re-renders the file's
// decoration and schedules that update's own expiry.
//
// Earlier expiries for the same file are not cancelled, so the first one
// to fire removes the entry even if later updates arrived.
func (c *Controller) handleActivity(a protocol.FileActivity) {
	if a.UserID == c.user.UserID {
		return
	}

	n := c.tracker.Add(a.FilePath, a.UserID)
	c.decorations.Show(a.FilePath, Label(n, a.FilePath))

	if c.cfg.ShowNotifications {
		c.notify.Info(fmt.Sprintf("User %s is editing %s", a.UserID, a.FilePath))
	}

	path := a.FilePath
	c.sched.AfterFunc(ExpiryDelay, func() { c.expire(path) })
}

func (c *Controller) expire(path string) {
	if c.tracker.Remove(path) {
		c.decorations.Dispose(path)
	}
}

// clear forgets the registration and removes every decoration.
func (c *Controller) clear() {
	c.registered = false
	for _, path := range c.tracker.Paths() {
		c.decorations.Dispose(path)
	}
	c.tracker.Reset()
	c.roster = nil
}
