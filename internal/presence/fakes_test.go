package presence

import (
	"sort"
	"time"

	"github.com/christopherjohns/filepresence/internal/protocol"
	"github.com/christopherjohns/filepresence/internal/transport"
)

type sentMessage struct {
	typ     protocol.Type
	payload any
}

type fakeTransport struct {
	handler  transport.Handler
	state    transport.State
	connects []string
	sent     []sentMessage
}

func (f *fakeTransport) SetHandler(h transport.Handler) { f.handler = h }
func (f *fakeTransport) State() transport.State         { return f.state }

func (f *fakeTransport) Connect(url string) error {
	if f.state != transport.StateDisconnected {
		return transport.ErrActive
	}
	f.state = transport.StateConnecting
	f.connects = append(f.connects, url)
	return nil
}

func (f *fakeTransport) Disconnect() bool {
	if f.state == transport.StateDisconnected {
		return false
	}
	f.state = transport.StateDisconnected
	return true
}

func (f *fakeTransport) Send(typ protocol.Type, payload any) error {
	if f.state != transport.StateConnected {
		return transport.ErrNotConnected
	}
	f.sent = append(f.sent, sentMessage{typ: typ, payload: payload})
	return nil
}

// open completes a pending connection the way transport.Session does.
func (f *fakeTransport) open() {
	f.state = transport.StateConnected
	f.handler.OnOpen()
}

type fakeDecorations struct {
	visible  map[string]string
	shows    []string
	disposed []string
}

func newFakeDecorations() *fakeDecorations {
	return &fakeDecorations{visible: make(map[string]string)}
}

func (d *fakeDecorations) Show(path, label string) {
	d.visible[path] = label
	d.shows = append(d.shows, label)
}

func (d *fakeDecorations) Dispose(path string) {
	delete(d.visible, path)
	d.disposed = append(d.disposed, path)
}

type fakeNotifier struct {
	infos  []string
	errors []string
}

func (n *fakeNotifier) Info(msg string)  { n.infos = append(n.infos, msg) }
func (n *fakeNotifier) Error(msg string) { n.errors = append(n.errors, msg) }

// fakeClock is a manual Scheduler.
type fakeClock struct {
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	at    time.Duration
	f     func()
	fired bool
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) {
	c.timers = append(c.timers, &fakeTimer{at: c.now + d, f: f})
}

// Advance moves the clock forward, firing due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	target := c.now + d
	for {
		var due []*fakeTimer
		for _, t := range c.timers {
			if !t.fired && t.at <= target {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			break
		}
		sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
		next := due[0]
		c.now = next.at
		next.fired = true
		next.f()
	}
	c.now = target
}

func (c *fakeClock) pending() int {
	n := 0
	for _, t := range c.timers {
		if !t.fired {
			n++
		}
	}
	return n
}
