package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

const waitTimeout = 2 * time.Second

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

func (c *fakeClock) pending() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			out = append(out, t.d)
		}
	}
	return out
}

// fire runs the first pending timer scheduled with delay d, waiting for it
// to be registered.
func (c *fakeClock) fire(t *testing.T, d time.Duration) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		var found *fakeTimer
		for _, tm := range c.timers {
			if !tm.fired && !tm.stopped && tm.d == d {
				found = tm
				break
			}
		}
		if found != nil {
			found.fired = true
			c.mu.Unlock()
			found.f()
			return
		}
		c.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no pending timer with delay %s (pending: %v)", d, c.pending())
}

type fakeConn struct {
	inbox  chan []byte
	done   chan struct{}
	writes chan string

	mu        sync.Mutex
	closeCode int
	closed    bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbox:  make(chan []byte, 16),
		done:   make(chan struct{}),
		writes: make(chan string, 16),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data, ok := <-c.inbox:
		if !ok {
			return nil, errors.New("connection closed abnormally (1006)")
		}
		return data, nil
	case <-c.done:
		return nil, errors.New("use of closed network connection")
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("write on closed connection")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writes <- string(data)
	return nil
}

func (c *fakeConn) Close(code int, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.closeCode = code
	close(c.done)
	return nil
}

func (c *fakeConn) send(frame string) {
	c.inbox <- []byte(frame)
}

func (c *fakeConn) code() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

type fakeDialer struct {
	mu    sync.Mutex
	calls int
	dial  func(n int) (Conn, error)
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	d.calls++
	n := d.calls
	d.mu.Unlock()
	return d.dial(n)
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func failingDialer() *fakeDialer {
	return &fakeDialer{dial: func(int) (Conn, error) {
		return nil, errors.New("connection refused")
	}}
}

func connDialer(conns ...*fakeConn) *fakeDialer {
	return &fakeDialer{dial: func(n int) (Conn, error) {
		if n > len(conns) {
			return nil, errors.New("connection refused")
		}
		return conns[n-1], nil
	}}
}

func waitEvent(t *testing.T, events <-chan Event, match func(Event) bool) Event {
	t.Helper()
	timer := time.NewTimer(waitTimeout)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("event channel closed while waiting")
			}
			if match(ev) {
				return ev
			}
		case <-timer.C:
			t.Fatal("timed out waiting for event")
		}
	}
}

func isState(s State) func(Event) bool {
	return func(ev Event) bool { return ev.Kind == EventState && ev.State == s }
}

func isKind(k EventKind) func(Event) bool {
	return func(ev Event) bool { return ev.Kind == k }
}

func waitWrite(t *testing.T, c *fakeConn) string {
	t.Helper()
	select {
	case w := <-c.writes:
		return w
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for outbound frame")
		return ""
	}
}
