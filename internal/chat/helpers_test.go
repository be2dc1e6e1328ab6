package chat

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock is a hand-cranked clock for eviction and retention tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeConn is an in-memory ConnLike. The test plays the remote peer:
// frames pushed into in come out of the server's ReadMessage, frames the
// server writes land in out.
type fakeConn struct {
	in  chan []byte
	out chan []byte

	closed    chan struct{}
	closeOnce sync.Once
}

var errConnClosed = errors.New("use of closed connection")

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data, ok := <-f.in:
		if !ok {
			return 0, nil, io.EOF
		}
		return 1, data, nil
	case <-f.closed:
		return 0, nil, errConnClosed
	}
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-f.closed:
		return errConnClosed
	default:
	}
	select {
	case f.out <- data:
		return nil
	case <-f.closed:
		return errConnClosed
	}
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// stalledConn is a fakeConn whose peer never reads: every write blocks
// until the connection is closed.
type stalledConn struct{ *fakeConn }

func (s *stalledConn) WriteMessage(int, []byte) error {
	<-s.closed
	return errConnClosed
}

// emit plays an inbound client frame.
func (f *fakeConn) emit(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	raw, err := json.Marshal(Envelope{Event: event, Data: data})
	require.NoError(t, err)
	select {
	case f.in <- raw:
	case <-time.After(time.Second):
		t.Fatalf("emit %s: inbound queue stuck", event)
	}
}

// hangUp ends the session the way a vanishing client does.
func (f *fakeConn) hangUp() {
	close(f.in)
}

// expectEvent waits for the next outbound frame and requires it to carry
// the given event name, decoding its payload into out when non-nil.
func (f *fakeConn) expectEvent(t *testing.T, event string, out any) {
	t.Helper()
	select {
	case raw := <-f.out:
		var env Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		require.Equal(t, event, env.Event, "payload: %s", env.Data)
		if out != nil {
			require.NoError(t, json.Unmarshal(env.Data, out))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", event)
	}
}

// expectSilence asserts no frame arrives for a short window.
func (f *fakeConn) expectSilence(t *testing.T) {
	t.Helper()
	select {
	case raw := <-f.out:
		t.Fatalf("unexpected frame: %s", raw)
	case <-time.After(100 * time.Millisecond):
	}
}

func testConfig() Config {
	return Config{
		Addr:            "127.0.0.1:0",
		DefaultRoom:     "general",
		HistoryCapacity: 5,
		TypingTimeout:   3 * time.Second,
		RetentionWindow: time.Minute,
		SendQueueSize:   64,
	}
}

func newTestManager(t *testing.T, clock *fakeClock) *Manager {
	t.Helper()
	var fn func() time.Time
	if clock != nil {
		fn = clock.Now
	}
	m := NewManager(testConfig(), nil, fn)
	t.Cleanup(m.Stop)
	return m
}
