package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedant-sarda/atorix-chat/internal/events"
)

// fakeConn is an in-memory Conn. Frames pushed to in are returned by Read.
type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	written  [][]byte
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-f.in:
		return data, nil
	case <-f.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeConn) Write(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written = append(f.written, data)
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) Written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.written))
	copy(out, f.written)
	return out
}

// fakeDialer fails the first `failures` dials, then hands out fresh fakeConns.
type fakeDialer struct {
	mu       sync.Mutex
	failures int
	dials    int
	conns    []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) Conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func fastBackoff() Backoff {
	return Backoff{Min: 5 * time.Millisecond, Max: 20 * time.Millisecond, Multiplier: 2}
}

func newTestConnector(t *testing.T, d *fakeDialer, opts ...Option) *Connector {
	t.Helper()
	opts = append([]Option{WithDialer(d), WithBackoff(fastBackoff())}, opts...)
	c := NewConnector("ws://chat.test/ws", opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitConnected(t *testing.T, c *Connector) {
	t.Helper()
	require.Eventually(t, c.Connected, time.Second, 5*time.Millisecond)
}

func encode(t *testing.T, ev events.Event) []byte {
	t.Helper()
	data, err := events.Encode(ev)
	require.NoError(t, err)
	return data
}

func TestConnector_FlushesOfflineSendsInOrder(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConnector(t, d)

	c.Send(events.SendMessage{ReceiverID: "u42", Text: "one"})
	c.Send(events.SendMessage{ReceiverID: "u42", Text: "two"})
	assert.Equal(t, 2, c.Pending())
	assert.False(t, c.Connected())

	require.NoError(t, c.Connect(context.Background()))
	waitConnected(t, c)

	conn := d.Conn(0)
	require.Eventually(t, func() bool { return len(conn.Written()) == 2 }, time.Second, 5*time.Millisecond)
	written := conn.Written()
	assert.JSONEq(t, `{"type":"MESSAGE","receiverId":"u42","text":"one"}`, string(written[0]))
	assert.JSONEq(t, `{"type":"MESSAGE","receiverId":"u42","text":"two"}`, string(written[1]))
	assert.Zero(t, c.Pending())
}

func TestConnector_BufferDropsOldest(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConnector(t, d, WithBuffer(2, time.Minute))

	for _, text := range []string{"a", "b", "c"} {
		c.Send(events.SendMessage{ReceiverID: "u1", Text: text})
	}
	assert.Equal(t, 2, c.Pending())

	require.NoError(t, c.Connect(context.Background()))
	waitConnected(t, c)

	conn := d.Conn(0)
	require.Eventually(t, func() bool { return len(conn.Written()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, string(conn.Written()[0]), `"text":"b"`)
	assert.Contains(t, string(conn.Written()[1]), `"text":"c"`)
}

func TestConnector_DiscardsExpiredSends(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConnector(t, d, WithBuffer(8, 10*time.Millisecond))

	c.Send(events.TypingStart{ReceiverID: "u1"})
	time.Sleep(30 * time.Millisecond)

	require.NoError(t, c.Connect(context.Background()))
	waitConnected(t, c)

	conn := d.Conn(0)
	assert.Never(t, func() bool { return len(conn.Written()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Zero(t, c.Pending())
}

func TestConnector_ZeroBufferDropsWhileOffline(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConnector(t, d, WithBuffer(0, time.Minute))

	c.Send(events.TypingStart{ReceiverID: "u1"})
	assert.Zero(t, c.Pending())
}

func TestConnector_DispatchesInArrivalOrder(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConnector(t, d)

	var (
		mu  sync.Mutex
		got []events.Event
	)
	c.OnEvent(func(events.Event) { panic("listener bug") })
	c.OnEvent(func(ev events.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
	})

	require.NoError(t, c.Connect(context.Background()))
	waitConnected(t, c)

	conn := d.Conn(0)
	conn.in <- encode(t, events.PresenceUpdate{User: "u7", Online: true})
	conn.in <- []byte(`{"type":"VIDEO_CALL"}`)
	conn.in <- []byte(`garbage`)
	conn.in <- encode(t, events.TypingStart{ReceiverID: "me", SenderID: "u7"})
	conn.in <- encode(t, events.TypingStop{ReceiverID: "me", SenderID: "u7"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []events.Event{
		events.PresenceUpdate{User: "u7", Online: true},
		events.TypingStart{ReceiverID: "me", SenderID: "u7"},
		events.TypingStop{ReceiverID: "me", SenderID: "u7"},
	}, got)
}

func TestConnector_ReconnectsWithBackoff(t *testing.T) {
	d := &fakeDialer{failures: 2}
	c := newTestConnector(t, d)

	var (
		mu       sync.Mutex
		statuses []bool
	)
	c.OnStatus(func(connected bool) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, connected)
	})

	require.NoError(t, c.Connect(context.Background()))
	waitConnected(t, c)
	assert.Equal(t, 3, d.Dials())

	// Drop the connection from the server side.
	require.NoError(t, d.Conn(0).Close())
	require.Eventually(t, func() bool { return d.Conn(1) != nil }, time.Second, 5*time.Millisecond)
	waitConnected(t, c)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(statuses) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false, true}, statuses)
}

func TestConnector_RequeuesFailedWrite(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConnector(t, d)

	require.NoError(t, c.Connect(context.Background()))
	waitConnected(t, c)

	first := d.Conn(0)
	first.mu.Lock()
	first.writeErr = errors.New("broken pipe")
	first.mu.Unlock()

	c.Send(events.SendMessage{ReceiverID: "u42", Text: "hello"})

	require.Eventually(t, func() bool {
		second := d.Conn(1)
		return second != nil && len(second.Written()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, string(d.Conn(1).Written()[0]), `"text":"hello"`)
}

func TestConnector_ConnectIsIdempotent(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConnector(t, d)

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))
	waitConnected(t, c)

	assert.Never(t, func() bool { return d.Dials() > 1 }, 30*time.Millisecond, 5*time.Millisecond)
}

func TestConnector_Close(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConnector(t, d)

	var disconnects atomic.Int32
	c.OnStatus(func(connected bool) {
		if !connected {
			disconnects.Add(1)
		}
	})

	require.NoError(t, c.Connect(context.Background()))
	waitConnected(t, c)

	require.NoError(t, c.Close())
	assert.False(t, c.Connected())
	assert.Equal(t, int32(1), disconnects.Load())

	assert.NotPanics(t, func() { c.Send(events.TypingStop{ReceiverID: "u1"}) })
	assert.Zero(t, c.Pending())
	assert.ErrorIs(t, c.Connect(context.Background()), ErrClosed)
	assert.NoError(t, c.Close())
}

func TestConnector_StopsWhenContextCanceled(t *testing.T) {
	d := &fakeDialer{failures: 1000}
	c := newTestConnector(t, d)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Connect(ctx))
	require.Eventually(t, func() bool { return d.Dials() >= 2 }, time.Second, 5*time.Millisecond)

	cancel()
	time.Sleep(30 * time.Millisecond)
	dials := d.Dials()
	assert.Never(t, func() bool { return d.Dials() > dials }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestConnector_ReconnectsAfterContextCanceled(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConnector(t, d)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Connect(ctx))
	waitConnected(t, c)

	cancel()
	require.Eventually(t, func() bool { return !c.Connected() }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Connect(context.Background()))
	waitConnected(t, c)
	assert.Equal(t, 2, d.Dials())
}
