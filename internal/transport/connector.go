// Package transport owns the single real-time connection of a chat session.
//
// A Connector keeps reconnecting with exponential backoff until it is closed,
// buffers outbound events while offline and delivers inbound events to its
// listeners one at a time, in arrival order.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vedant-sarda/atorix-chat/internal/events"
)

// ErrClosed is returned by Connect after Close.
var ErrClosed = errors.New("transport closed")

const (
	defaultBuffer       = 64
	defaultBufferTTL    = 2 * time.Minute
	defaultWriteTimeout = 10 * time.Second
)

// Listener receives decoded inbound events.
type Listener func(events.Event)

// StatusListener is told about every change of the connected flag.
type StatusListener func(connected bool)

type pending struct {
	data       []byte
	enqueuedAt time.Time
}

// Connector maintains one logical connection to the messaging endpoint.
type Connector struct {
	url          string
	dialer       Dialer
	backoff      Backoff
	limit        int
	ttl          time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger

	mu        sync.Mutex
	running   bool
	closed    bool
	connected bool
	loopCtx   context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	queue     []pending
	listeners []Listener
	statuses  []StatusListener

	// notify wakes the writer; capacity 1 so Send never blocks.
	notify chan struct{}
}

// Option configures a Connector.
type Option func(*Connector)

// WithDialer replaces the default websocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Connector) { c.dialer = d }
}

// WithBackoff sets the reconnect policy.
func WithBackoff(b Backoff) Option {
	return func(c *Connector) { c.backoff = b }
}

// WithBuffer bounds the offline send queue. Entries older than ttl are
// discarded instead of sent. A limit of 0 drops sends made while offline.
func WithBuffer(limit int, ttl time.Duration) Option {
	return func(c *Connector) {
		c.limit = limit
		c.ttl = ttl
	}
}

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Connector) { c.writeTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Connector) { c.logger = l }
}

// NewConnector creates a connector for url. Nothing is dialed until Connect.
func NewConnector(url string, opts ...Option) *Connector {
	c := &Connector{
		url:          url,
		dialer:       WebsocketDialer{},
		backoff:      NewBackoff(time.Second, 30*time.Second),
		limit:        defaultBuffer,
		ttl:          defaultBufferTTL,
		writeTimeout: defaultWriteTimeout,
		logger:       slog.Default().With("service", "transport"),
		notify:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnEvent registers a listener for inbound events.
func (c *Connector) OnEvent(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// OnStatus registers a listener for connection status changes.
func (c *Connector) OnStatus(l StatusListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, l)
}

// Connect starts the connection loop, which runs until ctx is canceled or
// Close is called. Calling Connect while the loop is running is a no-op; a
// loop whose context was canceled is replaced by a new one.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	for c.running && !c.closed {
		if c.loopCtx.Err() == nil {
			c.mu.Unlock()
			return nil
		}
		// The previous loop is winding down.
		done := c.done
		c.mu.Unlock()
		<-done
		c.mu.Lock()
	}
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.loopCtx = loopCtx
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(loopCtx, c.done)
	return nil
}

// Connected reports whether a connection is currently established.
func (c *Connector) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Send encodes ev and queues it for delivery. It never blocks; events that
// cannot be queued are logged and dropped.
func (c *Connector) Send(ev events.Event) {
	data, err := events.Encode(ev)
	if err != nil {
		c.logger.Error("Dropping unencodable event", "error", err)
		return
	}

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		c.logger.Debug("Dropping event sent after close", "type", ev.EventType())
		return
	case !c.connected && c.limit == 0:
		c.mu.Unlock()
		c.logger.Warn("Dropping event sent while offline", "type", ev.EventType())
		return
	}

	if c.limit > 0 && len(c.queue) >= c.limit {
		c.queue = c.queue[1:]
		c.logger.Warn("Send buffer full, dropped oldest event", "limit", c.limit)
	}
	c.queue = append(c.queue, pending{data: data, enqueuedAt: time.Now()})
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued outbound frames.
func (c *Connector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Close stops the connection loop and drops queued events.
func (c *Connector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.queue = nil
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

func (c *Connector) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.done == done {
			c.running = false
			c.cancel()
		}
	}()

	attempt := 0
	for {
		conn, err := c.dialer.Dial(ctx, c.url)
		if err == nil {
			attempt = 0
			c.setConnected(true)
			c.logger.Info("Connected", "url", c.url)

			err = c.serve(ctx, conn)
			c.setConnected(false)
		}
		if ctx.Err() != nil {
			return
		}

		delay := c.backoff.Delay(attempt)
		attempt++
		c.logger.Warn("Connection unavailable, retrying",
			"attempt", attempt, "delay_ms", delay.Milliseconds(), "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// serve pumps one connection until either direction fails. The reader is
// always drained before serve returns so that two connections never
// dispatch concurrently.
func (c *Connector) serve(ctx context.Context, conn Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	readDone := make(chan error, 1)
	go func() {
		defer cancel()
		readDone <- c.readLoop(ctx, conn)
	}()

	werr := c.writeLoop(ctx, conn)
	cancel()
	_ = conn.Close()
	rerr := <-readDone

	if werr != nil && !errors.Is(werr, context.Canceled) {
		return werr
	}
	return rerr
}

func (c *Connector) readLoop(ctx context.Context, conn Conn) error {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		ev, err := events.DecodeInbound(data)
		if err != nil {
			c.logger.Warn("Dropping malformed inbound event", "error", err, "size", len(data))
			continue
		}
		c.dispatch(ev)
	}
}

func (c *Connector) dispatch(ev events.Event) {
	c.mu.Lock()
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, l := range listeners {
		c.deliver(l, ev)
	}
}

func (c *Connector) deliver(l Listener, ev events.Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Event listener panicked", "type", ev.EventType(), "panic", r)
		}
	}()
	l(ev)
}

func (c *Connector) writeLoop(ctx context.Context, conn Conn) error {
	for {
		if err := c.flush(ctx, conn); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.notify:
		}
	}
}

func (c *Connector) flush(ctx context.Context, conn Conn) error {
	for {
		p, ok := c.next()
		if !ok {
			return nil
		}

		wctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
		err := conn.Write(wctx, p.data)
		cancel()
		if err != nil {
			c.requeue(p)
			return err
		}
	}
}

// next pops the oldest unexpired frame.
func (c *Connector) next() (pending, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	expired := 0
	for len(c.queue) > 0 {
		p := c.queue[0]
		c.queue = c.queue[1:]
		if c.ttl > 0 && now.Sub(p.enqueuedAt) > c.ttl {
			expired++
			continue
		}
		if expired > 0 {
			c.logger.Warn("Discarded expired events", "count", expired, "ttl", c.ttl)
		}
		return p, true
	}
	if expired > 0 {
		c.logger.Warn("Discarded expired events", "count", expired, "ttl", c.ttl)
	}
	return pending{}, false
}

// requeue puts a frame whose write failed back at the head of the queue.
func (c *Connector) requeue(p pending) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.queue = append([]pending{p}, c.queue...)
	if c.limit > 0 && len(c.queue) > c.limit {
		c.queue = c.queue[len(c.queue)-c.limit:]
	}
}

func (c *Connector) setConnected(v bool) {
	c.mu.Lock()
	if c.connected == v {
		c.mu.Unlock()
		return
	}
	c.connected = v
	statuses := make([]StatusListener, len(c.statuses))
	copy(statuses, c.statuses)
	c.mu.Unlock()

	for _, l := range statuses {
		l(v)
	}
}
