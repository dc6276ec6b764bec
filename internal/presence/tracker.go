// Package presence tracks who is online and who is typing.
//
// Tracker is the client-side view built from inbound events. Roster is the
// server-side view built from connection lifecycle.
package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultTypingExpiry clears a typing indicator when no TYPING_STOP follows.
const DefaultTypingExpiry = 2 * time.Second

type typingEntry struct {
	timer *time.Timer
	gen   uint64
}

// Tracker keeps the online and typing maps of one chat session.
type Tracker struct {
	mu     sync.Mutex
	online map[string]bool
	typing map[string]*typingEntry
	gen    uint64
	closed bool

	expiry   time.Duration
	onExpire func(userID string)
	logger   *slog.Logger
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithTypingExpiry sets how long a typing indicator survives without a new TYPING_START.
func WithTypingExpiry(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.expiry = d
		}
	}
}

// WithOnExpire registers a callback run, without the tracker lock held,
// when a typing indicator times out.
func WithOnExpire(fn func(userID string)) TrackerOption {
	return func(t *Tracker) {
		t.onExpire = fn
	}
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		online: make(map[string]bool),
		typing: make(map[string]*typingEntry),
		expiry: DefaultTypingExpiry,
		logger: slog.Default().With("service", "presence"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetOnline records a presence update.
func (t *Tracker) SetOnline(userID string, online bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online[userID] = online
}

// TypingStarted marks userID as typing and restarts its expiry timer.
func (t *Tracker) TypingStarted(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	if e, ok := t.typing[userID]; ok {
		e.timer.Stop()
	}

	t.gen++
	gen := t.gen
	t.typing[userID] = &typingEntry{
		gen:   gen,
		timer: time.AfterFunc(t.expiry, func() { t.expire(userID, gen) }),
	}
}

// TypingStopped clears the typing indicator and cancels its timer.
func (t *Tracker) TypingStopped(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.typing[userID]; ok {
		e.timer.Stop()
		delete(t.typing, userID)
	}
}

// expire runs on the timer goroutine. A timer that lost the race against a
// newer TypingStarted finds a different generation and does nothing.
func (t *Tracker) expire(userID string, gen uint64) {
	t.mu.Lock()
	e, ok := t.typing[userID]
	if !ok || e.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.typing, userID)
	cb := t.onExpire
	t.mu.Unlock()

	t.logger.Debug("Typing indicator expired", "user_id", userID)
	if cb != nil {
		cb(userID)
	}
}

// IsOnline reports the last known presence of userID.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online[userID]
}

// IsTyping reports whether userID is currently typing.
func (t *Tracker) IsTyping(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.typing[userID]
	return ok
}

// OnlineUsers returns the ids of online users, sorted.
func (t *Tracker) OnlineUsers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := make([]string, 0, len(t.online))
	for id, online := range t.online {
		if online {
			result = append(result, id)
		}
	}
	sort.Strings(result)
	return result
}

// TypingUsers returns the ids of users currently typing, sorted.
func (t *Tracker) TypingUsers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := make([]string, 0, len(t.typing))
	for id := range t.typing {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}

// Reset forgets all state, e.g. after a reconnect.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
}

func (t *Tracker) resetLocked() {
	for _, e := range t.typing {
		e.timer.Stop()
	}
	t.online = make(map[string]bool)
	t.typing = make(map[string]*typingEntry)
}

// Shutdown stops every pending timer. Later TypingStarted calls are ignored.
func (t *Tracker) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
	t.closed = true
}
