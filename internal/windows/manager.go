// Package windows manages the floating chat windows of the messenger UI.
//
// Windows share one session: opening a window focuses its counterpart in the
// session, while minimizing, expanding and closing only change the window
// list. The unread badge is derived from the session's directory.
package windows

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/vedant-sarda/atorix-chat/internal/domain"
	"github.com/vedant-sarda/atorix-chat/internal/session"
)

// DefaultTypingDebounce is how long after the last keystroke TYPING_STOP is sent.
const DefaultTypingDebounce = 1200 * time.Millisecond

// badgeLimit is the largest count the badge label shows exactly.
const badgeLimit = 9

// Controller is the part of the session the manager drives.
type Controller interface {
	SetActiveUser(ctx context.Context, user *domain.User) error
	SendMessage(receiverID, text string) (domain.Message, error)
	StartTyping() error
	StopTyping() error
	Snapshot() session.Snapshot
}

// Window is one open chat window.
type Window struct {
	User      domain.User `json:"user"`
	Minimized bool        `json:"minimized"`
}

// Badge is the aggregate unread indicator.
type Badge struct {
	// Count is the exact number of counterparts with unread messages.
	Count int
	// Label is what to display: "" when there is nothing unread, "9+" above nine.
	Label string
}

// Manager is safe for concurrent use.
type Manager struct {
	ctrl     Controller
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	windows []Window

	typing      bool
	lastStart   time.Time
	typingTimer *time.Timer
	typingGen   uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithTypingDebounce sets the keystroke debounce.
func WithTypingDebounce(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.debounce = d
		}
	}
}

// New creates a manager with no open windows.
func New(ctrl Controller, opts ...Option) *Manager {
	m := &Manager{
		ctrl:     ctrl,
		debounce: DefaultTypingDebounce,
		logger:   slog.Default().With("service", "windows"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OpenChat opens a window for user, or un-minimizes it if already open, and
// makes user the active counterpart. A switch superseded by a later one is
// not an error.
func (m *Manager) OpenChat(ctx context.Context, user domain.User) error {
	m.mu.Lock()
	if i := m.indexLocked(user.ID); i >= 0 {
		m.windows[i].Minimized = false
		m.windows[i].User = user
	} else {
		m.windows = append(m.windows, Window{User: user})
	}
	m.mu.Unlock()

	// Typing was addressed to the previous counterpart.
	m.stopTyping()

	err := m.ctrl.SetActiveUser(ctx, &user)
	if errors.Is(err, session.ErrSuperseded) {
		return nil
	}
	return err
}

// Minimize collapses the window of userID. It reports whether one was open.
func (m *Manager) Minimize(userID string) bool {
	return m.setMinimized(userID, true)
}

// Expand restores the window of userID. It reports whether one was open.
func (m *Manager) Expand(userID string) bool {
	return m.setMinimized(userID, false)
}

func (m *Manager) setMinimized(userID string, minimized bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexLocked(userID)
	if i < 0 {
		return false
	}
	m.windows[i].Minimized = minimized
	return true
}

// Close removes the window of userID. Conversation data is untouched.
func (m *Manager) Close(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexLocked(userID)
	if i < 0 {
		return false
	}
	m.windows = append(m.windows[:i], m.windows[i+1:]...)
	return true
}

// Windows returns the open windows in opening order.
func (m *Manager) Windows() []Window {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Window(nil), m.windows...)
}

// UnreadBadge counts counterparts with unread messages.
func (m *Manager) UnreadBadge() Badge {
	n := m.ctrl.Snapshot().UnreadConversations
	return Badge{Count: n, Label: badgeLabel(n)}
}

func badgeLabel(n int) string {
	switch {
	case n <= 0:
		return ""
	case n > badgeLimit:
		return strconv.Itoa(badgeLimit) + "+"
	default:
		return strconv.Itoa(n)
	}
}

// Keystroke records input activity. The first keystroke sends TYPING_START,
// which is repeated once per debounce period while typing continues so the
// remote indicator does not expire. TYPING_STOP follows one debounce period
// after the last keystroke.
func (m *Manager) Keystroke() {
	m.mu.Lock()
	now := time.Now()
	sendStart := !m.typing || now.Sub(m.lastStart) >= m.debounce
	m.typing = true
	if sendStart {
		m.lastStart = now
	}

	if m.typingTimer != nil {
		m.typingTimer.Stop()
	}
	m.typingGen++
	gen := m.typingGen
	m.typingTimer = time.AfterFunc(m.debounce, func() { m.typingIdle(gen) })
	m.mu.Unlock()

	if !sendStart {
		return
	}
	if err := m.ctrl.StartTyping(); err != nil {
		m.logger.Debug("Typing not sent", "error", err)
		m.mu.Lock()
		m.typing = false
		m.mu.Unlock()
	}
}

// Send stops the typing indicator immediately and sends text.
func (m *Manager) Send(receiverID, text string) (domain.Message, error) {
	m.stopTyping()
	return m.ctrl.SendMessage(receiverID, text)
}

// Shutdown cancels the typing timer.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.typingTimer != nil {
		m.typingTimer.Stop()
	}
	m.typingGen++
	m.typing = false
}

func (m *Manager) typingIdle(gen uint64) {
	m.mu.Lock()
	if gen != m.typingGen || !m.typing {
		m.mu.Unlock()
		return
	}
	m.typing = false
	m.mu.Unlock()

	m.sendStop()
}

func (m *Manager) stopTyping() {
	m.mu.Lock()
	if !m.typing {
		m.mu.Unlock()
		return
	}
	m.typing = false
	m.typingGen++
	if m.typingTimer != nil {
		m.typingTimer.Stop()
	}
	m.mu.Unlock()

	m.sendStop()
}

func (m *Manager) sendStop() {
	if err := m.ctrl.StopTyping(); err != nil {
		m.logger.Debug("Typing stop not sent", "error", err)
	}
}

func (m *Manager) indexLocked(userID string) int {
	for i, w := range m.windows {
		if w.User.ID == userID {
			return i
		}
	}
	return -1
}
