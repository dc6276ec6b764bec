package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// OfflineDebounceDelay is the time to wait before marking a user as offline
// after their last connection closes. This absorbs reconnects and page reloads.
const OfflineDebounceDelay = 3 * time.Second

// Roster tracks live connections per user on the server side. A user is
// online while they have at least one connection, or while their offline
// debounce is pending.
type Roster struct {
	mu      sync.Mutex
	clients map[string]map[string]struct{} // userID -> clientID set
	pending map[string]*offlineTimer       // userID -> offline debounce

	debounce time.Duration
	onChange func(userID string, online bool)
	logger   *slog.Logger
}

type offlineTimer struct {
	timer *time.Timer
}

// RosterOption configures a Roster.
type RosterOption func(*Roster)

// WithOfflineDebounce sets the offline debounce delay. Zero disables it.
func WithOfflineDebounce(d time.Duration) RosterOption {
	return func(r *Roster) {
		r.debounce = d
	}
}

// WithOnChange registers the callback for online/offline transitions. It runs
// without the roster lock held.
func WithOnChange(fn func(userID string, online bool)) RosterOption {
	return func(r *Roster) {
		r.onChange = fn
	}
}

// NewRoster creates an empty roster.
func NewRoster(opts ...RosterOption) *Roster {
	r := &Roster{
		clients:  make(map[string]map[string]struct{}),
		pending:  make(map[string]*offlineTimer),
		debounce: OfflineDebounceDelay,
		logger:   slog.Default().With("service", "presence"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add registers a connection for userID.
func (r *Roster) Add(userID, clientID string) {
	r.mu.Lock()

	wasOnline := r.onlineLocked(userID)
	if p, ok := r.pending[userID]; ok {
		p.timer.Stop()
		delete(r.pending, userID)
		r.logger.Debug("Cancelled offline debounce due to reconnection", "user_id", userID, "client_id", clientID)
	}
	if r.clients[userID] == nil {
		r.clients[userID] = make(map[string]struct{})
	}
	r.clients[userID][clientID] = struct{}{}
	r.mu.Unlock()

	if !wasOnline {
		r.logger.Info("User came online", "user_id", userID, "client_id", clientID)
		r.notify(userID, true)
	}
}

// Remove drops a connection. When it was the last one the user goes offline,
// after the debounce delay if one is configured.
func (r *Roster) Remove(userID, clientID string) {
	r.mu.Lock()

	conns, ok := r.clients[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(conns, clientID)
	if len(conns) > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.clients, userID)

	if r.debounce == 0 {
		r.mu.Unlock()
		r.logger.Info("User went offline", "user_id", userID)
		r.notify(userID, false)
		return
	}

	p := &offlineTimer{}
	p.timer = time.AfterFunc(r.debounce, func() { r.expire(userID, p) })
	r.pending[userID] = p
	r.mu.Unlock()

	r.logger.Debug("Scheduling offline event", "user_id", userID, "debounce_delay", r.debounce)
}

func (r *Roster) expire(userID string, p *offlineTimer) {
	r.mu.Lock()
	// A reconnect replaced or removed the timer.
	if r.pending[userID] != p {
		r.mu.Unlock()
		return
	}
	delete(r.pending, userID)
	r.mu.Unlock()

	r.logger.Info("User went offline after debounce period", "user_id", userID)
	r.notify(userID, false)
}

// IsOnline reports whether userID is online.
func (r *Roster) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.onlineLocked(userID)
}

func (r *Roster) onlineLocked(userID string) bool {
	if len(r.clients[userID]) > 0 {
		return true
	}
	_, pending := r.pending[userID]
	return pending
}

// Online returns every online user, sorted.
func (r *Roster) Online() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{}, len(r.clients)+len(r.pending))
	for id := range r.clients {
		seen[id] = struct{}{}
	}
	for id := range r.pending {
		seen[id] = struct{}{}
	}

	result := make([]string, 0, len(seen))
	for id := range seen {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}

// Connections returns the number of live connections of userID.
func (r *Roster) Connections(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients[userID])
}

// Shutdown cancels pending offline timers without firing them.
func (r *Roster) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.pending {
		p.timer.Stop()
		delete(r.pending, id)
	}
}

func (r *Roster) notify(userID string, online bool) {
	if r.onChange != nil {
		r.onChange(userID, online)
	}
}
