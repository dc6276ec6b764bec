// Package directory keeps the inbox: one entry per counterpart with the
// conversation id, last-message preview and unread count.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vedant-sarda/atorix-chat/internal/domain"
)

// Resolver looks up the conversation between the actor and a counterpart.
// An empty id with a nil error means no conversation exists yet.
type Resolver interface {
	FindConversation(ctx context.Context, counterpartID string) (string, error)
}

// Directory is safe for concurrent use.
type Directory struct {
	mu       sync.Mutex
	resolver Resolver
	entries  map[string]*domain.Conversation // counterpartID -> entry
	byConv   map[string]string               // conversationID -> counterpartID
	// order is the last order returned by Sorted; ties keep it.
	order  []string
	logger *slog.Logger
}

// New creates an empty directory. resolver may be nil, in which case only
// ids learned through Bind are known.
func New(resolver Resolver) *Directory {
	return &Directory{
		resolver: resolver,
		entries:  make(map[string]*domain.Conversation),
		byConv:   make(map[string]string),
		logger:   slog.Default().With("service", "directory"),
	}
}

// SetUsers seeds entries from the user directory. Existing entries keep
// their state; only the display name is refreshed.
func (d *Directory) SetUsers(users []domain.User) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, u := range users {
		e := d.entryLocked(u.ID)
		e.Name = u.DisplayName()
	}
}

// Resolve returns the conversation id for counterpartID, asking the backend
// when it is not cached. The directory lock is not held during the lookup.
func (d *Directory) Resolve(ctx context.Context, counterpartID string) (string, error) {
	d.mu.Lock()
	if e, ok := d.entries[counterpartID]; ok && e.ID != "" {
		id := e.ID
		d.mu.Unlock()
		return id, nil
	}
	resolver := d.resolver
	d.mu.Unlock()

	if resolver == nil {
		return "", nil
	}

	id, err := resolver.FindConversation(ctx, counterpartID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve conversation with %s: %w", counterpartID, err)
	}
	if id != "" {
		d.Bind(counterpartID, id)
	}
	return id, nil
}

// Bind records the conversation id of counterpartID.
func (d *Directory) Bind(counterpartID, conversationID string) {
	if conversationID == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	e := d.entryLocked(counterpartID)
	if e.ID != "" && e.ID != conversationID {
		d.logger.Warn("Conversation id changed", "counterpart", counterpartID, "old", e.ID, "new", conversationID)
		delete(d.byConv, e.ID)
	}
	e.ID = conversationID
	d.byConv[conversationID] = counterpartID
}

// ConversationID returns the known conversation id of counterpartID, or "".
func (d *Directory) ConversationID(counterpartID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[counterpartID]; ok {
		return e.ID
	}
	return ""
}

// CounterpartOf maps a conversation id back to its counterpart.
func (d *Directory) CounterpartOf(conversationID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.byConv[conversationID]
	return id, ok
}

// UpdateLastMessage sets the preview of counterpartID's conversation.
// Updates older than the current last activity are ignored.
func (d *Directory) UpdateLastMessage(counterpartID, text string, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e := d.entryLocked(counterpartID)
	if at.Before(e.LastActivity) {
		return
	}
	e.LastMessage = text
	e.LastActivity = at
}

// IncrementUnread bumps the unread count and returns the new value.
func (d *Directory) IncrementUnread(counterpartID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	e := d.entryLocked(counterpartID)
	e.Unread++
	return e.Unread
}

// ResetUnread sets the unread count to zero.
func (d *Directory) ResetUnread(counterpartID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.entries[counterpartID]; ok {
		e.Unread = 0
	}
}

// Unread returns the unread count of counterpartID.
func (d *Directory) Unread(counterpartID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[counterpartID]; ok {
		return e.Unread
	}
	return 0
}

// UnreadConversations counts counterparts with at least one unread message.
func (d *Directory) UnreadConversations() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, e := range d.entries {
		if e.Unread > 0 {
			n++
		}
	}
	return n
}

// Get returns a copy of counterpartID's entry.
func (d *Directory) Get(counterpartID string) (domain.Conversation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[counterpartID]
	if !ok {
		return domain.Conversation{}, false
	}
	return *e, true
}

// Sorted returns the inbox ordered by unread count, then last activity, both
// descending. Entries with equal keys keep the order of the previous call.
func (d *Directory) Sorted() []domain.Conversation {
	d.mu.Lock()
	defer d.mu.Unlock()

	sort.SliceStable(d.order, func(i, j int) bool {
		a, b := d.entries[d.order[i]], d.entries[d.order[j]]
		if a.Unread != b.Unread {
			return a.Unread > b.Unread
		}
		return a.LastActivity.After(b.LastActivity)
	})

	result := make([]domain.Conversation, len(d.order))
	for i, id := range d.order {
		result[i] = *d.entries[id]
	}
	return result
}

// entryLocked returns the entry for counterpartID, creating it for
// counterparts the user directory did not list.
func (d *Directory) entryLocked(counterpartID string) *domain.Conversation {
	if e, ok := d.entries[counterpartID]; ok {
		return e
	}
	e := &domain.Conversation{CounterpartID: counterpartID, Name: counterpartID}
	d.entries[counterpartID] = e
	d.order = append(d.order, counterpartID)
	return e
}
