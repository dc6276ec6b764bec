// Package session binds the transport, presence tracker, conversation
// directory and message store into the chat session state machine.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vedant-sarda/atorix-chat/internal/directory"
	"github.com/vedant-sarda/atorix-chat/internal/domain"
	"github.com/vedant-sarda/atorix-chat/internal/events"
	"github.com/vedant-sarda/atorix-chat/internal/presence"
	"github.com/vedant-sarda/atorix-chat/internal/pubsub"
	"github.com/vedant-sarda/atorix-chat/internal/store"
)

var (
	// ErrEmptyMessage is returned when the text to send is blank.
	ErrEmptyMessage = errors.New("message text is empty")

	// ErrSuperseded is returned by SetActiveUser when a newer switch started
	// before it finished. Its results were discarded.
	ErrSuperseded = errors.New("conversation switch superseded")

	// ErrNoActiveUser is returned by operations that need a selected counterpart.
	ErrNoActiveUser = errors.New("no active conversation")
)

// Sender transmits outbound events. transport.Connector implements it.
type Sender interface {
	Send(ev events.Event)
}

// Controller is the chat session. All state changes are applied under one
// lock, so each operation or inbound event yields exactly one snapshot.
type Controller struct {
	actor     string
	sender    Sender
	dir       *directory.Directory
	store     *store.Store
	presence  *presence.Tracker
	history   store.HistoryFetcher
	publisher pubsub.Publisher
	logger    *slog.Logger

	typingExpiry time.Duration

	mu         sync.Mutex
	state      State
	active     *domain.User
	activeConv string
	gen        uint64
	version    uint64
	connected  bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithDirectory sets the conversation directory.
func WithDirectory(d *directory.Directory) Option {
	return func(c *Controller) { c.dir = d }
}

// WithStore sets the message store.
func WithStore(s *store.Store) Option {
	return func(c *Controller) { c.store = s }
}

// WithHistory sets where conversation history is loaded from.
func WithHistory(f store.HistoryFetcher) Option {
	return func(c *Controller) { c.history = f }
}

// WithPublisher publishes every snapshot on SnapshotTopic.
func WithPublisher(p pubsub.Publisher) Option {
	return func(c *Controller) { c.publisher = p }
}

// WithTypingExpiry sets how long a typing indicator lasts without a refresh.
func WithTypingExpiry(d time.Duration) Option {
	return func(c *Controller) { c.typingExpiry = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// New creates a session for actorID sending through sender.
func New(actorID string, sender Sender, opts ...Option) *Controller {
	c := &Controller{
		actor:        actorID,
		sender:       sender,
		typingExpiry: presence.DefaultTypingExpiry,
		logger:       slog.Default().With("service", "session"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dir == nil {
		c.dir = directory.New(nil)
	}
	if c.store == nil {
		c.store = store.New(actorID)
	}
	c.presence = presence.NewTracker(
		presence.WithTypingExpiry(c.typingExpiry),
		presence.WithOnExpire(c.typingExpired),
	)
	return c
}

// Actor returns the id of the local user.
func (c *Controller) Actor() string {
	return c.actor
}

// Directory exposes the conversation directory, e.g. to seed users.
func (c *Controller) Directory() *directory.Directory {
	return c.dir
}

// SetUsers seeds the directory with the user list. The actor is left out.
func (c *Controller) SetUsers(users []domain.User) {
	others := make([]domain.User, 0, len(users))
	for _, u := range users {
		if u.ID != c.actor {
			others = append(others, u)
		}
	}

	c.mu.Lock()
	c.dir.SetUsers(others)
	snap := c.commitLocked()
	c.mu.Unlock()
	c.publish(snap)
}

// SetActiveUser switches the conversation view to user, or to Idle when
// user is nil. It resets the unread count, resolves the conversation, loads
// its history and marks it read. Resolve and history failures are logged and
// leave an empty view. If another switch starts meanwhile, the results are
// discarded and ErrSuperseded is returned.
func (c *Controller) SetActiveUser(ctx context.Context, user *domain.User) error {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.activeConv = ""

	if user == nil {
		c.state = Idle
		c.active = nil
		c.store.Reset("")
		snap := c.commitLocked()
		c.mu.Unlock()
		c.publish(snap)
		return nil
	}

	u := *user
	c.state = Loading
	c.active = &u
	c.store.Reset(u.ID)
	c.dir.ResetUnread(u.ID)
	snap := c.commitLocked()
	c.mu.Unlock()
	c.publish(snap)

	logger := c.logger.With("counterpart", u.ID)

	convID, err := c.dir.Resolve(ctx, u.ID)
	if err != nil {
		logger.Warn("Failed to resolve conversation", "error", err)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return ErrSuperseded
	}
	if convID == "" {
		// An echo may have revealed the id while the lookup was in flight.
		convID = c.activeConv
	}
	c.activeConv = convID
	c.mu.Unlock()

	if err := c.store.LoadHistory(ctx, c.history, convID); err != nil {
		if errors.Is(err, domain.ErrStale) {
			return ErrSuperseded
		}
		logger.Warn("Failed to load history", "conversation_id", convID, "error", err)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return ErrSuperseded
	}
	c.state = Ready
	if c.activeConv != "" {
		c.sender.Send(events.ReadMessage{ConversationID: c.activeConv})
	}
	snap = c.commitLocked()
	c.mu.Unlock()
	c.publish(snap)

	logger.Debug("Conversation ready", "conversation_id", snap.ConversationID, "messages", len(snap.Messages))
	return nil
}

// Refresh reloads the history of the active conversation, e.g. after a
// reconnect, without leaving the Ready state.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	convID := c.activeConv
	c.mu.Unlock()

	if err := c.store.LoadHistory(ctx, c.history, convID); err != nil {
		if errors.Is(err, domain.ErrStale) {
			return nil
		}
		return err
	}

	c.mu.Lock()
	snap := c.commitLocked()
	c.mu.Unlock()
	c.publish(snap)
	return nil
}

// SendMessage sends text to receiverID. The message is shown immediately
// with status sent when receiverID is the active counterpart, and stays
// visible whether or not the transport is connected.
func (c *Controller) SendMessage(receiverID, text string) (domain.Message, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Message{}, ErrEmptyMessage
	}
	if receiverID == "" {
		return domain.Message{}, fmt.Errorf("%w: empty receiver", domain.ErrInvalidInput)
	}

	clientID := domain.ProvisionalPrefix + uuid.NewString()
	m := domain.Message{
		ID:        clientID,
		ClientID:  clientID,
		Sender:    c.actor,
		Receiver:  receiverID,
		Text:      text,
		CreatedAt: time.Now().UTC(),
		Status:    domain.StatusSent,
	}

	c.mu.Lock()
	if c.active != nil && c.active.ID == receiverID {
		m.ConversationID = c.activeConv
		c.store.AppendLive(m)
	}
	c.dir.UpdateLastMessage(receiverID, text, m.CreatedAt)
	c.sender.Send(events.SendMessage{ReceiverID: receiverID, Text: text, ClientID: clientID})
	snap := c.commitLocked()
	c.mu.Unlock()
	c.publish(snap)

	return m, nil
}

// StartTyping tells the active counterpart the actor is typing.
func (c *Controller) StartTyping() error {
	return c.sendTyping(func(id string) events.Event { return events.TypingStart{ReceiverID: id} })
}

// StopTyping tells the active counterpart the actor stopped typing.
func (c *Controller) StopTyping() error {
	return c.sendTyping(func(id string) events.Event { return events.TypingStop{ReceiverID: id} })
}

func (c *Controller) sendTyping(build func(receiverID string) events.Event) error {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()

	if active == nil {
		return ErrNoActiveUser
	}
	c.sender.Send(build(active.ID))
	return nil
}

// HandleEvent applies one inbound event. It is meant to be registered as a
// transport listener and must not be called concurrently for ordering to hold.
func (c *Controller) HandleEvent(ev events.Event) {
	c.mu.Lock()

	switch e := ev.(type) {
	case events.Message:
		c.handleMessageLocked(e)
	case events.ReadMessage:
		c.handleReceiptLocked(e)
	case events.PresenceUpdate:
		c.presence.SetOnline(e.User, e.Online)
	case events.TypingStart:
		if e.SenderID != "" {
			c.presence.TypingStarted(e.SenderID)
		}
	case events.TypingStop:
		if e.SenderID != "" {
			c.presence.TypingStopped(e.SenderID)
		}
	case events.SendMessage:
		c.mu.Unlock()
		c.logger.Debug("Ignoring outbound-only event", "type", e.EventType())
		return
	default:
		c.mu.Unlock()
		c.logger.Warn("Ignoring unsupported event", "type", fmt.Sprintf("%T", ev))
		return
	}

	snap := c.commitLocked()
	c.mu.Unlock()
	c.publish(snap)
}

func (c *Controller) handleMessageLocked(e events.Message) {
	m := e.ToDomain()
	if !m.Involves(c.actor) {
		c.logger.Warn("Dropping message addressed to other users", "sender", m.Sender, "receiver", m.Receiver)
		return
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	counterpart := m.Counterpart(c.actor)
	outgoing := m.Sender == c.actor

	if m.ConversationID != "" {
		c.dir.Bind(counterpart, m.ConversationID)
	}
	c.dir.UpdateLastMessage(counterpart, m.Text, m.CreatedAt)

	if c.active == nil || c.active.ID != counterpart {
		if !outgoing {
			c.dir.IncrementUnread(counterpart)
		}
		return
	}

	if c.activeConv == "" && m.ConversationID != "" {
		c.activeConv = m.ConversationID
	}
	c.store.AppendLive(m)

	// The actor is looking at this conversation.
	if !outgoing && c.activeConv != "" {
		c.sender.Send(events.ReadMessage{ConversationID: c.activeConv})
	}
}

func (c *Controller) handleReceiptLocked(e events.ReadMessage) {
	if e.Reader == c.actor {
		return
	}
	if e.Reader != "" {
		c.dir.Bind(e.Reader, e.ConversationID)
	}

	if len(e.MessageIDs) > 0 {
		for _, id := range e.MessageIDs {
			c.store.SetStatus(id, domain.StatusRead)
		}
		return
	}

	if c.active == nil {
		return
	}
	if c.activeConv == "" && e.Reader == c.active.ID {
		c.activeConv = e.ConversationID
	}
	if e.ConversationID == c.activeConv {
		c.store.MarkOutgoingRead()
	}
}

// SetConnected mirrors the transport status. Presence is rebuilt from
// scratch on every new connection.
func (c *Controller) SetConnected(connected bool) {
	c.mu.Lock()
	if c.connected == connected {
		c.mu.Unlock()
		return
	}
	c.connected = connected
	if connected {
		c.presence.Reset()
	}
	snap := c.commitLocked()
	c.mu.Unlock()
	c.publish(snap)
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Close stops the typing timers.
func (c *Controller) Close() {
	c.presence.Shutdown()
}

func (c *Controller) typingExpired(userID string) {
	c.mu.Lock()
	snap := c.commitLocked()
	c.mu.Unlock()
	c.publish(snap)
}

// commitLocked bumps the version and captures the snapshot to publish.
func (c *Controller) commitLocked() Snapshot {
	c.version++
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	var active *domain.User
	if c.active != nil {
		u := *c.active
		active = &u
	}
	return Snapshot{
		Version:             c.version,
		Connected:           c.connected,
		State:               c.state,
		Active:              active,
		ConversationID:      c.activeConv,
		Messages:            c.store.Merge(),
		Conversations:       c.dir.Sorted(),
		Online:              c.presence.OnlineUsers(),
		Typing:              c.presence.TypingUsers(),
		UnreadConversations: c.dir.UnreadConversations(),
	}
}

// publish runs outside the session lock so subscribers may call back in.
func (c *Controller) publish(snap Snapshot) {
	if c.publisher == nil {
		return
	}
	meta := map[string]string{"version": strconv.FormatUint(snap.Version, 10)}
	if err := pubsub.Publish(context.Background(), c.publisher, SnapshotTopic, snap, meta); err != nil {
		c.logger.Error("Failed to publish session snapshot", "version", snap.Version, "error", err)
	}
}
