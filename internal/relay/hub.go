package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/vedant-sarda/atorix-chat/internal/backend"
	"github.com/vedant-sarda/atorix-chat/internal/domain"
	"github.com/vedant-sarda/atorix-chat/internal/events"
	"github.com/vedant-sarda/atorix-chat/internal/presence"
	"github.com/vedant-sarda/atorix-chat/internal/pubsub"
)

const (
	sendBuffer   = 256
	writeTimeout = 10 * time.Second
)

// MessageStored is published on the bus after the relay persists a message.
var MessageStored = pubsub.NewEvent[domain.Message](
	"chat.relay.message.stored",
	"A message was persisted and routed by the relay",
)

// client is one websocket connection of a user.
type client struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
}

// directMessage targets every connection of userID, or only conn when set.
type directMessage struct {
	userID  string
	conn    *client
	payload []byte
}

// Hub owns the websocket connections and routes events between them.
// Connection bookkeeping happens on the Run goroutine; handlers talk to it
// through channels.
type Hub struct {
	store     Store
	roster    *presence.Roster
	publisher pubsub.Publisher
	logger    *slog.Logger
	now       func() time.Time

	clients map[string][]*client

	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	direct     chan *directMessage
	done       chan struct{}

	// mu guards clients for readers outside Run.
	mu sync.RWMutex
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithOfflineDebounce delays offline presence updates after a user's last
// connection closes.
func WithOfflineDebounce(d time.Duration) HubOption {
	return func(h *Hub) {
		h.roster = presence.NewRoster(
			presence.WithOfflineDebounce(d),
			presence.WithOnChange(h.presenceChanged),
		)
	}
}

// WithHubPublisher publishes MessageStored for every routed message.
func WithHubPublisher(p pubsub.Publisher) HubOption {
	return func(h *Hub) { h.publisher = p }
}

// NewHub creates a hub over store. Call Run before serving connections.
func NewHub(store Store, opts ...HubOption) *Hub {
	h := &Hub{
		store:      store,
		logger:     slog.Default().With("service", "relay-hub"),
		now:        time.Now,
		clients:    make(map[string][]*client),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte),
		direct:     make(chan *directMessage),
		done:       make(chan struct{}),
	}
	h.roster = presence.NewRoster(presence.WithOnChange(h.presenceChanged))
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run manages client lifecycle and message routing until ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("Relay hub started")
	defer func() {
		h.mu.Lock()
		for userID, clients := range h.clients {
			for _, c := range clients {
				close(c.send)
			}
			delete(h.clients, userID)
		}
		h.mu.Unlock()
		h.roster.Shutdown()
		close(h.done)
		h.logger.Info("Relay hub stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.userID] = append(h.clients[c.userID], c)
			h.mu.Unlock()
			h.logger.Info("Client registered", "userID", c.userID, "clientID", c.id)

		case c := <-h.unregister:
			h.mu.Lock()
			clients := h.clients[c.userID]
			for i, existing := range clients {
				if existing == c {
					h.clients[c.userID] = append(clients[:i], clients[i+1:]...)
					close(c.send)
					break
				}
			}
			if len(h.clients[c.userID]) == 0 {
				delete(h.clients, c.userID)
			}
			h.mu.Unlock()
			h.logger.Info("Client unregistered", "userID", c.userID, "clientID", c.id)

		case payload := <-h.broadcast:
			h.mu.RLock()
			for _, clients := range h.clients {
				for _, c := range clients {
					h.enqueue(c, payload)
				}
			}
			h.mu.RUnlock()

		case msg := <-h.direct:
			h.mu.RLock()
			for _, c := range h.clients[msg.userID] {
				if msg.conn == nil || msg.conn == c {
					h.enqueue(c, msg.payload)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) enqueue(c *client, payload []byte) {
	select {
	case c.send <- payload:
	default:
		h.logger.Warn("Client send channel full, dropping message", "userID", c.userID, "clientID", c.id)
	}
}

// Connections returns how many connections userID currently has.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Handler upgrades GET /ws requests. The user is taken from the "user"
// query parameter or the X-User-ID header.
func (h *Hub) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		userID := c.QueryParam("user")
		if userID == "" {
			userID = c.Request().Header.Get(backend.ActorHeader)
		}
		if userID == "" {
			return c.String(http.StatusUnauthorized, "missing user")
		}

		conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
			InsecureSkipVerify: true, // development relay, origins are not checked
		})
		if err != nil {
			h.logger.Error("Failed to upgrade connection to WebSocket", "error", err)
			return err
		}

		cl := &client{
			id:     uuid.NewString(),
			userID: userID,
			conn:   conn,
			send:   make(chan []byte, sendBuffer),
			hub:    h,
		}
		select {
		case h.register <- cl:
		case <-h.done:
			conn.Close(websocket.StatusGoingAway, "relay shutting down")
			return nil
		}

		go cl.writePump()

		h.roster.Add(userID, cl.id)
		for _, other := range h.roster.Online() {
			if other != userID {
				h.sendToConn(cl, events.PresenceUpdate{User: other, Online: true})
			}
		}

		cl.readPump(c.Request().Context())
		return nil
	}
}

// readPump decodes client frames and handles them in arrival order.
func (c *client) readPump(ctx context.Context) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.hub.roster.Remove(c.userID, c.id)
		c.conn.Close(websocket.StatusNormalClosure, "client disconnected")
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				c.hub.logger.Info("WebSocket closed normally by client", "userID", c.userID)
			} else if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				c.hub.logger.Warn("WebSocket read error", "userID", c.userID, "error", err)
			}
			return
		}

		ev, err := events.DecodeOutbound(data)
		if err != nil {
			c.hub.logger.Warn("Dropping invalid client frame", "userID", c.userID, "error", err)
			continue
		}
		c.hub.handle(ctx, c, ev)
	}
}

// writePump drains the send channel onto the connection.
func (c *client) writePump() {
	defer c.conn.Close(websocket.StatusNormalClosure, "server-side cleanup")

	for payload := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := c.conn.Write(ctx, websocket.MessageText, payload)
		cancel()
		if err != nil {
			c.hub.logger.Warn("WebSocket write error", "userID", c.userID, "error", err)
			return
		}
	}
}

func (h *Hub) handle(ctx context.Context, c *client, ev events.Event) {
	switch e := ev.(type) {
	case events.SendMessage:
		h.handleSend(ctx, c, e)
	case events.TypingStart:
		e.SenderID = c.userID
		h.sendToUser(e.ReceiverID, e)
	case events.TypingStop:
		e.SenderID = c.userID
		h.sendToUser(e.ReceiverID, e)
	case events.ReadMessage:
		h.handleRead(ctx, c, e)
	default:
		h.logger.Warn("Unhandled client event", "type", ev.EventType(), "userID", c.userID)
	}
}

func (h *Hub) handleSend(ctx context.Context, c *client, e events.SendMessage) {
	if e.ReceiverID == c.userID {
		h.logger.Warn("Dropping message addressed to its sender", "userID", c.userID)
		return
	}
	conv, err := h.store.EnsureConversation(ctx, c.userID, e.ReceiverID)
	if err != nil {
		h.logger.Error("Failed to resolve conversation", "sender", c.userID, "receiver", e.ReceiverID, "error", err)
		return
	}

	m := domain.Message{
		ID:             uuid.NewString(),
		ClientID:       e.ClientID,
		ConversationID: conv.ID,
		Sender:         c.userID,
		Receiver:       e.ReceiverID,
		Text:           e.Text,
		CreatedAt:      h.now().UTC(),
		Status:         domain.StatusDelivered,
	}
	if err := h.store.SaveMessage(ctx, m); err != nil {
		h.logger.Error("Failed to persist message", "sender", c.userID, "error", err)
		return
	}

	wire := events.FromDomain(m)
	h.sendToUser(c.userID, wire)
	wire.ClientID = ""
	h.sendToUser(e.ReceiverID, wire)

	if h.publisher != nil {
		if err := pubsub.Publish(ctx, h.publisher, MessageStored, m); err != nil {
			h.logger.Warn("Failed to publish stored message", "id", m.ID, "error", err)
		}
	}
}

func (h *Hub) handleRead(ctx context.Context, c *client, e events.ReadMessage) {
	conv, err := h.store.Conversation(ctx, e.ConversationID)
	if err != nil {
		h.logger.Warn("Read receipt for unknown conversation", "conversationID", e.ConversationID, "error", err)
		return
	}
	counterpart := conv.Counterpart(c.userID)
	if counterpart == "" {
		h.logger.Warn("Read receipt from a non-participant", "conversationID", e.ConversationID, "userID", c.userID)
		return
	}

	ids, err := h.store.MarkRead(ctx, conv.ID, c.userID)
	if err != nil {
		h.logger.Error("Failed to mark messages read", "conversationID", conv.ID, "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}
	h.sendToUser(counterpart, events.ReadMessage{
		ConversationID: conv.ID,
		Reader:         c.userID,
		MessageIDs:     ids,
	})
}

func (h *Hub) presenceChanged(userID string, online bool) {
	payload, err := events.Encode(events.PresenceUpdate{User: userID, Online: online})
	if err != nil {
		h.logger.Error("Failed to encode presence update", "error", err)
		return
	}
	select {
	case h.broadcast <- payload:
	case <-h.done:
	}
}

func (h *Hub) sendToUser(userID string, ev events.Event) {
	h.route(&directMessage{userID: userID}, ev)
}

func (h *Hub) sendToConn(c *client, ev events.Event) {
	h.route(&directMessage{userID: c.userID, conn: c}, ev)
}

func (h *Hub) route(msg *directMessage, ev events.Event) {
	payload, err := events.Encode(ev)
	if err != nil {
		h.logger.Error("Failed to encode event", "type", ev.EventType(), "error", err)
		return
	}
	msg.payload = payload
	select {
	case h.direct <- msg:
	case <-h.done:
	}
}
