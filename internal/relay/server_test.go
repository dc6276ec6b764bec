package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedant-sarda/atorix-chat/internal/backend"
	"github.com/vedant-sarda/atorix-chat/internal/domain"
	"github.com/vedant-sarda/atorix-chat/internal/events"
	"github.com/vedant-sarda/atorix-chat/internal/pubsub"
)

type testRelay struct {
	srv   *httptest.Server
	hub   *Hub
	store *MemoryStore
}

func newTestRelay(t *testing.T, opts ...HubOption) *testRelay {
	t.Helper()

	store := NewMemoryStore()
	users := NewUserDirectory(afero.NewMemMapFs(), "")
	users.Set([]domain.User{{ID: "alice", Name: "Alice"}, {ID: "bob", Name: "Bob"}})

	hub := NewHub(store, append([]HubOption{WithOfflineDebounce(0)}, opts...)...)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(NewServer(hub, store, users))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &testRelay{srv: srv, hub: hub, store: store}
}

func (r *testRelay) wsURL(user string) string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http") + "/ws?user=" + user
}

func (r *testRelay) dial(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(r.wsURL(user), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func write(t *testing.T, conn *websocket.Conn, ev events.Event) {
	t.Helper()
	data, err := events.Encode(ev)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

// readUntil returns the first inbound event matching match, failing after two seconds.
func readUntil[T events.Event](t *testing.T, conn *websocket.Conn, match func(T) bool) T {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "no matching event before the deadline")
		ev, err := events.DecodeInbound(data)
		require.NoError(t, err)
		if e, ok := ev.(T); ok && (match == nil || match(e)) {
			return e
		}
	}
}

func onlineUpdate(user string, online bool) func(events.PresenceUpdate) bool {
	return func(e events.PresenceUpdate) bool { return e.User == user && e.Online == online }
}

func TestRelay_MessageRoundTrip(t *testing.T) {
	r := newTestRelay(t)
	alice := r.dial(t, "alice")
	bob := r.dial(t, "bob")
	readUntil(t, alice, onlineUpdate("bob", true))

	write(t, alice, events.SendMessage{ReceiverID: "bob", Text: "hi bob", ClientID: "local-1"})

	echo := readUntil[events.Message](t, alice, nil)
	assert.Equal(t, "local-1", echo.ClientID)
	assert.NotEmpty(t, echo.ID)
	assert.NotEmpty(t, echo.ConversationID)
	assert.Equal(t, "alice", echo.Sender)
	assert.False(t, echo.CreatedAt.IsZero())

	fwd := readUntil[events.Message](t, bob, nil)
	assert.Equal(t, echo.ID, fwd.ID)
	assert.Empty(t, fwd.ClientID, "client ids are only echoed to the sender")
	assert.Equal(t, "hi bob", fwd.Text)

	ctx := context.Background()
	api := backend.NewClient(r.srv.URL, "alice")
	convID, err := api.FindConversation(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, echo.ConversationID, convID)

	history, err := api.Messages(ctx, convID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.StatusDelivered, history[0].Status)

	write(t, bob, events.ReadMessage{ConversationID: convID})
	receipt := readUntil[events.ReadMessage](t, alice, nil)
	assert.Equal(t, "bob", receipt.Reader)
	assert.Equal(t, []string{echo.ID}, receipt.MessageIDs)

	history, err = api.Messages(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRead, history[0].Status)
}

func TestRelay_TypingForwardedWithSender(t *testing.T) {
	r := newTestRelay(t)
	alice := r.dial(t, "alice")
	bob := r.dial(t, "bob")
	readUntil(t, alice, onlineUpdate("bob", true))

	write(t, alice, events.TypingStart{ReceiverID: "bob"})
	start := readUntil[events.TypingStart](t, bob, nil)
	assert.Equal(t, "alice", start.SenderID)

	write(t, alice, events.TypingStop{ReceiverID: "bob", SenderID: "mallory"})
	stop := readUntil[events.TypingStop](t, bob, nil)
	assert.Equal(t, "alice", stop.SenderID, "the relay stamps the connection's user")
}

func TestRelay_PresenceSnapshotAndOffline(t *testing.T) {
	r := newTestRelay(t)
	alice := r.dial(t, "alice")
	require.Eventually(t, func() bool { return r.hub.Connections("alice") == 1 }, time.Second, 5*time.Millisecond)

	bob := r.dial(t, "bob")
	readUntil(t, bob, onlineUpdate("alice", true))
	readUntil(t, alice, onlineUpdate("bob", true))

	require.NoError(t, bob.Close())
	readUntil(t, alice, onlineUpdate("bob", false))
	assert.Eventually(t, func() bool { return r.hub.Connections("bob") == 0 }, time.Second, 5*time.Millisecond)
}

func TestRelay_MultipleConnectionsKeepUserOnline(t *testing.T) {
	r := newTestRelay(t)
	alice := r.dial(t, "alice")
	bob1 := r.dial(t, "bob")
	bob2 := r.dial(t, "bob")
	readUntil(t, alice, onlineUpdate("bob", true))
	require.Eventually(t, func() bool { return r.hub.Connections("bob") == 2 }, time.Second, 5*time.Millisecond)

	write(t, alice, events.SendMessage{ReceiverID: "bob", Text: "both tabs"})
	assert.Equal(t, "both tabs", readUntil[events.Message](t, bob1, nil).Text)
	assert.Equal(t, "both tabs", readUntil[events.Message](t, bob2, nil).Text)

	require.NoError(t, bob1.Close())
	require.Eventually(t, func() bool { return r.hub.Connections("bob") == 1 }, time.Second, 5*time.Millisecond)

	write(t, alice, events.TypingStart{ReceiverID: "bob"})
	readUntil[events.TypingStart](t, bob2, nil)
}

func TestRelay_InvalidFramesAreIgnored(t *testing.T) {
	r := newTestRelay(t)
	alice := r.dial(t, "alice")
	bob := r.dial(t, "bob")
	readUntil(t, alice, onlineUpdate("bob", true))

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"type":"PRESENCE_UPDATE","user":"x","online":true}`)))
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`garbage`)))
	write(t, alice, events.SendMessage{ReceiverID: "alice", Text: "to myself"})
	write(t, alice, events.ReadMessage{ConversationID: "unknown"})
	write(t, alice, events.SendMessage{ReceiverID: "bob", Text: "still here"})

	assert.Equal(t, "still here", readUntil[events.Message](t, bob, nil).Text)
}

func TestRelay_REST(t *testing.T) {
	r := newTestRelay(t)
	ctx := context.Background()
	api := backend.NewClient(r.srv.URL, "alice")

	users, err := api.ListUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.User{{ID: "alice", Name: "Alice"}, {ID: "bob", Name: "Bob"}}, users)

	convID, err := api.FindConversation(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, convID, "no conversation until the first message")

	_, err = api.Messages(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	resp, err := http.Get(r.srv.URL + "/conversations?user=bob")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "actor header is required")

	resp, err = http.Get(r.srv.URL + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRelay_PublishesStoredMessages(t *testing.T) {
	bus := pubsub.NewWatermillBridge()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stored := make(chan domain.Message, 1)
	require.NoError(t, pubsub.Subscribe(ctx, bus, MessageStored, func(_ context.Context, m domain.Message) error {
		stored <- m
		return nil
	}))

	r := newTestRelay(t, WithHubPublisher(bus))
	alice := r.dial(t, "alice")
	write(t, alice, events.SendMessage{ReceiverID: "bob", Text: "offline bob"})
	echo := readUntil[events.Message](t, alice, nil)

	select {
	case m := <-stored:
		assert.Equal(t, echo.ID, m.ID)
		assert.Equal(t, "bob", m.Receiver)
	case <-time.After(2 * time.Second):
		t.Fatal("stored message was not published")
	}
}
