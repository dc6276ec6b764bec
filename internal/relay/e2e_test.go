package relay

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedant-sarda/atorix-chat/internal/backend"
	"github.com/vedant-sarda/atorix-chat/internal/directory"
	"github.com/vedant-sarda/atorix-chat/internal/domain"
	"github.com/vedant-sarda/atorix-chat/internal/session"
	"github.com/vedant-sarda/atorix-chat/internal/transport"
)

// connectSession wires a session controller to the relay the way the CLI does.
func (r *testRelay) connectSession(t *testing.T, user string) *session.Controller {
	t.Helper()

	api := backend.NewClient(r.srv.URL, user)
	header := http.Header{}
	header.Set(backend.ActorHeader, user)
	conn := transport.NewConnector("ws"+strings.TrimPrefix(r.srv.URL, "http")+"/ws",
		transport.WithDialer(transport.WebsocketDialer{Header: header}),
		transport.WithBackoff(transport.NewBackoff(10*time.Millisecond, 50*time.Millisecond)),
	)
	ctrl := session.New(user, conn,
		session.WithDirectory(directory.New(api)),
		session.WithHistory(api),
	)
	conn.OnStatus(ctrl.SetConnected)
	conn.OnEvent(ctrl.HandleEvent)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, conn.Connect(ctx))
	t.Cleanup(func() {
		cancel()
		conn.Close()
		ctrl.Close()
	})
	require.Eventually(t, conn.Connected, 2*time.Second, 5*time.Millisecond)
	return ctrl
}

func TestEndToEnd_SendDeliverRead(t *testing.T) {
	r := newTestRelay(t)
	ctx := context.Background()

	alice := r.connectSession(t, "alice")
	bob := r.connectSession(t, "bob")

	require.Eventually(t, func() bool {
		return alice.Snapshot().IsOnline("bob") && bob.Snapshot().IsOnline("alice")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.SetActiveUser(ctx, &domain.User{ID: "bob", Name: "Bob"}))
	require.NoError(t, bob.SetActiveUser(ctx, &domain.User{ID: "alice", Name: "Alice"}))

	sent, err := alice.SendMessage("bob", "hello bob")
	require.NoError(t, err)
	assert.True(t, sent.Provisional())

	// bob is looking at the conversation, so the message goes straight to read.
	require.Eventually(t, func() bool {
		snap := alice.Snapshot()
		return len(snap.Messages) == 1 &&
			!snap.Messages[0].Provisional() &&
			snap.Messages[0].Status == domain.StatusRead
	}, 2*time.Second, 10*time.Millisecond)

	aliceSnap := alice.Snapshot()
	assert.NotEmpty(t, aliceSnap.ConversationID)
	assert.Equal(t, sent.ClientID, aliceSnap.Messages[0].ClientID)

	require.Eventually(t, func() bool {
		snap := bob.Snapshot()
		return len(snap.Messages) == 1 && snap.Messages[0].Text == "hello bob"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, aliceSnap.ConversationID, bob.Snapshot().ConversationID)
}

func TestEndToEnd_UnreadAndHistory(t *testing.T) {
	r := newTestRelay(t)
	ctx := context.Background()

	alice := r.connectSession(t, "alice")
	bob := r.connectSession(t, "bob")
	require.Eventually(t, func() bool {
		return alice.Snapshot().IsOnline("bob")
	}, 2*time.Second, 10*time.Millisecond)

	_, err := alice.SendMessage("bob", "one")
	require.NoError(t, err)
	_, err = alice.SendMessage("bob", "two")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return bob.Directory().Unread("alice") == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, bob.Snapshot().UnreadConversations)

	require.NoError(t, bob.SetActiveUser(ctx, &domain.User{ID: "alice"}))
	snap := bob.Snapshot()
	require.Len(t, snap.Messages, 2, "history is loaded from the relay")
	assert.Equal(t, "one", snap.Messages[0].Text)
	assert.Equal(t, "two", snap.Messages[1].Text)
	assert.Zero(t, bob.Directory().Unread("alice"))

	require.NoError(t, alice.SetActiveUser(ctx, &domain.User{ID: "bob"}))
	require.Eventually(t, func() bool {
		msgs := alice.Snapshot().Messages
		return len(msgs) == 2 &&
			msgs[0].Status == domain.StatusRead &&
			msgs[1].Status == domain.StatusRead
	}, 2*time.Second, 10*time.Millisecond)
}
