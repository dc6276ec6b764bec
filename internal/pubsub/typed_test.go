package pubsub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greeting struct {
	Text    string `json:"text"`
	Version uint64 `json:"version"`
}

var greetingEvent = NewEvent[greeting]("test.greeting", "greetings exchanged in tests")

func TestTypedPublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge := NewWatermillBridge(WithBlockingPublish())
	defer bridge.Close()

	var (
		mu  sync.Mutex
		got []greeting
	)
	err := Subscribe(ctx, bridge, greetingEvent, func(_ context.Context, g greeting) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, g)
		return nil
	})
	require.NoError(t, err)

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, Publish(ctx, bridge, greetingEvent, greeting{Text: "hi", Version: i}))
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, g := range got {
		assert.Equal(t, uint64(i+1), g.Version, "blocking publish keeps order")
	}
}

func TestSubscribe_SkipsUndecodablePayloads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge := NewWatermillBridge(WithBlockingPublish())
	defer bridge.Close()

	done := make(chan greeting, 1)
	require.NoError(t, Subscribe(ctx, bridge, greetingEvent, func(_ context.Context, g greeting) error {
		done <- g
		return nil
	}))

	require.NoError(t, bridge.Publish(ctx, Message{Topic: greetingEvent.Name(), Payload: []byte("not-json")}))
	require.NoError(t, Publish(ctx, bridge, greetingEvent, greeting{Text: "after"}))

	select {
	case g := <-done:
		assert.Equal(t, "after", g.Text)
	case <-time.After(time.Second):
		t.Fatal("handler never received the valid payload")
	}
}

func TestSubscribe_HandlerErrorDoesNotStall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge := NewWatermillBridge()
	defer bridge.Close()

	calls := make(chan struct{}, 4)
	require.NoError(t, bridge.Subscribe(ctx, "test.failing", func(context.Context, Message) error {
		calls <- struct{}{}
		return errors.New("boom")
	}))

	require.NoError(t, bridge.Publish(ctx, Message{Topic: "test.failing"}))
	require.NoError(t, bridge.Publish(ctx, Message{Topic: "test.failing"}))

	assert.Eventually(t, func() bool { return len(calls) == 2 }, time.Second, 10*time.Millisecond)
}

func TestEventMetadata(t *testing.T) {
	assert.Equal(t, "test.greeting", greetingEvent.Name())
	assert.Equal(t, "greetings exchanged in tests", greetingEvent.Description())
}
