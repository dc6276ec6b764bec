package presence

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_SetOnline(t *testing.T) {
	tracker := NewTracker()
	defer tracker.Shutdown()

	tracker.SetOnline("u7", true)
	tracker.SetOnline("u2", true)
	tracker.SetOnline("u9", false)

	assert.True(t, tracker.IsOnline("u7"))
	assert.False(t, tracker.IsOnline("u9"))
	assert.False(t, tracker.IsOnline("unknown"))
	assert.Equal(t, []string{"u2", "u7"}, tracker.OnlineUsers())

	tracker.SetOnline("u7", false)
	assert.Equal(t, []string{"u2"}, tracker.OnlineUsers())
}

func TestTracker_TypingExpiresWithoutStop(t *testing.T) {
	expired := make(chan string, 1)
	tracker := NewTracker(
		WithTypingExpiry(40*time.Millisecond),
		WithOnExpire(func(userID string) { expired <- userID }),
	)
	defer tracker.Shutdown()

	tracker.TypingStarted("u7")
	assert.True(t, tracker.IsTyping("u7"))

	select {
	case id := <-expired:
		assert.Equal(t, "u7", id)
	case <-time.After(time.Second):
		t.Fatal("typing indicator never expired")
	}
	assert.False(t, tracker.IsTyping("u7"))
}

func TestTracker_TypingStartResetsTimer(t *testing.T) {
	tracker := NewTracker(WithTypingExpiry(200 * time.Millisecond))
	defer tracker.Shutdown()

	tracker.TypingStarted("u7")
	time.Sleep(120 * time.Millisecond)
	tracker.TypingStarted("u7")
	time.Sleep(120 * time.Millisecond)

	// Past the first timer, well inside the second.
	assert.True(t, tracker.IsTyping("u7"))
	assert.Eventually(t, func() bool { return !tracker.IsTyping("u7") }, time.Second, 5*time.Millisecond)
}

func TestTracker_TypingStopCancelsTimer(t *testing.T) {
	var expirations atomic.Int32
	tracker := NewTracker(
		WithTypingExpiry(20*time.Millisecond),
		WithOnExpire(func(string) { expirations.Add(1) }),
	)
	defer tracker.Shutdown()

	tracker.TypingStarted("u7")
	tracker.TypingStopped("u7")
	assert.False(t, tracker.IsTyping("u7"))

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, expirations.Load())

	// Stopping a user who is not typing is harmless.
	tracker.TypingStopped("nobody")
}

func TestTracker_TypingUsers(t *testing.T) {
	tracker := NewTracker()
	defer tracker.Shutdown()

	tracker.TypingStarted("b")
	tracker.TypingStarted("a")
	assert.Equal(t, []string{"a", "b"}, tracker.TypingUsers())
}

func TestTracker_ResetAndShutdown(t *testing.T) {
	var expirations atomic.Int32
	tracker := NewTracker(
		WithTypingExpiry(20*time.Millisecond),
		WithOnExpire(func(string) { expirations.Add(1) }),
	)

	tracker.SetOnline("u1", true)
	tracker.TypingStarted("u1")
	tracker.Reset()

	assert.Empty(t, tracker.OnlineUsers())
	assert.Empty(t, tracker.TypingUsers())

	tracker.Shutdown()
	tracker.TypingStarted("u2")
	assert.False(t, tracker.IsTyping("u2"))

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, expirations.Load())
}

func TestTracker_ConcurrentAccess(t *testing.T) {
	tracker := NewTracker(WithTypingExpiry(5 * time.Millisecond))
	defer tracker.Shutdown()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			user := fmt.Sprintf("user_%d", id)
			for j := 0; j < 50; j++ {
				tracker.SetOnline(user, j%2 == 0)
				tracker.TypingStarted(user)
				if j%3 == 0 {
					tracker.TypingStopped(user)
				}
				_ = tracker.TypingUsers()
			}
		}(i)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return len(tracker.TypingUsers()) == 0 }, time.Second, 5*time.Millisecond)
}
