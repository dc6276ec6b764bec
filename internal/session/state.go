package session

import (
	"fmt"

	"github.com/vedant-sarda/atorix-chat/internal/domain"
	"github.com/vedant-sarda/atorix-chat/internal/pubsub"
)

// State is the state of the conversation view.
type State int

const (
	// Idle means no conversation is selected and input is disabled.
	Idle State = iota
	// Loading means the history of the selected conversation is being fetched.
	Loading
	// Ready means messages are shown and input is enabled.
	Ready
)

var stateNames = map[State]string{
	Idle:    "idle",
	Loading: "loading",
	Ready:   "ready",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	name, ok := stateNames[s]
	if !ok {
		return nil, fmt.Errorf("unknown session state %d", int(s))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// Snapshot is a consistent copy of everything a renderer needs. Each
// mutation produces one snapshot with a higher Version; consumers that
// receive snapshots asynchronously should drop any older than the last seen.
type Snapshot struct {
	Version             uint64                `json:"version"`
	Connected           bool                  `json:"connected"`
	State               State                 `json:"state"`
	Active              *domain.User          `json:"active,omitempty"`
	ConversationID      string                `json:"conversationId,omitempty"`
	Messages            []domain.Message      `json:"messages"`
	Conversations       []domain.Conversation `json:"conversations"`
	Online              []string              `json:"online"`
	Typing              []string              `json:"typing"`
	UnreadConversations int                   `json:"unreadConversations"`
}

// InputEnabled reports whether the message input should accept text.
func (s Snapshot) InputEnabled() bool {
	return s.State == Ready && s.Active != nil
}

// IsOnline reports whether userID is online in this snapshot.
func (s Snapshot) IsOnline(userID string) bool {
	for _, id := range s.Online {
		if id == userID {
			return true
		}
	}
	return false
}

// IsTyping reports whether userID is typing in this snapshot.
func (s Snapshot) IsTyping(userID string) bool {
	for _, id := range s.Typing {
		if id == userID {
			return true
		}
	}
	return false
}

// SnapshotTopic carries every published Snapshot.
var SnapshotTopic = pubsub.NewEvent[Snapshot](
	"chat.session.snapshot",
	"Consistent chat session state, published after every mutation",
)
