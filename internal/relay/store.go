package relay

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/vedant-sarda/atorix-chat/internal/domain"
)

// Conversation is the stored record of a direct conversation.
type Conversation struct {
	ID           string   `json:"_id"`
	Participants []string `json:"participants"`
}

// Counterpart returns the participant that is not userID, or "" when userID
// is not a participant.
func (c Conversation) Counterpart(userID string) string {
	if len(c.Participants) != 2 {
		return ""
	}
	switch userID {
	case c.Participants[0]:
		return c.Participants[1]
	case c.Participants[1]:
		return c.Participants[0]
	}
	return ""
}

// Store persists conversations and messages for the relay.
type Store interface {
	// FindConversation returns the conversation between a and b, or
	// domain.ErrNotFound.
	FindConversation(ctx context.Context, a, b string) (Conversation, error)
	// EnsureConversation returns the conversation between a and b, creating it if needed.
	EnsureConversation(ctx context.Context, a, b string) (Conversation, error)
	// Conversation returns a conversation by id, or domain.ErrNotFound.
	Conversation(ctx context.Context, id string) (Conversation, error)
	// SaveMessage persists m, which must already carry its id.
	SaveMessage(ctx context.Context, m domain.Message) error
	// Messages returns a conversation's messages oldest first.
	Messages(ctx context.Context, conversationID string) ([]domain.Message, error)
	// MarkRead marks every message addressed to reader in the conversation
	// as read and returns the ids that changed.
	MarkRead(ctx context.Context, conversationID, reader string) ([]string, error)
	Close(ctx context.Context) error
}

// pairKey orders the participants so a and b map to the same conversation.
func pairKey(a, b string) [2]string {
	if b < a {
		a, b = b, a
	}
	return [2]string{a, b}
}

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	byPair   map[[2]string]string
	convs    map[string]Conversation
	messages map[string][]domain.Message
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byPair:   make(map[[2]string]string),
		convs:    make(map[string]Conversation),
		messages: make(map[string][]domain.Message),
	}
}

func (s *MemoryStore) FindConversation(_ context.Context, a, b string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byPair[pairKey(a, b)]
	if !ok {
		return Conversation{}, domain.ErrNotFound
	}
	return s.convs[id], nil
}

func (s *MemoryStore) EnsureConversation(_ context.Context, a, b string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(a, b)
	if id, ok := s.byPair[key]; ok {
		return s.convs[id], nil
	}
	conv := Conversation{ID: uuid.NewString(), Participants: []string{key[0], key[1]}}
	s.byPair[key] = conv.ID
	s.convs[conv.ID] = conv
	return conv, nil
}

func (s *MemoryStore) Conversation(_ context.Context, id string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.convs[id]
	if !ok {
		return Conversation{}, domain.ErrNotFound
	}
	return conv, nil
}

func (s *MemoryStore) SaveMessage(_ context.Context, m domain.Message) error {
	if m.ID == "" || m.ConversationID == "" {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.convs[m.ConversationID]; !ok {
		return domain.ErrNotFound
	}
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], m)
	return nil
}

func (s *MemoryStore) Messages(_ context.Context, conversationID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := append([]domain.Message(nil), s.messages[conversationID]...)
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, conversationID, reader string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	msgs := s.messages[conversationID]
	for i := range msgs {
		if msgs[i].Receiver == reader && msgs[i].Status != domain.StatusRead {
			msgs[i].Status = domain.StatusRead
			ids = append(ids, msgs[i].ID)
		}
	}
	return ids, nil
}

func (s *MemoryStore) Close(context.Context) error { return nil }
