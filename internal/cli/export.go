package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/vedant-sarda/atorix-chat/internal/domain"
	"github.com/vedant-sarda/atorix-chat/internal/storage"
)

// HistorySource looks up a conversation and its persisted messages.
type HistorySource interface {
	FindConversation(ctx context.Context, counterpartID string) (string, error)
	Messages(ctx context.Context, conversationID string) ([]domain.Message, error)
}

// Export writes the history between actor and counterpart to path. A
// counterpart with no conversation yet produces an empty transcript.
func Export(ctx context.Context, src HistorySource, store storage.Store, actor, counterpart, path string) (storage.Transcript, error) {
	t := storage.Transcript{
		Actor:       actor,
		Counterpart: counterpart,
		ExportedAt:  time.Now().UTC(),
	}

	convID, err := src.FindConversation(ctx, counterpart)
	if err != nil {
		return t, fmt.Errorf("failed to find conversation with %s: %w", counterpart, err)
	}
	t.ConversationID = convID

	if convID != "" {
		msgs, err := src.Messages(ctx, convID)
		if err != nil {
			return t, fmt.Errorf("failed to load history: %w", err)
		}
		for i := range msgs {
			if msgs[i].Status == "" {
				msgs[i].Status = domain.StatusDelivered
			}
		}
		t.Messages = msgs
	}

	if _, err := storage.SaveTranscript(ctx, store, path, t); err != nil {
		return t, err
	}
	return t, nil
}
