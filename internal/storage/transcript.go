package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vedant-sarda/atorix-chat/internal/domain"
)

// Transcript is the exported history of one conversation.
type Transcript struct {
	Actor          string           `json:"actor"`
	Counterpart    string           `json:"counterpart"`
	ConversationID string           `json:"conversationId,omitempty"`
	ExportedAt     time.Time        `json:"exportedAt"`
	Messages       []domain.Message `json:"messages"`
}

// SaveTranscript writes t to path as indented JSON.
func SaveTranscript(ctx context.Context, store Store, path string, t Transcript) (int64, error) {
	if t.Messages == nil {
		t.Messages = []domain.Message{}
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to encode transcript: %w", err)
	}
	data = append(data, '\n')

	n, err := store.Save(ctx, path, bytes.NewReader(data))
	if err != nil {
		return n, fmt.Errorf("failed to write transcript to %s: %w", path, err)
	}
	return n, nil
}

// LoadTranscript reads a transcript written by SaveTranscript.
func LoadTranscript(ctx context.Context, store Store, path string) (Transcript, error) {
	rc, err := store.Open(ctx, path)
	if err != nil {
		return Transcript{}, fmt.Errorf("failed to open transcript %s: %w", path, err)
	}
	defer rc.Close()

	var t Transcript
	if err := json.NewDecoder(rc).Decode(&t); err != nil {
		return Transcript{}, fmt.Errorf("failed to decode transcript %s: %w", path, err)
	}
	return t, nil
}
