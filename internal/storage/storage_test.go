package storage

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedant-sarda/atorix-chat/internal/domain"
)

func TestAferoStore_Unit(t *testing.T) {
	memFs := afero.NewMemMapFs()
	store := NewAferoStore(memFs)
	ctx := context.Background()

	filePath := "exports/alice/bob.json"
	fileContent := `{"actor":"alice"}`

	t.Run("Save", func(t *testing.T) {
		contentReader := bytes.NewReader([]byte(fileContent))
		bytesWritten, err := store.Save(ctx, filePath, contentReader)

		require.NoError(t, err)
		assert.Equal(t, int64(len(fileContent)), bytesWritten)

		exists, err := afero.Exists(memFs, filePath)
		require.NoError(t, err)
		assert.True(t, exists, "file should exist after saving")

		readBytes, err := afero.ReadFile(memFs, filePath)
		require.NoError(t, err)
		assert.Equal(t, fileContent, string(readBytes))
	})

	t.Run("Open", func(t *testing.T) {
		file, err := store.Open(ctx, filePath)
		require.NoError(t, err)
		defer file.Close()

		readBytes, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, fileContent, string(readBytes))
	})

	t.Run("Delete", func(t *testing.T) {
		err := store.Delete(ctx, filePath)
		require.NoError(t, err)

		exists, err := afero.Exists(memFs, filePath)
		require.NoError(t, err)
		assert.False(t, exists, "file should not exist after deleting")
	})

	t.Run("Open non-existent file", func(t *testing.T) {
		_, err := store.Open(ctx, "path/to/nothing.txt")
		assert.Error(t, err, "opening a non-existent file should return an error")
	})
}

func TestTranscript_SaveAndLoad(t *testing.T) {
	memFs := afero.NewMemMapFs()
	store := NewAferoStore(memFs)
	ctx := context.Background()

	at := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)
	want := Transcript{
		Actor:          "me",
		Counterpart:    "u7",
		ConversationID: "c1",
		ExportedAt:     at,
		Messages: []domain.Message{
			{ID: "m1", ConversationID: "c1", Sender: "u7", Receiver: "me", Text: "hi", CreatedAt: at, Status: domain.StatusRead},
		},
	}

	n, err := SaveTranscript(ctx, store, "exports/u7.json", want)
	require.NoError(t, err)
	assert.Positive(t, n)

	raw, err := afero.ReadFile(memFs, "exports/u7.json")
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"counterpart": "u7"`, "transcripts are indented for reading")

	got, err := LoadTranscript(ctx, store, "exports/u7.json")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestTranscript_EmptyHistory(t *testing.T) {
	memFs := afero.NewMemMapFs()
	store := NewAferoStore(memFs)
	ctx := context.Background()

	_, err := SaveTranscript(ctx, store, "empty.json", Transcript{Actor: "me", Counterpart: "u9"})
	require.NoError(t, err)

	raw, err := afero.ReadFile(memFs, "empty.json")
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"messages": []`)

	_, err = LoadTranscript(ctx, store, "missing.json")
	assert.Error(t, err)
}
