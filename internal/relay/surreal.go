package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
	"github.com/vedant-sarda/atorix-chat/internal/config"
	"github.com/vedant-sarda/atorix-chat/internal/domain"
)

const (
	conversationTable = "chat_conversation"
	messageTable      = "chat_message"
)

// schema is applied when the store opens.
var schema = []string{
	"DEFINE INDEX IF NOT EXISTS chat_conversation_pair ON chat_conversation FIELDS pair UNIQUE",
	"DEFINE INDEX IF NOT EXISTS chat_message_conversation ON chat_message FIELDS conversation_id",
}

type conversationRow struct {
	Key          string   `json:"key"`
	Pair         string   `json:"pair"`
	Participants []string `json:"participants"`
}

// messageRow stores timestamps as RFC3339 strings so they round-trip
// without depending on SurrealDB's datetime decoding.
type messageRow struct {
	Key            string `json:"key"`
	ClientID       string `json:"client_id,omitempty"`
	ConversationID string `json:"conversation_id"`
	Sender         string `json:"sender"`
	Receiver       string `json:"receiver"`
	Text           string `json:"text"`
	CreatedAt      string `json:"created_at"`
	Status         string `json:"status"`
}

func (r messageRow) toDomain() domain.Message {
	created, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		slog.Warn("Stored message has an unparseable timestamp", "id", r.Key, "createdAt", r.CreatedAt)
	}
	return domain.Message{
		ID:             r.Key,
		ClientID:       r.ClientID,
		ConversationID: r.ConversationID,
		Sender:         r.Sender,
		Receiver:       r.Receiver,
		Text:           r.Text,
		CreatedAt:      created,
		Status:         domain.Status(r.Status),
	}
}

// SurrealStore persists conversations and messages in SurrealDB.
type SurrealStore struct {
	db *surrealdb.DB

	// ensure serializes conversation creation; the unique index backs it up
	// across relay instances.
	ensure sync.Mutex
}

// OpenSurreal connects, signs in and selects the namespace and database
// named by cfg, then applies the schema.
func OpenSurreal(ctx context.Context, cfg *config.RelayConfig) (*SurrealStore, error) {
	db, err := surrealdb.FromEndpointURLString(ctx, cfg.SurrealURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to surrealdb: %w", err)
	}

	if cfg.SurrealUser != "" {
		authData := &surrealdb.Auth{
			Username: cfg.SurrealUser,
			Password: cfg.SurrealPass,
		}
		if _, err = db.SignIn(ctx, authData); err != nil {
			db.Close(ctx)
			return nil, fmt.Errorf("failed to sign in: %w", err)
		}
	}

	if err = db.Use(ctx, cfg.SurrealNS, cfg.SurrealDB); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("failed to use namespace/db: %w", err)
	}

	s := &SurrealStore{db: db}
	for _, stmt := range schema {
		if err := s.execute(ctx, stmt, nil); err != nil {
			db.Close(ctx)
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	slog.Info("Relay store connected to SurrealDB", "ns", cfg.SurrealNS, "db", cfg.SurrealDB)
	return s, nil
}

func (s *SurrealStore) FindConversation(ctx context.Context, a, b string) (Conversation, error) {
	key := pairKey(a, b)
	row, err := queryOne[conversationRow](ctx, s.db,
		"SELECT key, pair, participants FROM chat_conversation WHERE pair = $pair",
		map[string]any{"pair": key[0] + "|" + key[1]})
	if err != nil {
		return Conversation{}, err
	}
	if row == nil {
		return Conversation{}, domain.ErrNotFound
	}
	return Conversation{ID: row.Key, Participants: row.Participants}, nil
}

func (s *SurrealStore) EnsureConversation(ctx context.Context, a, b string) (Conversation, error) {
	s.ensure.Lock()
	defer s.ensure.Unlock()

	conv, err := s.FindConversation(ctx, a, b)
	if err == nil || !errors.Is(err, domain.ErrNotFound) {
		return conv, err
	}

	key := pairKey(a, b)
	row := conversationRow{
		Key:          uuid.NewString(),
		Pair:         key[0] + "|" + key[1],
		Participants: []string{key[0], key[1]},
	}
	if err := s.execute(ctx, "CREATE type::table($tb) CONTENT $data",
		map[string]any{"tb": conversationTable, "data": row}); err != nil {
		return Conversation{}, err
	}
	return Conversation{ID: row.Key, Participants: row.Participants}, nil
}

func (s *SurrealStore) Conversation(ctx context.Context, id string) (Conversation, error) {
	row, err := queryOne[conversationRow](ctx, s.db,
		"SELECT key, pair, participants FROM chat_conversation WHERE key = $key",
		map[string]any{"key": id})
	if err != nil {
		return Conversation{}, err
	}
	if row == nil {
		return Conversation{}, domain.ErrNotFound
	}
	return Conversation{ID: row.Key, Participants: row.Participants}, nil
}

func (s *SurrealStore) SaveMessage(ctx context.Context, m domain.Message) error {
	if m.ID == "" || m.ConversationID == "" {
		return domain.ErrInvalidInput
	}
	row := messageRow{
		Key:            m.ID,
		ClientID:       m.ClientID,
		ConversationID: m.ConversationID,
		Sender:         m.Sender,
		Receiver:       m.Receiver,
		Text:           m.Text,
		CreatedAt:      m.CreatedAt.UTC().Format(time.RFC3339Nano),
		Status:         string(m.Status),
	}
	return s.execute(ctx, "CREATE type::table($tb) CONTENT $data",
		map[string]any{"tb": messageTable, "data": row})
}

func (s *SurrealStore) Messages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	rows, err := query[messageRow](ctx, s.db,
		"SELECT * FROM chat_message WHERE conversation_id = $conv ORDER BY created_at ASC",
		map[string]any{"conv": conversationID})
	if err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(rows))
	for _, r := range rows {
		msgs = append(msgs, r.toDomain())
	}
	return msgs, nil
}

func (s *SurrealStore) MarkRead(ctx context.Context, conversationID, reader string) ([]string, error) {
	rows, err := query[messageRow](ctx, s.db,
		"UPDATE chat_message SET status = 'read' WHERE conversation_id = $conv AND receiver = $reader AND status != 'read' RETURN BEFORE",
		map[string]any{"conv": conversationID, "reader": reader})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.Key)
	}
	return ids, nil
}

func (s *SurrealStore) Close(ctx context.Context) error {
	return s.db.Close(ctx)
}

func (s *SurrealStore) execute(ctx context.Context, q string, params map[string]any) error {
	if _, err := surrealdb.Query[any](ctx, s.db, q, params); err != nil {
		return fmt.Errorf("query execution failed: %w", err)
	}
	return nil
}

func query[T any](ctx context.Context, db *surrealdb.DB, q string, params map[string]any) ([]T, error) {
	results, err := surrealdb.Query[[]T](ctx, db, q, params)
	if err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}
	if len(*results) == 0 {
		return nil, nil
	}
	return (*results)[0].Result, nil
}

func queryOne[T any](ctx context.Context, db *surrealdb.DB, q string, params map[string]any) (*T, error) {
	if !strings.Contains(strings.ToUpper(q), " LIMIT ") {
		q += " LIMIT 1"
	}
	results, err := query[T](ctx, db, q, params)
	if err != nil || len(results) == 0 {
		return nil, err
	}
	return &results[0], nil
}
