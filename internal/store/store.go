// Package store holds the messages of the active conversation.
//
// Messages live in two partitions: history, replaced wholesale by
// LoadHistory, and live, appended during the session. Merge combines them.
// Delivery status is tracked separately by message id so receipts can be
// applied before or after the message they refer to is known.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vedant-sarda/atorix-chat/internal/domain"
	"golang.org/x/text/unicode/norm"
)

// DefaultMatchWindow is how far apart an optimistic message and an id-less
// echo may be timestamped and still be treated as the same message.
const DefaultMatchWindow = time.Second

// HistoryFetcher loads the persisted messages of a conversation.
type HistoryFetcher interface {
	Messages(ctx context.Context, conversationID string) ([]domain.Message, error)
}

// Store is safe for concurrent use.
type Store struct {
	mu          sync.Mutex
	actor       string
	counterpart string
	history     []domain.Message
	live        []domain.Message
	status      map[string]domain.Status
	gen         uint64

	matchWindow time.Duration
	logger      *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithMatchWindow sets the timestamp tolerance for echo matching.
func WithMatchWindow(d time.Duration) Option {
	return func(s *Store) {
		s.matchWindow = d
	}
}

// New creates a store for actorID with no active conversation.
func New(actorID string, opts ...Option) *Store {
	s := &Store{
		actor:       actorID,
		status:      make(map[string]domain.Status),
		matchWindow: DefaultMatchWindow,
		logger:      slog.Default().With("service", "store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reset makes counterpartID the active conversation, empties both partitions
// and returns the new generation. The status map is kept.
func (s *Store) Reset(counterpartID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counterpart = counterpartID
	s.history = nil
	s.live = nil
	s.gen++
	return s.gen
}

// Generation identifies the current active conversation.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Counterpart returns the active counterpart, or "" when none.
func (s *Store) Counterpart() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counterpart
}

// LoadHistory fetches the persisted messages of conversationID and replaces
// the history partition. If the store was Reset while the fetch was in flight
// the result is discarded and domain.ErrStale is returned. An empty
// conversationID means there is nothing to fetch yet.
func (s *Store) LoadHistory(ctx context.Context, fetcher HistoryFetcher, conversationID string) error {
	if conversationID == "" || fetcher == nil {
		return nil
	}

	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	msgs, err := fetcher.Messages(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("failed to load history for %s: %w", conversationID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen {
		s.logger.Debug("Discarding stale history", "conversation_id", conversationID)
		return domain.ErrStale
	}

	history := make([]domain.Message, 0, len(msgs))
	known := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if !m.Status.Valid() {
			m.Status = domain.StatusDelivered
		}
		if m.ID != "" {
			if _, dup := known[m.ID]; dup {
				continue
			}
			known[m.ID] = struct{}{}
			s.raiseLocked(m.ID, m.Status)
		}
		history = append(history, m)
	}
	s.history = history

	// Drop live entries the history now covers, including optimistic ones
	// whose echo has not arrived yet.
	live := s.live[:0]
	for _, m := range s.live {
		if _, ok := known[m.ID]; ok {
			continue
		}
		if m.Provisional() {
			if idx := s.matchIn(s.history, m, false); idx >= 0 {
				s.migrateLocked(m, s.history[idx].ID)
				continue
			}
		}
		live = append(live, m)
	}
	s.live = live
	return nil
}

// AppendLive adds m to the live partition unless it is already known. An
// echo of an optimistic message replaces it in place. It reports whether the
// merged sequence changed.
func (s *Store) AppendLive(m domain.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !m.Status.Valid() {
		m.Status = domain.StatusDelivered
		if m.Provisional() {
			m.Status = domain.StatusSent
		}
	}

	switch {
	case m.Provisional():
		if s.indexByID(m.ID) >= 0 {
			return false
		}

	case m.ID != "":
		if s.indexByID(m.ID) >= 0 {
			raised := s.raiseLocked(m.ID, domain.MaxStatus(m.Status, domain.StatusDelivered))
			return s.dropProvisionalLocked(m) || raised
		}
		if idx := s.matchIn(s.live, m, true); idx >= 0 {
			s.reconcileLocked(idx, m)
			return true
		}

	default:
		// No id at all: fuzzy match against everything.
		if idx := s.matchIn(s.history, m, false); idx >= 0 {
			return false
		}
		if idx := s.matchIn(s.live, m, false); idx >= 0 {
			prev := s.live[idx]
			if prev.Provisional() {
				return s.raiseLocked(prev.ID, domain.StatusDelivered)
			}
			return false
		}
	}

	s.live = append(s.live, m)
	if m.ID != "" {
		s.raiseLocked(m.ID, m.Status)
	}
	return true
}

// reconcileLocked replaces the optimistic entry at idx with its echo. The
// echo's id and timestamp win; status keeps whichever is furthest along, but
// at least delivered.
func (s *Store) reconcileLocked(idx int, echo domain.Message) {
	prov := s.live[idx]
	if echo.ClientID == "" {
		echo.ClientID = prov.ID
	}
	s.migrateLocked(prov, echo.ID)
	s.raiseLocked(echo.ID, domain.StatusDelivered)
	echo.Status = s.status[echo.ID]
	s.live[idx] = echo

	s.logger.Debug("Reconciled optimistic message", "provisional_id", prov.ID, "id", echo.ID)
}

// migrateLocked moves the status of a provisional entry onto its real id.
func (s *Store) migrateLocked(prov domain.Message, id string) {
	st := domain.MaxStatus(prov.Status, s.status[prov.ID])
	delete(s.status, prov.ID)
	s.raiseLocked(id, st)
}

// matchIn finds the entry of list that m is an echo of. Entries sharing a
// client id with m match first, whether or not either side is still
// provisional. Otherwise an entry may match on participants, normalized text
// and a timestamp within the match window.
func (s *Store) matchIn(list []domain.Message, m domain.Message, provisionalOnly bool) int {
	if key := clientKey(m); key != "" {
		for i, e := range list {
			if provisionalOnly && !e.Provisional() {
				continue
			}
			if e.Sender == m.Sender && clientKey(e) == key {
				return i
			}
		}
	}

	text := normalize(m.Text)
	for i, e := range list {
		if provisionalOnly && !e.Provisional() {
			continue
		}
		if e.Sender != m.Sender || e.Receiver != m.Receiver {
			continue
		}
		if normalize(e.Text) != text {
			continue
		}
		if absDuration(e.CreatedAt.Sub(m.CreatedAt)) <= s.matchWindow {
			return i
		}
	}
	return -1
}

// clientKey is the id the sending client assigned to m, if known.
func clientKey(m domain.Message) string {
	if m.ClientID != "" {
		return m.ClientID
	}
	if m.Provisional() {
		return m.ID
	}
	return ""
}

// dropProvisionalLocked removes a live optimistic entry that confirmed
// already covers, moving its status onto the confirmed id.
func (s *Store) dropProvisionalLocked(confirmed domain.Message) bool {
	if clientKey(confirmed) == "" {
		return false
	}
	for i, e := range s.live {
		if e.Provisional() && e.Sender == confirmed.Sender && clientKey(e) == clientKey(confirmed) {
			s.migrateLocked(e, confirmed.ID)
			s.live = append(s.live[:i], s.live[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Store) indexByID(id string) int {
	for i, m := range s.history {
		if m.ID == id {
			return i
		}
	}
	for i, m := range s.live {
		if m.ID == id {
			return len(s.history) + i
		}
	}
	return -1
}

// Merge returns history and live messages exchanged with the active
// counterpart, ordered by creation time and then id.
func (s *Store) Merge() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.counterpart == "" {
		return nil
	}

	result := make([]domain.Message, 0, len(s.history)+len(s.live))
	for _, part := range [][]domain.Message{s.history, s.live} {
		for _, m := range part {
			if m.Sender != s.counterpart && m.Receiver != s.counterpart {
				continue
			}
			if st, ok := s.status[m.ID]; ok && m.ID != "" {
				m.Status = domain.MaxStatus(m.Status, st)
			}
			result = append(result, m)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return result
}

// SetStatus raises the status of id. Downgrades and unknown statuses are
// ignored. It reports whether the status changed.
func (s *Store) SetStatus(id string, status domain.Status) bool {
	if id == "" || !status.Valid() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.raiseLocked(id, status)
}

func (s *Store) raiseLocked(id string, status domain.Status) bool {
	cur := s.status[id]
	if status.Rank() <= cur.Rank() {
		return false
	}
	s.status[id] = status
	return true
}

// Status returns the tracked status of id, or "" when unknown.
func (s *Store) Status(id string) domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status[id]
}

// MarkOutgoingRead promotes every confirmed message the actor sent to the
// active counterpart to read and returns the ids that changed.
func (s *Store) MarkOutgoingRead() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []string
	for _, part := range [][]domain.Message{s.history, s.live} {
		for _, m := range part {
			if m.Sender != s.actor || m.Receiver != s.counterpart {
				continue
			}
			if m.ID == "" || m.Provisional() {
				continue
			}
			if s.raiseLocked(m.ID, domain.StatusRead) {
				changed = append(changed, m.ID)
			}
		}
	}
	return changed
}

func normalize(text string) string {
	return norm.NFC.String(strings.TrimSpace(text))
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
