package domain

import (
	"strings"
	"time"
)

// Status is the delivery status of a message.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// Rank orders statuses so transitions can be compared. Unknown values rank 0.
func (s Status) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s.Rank() > 0
}

// MaxStatus returns whichever of a and b is further along.
func MaxStatus(a, b Status) Status {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ProvisionalPrefix marks ids assigned locally before the backend confirms a message.
const ProvisionalPrefix = "local-"

// Message is the atomic unit of a conversation.
type Message struct {
	ID             string    `json:"_id,omitempty"`
	ClientID       string    `json:"clientId,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	Sender         string    `json:"sender"`
	Receiver       string    `json:"receiver"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"createdAt"`
	Status         Status    `json:"status,omitempty"`
}

// Provisional reports whether the message still carries a locally assigned id.
func (m Message) Provisional() bool {
	return strings.HasPrefix(m.ID, ProvisionalPrefix)
}

// Involves reports whether userID is the sender or the receiver.
func (m Message) Involves(userID string) bool {
	return m.Sender == userID || m.Receiver == userID
}

// Counterpart returns the participant that is not actorID.
func (m Message) Counterpart(actorID string) string {
	if m.Sender == actorID {
		return m.Receiver
	}
	return m.Sender
}
