// Package events defines the chat wire protocol: JSON objects carrying a
// "type" discriminator with the payload fields flattened next to it.
//
// Every event is a concrete struct implementing Event. Consumers switch on
// the concrete type; the set is closed, so a default branch only ever sees
// values produced outside this package.
package events

import (
	"time"

	"github.com/vedant-sarda/atorix-chat/internal/domain"
)

// Type is the wire discriminator.
type Type string

const (
	TypeMessage        Type = "MESSAGE"
	TypeTypingStart    Type = "TYPING_START"
	TypeTypingStop     Type = "TYPING_STOP"
	TypePresenceUpdate Type = "PRESENCE_UPDATE"
	TypeReadMessage    Type = "READ_MESSAGE"
)

// Event is implemented by every wire event.
type Event interface {
	EventType() Type
}

// SendMessage is the outbound MESSAGE a client emits when the user submits text.
type SendMessage struct {
	ReceiverID string `json:"receiverId" validate:"required"`
	Text       string `json:"text" validate:"required"`
	// ClientID is the provisional id of the optimistic copy; servers echo it back.
	ClientID string `json:"clientId,omitempty"`
}

// Message is the inbound MESSAGE carrying a persisted message.
type Message struct {
	ID             string    `json:"_id,omitempty"`
	ClientID       string    `json:"clientId,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	Sender         string    `json:"sender" validate:"required"`
	Receiver       string    `json:"receiver" validate:"required"`
	Text           string    `json:"text" validate:"required"`
	CreatedAt      time.Time `json:"createdAt"`
}

// TypingStart announces that SenderID is typing to ReceiverID. Outbound
// events only carry the receiver; the server fills in the sender.
type TypingStart struct {
	ReceiverID string `json:"receiverId" validate:"required"`
	SenderID   string `json:"senderId,omitempty"`
}

// TypingStop ends a typing period.
type TypingStop struct {
	ReceiverID string `json:"receiverId" validate:"required"`
	SenderID   string `json:"senderId,omitempty"`
}

// PresenceUpdate reports a user going online or offline.
type PresenceUpdate struct {
	User   string `json:"user" validate:"required"`
	Online bool   `json:"online"`
}

// ReadMessage marks a conversation as read. Outbound it acknowledges
// everything the actor has seen; inbound it is a receipt from Reader,
// optionally listing the acknowledged message ids.
type ReadMessage struct {
	ConversationID string   `json:"conversationId" validate:"required"`
	Reader         string   `json:"reader,omitempty"`
	MessageIDs     []string `json:"messageIds,omitempty"`
}

func (SendMessage) EventType() Type    { return TypeMessage }
func (Message) EventType() Type        { return TypeMessage }
func (TypingStart) EventType() Type    { return TypeTypingStart }
func (TypingStop) EventType() Type     { return TypeTypingStop }
func (PresenceUpdate) EventType() Type { return TypePresenceUpdate }
func (ReadMessage) EventType() Type    { return TypeReadMessage }

// ToDomain converts the wire message into a domain message with status delivered.
func (m Message) ToDomain() domain.Message {
	return domain.Message{
		ID:             m.ID,
		ClientID:       m.ClientID,
		ConversationID: m.ConversationID,
		Sender:         m.Sender,
		Receiver:       m.Receiver,
		Text:           m.Text,
		CreatedAt:      m.CreatedAt,
		Status:         domain.StatusDelivered,
	}
}

// FromDomain builds the inbound wire form of a persisted message.
func FromDomain(m domain.Message) Message {
	return Message{
		ID:             m.ID,
		ClientID:       m.ClientID,
		ConversationID: m.ConversationID,
		Sender:         m.Sender,
		Receiver:       m.Receiver,
		Text:           m.Text,
		CreatedAt:      m.CreatedAt,
	}
}
