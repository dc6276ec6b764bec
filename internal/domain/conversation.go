package domain

import "time"

// Conversation is the direct relationship between the local actor and one
// counterpart. The backend assigns the id when the first message is sent.
type Conversation struct {
	ID            string    `json:"id,omitempty"`
	CounterpartID string    `json:"counterpartId"`
	Name          string    `json:"name"`
	LastMessage   string    `json:"lastMessage,omitempty"`
	LastActivity  time.Time `json:"lastActivity,omitempty"`
	Unread        int       `json:"unread"`
}
