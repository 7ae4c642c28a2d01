package devserver

import "time"

// Message is a chat message as routed by the hub.
type Message struct {
	ID            int64
	EventID       int64
	UserID        int64
	Username      string
	Text          string
	ReceiverID    *int64 // nil for broadcast
	FromOrganizer bool
	CreatedAt     time.Time
}

// Direct reports whether the message is addressed to one user.
func (m Message) Direct() bool {
	return m.ReceiverID != nil
}

// Participant is a user admitted to an event chat.
type Participant struct {
	UserID   int64
	Username string
}
