package chat

import "time"

// ConnState is the lifecycle state of a realtime connection.
type ConnState int

const (
	// StateConnecting means the dial is in progress.
	StateConnecting ConnState = iota
	// StateOpen means frames can be sent and received.
	StateOpen
	// StateClosed means the connection was closed normally. Terminal.
	StateClosed
	// StateFailed means the connection broke or never opened. Terminal.
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s ConnState) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// Message is a single chat record in an event room.
type Message struct {
	ID              string
	EventID         string
	SenderUsername  string
	Body            string
	CreatedAt       time.Time
	IsFromOrganizer bool
	// RecipientID is empty for broadcast messages.
	RecipientID string

	// Seq is the store's logical clock at insertion.
	Seq uint64
}

// Local reports whether the message carries a client-generated id.
func (m Message) Local() bool {
	return IsLocalID(m.ID)
}

// Direct reports whether the message is a direct reply.
func (m Message) Direct() bool {
	return m.RecipientID != ""
}

// Participant is a user that may be targeted with a direct reply.
type Participant struct {
	ID       string
	Username string
}
