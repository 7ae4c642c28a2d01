package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// User represents a user in the system.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// Event is a ticketed event; each event owns one chat room.
type Event struct {
	ID          int64
	Title       string
	OrganizerID int64
	StartsAt    time.Time
	CreatedAt   time.Time
}

// Message represents a persisted chat message.
type Message struct {
	ID              int64
	EventID         int64
	UserID          int64
	Username        string
	Body            string
	ReceiverID      *int64 // nil for broadcast
	IsFromOrganizer bool
	CreatedAt       time.Time
}

// Participant is a user admitted to an event's chat.
type Participant struct {
	UserID   int64
	Username string
}

// UserStore handles user persistence.
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash, role string) (*User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// EventStore handles events and their participants.
type EventStore interface {
	CreateEvent(ctx context.Context, title string, organizerID int64, startsAt time.Time) (*Event, error)
	GetEvent(ctx context.Context, id int64) (*Event, error)
	AddParticipant(ctx context.Context, eventID, userID int64) error
	// IsParticipant reports ticket holders and the organizer.
	IsParticipant(ctx context.Context, eventID, userID int64) (bool, error)
	ListParticipants(ctx context.Context, eventID int64) ([]Participant, error)
}

// MessageStore handles chat message persistence.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *Message) (*Message, error)
	// ListMessages returns up to limit messages older than beforeID (0 for the
	// newest page), newest first, visible to viewerID.
	ListMessages(ctx context.Context, eventID, viewerID int64, beforeID int64, limit int) ([]Message, error)
}

// Store combines every persistence concern of the development backend.
type Store interface {
	UserStore
	EventStore
	MessageStore
	Migrate(ctx context.Context) error
	Close() error
}
