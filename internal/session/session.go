package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/eventchat/internal/auth"
	"github.com/vovakirdan/eventchat/internal/chat"
	"github.com/vovakirdan/eventchat/internal/proto"
	"github.com/vovakirdan/eventchat/internal/transport/rest"
	"github.com/vovakirdan/eventchat/internal/transport/ws"
)

// Navigator receives the controller's navigation signals.
type Navigator interface {
	// ToLogin is signalled when there is no signed-in user.
	ToLogin()
	// Back is signalled when no event was selected.
	Back()
}

// HistoryLoader fetches a room's backlog.
type HistoryLoader interface {
	LoadHistory(ctx context.Context, eventID, token string) (rest.History, error)
}

// Transport is one realtime connection attempt. See ws.Transport.
type Transport interface {
	Open(ctx context.Context)
	Events() <-chan ws.Event
	Send(msg proto.OutboundMessage) error
	Close()
	State() chat.ConnState
}

// TransportFactory creates a fresh, unopened transport for a room.
type TransportFactory func(eventID, token string) (Transport, error)

// WebSocketTransports returns a factory of websocket transports.
func WebSocketTransports(cfg ws.Config, logger *zerolog.Logger) TransportFactory {
	return func(eventID, token string) (Transport, error) {
		t, err := ws.New(cfg, eventID, token, logger)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}

// ReconnectPolicy bounds automatic reconnection after a lost connection.
type ReconnectPolicy struct {
	Initial time.Duration
	Max     time.Duration
	// Retries is the number of reconnect attempts. Zero disables reconnecting.
	Retries int
}

// DefaultReconnect is used by callers that have no configuration of their own.
var DefaultReconnect = ReconnectPolicy{Initial: 500 * time.Millisecond, Max: 10 * time.Second, Retries: 5}

// Options wires a Controller to its collaborators.
type Options struct {
	Auth        auth.Provider
	Navigator   Navigator
	History     HistoryLoader
	Transports  TransportFactory
	Logger      *zerolog.Logger
	DedupWindow time.Duration
	Reconnect   ReconnectPolicy
	Now         func() time.Time
}

// ChatSession describes the active room binding.
type ChatSession struct {
	ID      uuid.UUID
	EventID string
	State   chat.ConnState
	Token   string
}

// UpdateKind tells the UI what changed.
type UpdateKind int

const (
	// UpdateState carries a connection state change.
	UpdateState UpdateKind = iota
	// UpdateSeeded means the message list was (re)seeded from history.
	UpdateSeeded
	// UpdateAppended carries a new message at the end of the list.
	UpdateAppended
	// UpdateParticipants means the roster was replaced.
	UpdateParticipants
	// UpdateError carries an error to show to the user.
	UpdateError
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateState:
		return "state"
	case UpdateSeeded:
		return "seeded"
	case UpdateAppended:
		return "appended"
	case UpdateParticipants:
		return "participants"
	case UpdateError:
		return "error"
	default:
		return "unknown"
	}
}

// Update is published on Controller.Updates.
type Update struct {
	Kind    UpdateKind
	EventID string
	State   chat.ConnState
	Message chat.Message
	Err     *chat.Error
}
