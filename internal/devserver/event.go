package devserver

// EventKind is a notification the hub emits to clients.
type EventKind int

const (
	// EventHistory delivers the backlog and roster right after a client joins.
	EventHistory EventKind = iota
	// EventMessage delivers one message.
	EventMessage
	// EventError reports a condition that ends the client's session.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventHistory:
		return "history"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is sent to clients to describe what happened in the room.
type Event struct {
	Kind         EventKind
	Message      Message
	Messages     []Message // newest first, for EventHistory
	Participants []Participant
	Error        *CoreError
}
