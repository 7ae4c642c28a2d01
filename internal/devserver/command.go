package devserver

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandSendMessage posts a message to the room or to one participant.
	CommandSendMessage CommandKind = iota
)

// Command represents an action requested by a client.
type Command struct {
	Kind       CommandKind
	Text       string
	ReceiverID *int64
}
