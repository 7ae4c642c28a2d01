package devserver

// Client is one websocket connection to one event chat.
type Client struct {
	ID        string
	UserID    int64
	Username  string
	EventID   int64
	Organizer bool
	Commands  chan *Command
	Events    chan *Event

	done chan struct{}
}

// NewClient constructs a client with initialized channels.
func NewClient(id string, userID int64, username string, eventID int64, organizer bool) *Client {
	return &Client{
		ID:        id,
		UserID:    userID,
		Username:  username,
		EventID:   eventID,
		Organizer: organizer,
		Commands:  make(chan *Command, 8),
		Events:    make(chan *Event, 32),
		done:      make(chan struct{}),
	}
}
