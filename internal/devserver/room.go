package devserver

// Room groups the clients connected to one event chat.
type Room struct {
	EventID int64
	clients map[*Client]struct{}
}

// NewRoom constructs a room with no clients.
func NewRoom(eventID int64) *Room {
	return &Room{
		EventID: eventID,
		clients: make(map[*Client]struct{}),
	}
}

// AddClient inserts a client into the room. Returns true if newly added.
func (r *Room) AddClient(c *Client) bool {
	if _, exists := r.clients[c]; exists {
		return false
	}
	r.clients[c] = struct{}{}
	return true
}

// RemoveClient deletes a client from the room. Returns true if removed.
func (r *Room) RemoveClient(c *Client) bool {
	if _, exists := r.clients[c]; !exists {
		return false
	}
	delete(r.clients, c)
	return true
}

// Broadcast sends an event to all clients in the room.
func (r *Room) Broadcast(event *Event) int {
	return r.deliver(event, func(*Client) bool { return true })
}

// SendTo sends an event to every connection of the given users.
func (r *Room) SendTo(event *Event, userIDs ...int64) int {
	return r.deliver(event, func(c *Client) bool {
		for _, id := range userIDs {
			if c.UserID == id {
				return true
			}
		}
		return false
	})
}

func (r *Room) deliver(event *Event, match func(*Client) bool) int {
	delivered := 0
	for client := range r.clients {
		if !match(client) {
			continue
		}
		select {
		case client.Events <- event:
			delivered++
		default:
			// Drop if slow consumer.
		}
	}
	return delivered
}

// Empty returns true if no clients are in the room.
func (r *Room) Empty() bool {
	return len(r.clients) == 0
}

// Len returns the number of connected clients.
func (r *Room) Len() int {
	return len(r.clients)
}
