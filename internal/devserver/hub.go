package devserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/eventchat/internal/store"
)

// Persistence is the storage the hub reads rosters from and writes messages to.
type Persistence interface {
	store.EventStore
	store.MessageStore
}

type clientCommand struct {
	client *Client
	cmd    *Command
}

// Hub owns every room. All room state is touched only from Run.
type Hub struct {
	store        Persistence
	log          *zerolog.Logger
	historyLimit int

	register   chan *Client
	unregister chan *Client
	commands   chan clientCommand
	stopped    chan struct{}

	rooms map[int64]*Room
}

// NewHub creates a hub. historyLimit bounds the backlog sent on join.
func NewHub(st Persistence, historyLimit int, logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Hub{
		store:        st,
		log:          logger,
		historyLimit: historyLimit,
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		commands:     make(chan clientCommand, 64),
		stopped:      make(chan struct{}),
		rooms:        make(map[int64]*Room),
	}
}

// Admit checks that userID may join the chat of eventID. It reports whether
// the user organizes the event.
func (h *Hub) Admit(ctx context.Context, eventID, userID int64) (organizer bool, err error) {
	event, err := h.store.GetEvent(ctx, eventID)
	if errors.Is(err, store.ErrNotFound) {
		return false, ErrEventNotFound
	}
	if err != nil {
		return false, fmt.Errorf("get event: %w", err)
	}
	if event.OrganizerID == userID {
		return true, nil
	}
	ok, err := h.store.IsParticipant(ctx, eventID, userID)
	if err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	if !ok {
		return false, ErrNotParticipant
	}
	return false, nil
}

// RegisterClient adds the client to its event room.
func (h *Hub) RegisterClient(c *Client) {
	select {
	case h.register <- c:
	case <-h.stopped:
	}
}

// UnregisterClient removes the client and closes its Events channel.
func (h *Hub) UnregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stopped:
	}
}

// Run processes registrations and commands until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.handleRegister(ctx, c)
		case c := <-h.unregister:
			h.handleUnregister(c)
		case cc := <-h.commands:
			h.handleCommand(ctx, cc.client, cc.cmd)
		}
	}
}

func (h *Hub) handleRegister(ctx context.Context, c *Client) {
	room, ok := h.rooms[c.EventID]
	if !ok {
		room = NewRoom(c.EventID)
		h.rooms[c.EventID] = room
	}
	if !room.AddClient(c) {
		return
	}
	go h.pump(ctx, c)

	h.log.Info().
		Str("client_id", c.ID).
		Str("username", c.Username).
		Int64("event_id", c.EventID).
		Int("clients", room.Len()).
		Msg("client joined chat")

	history, err := h.history(ctx, c)
	if err != nil {
		h.log.Error().Err(err).Int64("event_id", c.EventID).Msg("load history for client")
		h.sendError(c, coreError(ErrCodeInternal, "cannot load chat history"))
		return
	}
	h.send(c, history)
}

func (h *Hub) history(ctx context.Context, c *Client) (*Event, error) {
	messages, participants, err := h.Backlog(ctx, c.EventID, c.UserID, 0, h.historyLimit)
	if err != nil {
		return nil, err
	}
	return &Event{Kind: EventHistory, Messages: messages, Participants: participants}, nil
}

// Backlog returns up to limit messages of eventID older than beforeID (0 for
// the newest), newest first, as viewerID may see them, plus the roster.
func (h *Hub) Backlog(ctx context.Context, eventID, viewerID, beforeID int64, limit int) ([]Message, []Participant, error) {
	if limit <= 0 {
		limit = h.historyLimit
	}
	stored, err := h.store.ListMessages(ctx, eventID, viewerID, beforeID, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("list messages: %w", err)
	}
	roster, err := h.store.ListParticipants(ctx, eventID)
	if err != nil {
		return nil, nil, fmt.Errorf("list participants: %w", err)
	}

	messages := make([]Message, 0, len(stored))
	for _, m := range stored {
		messages = append(messages, fromStored(m))
	}
	participants := make([]Participant, 0, len(roster))
	for _, p := range roster {
		participants = append(participants, Participant{UserID: p.UserID, Username: p.Username})
	}
	return messages, participants, nil
}

func (h *Hub) handleUnregister(c *Client) {
	room, ok := h.rooms[c.EventID]
	if !ok || !room.RemoveClient(c) {
		return
	}
	close(c.done)
	close(c.Events)
	if room.Empty() {
		delete(h.rooms, c.EventID)
	}
	h.log.Info().Str("client_id", c.ID).Int64("event_id", c.EventID).Msg("client left chat")
}

// pump forwards a client's commands into the hub loop.
func (h *Hub) pump(ctx context.Context, c *Client) {
	for {
		select {
		case cmd := <-c.Commands:
			select {
			case h.commands <- clientCommand{client: c, cmd: cmd}:
			case <-c.done:
				return
			case <-ctx.Done():
				return
			}
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) handleCommand(ctx context.Context, c *Client, cmd *Command) {
	room, ok := h.rooms[c.EventID]
	if !ok {
		return
	}
	if _, joined := room.clients[c]; !joined {
		return
	}

	switch cmd.Kind {
	case CommandSendMessage:
		if err := h.sendMessage(ctx, room, c, cmd); err != nil {
			h.log.Warn().Err(err).Str("client_id", c.ID).Int64("event_id", c.EventID).Msg("message rejected")
		}
	default:
		h.log.Warn().Int("kind", int(cmd.Kind)).Str("client_id", c.ID).Msg("unknown command")
	}
}

// sendMessage persists the message and then fans it out.
func (h *Hub) sendMessage(ctx context.Context, room *Room, c *Client, cmd *Command) error {
	text := strings.TrimSpace(cmd.Text)
	if text == "" {
		return ErrEmptyMessage
	}
	if cmd.ReceiverID != nil {
		ok, err := h.store.IsParticipant(ctx, c.EventID, *cmd.ReceiverID)
		if err != nil {
			return fmt.Errorf("check recipient: %w", err)
		}
		if !ok {
			return ErrUnknownRecipient
		}
	}

	saved, err := h.store.SaveMessage(ctx, &store.Message{
		EventID:         c.EventID,
		UserID:          c.UserID,
		Username:        c.Username,
		Body:            text,
		ReceiverID:      cmd.ReceiverID,
		IsFromOrganizer: c.Organizer,
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}

	ev := &Event{Kind: EventMessage, Message: fromStored(*saved)}
	var delivered int
	if saved.ReceiverID != nil {
		delivered = room.SendTo(ev, c.UserID, *saved.ReceiverID)
	} else {
		delivered = room.Broadcast(ev)
	}
	h.log.Debug().
		Int64("message_id", saved.ID).
		Int64("event_id", c.EventID).
		Bool("direct", saved.ReceiverID != nil).
		Int("delivered", delivered).
		Msg("message routed")
	return nil
}

func (h *Hub) send(c *Client, ev *Event) {
	select {
	case c.Events <- ev:
	default:
		h.log.Warn().Str("client_id", c.ID).Str("event", ev.Kind.String()).Msg("dropping event for slow client")
	}
}

func (h *Hub) sendError(c *Client, err *CoreError) {
	h.send(c, &Event{Kind: EventError, Error: err})
}

func fromStored(m store.Message) Message {
	return Message{
		ID:            m.ID,
		EventID:       m.EventID,
		UserID:        m.UserID,
		Username:      m.Username,
		Text:          m.Body,
		ReceiverID:    m.ReceiverID,
		FromOrganizer: m.IsFromOrganizer,
		CreatedAt:     m.CreatedAt,
	}
}
