package proto

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vovakirdan/eventchat/internal/chat"
)

// ErrMalformedFrame is returned for frames that match no known shape.
var ErrMalformedFrame = errors.New("malformed frame")

// ID is an identifier that the server may encode as a JSON string or number.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// ParticipantRecord is the wire form of chat.Participant.
type ParticipantRecord struct {
	ID       ID     `json:"id"`
	Username string `json:"username"`
}

// MessageRecord is a chat message as served by the history endpoint and
// embedded in realtime frames.
type MessageRecord struct {
	ID              ID                  `json:"id,omitempty"`
	EventID         ID                  `json:"event_id,omitempty"`
	Username        string              `json:"username"`
	Message         string              `json:"message"`
	CreatedAt       time.Time           `json:"created_at,omitzero"`
	IsFromOrganizer bool                `json:"is_from_organizer,omitempty"`
	ReceiverID      ID                  `json:"receiver_id,omitempty"`
	Participants    []ParticipantRecord `json:"participants,omitempty"`
}

// Validate checks the fields every record must carry.
func (r MessageRecord) Validate() error {
	if r.Username == "" {
		return fmt.Errorf("%w: username is required", ErrMalformedFrame)
	}
	return nil
}

// ToMessage converts the record for the given room. Records without an id get
// a local one, records without a timestamp are stamped with now.
func (r MessageRecord) ToMessage(eventID string, now time.Time) chat.Message {
	created := r.CreatedAt
	if created.IsZero() {
		created = now
	}
	id := string(r.ID)
	if id == "" {
		id = chat.NewLocalID(created)
	}
	if r.EventID != "" {
		eventID = string(r.EventID)
	}
	return chat.Message{
		ID:              id,
		EventID:         eventID,
		SenderUsername:  r.Username,
		Body:            r.Message,
		CreatedAt:       created,
		IsFromOrganizer: r.IsFromOrganizer,
		RecipientID:     string(r.ReceiverID),
	}
}

// ToParticipants converts the embedded roster, skipping entries without an id.
func (r MessageRecord) ToParticipants() []chat.Participant {
	out := make([]chat.Participant, 0, len(r.Participants))
	for _, p := range r.Participants {
		if p.ID == "" {
			continue
		}
		out = append(out, chat.Participant{ID: string(p.ID), Username: p.Username})
	}
	return out
}

// HistoryPage is the paginated response of the chat-messages endpoint.
type HistoryPage struct {
	Results []MessageRecord `json:"results"`
	Next    *string         `json:"next"`
}

// OutboundMessage is the only frame a client sends.
type OutboundMessage struct {
	Message    string `json:"message"`
	ReceiverID string `json:"receiver_id,omitempty"`
}

// Frame is one decoded inbound realtime frame:
// *HistoryFrame, *IncomingFrame or *ErrorFrame.
type Frame interface {
	frame()
}

// HistoryFrame seeds the room, newest message first.
type HistoryFrame struct {
	History []MessageRecord `json:"history"`
}

// IncomingFrame carries one realtime message.
type IncomingFrame struct {
	MessageRecord
}

// ErrorFrame reports a condition fatal to the session.
type ErrorFrame struct {
	Error string `json:"error"`
}

func (*HistoryFrame) frame()  {}
func (*IncomingFrame) frame() {}
func (*ErrorFrame) frame()    {}

// DecodeFrame parses and validates an inbound frame. Exactly one of the
// "error", "history" and "message" keys must be present.
func DecodeFrame(data []byte) (Frame, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	rawErr, hasErr := probe["error"]
	rawHistory, hasHistory := probe["history"]
	_, hasMessage := probe["message"]

	count := 0
	for _, present := range []bool{hasErr, hasHistory, hasMessage} {
		if present {
			count++
		}
	}
	if count != 1 {
		return nil, fmt.Errorf("%w: expected exactly one of error, history, message", ErrMalformedFrame)
	}

	switch {
	case hasErr:
		var msg string
		if err := json.Unmarshal(rawErr, &msg); err != nil {
			return nil, fmt.Errorf("%w: error must be a string", ErrMalformedFrame)
		}
		if msg == "" {
			msg = "unknown server error"
		}
		return &ErrorFrame{Error: msg}, nil

	case hasHistory:
		var records []MessageRecord
		if err := json.Unmarshal(rawHistory, &records); err != nil {
			return nil, fmt.Errorf("%w: history must be a list of messages: %v", ErrMalformedFrame, err)
		}
		for i, r := range records {
			if err := r.Validate(); err != nil {
				return nil, fmt.Errorf("history[%d]: %w", i, err)
			}
		}
		return &HistoryFrame{History: records}, nil

	default:
		var in IncomingFrame
		if err := json.Unmarshal(data, &in); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		if err := in.Validate(); err != nil {
			return nil, err
		}
		return &in, nil
	}
}
