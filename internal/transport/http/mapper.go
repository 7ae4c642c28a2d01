package http

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vovakirdan/eventchat/internal/devserver"
	"github.com/vovakirdan/eventchat/internal/proto"
)

func formatID(id int64) proto.ID {
	return proto.ID(strconv.FormatInt(id, 10))
}

func recordFromMessage(m devserver.Message) proto.MessageRecord {
	rec := proto.MessageRecord{
		ID:              formatID(m.ID),
		EventID:         formatID(m.EventID),
		Username:        m.Username,
		Message:         m.Text,
		CreatedAt:       m.CreatedAt.UTC(),
		IsFromOrganizer: m.FromOrganizer,
	}
	if m.ReceiverID != nil {
		rec.ReceiverID = formatID(*m.ReceiverID)
	}
	return rec
}

func participantRecords(ps []devserver.Participant) []proto.ParticipantRecord {
	out := make([]proto.ParticipantRecord, 0, len(ps))
	for _, p := range ps {
		out = append(out, proto.ParticipantRecord{ID: formatID(p.UserID), Username: p.Username})
	}
	return out
}

// frameFromEvent maps a hub event to the frame written to the socket.
func frameFromEvent(ev *devserver.Event) proto.Frame {
	switch ev.Kind {
	case devserver.EventHistory:
		frame := &proto.HistoryFrame{History: make([]proto.MessageRecord, 0, len(ev.Messages))}
		for _, m := range ev.Messages {
			frame.History = append(frame.History, recordFromMessage(m))
		}
		if len(frame.History) > 0 {
			frame.History[0].Participants = participantRecords(ev.Participants)
		}
		return frame
	case devserver.EventMessage:
		return &proto.IncomingFrame{MessageRecord: recordFromMessage(ev.Message)}
	case devserver.EventError:
		if ev.Error == nil {
			return &proto.ErrorFrame{Error: "unknown error"}
		}
		return &proto.ErrorFrame{Error: ev.Error.Message}
	default:
		return &proto.ErrorFrame{Error: "unknown event"}
	}
}

// commandFromOutbound validates a client frame and turns it into a hub command.
func commandFromOutbound(out proto.OutboundMessage) (*devserver.Command, error) {
	if strings.TrimSpace(out.Message) == "" {
		return nil, devserver.ErrEmptyMessage
	}
	cmd := &devserver.Command{Kind: devserver.CommandSendMessage, Text: out.Message}
	if out.ReceiverID != "" {
		id, err := strconv.ParseInt(out.ReceiverID, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid receiver_id %q", out.ReceiverID)
		}
		cmd.ReceiverID = &id
	}
	return cmd, nil
}
