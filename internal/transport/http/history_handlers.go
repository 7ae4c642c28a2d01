package http

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/eventchat/internal/devserver"
	"github.com/vovakirdan/eventchat/internal/proto"
)

// HistoryHandlers serves the paginated chat history of an event.
type HistoryHandlers struct {
	hub      *devserver.Hub
	pageSize int
	log      *zerolog.Logger
}

// NewHistoryHandlers creates history handlers returning pageSize messages per page.
func NewHistoryHandlers(hub *devserver.Hub, pageSize int, logger *zerolog.Logger) *HistoryHandlers {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &HistoryHandlers{hub: hub, pageSize: pageSize, log: logger}
}

// ListMessages returns one page of messages, newest first. The roster rides
// on the first result.
// GET /events/:id/chat-messages/?before=<message id>
func (h *HistoryHandlers) ListMessages(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		h.log.Error().Msg("user_id not found in context")
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	eventID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || eventID <= 0 {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: devserver.ErrEventNotFound.Error()})
		return
	}

	var before int64
	if raw := c.Query("before"); raw != "" {
		before, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || before < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "before must be a message id"})
			return
		}
	}

	ctx := c.Request.Context()
	if _, err := h.hub.Admit(ctx, eventID, uid); err != nil {
		h.admitFailed(c, err, eventID, uid)
		return
	}

	messages, participants, err := h.hub.Backlog(ctx, eventID, uid, before, h.pageSize)
	if err != nil {
		h.log.Error().Err(err).Int64("event_id", eventID).Msg("failed to load history")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	page := proto.HistoryPage{Results: make([]proto.MessageRecord, 0, len(messages))}
	for _, m := range messages {
		page.Results = append(page.Results, recordFromMessage(m))
	}
	if len(page.Results) > 0 {
		page.Results[0].Participants = participantRecords(participants)
	}
	if len(messages) == h.pageSize {
		next := nextPageURL(c, messages[len(messages)-1].ID)
		page.Next = &next
	}

	h.log.Debug().Int64("event_id", eventID).Int64("user_id", uid).Int("count", len(messages)).Msg("history served")
	c.JSON(http.StatusOK, page)
}

func (h *HistoryHandlers) admitFailed(c *gin.Context, err error, eventID, uid int64) {
	switch {
	case errors.Is(err, devserver.ErrEventNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, devserver.ErrNotParticipant):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: err.Error()})
	default:
		h.log.Error().Err(err).Int64("event_id", eventID).Int64("user_id", uid).Msg("failed to admit user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

func nextPageURL(c *gin.Context, oldestID int64) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     c.Request.Host,
		Path:     c.Request.URL.Path,
		RawQuery: url.Values{"before": {strconv.FormatInt(oldestID, 10)}}.Encode(),
	}
	return u.String()
}
