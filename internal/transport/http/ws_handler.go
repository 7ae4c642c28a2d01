package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/eventchat/internal/auth"
	"github.com/vovakirdan/eventchat/internal/devserver"
	"github.com/vovakirdan/eventchat/internal/proto"
)

const maxFrameBytes = 64 << 10

// WSHandler upgrades chat connections and bridges them to devserver.Client.
type WSHandler struct {
	hub       *devserver.Hub
	auth      *auth.Service
	perMinute int
	log       *zerolog.Logger
}

// NewWSHandler builds the realtime chat handler. perMinute caps the messages
// one connection may send per minute; zero disables the cap.
func NewWSHandler(hub *devserver.Hub, authService *auth.Service, perMinute int, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{hub: hub, auth: authService, perMinute: perMinute, log: logger}
}

// Handle serves GET /ws/chat/:id/?token=<jwt>.
func (h *WSHandler) Handle(c *gin.Context) {
	h.serve(c.Writer, c.Request, c.Param("id"))
}

func (h *WSHandler) serve(w stdhttp.ResponseWriter, r *stdhttp.Request, rawEventID string) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxFrameBytes)

	// Rejections travel as an error frame so the client does not retry.
	claims, err := h.auth.ValidateToken(r.URL.Query().Get("token"))
	if err != nil {
		h.log.Debug().Err(err).Msg("ws rejected: invalid token")
		h.reject(ctx, conn, "invalid token")
		return
	}
	eventID, err := strconv.ParseInt(rawEventID, 10, 64)
	if err != nil || eventID <= 0 {
		h.reject(ctx, conn, devserver.ErrEventNotFound.Error())
		return
	}
	organizer, err := h.hub.Admit(ctx, eventID, claims.UserID)
	if err != nil {
		switch {
		case errors.Is(err, devserver.ErrEventNotFound), errors.Is(err, devserver.ErrNotParticipant):
			h.reject(ctx, conn, err.Error())
		default:
			h.log.Error().Err(err).Int64("event_id", eventID).Msg("ws admit failed")
			h.reject(ctx, conn, "internal server error")
		}
		return
	}

	client := devserver.NewClient(uuid.NewString(), claims.UserID, claims.Username, eventID, organizer)
	h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(client)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel()
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("client_id", client.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) reject(ctx context.Context, conn *websocket.Conn, msg string) {
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := wsjson.Write(writeCtx, conn, &proto.ErrorFrame{Error: msg}); err != nil {
		h.log.Debug().Err(err).Msg("write ws rejection")
		return
	}
	conn.Close(websocket.StatusNormalClosure, msg)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *devserver.Client) error {
	limiter := newRateLimiter(h.perMinute, time.Minute)
	for {
		var out proto.OutboundMessage
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			return err
		}

		if !limiter.allow() {
			h.log.Warn().Str("client_id", client.ID).Msg("rate limit exceeded, message dropped")
			continue
		}
		cmd, err := commandFromOutbound(out)
		if err != nil {
			h.log.Warn().Err(err).Str("client_id", client.ID).Msg("invalid client message dropped")
			continue
		}

		select {
		case client.Commands <- cmd:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *devserver.Client) error {
	for {
		select {
		case ev, ok := <-client.Events:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, frameFromEvent(ev)); err != nil {
				h.log.Error().Err(err).Str("client_id", client.ID).Msg("write ws event")
				return err
			}
			if ev.Kind == devserver.EventError {
				// the client ends its session on an error frame
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
