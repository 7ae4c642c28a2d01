package ws

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/eventchat/internal/chat"
	"github.com/vovakirdan/eventchat/internal/proto"
)

// EventIDPlaceholder is substituted into the realtime URL template.
const EventIDPlaceholder = "{eventId}"

// Config tunes a transport.
type Config struct {
	// URLTemplate is the realtime endpoint, e.g. ws://host/ws/chat/{eventId}/.
	URLTemplate    string
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	QueueSize      int
	ReadLimit      int64
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 32
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
	return c
}

// EventKind distinguishes transport notifications.
type EventKind int

const (
	// EventState reports a connection state transition.
	EventState EventKind = iota
	// EventFrame delivers one decoded inbound frame.
	EventFrame
)

// Event is emitted on Transport.Events.
type Event struct {
	Kind  EventKind
	State chat.ConnState
	Err   error // set on a transition to StateFailed
	Frame proto.Frame
}

// Transport is one realtime connection to one event room. It is single-use:
// once Closed or Failed, a new Transport must be created.
type Transport struct {
	cfg     Config
	url     string
	eventID string
	log     *zerolog.Logger

	events   chan Event
	outbound chan proto.OutboundMessage
	closed   chan struct{}

	mu     sync.Mutex
	state  chat.ConnState
	conn   *websocket.Conn
	cancel context.CancelFunc

	openOnce  sync.Once
	closeOnce sync.Once
}

// New prepares a transport for the room of eventID. It does not connect.
func New(cfg Config, eventID, token string, logger *zerolog.Logger) (*Transport, error) {
	cfg = cfg.withDefaults()
	u, err := URL(cfg.URLTemplate, eventID, token)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Transport{
		cfg:      cfg,
		url:      u,
		eventID:  eventID,
		log:      logger,
		events:   make(chan Event, 64),
		outbound: make(chan proto.OutboundMessage, cfg.QueueSize),
		closed:   make(chan struct{}),
		state:    chat.StateConnecting,
	}, nil
}

// URL builds the realtime endpoint for a room with the token as query credential.
func URL(template, eventID, token string) (string, error) {
	if !strings.Contains(template, EventIDPlaceholder) {
		return "", fmt.Errorf("realtime url %q must contain %s", template, EventIDPlaceholder)
	}
	raw := strings.ReplaceAll(template, EventIDPlaceholder, url.PathEscape(eventID))
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", fmt.Errorf("invalid scheme for websocket: %s", parsed.Scheme)
	}
	query := parsed.Query()
	query.Set("token", token)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// Events delivers state transitions and frames. It is closed after the
// transport reaches a terminal state.
func (t *Transport) Events() <-chan Event {
	return t.events
}

// State returns the current connection state.
func (t *Transport) State() chat.ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Open starts connecting and returns immediately. Readiness is reported as a
// transition to StateOpen on Events.
func (t *Transport) Open(ctx context.Context) {
	t.openOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		t.mu.Lock()
		if t.state.Terminal() {
			t.mu.Unlock()
			cancel()
			close(t.events)
			return
		}
		t.cancel = cancel
		t.mu.Unlock()

		go t.run(ctx)
	})
}

// Send queues msg for delivery without blocking.
func (t *Transport) Send(msg proto.OutboundMessage) error {
	if state := t.State(); state != chat.StateOpen {
		return chat.NewError(chat.KindTransportNotReady, "not connected", fmt.Errorf("state %s", state))
	}
	select {
	case t.outbound <- msg:
		return nil
	default:
		return chat.NewError(chat.KindTransportNotReady, "send queue full", nil)
	}
}

// Close shuts the connection down. It is safe to call more than once and
// from any goroutine.
func (t *Transport) Close() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		if !t.state.Terminal() {
			t.state = chat.StateClosed
		}
		conn := t.conn
		cancel := t.cancel
		t.mu.Unlock()

		close(t.closed)
		if conn != nil {
			if err := conn.Close(websocket.StatusNormalClosure, "bye"); err != nil {
				t.log.Debug().Err(err).Str("event_id", t.eventID).Msg("ws close")
			}
		}
		if cancel != nil {
			cancel()
		}
	})
}

func (t *Transport) run(ctx context.Context) {
	defer close(t.events)

	dialCtx, cancelDial := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	conn, _, err := websocket.Dial(dialCtx, t.url, nil)
	timedOut := errors.Is(dialCtx.Err(), context.DeadlineExceeded)
	cancelDial()
	if err != nil {
		switch {
		case ctx.Err() != nil:
			t.setState(chat.StateClosed, nil)
		case timedOut:
			t.log.Warn().Str("event_id", t.eventID).Dur("timeout", t.cfg.ConnectTimeout).Msg("ws connect timeout")
			t.setState(chat.StateFailed, chat.NewError(chat.KindTransportError, "connect timeout", err))
		default:
			t.log.Warn().Err(err).Str("event_id", t.eventID).Msg("ws dial")
			t.setState(chat.StateFailed, chat.NewError(chat.KindTransportError, "connection failed", err))
		}
		return
	}
	conn.SetReadLimit(t.cfg.ReadLimit)

	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "bye")
		return
	}
	t.conn = conn
	t.mu.Unlock()

	t.setState(chat.StateOpen, nil)
	t.log.Debug().Str("event_id", t.eventID).Msg("ws open")

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- t.readLoop(loopCtx, conn)
	}()
	go func() {
		errCh <- t.writeLoop(loopCtx, conn)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	select {
	case <-t.closed:
		return
	default:
	}

	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure {
		t.log.Info().Str("event_id", t.eventID).Msg("ws closed by peer")
		t.setState(chat.StateClosed, nil)
		return
	}
	t.log.Warn().Err(err).Int("status", int(status)).Str("event_id", t.eventID).Msg("ws connection lost")
	t.setState(chat.StateFailed, chat.NewError(chat.KindTransportError, "connection lost", err))
	conn.CloseNow()
}

func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}

		frame, err := proto.DecodeFrame(data)
		if err != nil {
			t.log.Warn().Err(err).Str("event_id", t.eventID).Msg("dropping malformed frame")
			continue
		}
		t.emit(Event{Kind: EventFrame, Frame: frame})
	}
}

func (t *Transport) writeLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case msg := <-t.outbound:
			writeCtx, cancel := context.WithTimeout(ctx, t.cfg.WriteTimeout)
			err := wsjson.Write(writeCtx, conn, msg)
			cancel()
			if err != nil {
				t.log.Error().Err(err).Str("event_id", t.eventID).Msg("write ws frame")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// setState applies a transition unless the transport is already terminal.
func (t *Transport) setState(state chat.ConnState, err error) {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return
	}
	t.state = state
	t.mu.Unlock()

	t.emit(Event{Kind: EventState, State: state, Err: err})
}

// emit delivers ev unless the transport was closed by its owner.
func (t *Transport) emit(ev Event) {
	select {
	case t.events <- ev:
	case <-t.closed:
	}
}
