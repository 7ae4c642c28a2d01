package session

import (
	"context"
	"errors"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/eventchat/internal/chat"
	"github.com/vovakirdan/eventchat/internal/proto"
	"github.com/vovakirdan/eventchat/internal/transport/rest"
	"github.com/vovakirdan/eventchat/internal/transport/ws"
)

// Controller binds the chat screen to at most one room at a time.
type Controller struct {
	opts    Options
	log     *zerolog.Logger
	updates chan Update

	mu     sync.Mutex
	epoch  uint64
	active *activeSession
}

type activeSession struct {
	info     ChatSession
	epoch    uint64
	store    *chat.Store
	registry *chat.Registry
	log      zerolog.Logger
	cancel   context.CancelFunc
	done     chan struct{}

	mu        sync.Mutex
	state     chat.ConnState
	transport Transport

	// owned by the session loop
	attempt int
	fatal   bool
	retry   backoff.BackOff
}

type historyResult struct {
	epoch   uint64
	history rest.History
	err     error
}

type attemptEvent struct {
	attempt int
	ev      ws.Event
}

// New creates a controller. History and Transports are required.
func New(opts Options) (*Controller, error) {
	if opts.History == nil {
		return nil, errors.New("session: history loader is required")
	}
	if opts.Transports == nil {
		return nil, errors.New("session: transport factory is required")
	}
	if opts.Navigator == nil {
		opts.Navigator = nopNavigator{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Reconnect.Initial <= 0 {
		opts.Reconnect.Initial = DefaultReconnect.Initial
	}
	if opts.Reconnect.Max <= 0 {
		opts.Reconnect.Max = DefaultReconnect.Max
	}
	if opts.Reconnect.Retries < 0 {
		opts.Reconnect.Retries = 0
	}
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Controller{
		opts:    opts,
		log:     logger,
		updates: make(chan Update, 128),
	}, nil
}

// Updates delivers state, message and error notifications for the UI.
func (c *Controller) Updates() <-chan Update {
	return c.updates
}

// Activate binds the controller to eventID, deactivating any previous room.
// The session lives until Deactivate or until ctx is cancelled.
func (c *Controller) Activate(ctx context.Context, eventID string) error {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		c.opts.Navigator.Back()
		return chat.NewError(chat.KindPreconditionFailed, "no event selected", nil)
	}
	if c.opts.Auth == nil {
		c.opts.Navigator.ToLogin()
		return chat.NewError(chat.KindPreconditionFailed, "not signed in", nil)
	}
	user, ok := c.opts.Auth.CurrentUser()
	if !ok {
		c.opts.Navigator.ToLogin()
		return chat.NewError(chat.KindPreconditionFailed, "not signed in", nil)
	}
	token, err := c.opts.Auth.Token(ctx)
	if err != nil || token == "" {
		c.opts.Navigator.ToLogin()
		return chat.NewError(chat.KindPreconditionFailed, "not signed in", err)
	}

	c.Deactivate()

	sessionCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.epoch++
	s := &activeSession{
		info: ChatSession{
			ID:      uuid.New(),
			EventID: eventID,
			State:   chat.StateConnecting,
			Token:   token,
		},
		epoch:    c.epoch,
		store:    chat.NewStore(c.opts.DedupWindow),
		registry: chat.NewRegistry(),
		cancel:   cancel,
		done:     make(chan struct{}),
		state:    chat.StateConnecting,
		retry:    c.newBackOff(),
	}
	s.log = c.log.With().
		Str("session_id", s.info.ID.String()).
		Str("event_id", eventID).
		Uint64("epoch", s.epoch).
		Logger()
	c.active = s
	c.mu.Unlock()

	s.log.Info().Str("username", user.Username).Msg("chat session activated")
	c.publish(sessionCtx, Update{Kind: UpdateState, EventID: eventID, State: chat.StateConnecting})

	go c.run(sessionCtx, s)
	return nil
}

// Deactivate tears the active room down. It is safe to call at any time.
func (c *Controller) Deactivate() {
	c.mu.Lock()
	s := c.active
	c.active = nil
	c.mu.Unlock()
	if s == nil {
		return
	}

	s.cancel()
	<-s.done
	s.setState(chat.StateClosed)
	s.log.Info().Msg("chat session deactivated")
	c.offer(Update{Kind: UpdateState, EventID: s.info.EventID, State: chat.StateClosed})
}

// SendMessage sends body to the room, or to recipientID only when it is set.
func (c *Controller) SendMessage(body, recipientID string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return chat.NewError(chat.KindValidationError, "message is empty", nil)
	}

	s := c.current()
	if s == nil {
		return chat.NewError(chat.KindTransportNotReady, "no active chat", nil)
	}
	if recipientID != "" && s.registry.Len() > 0 {
		if _, ok := s.registry.Lookup(recipientID); !ok {
			return chat.NewError(chat.KindValidationError, "unknown recipient", nil)
		}
	}

	tr := s.currentTransport()
	if tr == nil {
		return chat.NewError(chat.KindTransportNotReady, "not connected", nil)
	}
	return tr.Send(proto.OutboundMessage{Message: body, ReceiverID: recipientID})
}

// Session returns the active room binding.
func (c *Controller) Session() (ChatSession, bool) {
	s := c.current()
	if s == nil {
		return ChatSession{}, false
	}
	info := s.info
	info.State = s.currentState()
	return info, true
}

// Messages returns a snapshot of the active room's messages.
func (c *Controller) Messages() []chat.Message {
	s := c.current()
	if s == nil {
		return nil
	}
	return s.store.Messages()
}

// Participants yields the active room's roster ordered by username.
func (c *Controller) Participants() iter.Seq[chat.Participant] {
	s := c.current()
	if s == nil {
		return func(func(chat.Participant) bool) {}
	}
	return s.registry.List()
}

// FindParticipant resolves a username to a direct-reply target.
func (c *Controller) FindParticipant(username string) (chat.Participant, bool) {
	s := c.current()
	if s == nil {
		return chat.Participant{}, false
	}
	return s.registry.ByUsername(username)
}

func (c *Controller) current() *activeSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Controller) currentEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

func (c *Controller) newBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.opts.Reconnect.Initial
	exp.MaxInterval = c.opts.Reconnect.Max
	exp.MaxElapsedTime = 0
	b := backoff.WithMaxRetries(exp, uint64(c.opts.Reconnect.Retries))
	b.Reset()
	return b
}

// run is the session loop. It is the only writer of the session's store,
// registry and retry state.
func (c *Controller) run(ctx context.Context, s *activeSession) {
	defer close(s.done)
	defer s.closeTransport()

	history := make(chan historyResult, 1)
	events := make(chan attemptEvent, 64)

	c.loadHistory(ctx, s, history)
	c.connect(ctx, s, events)

	var retry *time.Timer
	var retryC <-chan time.Time
	defer func() {
		if retry != nil {
			retry.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case res := <-history:
			if ctx.Err() != nil {
				return
			}
			c.applyHistory(ctx, s, res)

		case ae := <-events:
			if ctx.Err() != nil {
				return
			}
			if ae.attempt != s.attempt {
				s.log.Debug().Int("attempt", ae.attempt).Msg("dropping event from replaced transport")
				continue
			}
			if delay, ok := c.handleEvent(ctx, s, ae.ev, history); ok {
				retry = time.NewTimer(delay)
				retryC = retry.C
			}

		case <-retryC:
			retryC = nil
			c.connect(ctx, s, events)
		}
	}
}

func (c *Controller) loadHistory(ctx context.Context, s *activeSession, out chan<- historyResult) {
	epoch := s.epoch
	eventID, token := s.info.EventID, s.info.Token
	go func() {
		h, err := c.opts.History.LoadHistory(ctx, eventID, token)
		select {
		case out <- historyResult{epoch: epoch, history: h, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (c *Controller) applyHistory(ctx context.Context, s *activeSession, res historyResult) {
	if res.epoch != s.epoch || res.epoch != c.currentEpoch() {
		s.log.Debug().Uint64("result_epoch", res.epoch).Msg("dropping stale history")
		return
	}
	if res.err != nil {
		s.log.Warn().Err(res.err).Msg("history load failed")
		c.publishError(ctx, s, asChatError(res.err, chat.KindHistoryLoadError, "cannot load history"))
		return
	}

	c.seed(ctx, s, res.history.Messages)
	c.setRoster(ctx, s, res.history.Participants)
}

// connect starts a new transport attempt for the session.
func (c *Controller) connect(ctx context.Context, s *activeSession, out chan<- attemptEvent) {
	s.attempt++
	attempt := s.attempt

	tr, err := c.opts.Transports(s.info.EventID, s.info.Token)
	if err != nil {
		s.log.Error().Err(err).Msg("create transport")
		s.fatal = true
		c.fail(ctx, s, chat.NewError(chat.KindTransportError, "cannot connect", err))
		return
	}
	s.swapTransport(tr)
	c.changeState(ctx, s, chat.StateConnecting)

	s.log.Debug().Int("attempt", attempt).Msg("connecting")
	tr.Open(ctx)
	go func() {
		for ev := range tr.Events() {
			select {
			case out <- attemptEvent{attempt: attempt, ev: ev}:
			case <-ctx.Done():
				return
			}
		}
	}()
}

// handleEvent applies one transport event. It returns a delay when a
// reconnect should be scheduled.
func (c *Controller) handleEvent(ctx context.Context, s *activeSession, ev ws.Event, history chan<- historyResult) (time.Duration, bool) {
	if s.fatal {
		return 0, false
	}

	switch ev.Kind {
	case ws.EventState:
		switch ev.State {
		case chat.StateOpen:
			if s.attempt > 1 {
				s.log.Info().Int("attempt", s.attempt).Msg("reconnected, reloading history")
				c.loadHistory(ctx, s, history)
			}
			s.retry.Reset()
			s.store.SetWatermark(c.opts.Now())
			c.changeState(ctx, s, chat.StateOpen)

		case chat.StateClosed:
			s.log.Info().Msg("connection closed by server")
			c.publishError(ctx, s, chat.NewError(chat.KindTransportError, "connection closed by server", ev.Err))
			c.changeState(ctx, s, chat.StateClosed)

		case chat.StateFailed:
			delay := s.retry.NextBackOff()
			if delay == backoff.Stop {
				s.log.Warn().Err(ev.Err).Msg("connection lost")
				c.fail(ctx, s, chat.NewError(chat.KindTransportError, "connection lost", ev.Err))
				return 0, false
			}
			s.log.Info().Err(ev.Err).Dur("delay", delay).Msg("connection failed, retrying")
			c.changeState(ctx, s, chat.StateConnecting)
			return delay, true
		}

	case ws.EventFrame:
		c.handleFrame(ctx, s, ev.Frame)
	}
	return 0, false
}

func (c *Controller) handleFrame(ctx context.Context, s *activeSession, frame proto.Frame) {
	switch f := frame.(type) {
	case *proto.ErrorFrame:
		s.log.Warn().Str("error", f.Error).Msg("server rejected chat")
		s.fatal = true
		s.closeTransport()
		c.fail(ctx, s, chat.NewError(chat.KindTransportError, f.Error, nil))

	case *proto.HistoryFrame:
		now := c.opts.Now()
		batch := make([]chat.Message, 0, len(f.History))
		for _, rec := range f.History {
			batch = append(batch, rec.ToMessage(s.info.EventID, now))
		}
		// history frames are newest first
		slices.Reverse(batch)
		c.seed(ctx, s, batch)
		if len(f.History) > 0 {
			c.setRoster(ctx, s, f.History[0].ToParticipants())
		}

	case *proto.IncomingFrame:
		m := f.ToMessage(s.info.EventID, c.opts.Now())
		if !s.store.Append(m) {
			s.log.Debug().Str("message_id", m.ID).Msg("duplicate message dropped")
			return
		}
		c.publish(ctx, Update{Kind: UpdateAppended, EventID: s.info.EventID, Message: m})
	}
}

func (c *Controller) seed(ctx context.Context, s *activeSession, batch []chat.Message) {
	n := s.store.Seed(batch)
	s.log.Debug().Int("batch", len(batch)).Int("total", n).Msg("store seeded")
	c.publish(ctx, Update{Kind: UpdateSeeded, EventID: s.info.EventID})
}

// setRoster replaces the roster unless the source carried none.
func (c *Controller) setRoster(ctx context.Context, s *activeSession, participants []chat.Participant) {
	if len(participants) == 0 {
		return
	}
	s.registry.SetAll(participants)
	c.publish(ctx, Update{Kind: UpdateParticipants, EventID: s.info.EventID})
}

func (c *Controller) changeState(ctx context.Context, s *activeSession, state chat.ConnState) {
	if !s.setState(state) {
		return
	}
	c.publish(ctx, Update{Kind: UpdateState, EventID: s.info.EventID, State: state})
}

func (c *Controller) fail(ctx context.Context, s *activeSession, err *chat.Error) {
	c.publishError(ctx, s, err)
	c.changeState(ctx, s, chat.StateFailed)
}

func (c *Controller) publishError(ctx context.Context, s *activeSession, err *chat.Error) {
	c.publish(ctx, Update{Kind: UpdateError, EventID: s.info.EventID, Err: err})
}

// publish waits for the UI unless the session is being torn down.
func (c *Controller) publish(ctx context.Context, u Update) {
	select {
	case c.updates <- u:
	case <-ctx.Done():
	}
}

// offer publishes without waiting.
func (c *Controller) offer(u Update) {
	select {
	case c.updates <- u:
	default:
		c.log.Debug().Str("kind", u.Kind.String()).Msg("update dropped, ui not reading")
	}
}

func (s *activeSession) setState(state chat.ConnState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == state {
		return false
	}
	s.state = state
	return true
}

func (s *activeSession) currentState() chat.ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *activeSession) currentTransport() Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

func (s *activeSession) swapTransport(tr Transport) {
	s.mu.Lock()
	prev := s.transport
	s.transport = tr
	s.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
}

func (s *activeSession) closeTransport() {
	if tr := s.currentTransport(); tr != nil {
		tr.Close()
	}
}

func asChatError(err error, kind chat.ErrorKind, msg string) *chat.Error {
	var chatErr *chat.Error
	if errors.As(err, &chatErr) {
		return chatErr
	}
	return chat.NewError(kind, msg, err)
}

type nopNavigator struct{}

func (nopNavigator) ToLogin() {}
func (nopNavigator) Back()    {}
