package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vovakirdan/eventchat/internal/auth"
	"github.com/vovakirdan/eventchat/internal/chat"
	"github.com/vovakirdan/eventchat/internal/proto"
	"github.com/vovakirdan/eventchat/internal/transport/rest"
	"github.com/vovakirdan/eventchat/internal/transport/ws"
)

type fakeTransport struct {
	eventID string
	token   string
	events  chan ws.Event

	mu     sync.Mutex
	state  chat.ConnState
	opened bool
	closed bool
	sent   []proto.OutboundMessage
}

func (f *fakeTransport) Open(context.Context) {
	f.mu.Lock()
	f.opened = true
	f.mu.Unlock()
}

func (f *fakeTransport) Events() <-chan ws.Event { return f.events }

func (f *fakeTransport) Send(msg proto.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != chat.StateOpen {
		return chat.NewError(chat.KindTransportNotReady, "not connected", nil)
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	if !f.state.Terminal() {
		f.state = chat.StateClosed
	}
	close(f.events)
}

func (f *fakeTransport) State() chat.ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) emit(ev ws.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	if ev.Kind == ws.EventState {
		f.state = ev.State
	}
	f.events <- ev
}

func (f *fakeTransport) open() { f.emit(ws.Event{Kind: ws.EventState, State: chat.StateOpen}) }

func (f *fakeTransport) fail(err error) {
	f.emit(ws.Event{Kind: ws.EventState, State: chat.StateFailed, Err: err})
}

func (f *fakeTransport) frame(t *testing.T, raw string) {
	t.Helper()
	frame, err := proto.DecodeFrame([]byte(raw))
	if err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	f.emit(ws.Event{Kind: ws.EventFrame, Frame: frame})
}

func (f *fakeTransport) sentMessages() []proto.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]proto.OutboundMessage(nil), f.sent...)
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type loaderFunc func(ctx context.Context, eventID, token string) (rest.History, error)

func (f loaderFunc) LoadHistory(ctx context.Context, eventID, token string) (rest.History, error) {
	return f(ctx, eventID, token)
}

type fakeNavigator struct {
	toLogin atomic.Int32
	back    atomic.Int32
}

func (n *fakeNavigator) ToLogin() { n.toLogin.Add(1) }
func (n *fakeNavigator) Back()    { n.back.Add(1) }

type harness struct {
	ctrl       *Controller
	nav        *fakeNavigator
	transports chan *fakeTransport
}

func newHarness(t *testing.T, loader HistoryLoader, retries int) *harness {
	t.Helper()

	h := &harness{
		nav:        &fakeNavigator{},
		transports: make(chan *fakeTransport, 8),
	}
	ctrl, err := New(Options{
		Auth:      auth.NewStatic("tok", &auth.User{ID: "1", Username: "alice"}),
		Navigator: h.nav,
		History:   loader,
		Transports: func(eventID, token string) (Transport, error) {
			tr := &fakeTransport{eventID: eventID, token: token, events: make(chan ws.Event, 64), state: chat.StateConnecting}
			h.transports <- tr
			return tr, nil
		},
		Reconnect: ReconnectPolicy{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond, Retries: retries},
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	h.ctrl = ctrl
	t.Cleanup(ctrl.Deactivate)
	return h
}

func (h *harness) nextTransport(t *testing.T) *fakeTransport {
	t.Helper()
	select {
	case tr := <-h.transports:
		return tr
	case <-time.After(2 * time.Second):
		t.Fatalf("no transport created")
		return nil
	}
}

func (h *harness) noTransport(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case <-h.transports:
		t.Fatalf("unexpected transport created")
	case <-time.After(wait):
	}
}

func mustUpdate(t *testing.T, ch <-chan Update, match func(Update) bool) Update {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case u := <-ch:
			if match(u) {
				return u
			}
		case <-timeout:
			t.Fatalf("expected update not received")
		}
	}
}

func kind(k UpdateKind) func(Update) bool {
	return func(u Update) bool { return u.Kind == k }
}

func state(s chat.ConnState) func(Update) bool {
	return func(u Update) bool { return u.Kind == UpdateState && u.State == s }
}

func emptyHistory(context.Context, string, string) (rest.History, error) {
	return rest.History{}, nil
}

func at(minute int) time.Time {
	return time.Date(2026, 5, 1, 18, minute, 0, 0, time.UTC)
}

func TestActivatePreconditions(t *testing.T) {
	h := newHarness(t, loaderFunc(emptyHistory), 0)

	err := h.ctrl.Activate(context.Background(), "  ")
	if !errors.Is(err, chat.ErrPreconditionFailed) {
		t.Fatalf("expected PreconditionFailed, got %v", err)
	}
	if h.nav.back.Load() != 1 {
		t.Fatalf("expected back navigation")
	}

	anon, err := New(Options{
		Auth:       auth.NewStatic("", nil),
		Navigator:  h.nav,
		History:    loaderFunc(emptyHistory),
		Transports: func(string, string) (Transport, error) { return nil, errors.New("unused") },
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	if err := anon.Activate(context.Background(), "7"); !errors.Is(err, chat.ErrPreconditionFailed) {
		t.Fatalf("expected PreconditionFailed, got %v", err)
	}
	if h.nav.toLogin.Load() != 1 {
		t.Fatalf("expected login navigation")
	}
	if _, ok := anon.Session(); ok {
		t.Fatalf("no session expected after failed activation")
	}
	h.noTransport(t, 20*time.Millisecond)
}

func TestSessionLifecycle(t *testing.T) {
	loader := loaderFunc(func(ctx context.Context, eventID, token string) (rest.History, error) {
		if eventID != "7" || token != "tok" {
			return rest.History{}, errors.New("unexpected request")
		}
		return rest.History{
			Messages: []chat.Message{
				{ID: "1", EventID: "7", SenderUsername: "olga", Body: "welcome", CreatedAt: at(0), IsFromOrganizer: true},
				{ID: "2", EventID: "7", SenderUsername: "bob", Body: "hi", CreatedAt: at(1)},
			},
			Participants: []chat.Participant{{ID: "42", Username: "bob"}, {ID: "1", Username: "alice"}},
		}, nil
	})
	h := newHarness(t, loader, 0)
	updates := h.ctrl.Updates()

	if err := h.ctrl.Activate(context.Background(), "7"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	tr := h.nextTransport(t)
	if tr.eventID != "7" || tr.token != "tok" {
		t.Fatalf("transport bound to %s/%s", tr.eventID, tr.token)
	}

	mustUpdate(t, updates, kind(UpdateParticipants))
	if got := len(h.ctrl.Messages()); got != 2 {
		t.Fatalf("expected 2 seeded messages, got %d", got)
	}

	tr.open()
	mustUpdate(t, updates, state(chat.StateOpen))
	if s, ok := h.ctrl.Session(); !ok || s.State != chat.StateOpen || s.EventID != "7" {
		t.Fatalf("unexpected session: %+v", s)
	}

	if err := h.ctrl.SendMessage("hello", "42"); err != nil {
		t.Fatalf("send: %v", err)
	}
	sent := tr.sentMessages()
	if len(sent) != 1 || sent[0] != (proto.OutboundMessage{Message: "hello", ReceiverID: "42"}) {
		t.Fatalf("unexpected outbound frames: %+v", sent)
	}

	// the server echo carries no id
	tr.frame(t, `{"message":"hello","username":"alice","receiver_id":42}`)
	u := mustUpdate(t, updates, kind(UpdateAppended))
	if !u.Message.Local() || u.Message.RecipientID != "42" {
		t.Fatalf("expected local direct message, got %+v", u.Message)
	}
	tr.frame(t, `{"message":"doors open","username":"olga","is_from_organizer":true,"id":3}`)
	u = mustUpdate(t, updates, kind(UpdateAppended))
	if u.Message.ID != "3" || !u.Message.IsFromOrganizer {
		t.Fatalf("unexpected message: %+v", u.Message)
	}

	msgs := h.ctrl.Messages()
	if len(msgs) != 4 || msgs[3].ID != "3" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}

	h.ctrl.Deactivate()
	if !tr.isClosed() {
		t.Fatalf("transport should be closed")
	}
	if _, ok := h.ctrl.Session(); ok {
		t.Fatalf("session should be gone")
	}
	mustUpdate(t, updates, state(chat.StateClosed))
	h.ctrl.Deactivate()
}

func TestSendMessageValidation(t *testing.T) {
	h := newHarness(t, loaderFunc(func(context.Context, string, string) (rest.History, error) {
		return rest.History{Participants: []chat.Participant{{ID: "42", Username: "bob"}}}, nil
	}), 0)

	if err := h.ctrl.SendMessage("hello", ""); !errors.Is(err, chat.ErrTransportNotReady) {
		t.Fatalf("expected TransportNotReady without session, got %v", err)
	}

	if err := h.ctrl.Activate(context.Background(), "7"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	tr := h.nextTransport(t)
	mustUpdate(t, h.ctrl.Updates(), kind(UpdateParticipants))

	if err := h.ctrl.SendMessage("hello", ""); !errors.Is(err, chat.ErrTransportNotReady) {
		t.Fatalf("expected TransportNotReady before open, got %v", err)
	}

	tr.open()
	mustUpdate(t, h.ctrl.Updates(), state(chat.StateOpen))

	tests := []struct {
		name      string
		body      string
		recipient string
		want      error
	}{
		{name: "empty body", body: "", want: chat.ErrValidation},
		{name: "blank body", body: " \n\t ", want: chat.ErrValidation},
		{name: "unknown recipient", body: "psst", recipient: "99", want: chat.ErrValidation},
		{name: "broadcast", body: " hi all ", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.ctrl.SendMessage(tt.body, tt.recipient)
			if tt.want == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	sent := tr.sentMessages()
	if len(sent) != 1 || sent[0].Message != "hi all" || sent[0].ReceiverID != "" {
		t.Fatalf("only the valid broadcast should be sent, got %+v", sent)
	}
}

func TestRealtimeMessagesSurviveLateHistory(t *testing.T) {
	release := make(chan struct{})
	loader := loaderFunc(func(ctx context.Context, eventID, token string) (rest.History, error) {
		<-release
		return rest.History{Messages: []chat.Message{
			{ID: "1", SenderUsername: "olga", Body: "welcome", CreatedAt: at(0)},
		}}, nil
	})
	h := newHarness(t, loader, 0)
	updates := h.ctrl.Updates()

	if err := h.ctrl.Activate(context.Background(), "7"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	tr := h.nextTransport(t)
	tr.open()
	tr.frame(t, `{"message":"live","username":"bob","id":2,"created_at":"2026-05-01T18:05:00Z"}`)
	mustUpdate(t, updates, kind(UpdateAppended))

	close(release)
	mustUpdate(t, updates, kind(UpdateSeeded))

	msgs := h.ctrl.Messages()
	if len(msgs) != 2 || msgs[0].ID != "1" || msgs[1].ID != "2" {
		t.Fatalf("expected history then live message, got %+v", msgs)
	}
}

func TestHistoryFrameSeedsStoreAndRoster(t *testing.T) {
	h := newHarness(t, loaderFunc(emptyHistory), 0)
	updates := h.ctrl.Updates()

	if err := h.ctrl.Activate(context.Background(), "7"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	tr := h.nextTransport(t)
	tr.open()
	tr.frame(t, `{"history":[
		{"id":2,"username":"bob","message":"second","created_at":"2026-05-01T18:01:00Z",
		 "participants":[{"id":42,"username":"bob"}]},
		{"id":1,"username":"olga","message":"first","created_at":"2026-05-01T18:00:00Z"}
	]}`)
	mustUpdate(t, updates, kind(UpdateParticipants))

	msgs := h.ctrl.Messages()
	if len(msgs) != 2 || msgs[0].Body != "first" || msgs[1].Body != "second" {
		t.Fatalf("expected chronological seed, got %+v", msgs)
	}
	if p, ok := h.ctrl.FindParticipant("BOB"); !ok || p.ID != "42" {
		t.Fatalf("expected bob in roster, got %+v %v", p, ok)
	}
}

func TestLateHistoryFromPreviousRoomIsDiscarded(t *testing.T) {
	releaseFirst := make(chan struct{})
	firstDone := make(chan struct{})
	loader := loaderFunc(func(ctx context.Context, eventID, token string) (rest.History, error) {
		if eventID == "1" {
			defer close(firstDone)
			// ignores cancellation to simulate a response already in flight
			<-releaseFirst
			return rest.History{Messages: []chat.Message{
				{ID: "100", EventID: "1", SenderUsername: "olga", Body: "old room", CreatedAt: at(0)},
			}}, nil
		}
		return rest.History{Messages: []chat.Message{
			{ID: "200", EventID: "2", SenderUsername: "olga", Body: "new room", CreatedAt: at(1)},
		}}, nil
	})
	h := newHarness(t, loader, 0)
	updates := h.ctrl.Updates()

	if err := h.ctrl.Activate(context.Background(), "1"); err != nil {
		t.Fatalf("activate 1: %v", err)
	}
	first := h.nextTransport(t)

	h.ctrl.Deactivate()
	if !first.isClosed() {
		t.Fatalf("first transport should be closed")
	}
	if err := h.ctrl.Activate(context.Background(), "2"); err != nil {
		t.Fatalf("activate 2: %v", err)
	}
	h.nextTransport(t)
	mustUpdate(t, updates, kind(UpdateSeeded))

	close(releaseFirst)
	<-firstDone
	time.Sleep(20 * time.Millisecond)

	msgs := h.ctrl.Messages()
	if len(msgs) != 1 || msgs[0].ID != "200" {
		t.Fatalf("store of room 2 was touched: %+v", msgs)
	}
	if s, _ := h.ctrl.Session(); s.EventID != "2" {
		t.Fatalf("unexpected session %+v", s)
	}
}

func TestConnectionLostWithoutRetries(t *testing.T) {
	h := newHarness(t, loaderFunc(emptyHistory), 0)
	updates := h.ctrl.Updates()

	if err := h.ctrl.Activate(context.Background(), "7"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	tr := h.nextTransport(t)
	tr.fail(chat.NewError(chat.KindTransportError, "connect timeout", context.DeadlineExceeded))

	u := mustUpdate(t, updates, kind(UpdateError))
	if !errors.Is(u.Err, chat.ErrTransport) || !strings.HasPrefix(u.Err.Error(), "connection lost") {
		t.Fatalf("expected connection lost, got %v", u.Err)
	}
	if !u.Err.Kind.Retryable() {
		t.Fatalf("transport errors are retryable by the user")
	}
	mustUpdate(t, updates, state(chat.StateFailed))
	h.noTransport(t, 50*time.Millisecond)

	if err := h.ctrl.SendMessage("hello", ""); !errors.Is(err, chat.ErrTransportNotReady) {
		t.Fatalf("expected TransportNotReady after failure, got %v", err)
	}
}

func TestReconnectReloadsHistory(t *testing.T) {
	var loads atomic.Int32
	loader := loaderFunc(func(context.Context, string, string) (rest.History, error) {
		loads.Add(1)
		return rest.History{}, nil
	})
	h := newHarness(t, loader, 2)
	updates := h.ctrl.Updates()

	if err := h.ctrl.Activate(context.Background(), "7"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	first := h.nextTransport(t)
	first.open()
	mustUpdate(t, updates, state(chat.StateOpen))

	first.fail(errors.New("read: connection reset"))
	mustUpdate(t, updates, state(chat.StateConnecting))

	second := h.nextTransport(t)
	second.open()
	mustUpdate(t, updates, state(chat.StateOpen))
	if !first.isClosed() {
		t.Fatalf("replaced transport should be closed")
	}

	deadline := time.Now().Add(2 * time.Second)
	for loads.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("history was not reloaded after reconnect, loads=%d", loads.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReconnectGivesUp(t *testing.T) {
	h := newHarness(t, loaderFunc(emptyHistory), 1)
	updates := h.ctrl.Updates()

	if err := h.ctrl.Activate(context.Background(), "7"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	h.nextTransport(t).fail(errors.New("dial: refused"))
	h.nextTransport(t).fail(errors.New("dial: refused"))

	u := mustUpdate(t, updates, kind(UpdateError))
	if !errors.Is(u.Err, chat.ErrTransport) {
		t.Fatalf("expected transport error, got %v", u.Err)
	}
	mustUpdate(t, updates, state(chat.StateFailed))
	h.noTransport(t, 50*time.Millisecond)
}

func TestServerErrorFrameIsFatal(t *testing.T) {
	h := newHarness(t, loaderFunc(emptyHistory), 3)
	updates := h.ctrl.Updates()

	if err := h.ctrl.Activate(context.Background(), "7"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	tr := h.nextTransport(t)
	tr.open()
	tr.frame(t, `{"error":"you are not a participant of this event"}`)

	u := mustUpdate(t, updates, kind(UpdateError))
	if u.Err.Message != "you are not a participant of this event" {
		t.Fatalf("unexpected error: %v", u.Err)
	}
	mustUpdate(t, updates, state(chat.StateFailed))
	if !tr.isClosed() {
		t.Fatalf("transport should be closed after an error frame")
	}
	h.noTransport(t, 50*time.Millisecond)
}

func TestHistoryFailureIsReported(t *testing.T) {
	h := newHarness(t, loaderFunc(func(context.Context, string, string) (rest.History, error) {
		return rest.History{}, chat.NewError(chat.KindHistoryLoadError, "cannot load history", errors.New("status 500"))
	}), 0)

	if err := h.ctrl.Activate(context.Background(), "7"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	u := mustUpdate(t, h.ctrl.Updates(), kind(UpdateError))
	if !errors.Is(u.Err, chat.ErrHistoryLoad) {
		t.Fatalf("expected history load error, got %v", u.Err)
	}
	if s, _ := h.ctrl.Session(); s.State.Terminal() {
		t.Fatalf("history failure must not end the session, state %s", s.State)
	}
}

func TestPeerCloseReportsConnectionLoss(t *testing.T) {
	h := newHarness(t, loaderFunc(emptyHistory), 3)
	updates := h.ctrl.Updates()

	if err := h.ctrl.Activate(context.Background(), "7"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	tr := h.nextTransport(t)
	tr.open()
	mustUpdate(t, updates, state(chat.StateOpen))
	tr.emit(ws.Event{Kind: ws.EventState, State: chat.StateClosed})

	u := mustUpdate(t, updates, kind(UpdateError))
	if !errors.Is(u.Err, chat.ErrTransport) {
		t.Fatalf("expected transport error, got %v", u.Err)
	}
	mustUpdate(t, updates, state(chat.StateClosed))
	h.noTransport(t, 50*time.Millisecond)
}

func TestFrameStampedBeforeEpochIsKept(t *testing.T) {
	h := newHarness(t, loaderFunc(emptyHistory), 0)
	updates := h.ctrl.Updates()

	if err := h.ctrl.Activate(context.Background(), "7"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	tr := h.nextTransport(t)
	tr.open()
	tr.frame(t, `{"message":"hi","username":"bob","created_at":"1969-12-31T23:59:59Z"}`)

	u := mustUpdate(t, updates, kind(UpdateAppended))
	if !u.Message.Local() || u.Message.Body != "hi" {
		t.Fatalf("unexpected message: %+v", u.Message)
	}
}

func TestRepeatedTextAfterHistoryIsKept(t *testing.T) {
	h := newHarness(t, loaderFunc(func(context.Context, string, string) (rest.History, error) {
		return rest.History{Messages: []chat.Message{
			{ID: "1", SenderUsername: "alice", Body: "ok", CreatedAt: time.Now().Add(-30 * time.Second)},
		}}, nil
	}), 0)
	updates := h.ctrl.Updates()

	if err := h.ctrl.Activate(context.Background(), "7"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	mustUpdate(t, updates, kind(UpdateSeeded))
	tr := h.nextTransport(t)
	tr.open()
	mustUpdate(t, updates, state(chat.StateOpen))

	// realtime frames carry no id; this is a new "ok", not the stored one
	tr.frame(t, `{"message":"ok","username":"alice"}`)
	mustUpdate(t, updates, kind(UpdateAppended))
	if got := len(h.ctrl.Messages()); got != 2 {
		t.Fatalf("expected 2 messages, got %d", got)
	}
}
