package http

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/vovakirdan/eventchat/internal/auth"
	"github.com/vovakirdan/eventchat/internal/chat"
	"github.com/vovakirdan/eventchat/internal/devserver"
	"github.com/vovakirdan/eventchat/internal/proto"
	"github.com/vovakirdan/eventchat/internal/session"
	"github.com/vovakirdan/eventchat/internal/transport/rest"
	"github.com/vovakirdan/eventchat/internal/transport/ws"
)

func TestRestClientAgainstServer(t *testing.T) {
	env := startTestServer(t, nil)
	client := rest.NewClient(env.ts.URL+"/", time.Second, nil)
	ctx := context.Background()

	login, err := client.Login(ctx, "bob", devserver.DemoPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if login.User.Username != "bob" || login.User.ID != formatID(env.ids["bob"]) {
		t.Fatalf("unexpected login: %+v", login.User)
	}

	history, err := client.LoadHistory(ctx, itoa(env.demo.EventID), login.Token)
	if err != nil {
		t.Fatalf("load history: %v", err)
	}
	if len(history.Messages) != 1 || history.Messages[0].Body != "Welcome! Doors open at 7pm." {
		t.Fatalf("unexpected history: %+v", history.Messages)
	}
	if len(history.Participants) != 3 {
		t.Fatalf("unexpected roster: %+v", history.Participants)
	}

	_, err = client.LoadHistory(ctx, itoa(env.demo.EventID), env.tokens["mallory"])
	if err == nil {
		t.Fatalf("a user without a ticket must not load history")
	}
	if _, err := client.Login(ctx, "bob", "wrong"); err == nil {
		t.Fatalf("wrong password must fail")
	}
}

func waitForUpdate(t *testing.T, ctrl *session.Controller, match func(session.Update) bool) session.Update {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case u := <-ctrl.Updates():
			if match(u) {
				return u
			}
		case <-timeout:
			t.Fatalf("expected update not received")
			return session.Update{}
		}
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

func bodies(ms []chat.Message) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Body)
	}
	return out
}

func TestChatSessionAgainstServer(t *testing.T) {
	env := startTestServer(t, nil)

	provider, err := auth.FromToken(env.tokens["alice"])
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	ctrl, err := session.New(session.Options{
		Auth:       provider,
		History:    rest.NewClient(env.ts.URL, time.Second, nil),
		Transports: session.WebSocketTransports(ws.Config{URLTemplate: env.wsTemplate(), ConnectTimeout: time.Second}, nil),
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ctrl.Activate(ctx, itoa(env.demo.EventID)); err != nil {
		t.Fatalf("activate: %v", err)
	}
	defer ctrl.Deactivate()

	waitForUpdate(t, ctrl, func(u session.Update) bool {
		return u.Kind == session.UpdateState && u.State == chat.StateOpen
	})
	eventually(t, func() bool { return len(ctrl.Messages()) == 1 }, "welcome message seeded")
	if _, ok := ctrl.FindParticipant("bob"); !ok {
		t.Fatalf("roster should include bob")
	}

	bob, _ := env.join(t, "bob")
	send(t, bob, proto.OutboundMessage{Message: "hello alice"})
	eventually(t, func() bool { return len(ctrl.Messages()) == 2 }, "bob's message delivered")

	if err := ctrl.SendMessage("hi bob", itoa(env.ids["bob"])); err != nil {
		t.Fatalf("send: %v", err)
	}
	readIncoming(t, bob) // bob's own echo
	if got := readIncoming(t, bob); got.Message != "hi bob" || got.Username != "alice" {
		t.Fatalf("bob received %+v", got)
	}
	eventually(t, func() bool { return len(ctrl.Messages()) == 3 }, "own message echoed")

	want := []string{"Welcome! Doors open at 7pm.", "hello alice", "hi bob"}
	if got := bodies(ctrl.Messages()); !slices.Equal(got, want) {
		t.Fatalf("messages = %q, want %q", got, want)
	}
	if last := ctrl.Messages()[2]; last.RecipientID != itoa(env.ids["bob"]) || !last.Direct() {
		t.Fatalf("own direct reply lost its recipient: %+v", last)
	}

	ctrl.Deactivate()
	if s, ok := ctrl.Session(); ok && s.State != chat.StateClosed {
		t.Fatalf("session should be closed, got %v", s.State)
	}
}
