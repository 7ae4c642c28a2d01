package devserver

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/eventchat/internal/auth"
	"github.com/vovakirdan/eventchat/internal/store/sqlite"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

func noEvent(t *testing.T, ch <-chan *Event, kind EventKind, wait time.Duration) {
	t.Helper()

	deadline := time.After(wait)
	for {
		select {
		case ev := <-ch:
			if ev != nil && ev.Kind == kind {
				t.Fatalf("unexpected %v event: %+v", kind, ev)
			}
		case <-deadline:
			return
		}
	}
}

type testRoom struct {
	store *sqlite.SQLiteStore
	hub   *Hub
	demo  *Demo
	ids   map[string]int64
}

// startHub runs a hub over an in-memory store seeded with the demo event.
func startHub(t *testing.T) *testRoom {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := zerolog.Nop()
	svc := auth.NewService(st, &auth.JWTConfig{Secret: []byte("test"), TTL: time.Hour})
	demo, err := SeedDemo(context.Background(), st, svc, &logger)
	if err != nil {
		t.Fatalf("seed demo: %v", err)
	}

	ids := make(map[string]int64)
	for _, name := range append([]string{demo.Organizer}, demo.Attendees...) {
		u, err := st.GetUserByUsername(context.Background(), name)
		if err != nil {
			t.Fatalf("get %s: %v", name, err)
		}
		ids[name] = u.ID
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := NewHub(st, 10, &logger)
	go hub.Run(ctx)

	return &testRoom{store: st, hub: hub, demo: demo, ids: ids}
}

func (r *testRoom) join(t *testing.T, name string) *Client {
	t.Helper()
	organizer, err := r.hub.Admit(context.Background(), r.demo.EventID, r.ids[name])
	if err != nil {
		t.Fatalf("admit %s: %v", name, err)
	}
	c := NewClient(name+"-conn", r.ids[name], name, r.demo.EventID, organizer)
	r.hub.RegisterClient(c)
	mustEvent(t, c.Events, EventHistory)
	return c
}
