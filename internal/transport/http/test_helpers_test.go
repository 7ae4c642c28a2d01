package http

import (
	"bytes"
	"context"
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/eventchat/internal/auth"
	"github.com/vovakirdan/eventchat/internal/config"
	"github.com/vovakirdan/eventchat/internal/devserver"
	"github.com/vovakirdan/eventchat/internal/proto"
	"github.com/vovakirdan/eventchat/internal/store/sqlite"
)

type testEnv struct {
	ts     *httptest.Server
	store  *sqlite.SQLiteStore
	auth   *auth.Service
	demo   *devserver.Demo
	ids    map[string]int64
	tokens map[string]string
}

// startTestServer serves the demo event over an in-memory store. mallory is a
// registered user without a ticket.
func startTestServer(t *testing.T, tune func(*config.ServerConfig)) *testEnv {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := zerolog.Nop()
	authService := auth.NewService(st, &auth.JWTConfig{Secret: []byte("test-secret"), Issuer: "test", TTL: time.Hour})

	ctx := context.Background()
	demo, err := devserver.SeedDemo(ctx, st, authService, &logger)
	if err != nil {
		t.Fatalf("seed demo: %v", err)
	}
	if _, err := authService.CreateUser(ctx, "mallory", "password1", auth.RoleAttendee); err != nil {
		t.Fatalf("create mallory: %v", err)
	}

	cfg := config.Default().Server
	cfg.Addr = ":0"
	if tune != nil {
		tune(&cfg)
	}

	hubCtx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	hub := devserver.NewHub(st, cfg.HistoryPageSize, &logger)
	go hub.Run(hubCtx)

	server := NewServer(hub, authService, cfg, &logger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	env := &testEnv{
		ts:     ts,
		store:  st,
		auth:   authService,
		demo:   demo,
		ids:    make(map[string]int64),
		tokens: make(map[string]string),
	}
	for _, name := range append([]string{demo.Organizer, "mallory"}, demo.Attendees...) {
		password := devserver.DemoPassword
		if name == "mallory" {
			password = "password1"
		}
		token, user, err := authService.Login(ctx, name, password)
		if err != nil {
			t.Fatalf("login %s: %v", name, err)
		}
		env.ids[name] = user.ID
		env.tokens[name] = token
	}
	return env
}

func (e *testEnv) eventPath() string {
	return "/events/" + itoa(e.demo.EventID) + "/chat-messages/"
}

func (e *testEnv) wsTemplate() string {
	return strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws/chat/{eventId}/"
}

func (e *testEnv) get(t *testing.T, path, token string) *stdhttp.Response {
	t.Helper()
	req, err := stdhttp.NewRequest(stdhttp.MethodGet, e.ts.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) postJSON(t *testing.T, path, body string) *stdhttp.Response {
	t.Helper()
	resp, err := e.ts.Client().Post(e.ts.URL+path, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) history(t *testing.T, name string) proto.HistoryPage {
	t.Helper()
	resp := e.get(t, e.eventPath(), e.tokens[name])
	if resp.StatusCode != stdhttp.StatusOK {
		t.Fatalf("history for %s: status %d", name, resp.StatusCode)
	}
	return decodeBody[proto.HistoryPage](t, resp)
}

func (e *testEnv) dial(t *testing.T, eventID int64, token string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	u := strings.Replace(e.wsTemplate(), "{eventId}", itoa(eventID), 1) + "?token=" + token
	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

// join dials the demo chat as name and consumes the history frame.
func (e *testEnv) join(t *testing.T, name string) (*websocket.Conn, *proto.HistoryFrame) {
	t.Helper()
	conn := e.dial(t, e.demo.EventID, e.tokens[name])
	history, ok := readFrame(t, conn).(*proto.HistoryFrame)
	if !ok {
		t.Fatalf("first frame for %s is not history", name)
	}
	return conn, history
}

func readFrame(t *testing.T, conn *websocket.Conn) proto.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	frame, err := proto.DecodeFrame(data)
	if err != nil {
		t.Fatalf("decode frame %s: %v", data, err)
	}
	return frame
}

func readIncoming(t *testing.T, conn *websocket.Conn) proto.MessageRecord {
	t.Helper()
	in, ok := readFrame(t, conn).(*proto.IncomingFrame)
	if !ok {
		t.Fatalf("expected a message frame")
	}
	return in.MessageRecord
}

func send(t *testing.T, conn *websocket.Conn, msg proto.OutboundMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func decodeBody[T any](t *testing.T, resp *stdhttp.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func itoa(id int64) string {
	return string(formatID(id))
}
