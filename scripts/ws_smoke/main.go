package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/vovakirdan/eventchat/internal/proto"
	"github.com/vovakirdan/eventchat/internal/transport/rest"
	"github.com/vovakirdan/eventchat/internal/transport/ws"
)

// ws_smoke signs in against a running dev server, loads the history of one
// event, sends a message over the realtime endpoint and waits for its echo.
func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	api := flag.String("api", "http://localhost:8080", "REST base URL")
	realtime := flag.String("ws", "ws://localhost:8080/ws/chat/{eventId}/", "realtime URL template")
	user := flag.String("user", "alice", "username")
	password := flag.String("password", "eventchat", "password")
	event := flag.String("event", "1", "event id")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := rest.NewClient(*api, *timeout, nil)
	login, err := client.Login(ctx, *user, *password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	history, err := client.LoadHistory(ctx, *event, login.Token)
	if err != nil {
		return err
	}
	fmt.Printf("history: %d messages, %d participants\n", len(history.Messages), len(history.Participants))

	tr, err := ws.New(ws.Config{URLTemplate: *realtime}, *event, login.Token, nil)
	if err != nil {
		return err
	}
	defer tr.Close()
	tr.Open(ctx)

	sent := false
	for {
		select {
		case ev, ok := <-tr.Events():
			if !ok {
				return fmt.Errorf("connection ended before the echo arrived")
			}
			switch ev.Kind {
			case ws.EventState:
				fmt.Printf("state: %s\n", ev.State)
				if ev.Err != nil {
					return ev.Err
				}
			case ws.EventFrame:
				switch f := ev.Frame.(type) {
				case *proto.HistoryFrame:
					fmt.Printf("history frame: %d messages\n", len(f.History))
					if !sent {
						if err := tr.Send(proto.OutboundMessage{Message: *text}); err != nil {
							return fmt.Errorf("send: %w", err)
						}
						sent = true
					}
				case *proto.IncomingFrame:
					fmt.Printf("message from %s: %s\n", f.Username, f.Message)
					if f.Username == login.User.Username && f.Message == *text {
						fmt.Println("smoke test passed")
						return nil
					}
				case *proto.ErrorFrame:
					return fmt.Errorf("server error: %s", f.Error)
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
