package devserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/eventchat/internal/auth"
	"github.com/vovakirdan/eventchat/internal/store"
)

// DemoPassword is the password of every demo account.
const DemoPassword = "eventchat"

// UserCreator registers users with hashed passwords.
type UserCreator interface {
	CreateUser(ctx context.Context, username, password string, role auth.Role) (*store.User, error)
}

// Demo describes the seeded fixture.
type Demo struct {
	EventID   int64
	Organizer string
	Attendees []string
}

// SeedDemo creates an organizer, two attendees and one event with a welcome
// message. It does nothing when the organizer already exists.
func SeedDemo(ctx context.Context, st store.Store, users UserCreator, logger *zerolog.Logger) (*Demo, error) {
	demo := &Demo{Organizer: "olga", Attendees: []string{"alice", "bob"}}

	if _, err := st.GetUserByUsername(ctx, demo.Organizer); err == nil {
		logger.Debug().Msg("demo data already present")
		return nil, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("check demo data: %w", err)
	}

	organizer, err := users.CreateUser(ctx, demo.Organizer, DemoPassword, auth.RoleOrganizer)
	if err != nil {
		return nil, fmt.Errorf("create organizer: %w", err)
	}
	event, err := st.CreateEvent(ctx, "Launch Party", organizer.ID, time.Now().Add(7*24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	demo.EventID = event.ID

	for _, name := range demo.Attendees {
		u, err := users.CreateUser(ctx, name, DemoPassword, auth.RoleAttendee)
		if err != nil {
			return nil, fmt.Errorf("create attendee %s: %w", name, err)
		}
		if err := st.AddParticipant(ctx, event.ID, u.ID); err != nil {
			return nil, fmt.Errorf("add participant %s: %w", name, err)
		}
	}

	if _, err := st.SaveMessage(ctx, &store.Message{
		EventID:         event.ID,
		UserID:          organizer.ID,
		Body:            "Welcome! Doors open at 7pm.",
		IsFromOrganizer: true,
	}); err != nil {
		return nil, fmt.Errorf("save welcome message: %w", err)
	}

	logger.Info().
		Int64("event_id", event.ID).
		Str("organizer", demo.Organizer).
		Strs("attendees", demo.Attendees).
		Msg("demo data seeded")
	return demo, nil
}
