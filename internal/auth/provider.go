package auth

import (
	"context"
	"errors"
)

var (
	// ErrNoToken is returned when no credential is available.
	ErrNoToken = errors.New("no auth token")
	// ErrTokenExpired is returned for tokens past their expiry.
	ErrTokenExpired = errors.New("token expired")
)

// Role is the user's role on the ticketing platform.
type Role string

const (
	RoleAttendee  Role = "attendee"
	RoleOrganizer Role = "organizer"
	RoleAdmin     Role = "admin"
)

// User is the authenticated identity as the chat sees it.
type User struct {
	ID       string
	Username string
	Role     Role
}

// Provider supplies the credential and identity of the signed-in user.
// Implementations are read-only from the chat's point of view.
type Provider interface {
	Token(ctx context.Context) (string, error)
	CurrentUser() (User, bool)
}

// Static is a Provider with a fixed token and user.
type Static struct {
	token string
	user  *User
}

// NewStatic builds a Provider from an already-resolved session.
func NewStatic(token string, user *User) *Static {
	return &Static{token: token, user: user}
}

// FromToken builds a Provider whose identity is read from the token's claims.
func FromToken(token string) (*Static, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	claims, err := ReadClaims(token)
	if err != nil {
		return nil, err
	}
	user := claims.User()
	return NewStatic(token, &user), nil
}

func (s *Static) Token(_ context.Context) (string, error) {
	if s == nil || s.token == "" {
		return "", ErrNoToken
	}
	return s.token, nil
}

func (s *Static) CurrentUser() (User, bool) {
	if s == nil || s.user == nil || s.user.Username == "" {
		return User{}, false
	}
	return *s.user, true
}
