package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/eventchat/internal/chat"
	"github.com/vovakirdan/eventchat/internal/proto"
)

// History is one room's backlog in chronological order plus its roster.
type History struct {
	Messages     []chat.Message
	Participants []chat.Participant
}

// LoginResult is the response of the login endpoint.
type LoginResult struct {
	Token string `json:"token"`
	User  struct {
		ID       proto.ID `json:"id"`
		Username string   `json:"username"`
		Role     string   `json:"role"`
	} `json:"user"`
}

// Client talks to the ticketing REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zerolog.Logger
	now        func() time.Time
}

// NewClient creates a client for baseURL. A zero timeout means 10s.
func NewClient(baseURL string, timeout time.Duration, logger *zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        logger,
		now:        time.Now,
	}
}

// LoadHistory fetches the newest page of a room's messages.
func (c *Client) LoadHistory(ctx context.Context, eventID, token string) (History, error) {
	endpoint := fmt.Sprintf("%s/events/%s/chat-messages/", c.baseURL, url.PathEscape(eventID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return History{}, chat.NewError(chat.KindHistoryLoadError, "cannot load history", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	var page proto.HistoryPage
	if err := c.do(req, &page); err != nil {
		return History{}, chat.NewError(chat.KindHistoryLoadError, "cannot load history", err)
	}

	now := c.now()
	messages := make([]chat.Message, 0, len(page.Results))
	for i, rec := range page.Results {
		if err := rec.Validate(); err != nil {
			return History{}, chat.NewError(chat.KindHistoryLoadError, "cannot load history", fmt.Errorf("results[%d]: %w", i, err))
		}
		messages = append(messages, rec.ToMessage(eventID, now))
	}
	// the endpoint serves newest first
	slices.Reverse(messages)

	c.log.Debug().Str("event_id", eventID).Int("messages", len(messages)).Bool("has_more", page.Next != nil).Msg("history loaded")
	return History{Messages: messages, Participants: rosterFrom(page.Results)}, nil
}

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login/", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var res LoginResult
	if err := c.do(req, &res); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if res.Token == "" {
		return nil, errors.New("login: empty token in response")
	}
	return &res, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s returned status %d: %s", req.URL.Path, resp.StatusCode, errorText(resp.Body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorText extracts the server's explanation from an error body.
func errorText(body io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(body, 4096))
	var payload struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Detail != "" {
			return payload.Detail
		}
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "no details"
	}
	return text
}

// rosterFrom reads the participants the server embeds in the newest record.
func rosterFrom(results []proto.MessageRecord) []chat.Participant {
	if len(results) == 0 {
		return nil
	}
	return results[0].ToParticipants()
}
