package tui

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/vovakirdan/eventchat/internal/chat"
	"github.com/vovakirdan/eventchat/internal/session"
)

// Chat is the part of session.Controller the screen drives.
type Chat interface {
	Activate(ctx context.Context, eventID string) error
	Deactivate()
	SendMessage(body, recipientID string) error
	Updates() <-chan session.Update
	Messages() []chat.Message
	Participants() iter.Seq[chat.Participant]
	FindParticipant(username string) (chat.Participant, bool)
}

type activatedMsg struct{ err error }

type updateMsg session.Update

const maxNotices = 3

// Model is the chat screen of one event.
type Model struct {
	ctx     context.Context
	chat    Chat
	eventID string
	me      string

	state    chat.ConnState
	messages []chat.Message
	target   *chat.Participant
	notices  []string
	lastErr  string
	err      error

	viewport viewport.Model
	input    textinput.Model
	ready    bool
}

// New creates the screen for eventID. me is the signed-in username.
func New(ctx context.Context, c Chat, eventID, me string) Model {
	ti := textinput.New()
	ti.Placeholder = "Type a message..."
	ti.Focus()
	ti.CharLimit = 1000

	return Model{
		ctx:     ctx,
		chat:    c,
		eventID: eventID,
		me:      me,
		state:   chat.StateConnecting,
		input:   ti,
	}
}

// Err returns the error that ended the screen, if any.
func (m Model) Err() error {
	return m.err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.activate())
}

func (m Model) activate() tea.Cmd {
	return func() tea.Msg {
		return activatedMsg{err: m.chat.Activate(m.ctx, m.eventID)}
	}
}

func (m Model) waitForUpdate() tea.Cmd {
	updates := m.chat.Updates()
	return func() tea.Msg {
		select {
		case u := <-updates:
			return updateMsg(u)
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case activatedMsg:
		if msg.err != nil {
			m.err = msg.err
			m.chat.Deactivate()
			return m, tea.Quit
		}
		return m, m.waitForUpdate()

	case updateMsg:
		m.applyUpdate(session.Update(msg))
		return m, m.waitForUpdate()

	case tea.WindowSizeMsg:
		const chrome = 6
		height := max(msg.Height-chrome, 1)
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = height
		}
		m.input.Width = msg.Width - 4
		m.refresh(true)

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.chat.Deactivate()
			return m, tea.Quit
		case tea.KeyEnter:
			line := m.input.Value()
			m.input.SetValue("")
			return m.submit(line)
		}
	}

	var inputCmd, viewportCmd tea.Cmd
	m.input, inputCmd = m.input.Update(msg)
	m.viewport, viewportCmd = m.viewport.Update(msg)
	return m, tea.Batch(inputCmd, viewportCmd)
}

func (m *Model) applyUpdate(u session.Update) {
	switch u.Kind {
	case session.UpdateState:
		m.state = u.State
		if u.State == chat.StateOpen {
			m.lastErr = ""
		}
	case session.UpdateSeeded:
		m.messages = m.chat.Messages()
		m.refresh(m.viewport.AtBottom())
	case session.UpdateAppended:
		m.messages = m.chat.Messages()
		m.refresh(true)
	case session.UpdateParticipants:
		if m.target != nil {
			if p, ok := m.chat.FindParticipant(m.target.Username); ok {
				m.target = &p
			} else {
				m.notice(fmt.Sprintf("%s left, replying to everyone", m.target.Username))
				m.target = nil
			}
		}
	case session.UpdateError:
		if u.Err != nil {
			m.lastErr = u.Err.Error()
		}
	}
}

func (m Model) submit(line string) (tea.Model, tea.Cmd) {
	trimmed := strings.TrimSpace(line)
	fields := strings.Fields(trimmed)

	switch {
	case len(fields) > 0 && fields[0] == "/quit":
		m.chat.Deactivate()
		return m, tea.Quit

	case len(fields) > 0 && fields[0] == "/to":
		if len(fields) != 2 {
			m.notice("usage: /to <username>")
			return m, nil
		}
		p, ok := m.chat.FindParticipant(fields[1])
		if !ok {
			m.notice(fmt.Sprintf("no participant named %s", fields[1]))
			return m, nil
		}
		m.target = &p
		m.notice("replying to " + p.Username)
		return m, nil

	case trimmed == "/all":
		m.target = nil
		m.notice("replying to everyone")
		return m, nil

	case trimmed == "/who":
		var names []string
		for p := range m.chat.Participants() {
			names = append(names, p.Username)
		}
		if len(names) == 0 {
			m.notice("no participants known yet")
		} else {
			m.notice("participants: " + strings.Join(names, ", "))
		}
		return m, nil
	}

	recipient := ""
	if m.target != nil {
		recipient = m.target.ID
	}
	if err := m.chat.SendMessage(line, recipient); err != nil {
		m.lastErr = err.Error()
		return m, nil
	}
	m.lastErr = ""
	return m, nil
}

func (m *Model) notice(text string) {
	m.notices = append(m.notices, text)
	if len(m.notices) > maxNotices {
		m.notices = m.notices[len(m.notices)-maxNotices:]
	}
}

// refresh redraws the message list, scrolling to the end when asked.
func (m *Model) refresh(toBottom bool) {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderMessages())
	if toBottom {
		m.viewport.GotoBottom()
	}
}
