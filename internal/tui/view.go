package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/vovakirdan/eventchat/internal/chat"
)

var (
	titleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("109"))
	onlineStyle     = statusStyle.Foreground(lipgloss.Color("42")).Bold(true)
	connectingStyle = statusStyle.Foreground(lipgloss.Color("178")).Italic(true)
	lostStyle       = statusStyle.Foreground(lipgloss.Color("196")).Bold(true)
	timestampStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	usernameStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("45"))
	ownNameStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213"))
	bodyStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("253"))
	badgeStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("16")).Background(lipgloss.Color("214")).Padding(0, 1)
	directStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("141")).Italic(true)
	noticeStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	hintStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

// OrganizerBadge marks messages sent by the event organizer.
const OrganizerBadge = "ORGANIZER"

// Presentation is how a message is drawn.
type Presentation struct {
	Own       bool
	Organizer bool
	Direct    bool
}

// Classify decides the presentation of m for the user named me.
func Classify(m chat.Message, me string) Presentation {
	return Presentation{
		Own:       me != "" && m.SenderUsername == me,
		Organizer: m.IsFromOrganizer,
		Direct:    m.Direct(),
	}
}

// RenderMessage draws one message line block. Own messages are right-aligned.
func RenderMessage(m chat.Message, me string, width int, names func(id string) string) string {
	p := Classify(m, me)

	nameStyle := usernameStyle
	if p.Own {
		nameStyle = ownNameStyle
	}
	header := []string{timestampStyle.Render(m.CreatedAt.Local().Format("15:04")), nameStyle.Render(m.SenderUsername)}
	if p.Organizer {
		header = append(header, badgeStyle.Render(OrganizerBadge))
	}
	if p.Direct {
		to := m.RecipientID
		if names != nil {
			if name := names(m.RecipientID); name != "" {
				to = name
			}
		}
		header = append(header, directStyle.Render("→ "+to))
	}

	block := lipgloss.JoinVertical(lipgloss.Left, strings.Join(header, " "), bodyStyle.Render(m.Body))
	if width <= 0 {
		return block
	}
	align := lipgloss.Left
	if p.Own {
		align = lipgloss.Right
	}
	return lipgloss.NewStyle().Width(width).Align(align).Render(block)
}

// StatusLine describes the connection state. A failed connection is never
// shown as loading.
func StatusLine(state chat.ConnState) string {
	switch state {
	case chat.StateOpen:
		return onlineStyle.Render("online")
	case chat.StateConnecting:
		return connectingStyle.Render("connecting…")
	case chat.StateFailed:
		return lostStyle.Render("connection lost")
	default:
		return statusStyle.Render("closed")
	}
}

func (m Model) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("chat unavailable: %v", m.err)) + "\n"
	}
	if !m.ready {
		return "\n  " + StatusLine(m.state)
	}

	target := "everyone"
	if m.target != nil {
		target = m.target.Username
	}
	header := lipgloss.JoinHorizontal(lipgloss.Top,
		titleStyle.Render("event "+m.eventID),
		" ",
		StatusLine(m.state),
	)

	sections := []string{header, m.viewport.View()}
	for _, n := range m.notices {
		sections = append(sections, noticeStyle.Render(n))
	}
	if m.lastErr != "" {
		sections = append(sections, errorStyle.Render(m.lastErr))
	}
	sections = append(sections,
		hintStyle.Render("to "+target+"  •  /to <user>  /all  /who  /quit"),
		m.input.View(),
	)
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *Model) renderMessages() string {
	lines := make([]string, 0, len(m.messages))
	for _, msg := range m.messages {
		lines = append(lines, RenderMessage(msg, m.me, m.viewport.Width, m.nameOf))
	}
	return strings.Join(lines, "\n")
}

func (m *Model) nameOf(id string) string {
	for p := range m.chat.Participants() {
		if p.ID == id {
			return p.Username
		}
	}
	return ""
}
