package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yhc1/talkco/api"
	"github.com/yhc1/talkco/review"
	"github.com/yhc1/talkco/session"
)

// TUI message types
type tickMsg time.Time
type sessionStartedMsg struct{ err error }
type turnDoneMsg struct{ err error }
type conversationEndedMsg struct {
	sessionID string
	err       error
}
type reviewLoadedMsg struct{ err error }
type reviewEndedMsg struct{ err error }
type correctionDoneMsg struct{}

type tuiScreen int

const (
	screenChat tuiScreen = iota
	screenReview
	screenSummary
)

var (
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	recStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	markStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	okStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	helpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	titleStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("246")).Bold(true)
)

type tuiModel struct {
	ctx    context.Context
	client *api.Client
	ctrl   *session.Controller
	rc     *review.Controller

	screen        tuiScreen
	typing        bool
	input         string
	cursor        int
	status        string
	width, height int
}

func runTUI(ctx context.Context, client *api.Client, ctrl *session.Controller) error {
	m := tuiModel{ctx: ctx, client: client, ctrl: ctrl}
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func tuiTick() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	start := func() tea.Msg {
		return sessionStartedMsg{err: m.ctrl.Start(m.ctx)}
	}
	return tea.Batch(start, tuiTick())
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		// State lives in the controllers; the tick just forces a re-render
		// of their latest snapshots.
		if m.screen == screenReview && m.rc != nil && m.rc.Snapshot().Completed {
			m.screen = screenSummary
		}
		return m, tuiTick()

	case sessionStartedMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("connect failed: %v", msg.err)
		}

	case turnDoneMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("turn failed: %v", msg.err)
		} else {
			m.status = ""
		}

	case conversationEndedMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("end failed: %v", msg.err)
			return m, nil
		}
		if msg.sessionID == "" {
			return m, tea.Quit
		}
		m.rc = review.NewController(m.client, msg.sessionID)
		m.screen = screenReview
		m.status = ""
		rc := m.rc
		return m, func() tea.Msg {
			return reviewLoadedMsg{err: rc.Load(m.ctx)}
		}

	case reviewLoadedMsg:
		if msg.err != nil {
			m.status = "could not load review"
		}

	case reviewEndedMsg:
		if msg.err != nil {
			m.status = "could not finalize review"
		}

	case correctionDoneMsg:
		m.status = ""

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if key == "ctrl+c" {
		if m.rc != nil {
			m.rc.Cancel()
		}
		return m, tea.Quit
	}

	if m.typing {
		switch key {
		case "enter":
			text := strings.TrimSpace(m.input)
			m.typing = false
			m.input = ""
			if text == "" {
				return m, nil
			}
			if m.screen == screenChat {
				return m, func() tea.Msg {
					return turnDoneMsg{err: m.ctrl.SendText(m.ctx, text)}
				}
			}
			if m.screen == screenReview {
				snap := m.rc.Snapshot()
				if m.cursor < len(snap.Segments) {
					segID := snap.Segments[m.cursor].ID
					rc := m.rc
					return m, func() tea.Msg {
						rc.SubmitCorrection(m.ctx, segID, text)
						return correctionDoneMsg{}
					}
				}
			}
			return m, nil
		case "esc":
			m.typing = false
			m.input = ""
			return m, nil
		case "backspace":
			if len(m.input) > 0 {
				m.input = m.input[:len(m.input)-1]
			}
			return m, nil
		default:
			if msg.Type == tea.KeyRunes {
				m.input += string(msg.Runes)
			} else if key == " " {
				m.input += " "
			}
			return m, nil
		}
	}

	switch m.screen {
	case screenChat:
		switch key {
		case " ":
			snap := m.ctrl.Snapshot()
			if snap.Recording {
				return m, func() tea.Msg {
					return turnDoneMsg{err: m.ctrl.StopRecording(m.ctx)}
				}
			}
			if err := m.ctrl.StartRecording(); err != nil {
				m.status = statusForGuard(err)
			} else {
				m.status = ""
			}
			return m, nil
		case "/":
			m.typing = true
			m.input = ""
			return m, nil
		case "ctrl+e":
			return m, func() tea.Msg {
				id, err := m.ctrl.EndConversation(m.ctx)
				return conversationEndedMsg{sessionID: id, err: err}
			}
		}

	case screenReview:
		snap := m.rc.Snapshot()
		switch key {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(snap.Segments)-1 {
				m.cursor++
			}
		case "a":
			if len(snap.Segments) > 0 {
				m.typing = true
				m.input = ""
			}
		case "f":
			rc := m.rc
			return m, func() tea.Msg {
				return reviewEndedMsg{err: rc.End(m.ctx)}
			}
		}

	case screenSummary:
		if key == "q" || key == "enter" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func statusForGuard(err error) string {
	switch err {
	case session.ErrProcessing:
		return "still processing the previous turn"
	case session.ErrEnded:
		return "session has ended"
	case session.ErrNoSession:
		return "not connected"
	default:
		return fmt.Sprintf("recording failed: %v", err)
	}
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	switch m.screen {
	case screenReview:
		return m.viewReview()
	case screenSummary:
		return m.viewSummary()
	default:
		return m.viewChat()
	}
}

func (m tuiModel) viewChat() string {
	snap := m.ctrl.Snapshot()
	var b strings.Builder

	b.WriteString(titleStyle.Render("talkco "+version) + "\n\n")

	wrapWidth := m.width - 4
	if wrapWidth < 10 {
		wrapWidth = 10
	}
	for _, msg := range snap.Messages {
		style := assistantStyle
		prefix := "  "
		if msg.Role == "user" {
			style = userStyle
			prefix = "> "
		}
		for _, line := range wrapText(msg.Text, wrapWidth) {
			b.WriteString(style.Render(prefix+line) + "\n")
		}
	}
	b.WriteString("\n")

	switch {
	case snap.Connecting:
		b.WriteString(statusStyle.Render("connecting...") + "\n")
	case snap.SessionID == "":
		b.WriteString(statusStyle.Render("no session — check the server and restart") + "\n")
	case snap.Recording:
		b.WriteString(recStyle.Render("● REC — space to send") + "\n")
	case snap.Processing:
		b.WriteString(statusStyle.Render("thinking...") + "\n")
	case m.typing:
		b.WriteString(userStyle.Render("> "+m.input+"▌") + "\n")
	default:
		b.WriteString(statusStyle.Render("ready") + "\n")
	}

	if m.status != "" {
		b.WriteString(markStyle.Render(m.status) + "\n")
	}
	b.WriteString("\n" + helpStyle.Render("space record · / type · ctrl+e end · ctrl+c quit"))
	return b.String()
}

func (m tuiModel) viewReview() string {
	snap := m.rc.Snapshot()
	var b strings.Builder

	b.WriteString(titleStyle.Render("Review") + "\n\n")

	if snap.Loading {
		b.WriteString(statusStyle.Render("analyzing your conversation...") + "\n")
	}
	if snap.LoadFailed {
		b.WriteString(markStyle.Render("could not load review") + "\n")
	}

	wrapWidth := m.width - 8
	if wrapWidth < 10 {
		wrapWidth = 10
	}
	for i, seg := range snap.Segments {
		marker := "  "
		if i == m.cursor {
			marker = "▶ "
		}
		b.WriteString(userStyle.Render(marker+"> "+seg.UserText) + "\n")
		b.WriteString(assistantStyle.Render("    "+seg.AIText) + "\n")
		for _, mark := range seg.AIMarks {
			line := fmt.Sprintf("    ! [%s] %s → %s", strings.Join(mark.IssueTypes, ","), mark.Original, mark.Suggestion)
			b.WriteString(markStyle.Render(line) + "\n")
			for _, l := range wrapText(mark.Explanation, wrapWidth) {
				b.WriteString(statusStyle.Render("      "+l) + "\n")
			}
		}
		for _, corr := range seg.Corrections {
			b.WriteString(userStyle.Render("    ? "+corr.UserMessage) + "\n")
			for _, l := range wrapText(corr.Correction, wrapWidth) {
				b.WriteString(okStyle.Render("      "+l) + "\n")
			}
		}
		b.WriteString("\n")
	}

	if snap.Ending {
		b.WriteString(statusStyle.Render("finalizing...") + "\n")
	}
	if m.typing {
		b.WriteString(userStyle.Render("ask: "+m.input+"▌") + "\n")
	}
	if m.status != "" {
		b.WriteString(markStyle.Render(m.status) + "\n")
	}
	b.WriteString("\n" + helpStyle.Render("↑/↓ select · a ask · f finish · ctrl+c quit"))
	return b.String()
}

func (m tuiModel) viewSummary() string {
	snap := m.rc.Snapshot()
	var b strings.Builder

	b.WriteString(titleStyle.Render("Session summary") + "\n\n")

	if snap.Summary == nil {
		b.WriteString(statusStyle.Render("no summary available") + "\n")
	} else {
		s := snap.Summary
		for _, strength := range s.Strengths {
			b.WriteString(okStyle.Render("  + "+strength) + "\n")
		}
		for dim, note := range s.Weaknesses {
			if note == nil {
				b.WriteString(statusStyle.Render("  = "+dim+": no issues") + "\n")
			} else {
				b.WriteString(markStyle.Render("  - "+dim+": "+*note) + "\n")
			}
		}
		b.WriteString("\n" + assistantStyle.Render("  "+s.Overall) + "\n")
	}

	b.WriteString("\n" + helpStyle.Render("q quit"))
	return b.String()
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(text) > width {
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}
