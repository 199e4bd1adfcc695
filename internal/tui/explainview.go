package tui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fyrsmithlabs/verivox/internal/explain"
	"github.com/fyrsmithlabs/verivox/internal/scan"
)

type chatState struct {
	viewport   viewport.Model
	input      textarea.Model
	transcript []explain.Entry
	waiting    bool
}

func newChatState() chatState {
	ta := textarea.New()
	ta.Placeholder = "Ask about the forensic results..."
	ta.ShowLineNumbers = false
	ta.SetHeight(2)
	ta.SetWidth(70)
	ta.CharLimit = 2000
	ta.KeyMap.InsertNewline.SetEnabled(false)

	return chatState{
		viewport: viewport.New(70, 12),
		input:    ta,
	}
}

func (c *chatState) reset() {
	c.transcript = nil
	c.waiting = false
	c.input.Reset()
	c.viewport.SetContent("")
}

func (c *chatState) resize(width, height int) {
	if width > 10 {
		c.viewport.Width = width - 8
		c.input.SetWidth(width - 8)
	}
	if height > 18 {
		c.viewport.Height = height - 14
	}
	c.render()
}

func (c *chatState) setTranscript(entries []explain.Entry) {
	c.transcript = entries
	c.render()
}

func (c *chatState) render() {
	width := c.viewport.Width
	if width <= 0 {
		width = 70
	}
	wrap := lipgloss.NewStyle().Width(width)

	var b strings.Builder
	for i, e := range c.transcript {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if e.Sender == explain.User {
			b.WriteString(userBubbleStyle.Render("You") + "\n")
		} else {
			b.WriteString(labelStyle.Render("VeriVox Intelligence") + "\n")
		}
		b.WriteString(wrap.Render(assistantBubbleStyle.Render(e.Text)))
	}
	c.viewport.SetContent(b.String())
	c.viewport.GotoBottom()
}

// Message types
type chatReplyMsg struct {
	entry explain.Entry
}

func completeCmd(ctx context.Context, x *explain.Exchange) tea.Cmd {
	return func() tea.Msg {
		return chatReplyMsg{entry: x.Complete(ctx)}
	}
}

// enterExplain resumes, resets or discards the transcript for the current
// identity and result.
func (m *Model) enterExplain() tea.Cmd {
	id, _ := m.deps.Session.Current()
	var current *scan.Result
	if res, ok := m.deps.Scan.Result(); ok {
		current = &res
	}
	m.chat.setTranscript(m.deps.Explain.Enter(id, current))
	return m.chat.input.Focus()
}

func (m Model) updateExplain(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case chatReplyMsg:
		m.chat.waiting = false
		m.chat.setTranscript(m.deps.Explain.Transcript())
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			if m.chat.waiting {
				return m, nil
			}
			x, ok := m.deps.Explain.Begin(m.chat.input.Value())
			m.chat.input.Reset()
			if !ok {
				return m, nil
			}
			m.chat.waiting = true
			m.chat.setTranscript(m.deps.Explain.Transcript())
			return m, tea.Batch(completeCmd(m.ctx, x), m.spinner.Tick)
		case "ctrl+x":
			if m.chat.waiting {
				return m, nil
			}
			m.deps.Explain.Clear()
			m.chat.setTranscript(m.deps.Explain.Transcript())
			return m, nil
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.chat.viewport, cmd = m.chat.viewport.Update(msg)
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.chat.input, cmd = m.chat.input.Update(msg)
	return m, cmd
}

func (m Model) viewExplain() string {
	var b strings.Builder
	title := "Forensic Explainer"
	if subject := m.deps.Explain.Subject(); subject != "" {
		title += dimStyle.Render("  " + subject)
	}
	b.WriteString(sectionStyle.Render(title) + "\n\n")
	b.WriteString(m.chat.viewport.View() + "\n")
	if m.chat.waiting {
		b.WriteString(m.spinner.View() + dimStyle.Render(" VeriVox is thinking...") + "\n")
	}
	b.WriteString(m.chat.input.View())
	b.WriteString("\n" + footer("enter", "send", "ctrl+x", "clear chat", "pgup/pgdn", "scroll", "ctrl+s", "scan", "ctrl+l", "logout"))
	return b.String()
}
