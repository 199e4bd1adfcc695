package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/fyrsmithlabs/verivox/internal/api"
	"github.com/fyrsmithlabs/verivox/internal/guard"
	"github.com/fyrsmithlabs/verivox/internal/session"
)

const (
	fieldUsername = iota
	fieldEmail
	fieldPassword
)

const msgFillAllFields = "Please fill in all fields."

type loginState struct {
	register bool
	inputs   []textinput.Model
	focused  int
	pending  bool
}

func newLoginState() loginState {
	inputs := make([]textinput.Model, 3)
	for i := range inputs {
		ti := textinput.New()
		ti.CharLimit = 128
		ti.Width = 40
		inputs[i] = ti
	}
	inputs[fieldUsername].Placeholder = "Username"
	inputs[fieldEmail].Placeholder = "Email"
	inputs[fieldPassword].Placeholder = "Password"
	inputs[fieldPassword].EchoMode = textinput.EchoPassword
	inputs[fieldPassword].EchoCharacter = '•'

	return loginState{inputs: inputs, focused: fieldEmail}
}

// fields returns the visible inputs in order.
func (l *loginState) fields() []int {
	if l.register {
		return []int{fieldUsername, fieldEmail, fieldPassword}
	}
	return []int{fieldEmail, fieldPassword}
}

func (l *loginState) focus() tea.Cmd {
	for i := range l.inputs {
		l.inputs[i].Blur()
	}
	return l.inputs[l.focused].Focus()
}

func (l *loginState) move(delta int) tea.Cmd {
	fields := l.fields()
	pos := 0
	for i, f := range fields {
		if f == l.focused {
			pos = i
		}
	}
	pos = (pos + delta + len(fields)) % len(fields)
	l.focused = fields[pos]
	return l.focus()
}

func (l *loginState) reset() {
	for i := range l.inputs {
		l.inputs[i].SetValue("")
	}
	l.pending = false
	l.register = false
	l.focused = fieldEmail
}

type authDoneMsg struct {
	id  session.Identity
	err error
}

func (m Model) authCmd(kind string) tea.Cmd {
	auth := m.deps.Auth
	ctx := m.ctx
	username := strings.TrimSpace(m.login.inputs[fieldUsername].Value())
	email := strings.TrimSpace(m.login.inputs[fieldEmail].Value())
	password := m.login.inputs[fieldPassword].Value()

	return func() tea.Msg {
		var (
			id  session.Identity
			err error
		)
		switch kind {
		case "guest":
			id, err = auth.Guest(ctx)
		case "register":
			id, err = auth.Register(ctx, username, email, password)
		default:
			id, err = auth.Login(ctx, email, password)
		}
		return authDoneMsg{id: id, err: err}
	}
}

func (m Model) updateLogin(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case authDoneMsg:
		m.login.pending = false
		if msg.err != nil {
			m.setNotice(api.LoginMessage(msg.err), true)
			return m, m.login.focus()
		}
		m.login.reset()
		m.setNotice(fmt.Sprintf("Welcome, %s.", msg.id.DisplayName), false)
		return m.navigate(guard.ViewScan)

	case tea.KeyMsg:
		if m.login.pending {
			return m, nil
		}
		switch msg.String() {
		case "tab", "down":
			return m, m.login.move(1)
		case "shift+tab", "up":
			return m, m.login.move(-1)
		case "ctrl+t":
			m.login.register = !m.login.register
			m.setNotice("", false)
			if m.login.register {
				m.login.focused = fieldUsername
			} else {
				m.login.focused = fieldEmail
			}
			return m, m.login.focus()
		case "ctrl+g":
			m.login.pending = true
			m.setNotice("", false)
			return m, tea.Batch(m.authCmd("guest"), m.spinner.Tick)
		case "enter":
			for _, f := range m.login.fields() {
				if strings.TrimSpace(m.login.inputs[f].Value()) == "" {
					m.setNotice(msgFillAllFields, true)
					return m, nil
				}
			}
			kind := "login"
			if m.login.register {
				kind = "register"
			}
			m.login.pending = true
			m.setNotice("", false)
			return m, tea.Batch(m.authCmd(kind), m.spinner.Tick)
		}
	}

	var cmd tea.Cmd
	m.login.inputs[m.login.focused], cmd = m.login.inputs[m.login.focused].Update(msg)
	return m, cmd
}

func (m Model) viewLogin() string {
	var b strings.Builder
	title := "Sign In"
	if m.login.register {
		title = "Create Account"
	}
	b.WriteString(sectionStyle.Render(title) + "\n\n")
	for _, f := range m.login.fields() {
		b.WriteString(m.login.inputs[f].View() + "\n")
	}
	if m.login.pending {
		b.WriteString("\n" + m.spinner.View() + dimStyle.Render(" Authenticating..."))
	}

	toggle := "create account"
	if m.login.register {
		toggle = "sign in instead"
	}
	b.WriteString("\n" + footer("enter", "submit", "tab", "next field", "ctrl+t", toggle, "ctrl+g", "guest", "ctrl+c", "quit"))
	return b.String()
}

// logoutDone reports a failed sign-out; success arrives as a session event.
func (m Model) logoutDone(msg logoutDoneMsg) Model {
	if msg.err != nil {
		m.setNotice(fmt.Sprintf("Sign-out failed: %v", msg.err), true)
	}
	return m
}
