// Package tui implements the interactive terminal interface: sign-in,
// scan with live progress and results, the history dashboard and the
// explain chat. Network work runs in tea commands and re-enters Update as
// messages, so rendering never blocks on the backend.
package tui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/fyrsmithlabs/verivox/internal/api"
	"github.com/fyrsmithlabs/verivox/internal/explain"
	"github.com/fyrsmithlabs/verivox/internal/guard"
	"github.com/fyrsmithlabs/verivox/internal/history"
	"github.com/fyrsmithlabs/verivox/internal/logging"
	"github.com/fyrsmithlabs/verivox/internal/scan"
	"github.com/fyrsmithlabs/verivox/internal/session"
	"go.uber.org/zap"
)

// Authenticator signs identities in and out.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (session.Identity, error)
	Register(ctx context.Context, username, email, password string) (session.Identity, error)
	Guest(ctx context.Context) (session.Identity, error)
	Logout(ctx context.Context) error
}

// Deps are the shared services the interface drives.
type Deps struct {
	Session *session.Store
	Auth    Authenticator
	Scan    *scan.Workflow
	Explain *explain.Memory
	History *history.Service
	Logger  *logging.Logger
}

// Session notices.
const (
	msgSignedOut         = "Signed out."
	msgSignedOutExternal = "Signed out from another terminal."
)

// Model is the root bubbletea model.
type Model struct {
	ctx    context.Context
	deps   Deps
	logger *logging.Logger

	view     guard.View
	width    int
	height   int
	notice   string
	isError  bool
	quitting bool

	events <-chan session.Event
	stop   func()

	spinner   spinner.Model
	login     loginState
	scanner   scanState
	dashboard dashboardState
	chat      chatState
}

// New creates the root model, starting at the view the guard allows for
// requested. Call Close when the program exits.
func New(ctx context.Context, deps Deps, requested guard.View) Model {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	events := make(chan session.Event, 16)
	stop := deps.Session.Subscribe(func(ev session.Event) {
		select {
		case events <- ev:
		default:
		}
	})

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = sparklineStyle

	m := Model{
		ctx:       ctx,
		deps:      deps,
		logger:    logger.Named("tui"),
		events:    events,
		stop:      stop,
		spinner:   sp,
		login:     newLoginState(),
		scanner:   newScanState(),
		dashboard: newDashboardState(),
		chat:      newChatState(),
	}
	m, _ = m.navigate(requested)
	return m
}

// Close stops listening to session events.
func (m Model) Close() {
	if m.stop != nil {
		m.stop()
	}
}

// Current returns the active view.
func (m Model) Current() guard.View {
	return m.view
}

// Notice returns the status line text and whether it reports an error.
func (m Model) Notice() (string, bool) {
	return m.notice, m.isError
}

// Message types
type sessionEventMsg session.Event

// waitForEvent delivers the next session event.
func waitForEvent(events <-chan session.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return sessionEventMsg(ev)
	}
}

// Init starts listening for session events and focuses the first view.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.events), m.enterCmd())
}

func (m *Model) setNotice(text string, isError bool) {
	m.notice = text
	m.isError = isError
}

// navigate applies the route guard and enters the resulting view.
func (m Model) navigate(requested guard.View) (Model, tea.Cmd) {
	decision := guard.Check(requested, m.deps.Session)
	if decision.Redirect {
		m.logger.Debug(m.ctx, "navigation redirected",
			zap.String("requested", string(requested)),
			zap.String("view", string(decision.View)))
	}

	if decision.View == guard.ViewLogin && m.view != guard.ViewLogin {
		m.deps.Scan.Clear()
	}
	m.view = decision.View
	return m, m.enterCmd()
}

// enterCmd prepares the current view.
func (m *Model) enterCmd() tea.Cmd {
	switch m.view {
	case guard.ViewLogin:
		return m.login.focus()
	case guard.ViewScan:
		return m.scanner.enter(m.deps.Scan)
	case guard.ViewDashboard:
		return m.enterDashboard()
	case guard.ViewExplain:
		return m.enterExplain()
	}
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.chat.resize(msg.Width, msg.Height)
		m.dashboard.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		if next, cmd, handled := m.globalKey(msg); handled {
			return next, cmd
		}

	case logoutDoneMsg:
		return m.logoutDone(msg), nil

	case sessionEventMsg:
		next, cmd := m.onSessionEvent(session.Event(msg))
		return next, tea.Batch(cmd, waitForEvent(m.events))

	case spinner.TickMsg:
		if !m.busy() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	switch m.view {
	case guard.ViewLogin:
		return m.updateLogin(msg)
	case guard.ViewScan:
		return m.updateScan(msg)
	case guard.ViewDashboard:
		return m.updateDashboard(msg)
	case guard.ViewExplain:
		return m.updateExplain(msg)
	}
	return m, nil
}

func (m Model) busy() bool {
	return m.login.pending || m.scanner.scanning || m.scanner.staging ||
		m.dashboard.loading || m.chat.waiting
}

// globalKey handles keys that work in every view.
func (m Model) globalKey(msg tea.KeyMsg) (Model, tea.Cmd, bool) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit, true
	}
	if m.view == guard.ViewLogin {
		return m, nil, false
	}

	switch msg.String() {
	case "ctrl+s":
		m.setNotice("", false)
		next, cmd := m.navigate(guard.ViewScan)
		return next, cmd, true
	case "ctrl+d":
		m.setNotice("", false)
		next, cmd := m.navigate(guard.ViewDashboard)
		return next, cmd, true
	case "ctrl+e":
		m.setNotice("", false)
		next, cmd := m.navigate(guard.ViewExplain)
		return next, cmd, true
	case "ctrl+l":
		return m, logoutCmd(m.ctx, m.deps.Auth), true
	}
	return m, nil, false
}

type logoutDoneMsg struct{ err error }

func logoutCmd(ctx context.Context, auth Authenticator) tea.Cmd {
	return func() tea.Msg {
		return logoutDoneMsg{err: auth.Logout(ctx)}
	}
}

// onSessionEvent follows sign-in and sign-out from any source.
func (m Model) onSessionEvent(ev session.Event) (Model, tea.Cmd) {
	switch ev.Kind {
	case session.LoggedOut:
		switch ev.Reason {
		case session.ReasonExpired:
			m.setNotice(api.MsgSessionExpired, true)
		case session.ReasonExternal:
			m.setNotice(msgSignedOutExternal, false)
		default:
			m.setNotice(msgSignedOut, false)
		}
		m.login.reset()
		m.dashboard.reset()
		m.chat.reset()
		m.scanner.reset()
		return m.navigate(guard.ViewLogin)

	case session.LoggedIn:
		if m.view == guard.ViewLogin {
			m.login.reset()
			m.setNotice(fmt.Sprintf("Welcome, %s.", ev.Identity.DisplayName), false)
			return m.navigate(guard.ViewScan)
		}
	}
	return m, nil
}

// View renders the interface
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var body string
	switch m.view {
	case guard.ViewLogin:
		body = m.viewLogin()
	case guard.ViewScan:
		body = m.viewScan()
	case guard.ViewDashboard:
		body = m.viewDashboard()
	case guard.ViewExplain:
		body = m.viewExplain()
	}

	return containerStyle.Render(m.header() + "\n" + body + m.statusLine())
}

func (m Model) header() string {
	title := headerStyle.Render("VeriVox Audio Forensics")
	id, ok := m.deps.Session.Current()
	if !ok {
		return title
	}
	who := id.DisplayName
	if who == "" {
		who = id.Email
	}
	role := labelStyle.Render(string(id.Role))
	line := fmt.Sprintf("%s  %s %s", title, valueStyle.Render(who), role)
	if exp, ok := session.ExpiresAt(id.Credential); ok {
		line += dimStyle.Render("  session until " + exp.Local().Format("15:04"))
	}
	return line
}

func (m Model) statusLine() string {
	if m.notice == "" {
		return ""
	}
	if m.isError {
		return "\n" + syntheticStyle.Render(m.notice)
	}
	return "\n" + humanStyle.Render(m.notice)
}
