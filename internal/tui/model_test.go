package tui

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/cursor"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/fyrsmithlabs/verivox/internal/api"
	"github.com/fyrsmithlabs/verivox/internal/explain"
	"github.com/fyrsmithlabs/verivox/internal/guard"
	"github.com/fyrsmithlabs/verivox/internal/history"
	"github.com/fyrsmithlabs/verivox/internal/scan"
	"github.com/fyrsmithlabs/verivox/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuth struct {
	store *session.Store
	mu    sync.Mutex
	calls int
}

func (f *fakeAuth) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeAuth) signIn(ctx context.Context, id session.Identity) (session.Identity, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return id, f.store.Login(ctx, id)
}

func (f *fakeAuth) Login(ctx context.Context, email, password string) (session.Identity, error) {
	if password == "bad" {
		f.mu.Lock()
		f.calls++
		f.mu.Unlock()
		return session.Identity{}, &api.Error{Category: api.CategoryServer, Status: 400, Detail: "Invalid credentials"}
	}
	name, _, _ := strings.Cut(email, "@")
	return f.signIn(ctx, session.Identity{DisplayName: name, Email: email, Role: session.RoleStandard, Credential: "tok-" + email})
}

func (f *fakeAuth) Register(ctx context.Context, username, email, password string) (session.Identity, error) {
	return f.signIn(ctx, session.Identity{DisplayName: username, Email: email, Role: session.RoleStandard, Credential: "tok-" + email})
}

func (f *fakeAuth) Guest(ctx context.Context) (session.Identity, error) {
	return f.signIn(ctx, session.Identity{DisplayName: "Guest User", Email: "guest", Role: session.RoleGuest, Credential: "tok-guest"})
}

func (f *fakeAuth) Logout(ctx context.Context) error {
	return f.store.Logout(ctx)
}

type fakeDetector struct{}

func (fakeDetector) Detect(ctx context.Context, filename, contentType string, data []byte) (*api.DetectResponse, error) {
	id := "r-" + filename
	return &api.DetectResponse{
		Filename:        filename,
		Verdict:         "Real Human",
		ConfidenceScore: 18,
		Reasons:         []string{"breathing pauses detected"},
		ID:              &id,
		Raw:             json.RawMessage(`{"verdict":"Real Human","confidence_score":18}`),
	}, nil
}

type fakeChat struct{}

func (fakeChat) ExplainChat(ctx context.Context, message string, forensic json.RawMessage) (*api.ChatResponse, error) {
	return &api.ChatResponse{Reply: "<p>Answer to " + message + "</p>"}, nil
}

type fakeBackend struct {
	mu        sync.Mutex
	reports   []api.Report
	histories int
	deletes   []string
}

func (f *fakeBackend) History(ctx context.Context) ([]api.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.histories++
	return append([]api.Report(nil), f.reports...), nil
}

func (f *fakeBackend) DownloadReport(ctx context.Context, id string) (*api.Download, error) {
	return &api.Download{Data: []byte("%PDF")}, nil
}

func (f *fakeBackend) DeleteReport(ctx context.Context, id string) (*api.DeleteResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	kept := f.reports[:0]
	for _, r := range f.reports {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	f.reports = kept
	return &api.DeleteResponse{Message: "ok"}, nil
}

type harness struct {
	store   *session.Store
	auth    *fakeAuth
	backend *fakeBackend
	deps    Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := session.NewStore(session.NewMemoryStorage(), nil)
	wf := scan.New(fakeDetector{}, store, scan.Options{PhaseInterval: time.Millisecond})
	mem := explain.NewMemory(fakeChat{}, nil)
	backend := &fakeBackend{reports: []api.Report{
		{ID: "2", Filename: "b.wav", Verdict: "AI/Synthetic", ConfidenceScore: 91, Timestamp: "2026-03-02T10:00:00"},
		{ID: "1", Filename: "a.wav", Verdict: "Real Human", ConfidenceScore: 12, Timestamp: "2026-03-01T10:00:00"},
	}}
	auth := &fakeAuth{store: store}

	stopScan := wf.Follow(store)
	stopChat := mem.Follow(store)
	t.Cleanup(func() { stopScan(); stopChat() })

	return &harness{
		store:   store,
		auth:    auth,
		backend: backend,
		deps: Deps{
			Session: store,
			Auth:    auth,
			Scan:    wf,
			Explain: mem,
			History: history.NewService(backend, store, t.TempDir(), nil),
		},
	}
}

func (h *harness) model(t *testing.T, view guard.View) Model {
	t.Helper()
	m := New(context.Background(), h.deps, view)
	t.Cleanup(m.Close)
	for i := range m.login.inputs {
		m.login.inputs[i].Cursor.SetMode(cursor.CursorStatic)
	}
	m.scanner.path.Cursor.SetMode(cursor.CursorStatic)
	m.chat.input.Cursor.SetMode(cursor.CursorStatic)
	return m
}

func (h *harness) signIn(t *testing.T, id session.Identity) {
	t.Helper()
	require.NoError(t, h.store.Login(context.Background(), id))
}

var (
	alice = session.Identity{DisplayName: "alice", Email: "alice@example.com", Role: session.RoleStandard, Credential: "tok-a"}
	bob   = session.Identity{DisplayName: "bob", Email: "bob@example.com", Role: session.RoleStandard, Credential: "tok-b"}
	guest = session.Identity{DisplayName: "Guest User", Email: "guest", Role: session.RoleGuest, Credential: "tok-g"}
)

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	case "ctrl+d":
		return tea.KeyMsg{Type: tea.KeyCtrlD}
	case "ctrl+e":
		return tea.KeyMsg{Type: tea.KeyCtrlE}
	case "ctrl+g":
		return tea.KeyMsg{Type: tea.KeyCtrlG}
	case "ctrl+l":
		return tea.KeyMsg{Type: tea.KeyCtrlL}
	case "ctrl+s":
		return tea.KeyMsg{Type: tea.KeyCtrlS}
	case "ctrl+x":
		return tea.KeyMsg{Type: tea.KeyCtrlX}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(m Model, msg tea.Msg) (Model, tea.Cmd) {
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

// ours reports whether msg is produced by this package's commands.
func ours(msg tea.Msg) bool {
	switch msg.(type) {
	case authDoneMsg, logoutDoneMsg, stageDoneMsg, scanStartedMsg, scanPhaseMsg,
		scanDoneMsg, historyMsg, downloadDoneMsg, chatReplyMsg:
		return true
	}
	return false
}

func runCmd(t *testing.T, c tea.Cmd) tea.Msg {
	t.Helper()
	ch := make(chan tea.Msg, 1)
	go func() { ch <- c() }()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("command did not finish")
		return nil
	}
}

// drainEvents delivers pending session events.
func drainEvents(m Model) Model {
	for {
		select {
		case ev := <-m.events:
			m, _ = update(m, sessionEventMsg(ev))
		default:
			return m
		}
	}
}

// settle runs cmd and every command it leads to, feeding results back
// into the model, until nothing is left. Session events are delivered
// directly; cursor and spinner ticks are dropped.
func settle(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	queue := []tea.Cmd{cmd}
	for steps := 0; len(queue) > 0; steps++ {
		require.Less(t, steps, 1000, "model did not settle")
		c := queue[0]
		queue = queue[1:]
		if c == nil {
			continue
		}
		msg := runCmd(t, c)
		if batch, ok := msg.(tea.BatchMsg); ok {
			queue = append(queue, batch...)
			continue
		}
		if !ours(msg) {
			continue
		}
		var next tea.Cmd
		m, next = update(m, msg)
		queue = append(queue, next)
		m = drainEvents(m)
	}
	return drainEvents(m)
}

func press(t *testing.T, m Model, keys ...string) Model {
	t.Helper()
	for _, k := range keys {
		var cmd tea.Cmd
		m, cmd = update(m, key(k))
		m = settle(t, m, cmd)
	}
	return m
}

func TestNew_RedirectsToLoginWhenSignedOut(t *testing.T) {
	h := newHarness(t)
	for _, v := range []guard.View{guard.ViewScan, guard.ViewDashboard, guard.ViewExplain} {
		m := h.model(t, v)
		assert.Equal(t, guard.ViewLogin, m.Current(), v)
	}
}

func TestNew_SignedInSkipsLogin(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, alice)
	m := h.model(t, guard.ViewLogin)
	assert.Equal(t, guard.ViewScan, m.Current())
}

func TestModel_Init(t *testing.T) {
	h := newHarness(t)
	m := h.model(t, guard.ViewLogin)
	assert.NotNil(t, m.Init())
}

func TestModel_QuitKey(t *testing.T) {
	h := newHarness(t)
	m := h.model(t, guard.ViewLogin)
	m, cmd := update(m, key("ctrl+c"))
	assert.True(t, m.quitting)
	assert.NotNil(t, cmd)
	assert.Empty(t, m.View())
}

func TestLogin_Success(t *testing.T) {
	h := newHarness(t)
	m := h.model(t, guard.ViewLogin)

	m = press(t, m, "ada@example.com")
	m = press(t, m, "tab", "secret", "enter")

	assert.Equal(t, guard.ViewScan, m.Current())
	notice, isErr := m.Notice()
	assert.False(t, isErr)
	assert.Equal(t, "Welcome, ada.", notice)
	assert.True(t, h.store.Authenticated())
}

func TestLogin_Failure(t *testing.T) {
	h := newHarness(t)
	m := h.model(t, guard.ViewLogin)
	m.login.inputs[fieldEmail].SetValue("ada@example.com")
	m.login.inputs[fieldPassword].SetValue("bad")

	m = press(t, m, "enter")
	assert.Equal(t, guard.ViewLogin, m.Current())
	notice, isErr := m.Notice()
	assert.True(t, isErr)
	assert.Equal(t, "Error: Invalid credentials", notice)
	assert.False(t, m.login.pending)
}

func TestLogin_RequiresAllFields(t *testing.T) {
	h := newHarness(t)
	m := h.model(t, guard.ViewLogin)
	m.login.inputs[fieldEmail].SetValue("ada@example.com")

	m = press(t, m, "enter")
	notice, _ := m.Notice()
	assert.Equal(t, msgFillAllFields, notice)
	assert.Zero(t, h.auth.count())
}

func TestLogin_RegisterModeAsksForUsername(t *testing.T) {
	h := newHarness(t)
	m := h.model(t, guard.ViewLogin)

	m, _ = update(m, tea.KeyMsg{Type: tea.KeyCtrlT})
	assert.True(t, m.login.register)
	assert.Equal(t, fieldUsername, m.login.focused)
	assert.Contains(t, m.View(), "Create Account")

	m.login.inputs[fieldUsername].SetValue("ada")
	m.login.inputs[fieldEmail].SetValue("ada@example.com")
	m.login.inputs[fieldPassword].SetValue("pw")
	m = press(t, m, "enter")
	assert.Equal(t, guard.ViewScan, m.Current())
}

func TestLogin_Guest(t *testing.T) {
	h := newHarness(t)
	m := h.model(t, guard.ViewLogin)
	m = press(t, m, "ctrl+g")

	assert.Equal(t, guard.ViewScan, m.Current())
	id, ok := h.store.Current()
	require.True(t, ok)
	assert.True(t, id.IsGuest())
}

func TestLogin_NavigationKeysInactive(t *testing.T) {
	h := newHarness(t)
	m := h.model(t, guard.ViewLogin)
	m = press(t, m, "ctrl+d")
	assert.Equal(t, guard.ViewLogin, m.Current())
}

func writeClip(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("RIFF\x24\x00\x00\x00WAVEfmt "), 0o600))
	return path
}

func TestScan_StageAnalyzeAndShowResult(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, alice)
	m := h.model(t, guard.ViewScan)

	m.scanner.path.SetValue(writeClip(t, "clip.wav"))
	m = press(t, m, "enter")
	assert.Equal(t, scan.FileSelected, h.deps.Scan.State())
	notice, _ := m.Notice()
	assert.Equal(t, "Selected clip.wav. Press enter to analyze.", notice)

	m = press(t, m, "enter")
	require.Equal(t, scan.Complete, h.deps.Scan.State())
	assert.False(t, m.scanner.scanning)

	view := m.View()
	assert.Contains(t, view, "REAL HUMAN")
	assert.Contains(t, view, "82.0%")
	assert.Contains(t, view, "breathing pauses detected")

	m = press(t, m, "d")
	notice, isErr := m.Notice()
	assert.False(t, isErr)
	assert.Contains(t, notice, history.MsgDownloaded)
	assert.Contains(t, notice, "Forensic_Report_clip.wav.pdf")

	m = press(t, m, "n")
	assert.Equal(t, scan.Idle, h.deps.Scan.State())
	assert.Contains(t, m.View(), "Upload Audio")
}

func TestScan_RejectsUnsupportedAndMultiple(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, alice)
	m := h.model(t, guard.ViewScan)

	m.scanner.path.SetValue("notes.txt")
	m = press(t, m, "enter")
	notice, isErr := m.Notice()
	assert.True(t, isErr)
	assert.Contains(t, notice, "Unsupported file type")

	m.scanner.path.SetValue("a.wav b.wav")
	m = press(t, m, "enter")
	notice, _ = m.Notice()
	assert.Equal(t, "Select exactly one audio file.", notice)
	assert.Equal(t, scan.Idle, h.deps.Scan.State())
}

func TestScan_EnterWithoutFile(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, alice)
	m := h.model(t, guard.ViewScan)

	m = press(t, m, "enter")
	notice, _ := m.Notice()
	assert.Equal(t, "Select an audio file first.", notice)
}

func TestScan_KeysIgnoredWhileScanning(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, alice)
	m := h.model(t, guard.ViewScan)
	require.NoError(t, h.deps.Scan.StagePaths([]string{writeClip(t, "clip.wav")}))

	m, cmd := update(m, key("enter"))
	require.NotNil(t, cmd)
	assert.True(t, m.scanner.scanning)

	_, again := update(m, key("enter"))
	assert.Nil(t, again, "no second submission while a scan is in flight")

	m = settle(t, m, cmd)
	assert.Equal(t, scan.Complete, h.deps.Scan.State())
}

func TestScan_GuestCannotDownload(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, guest)
	m := h.model(t, guard.ViewScan)
	require.NoError(t, h.deps.Scan.StagePaths([]string{writeClip(t, "clip.wav")}))
	m = press(t, m, "enter")
	require.Equal(t, scan.Complete, h.deps.Scan.State())

	m = press(t, m, "d")
	notice, isErr := m.Notice()
	assert.True(t, isErr)
	assert.Equal(t, guard.MsgDownloadRestricted, notice)
}

func TestDashboard_GuestSeesNoticeWithoutCall(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, guest)
	m := h.model(t, guard.ViewScan)

	m = press(t, m, "ctrl+d")
	assert.Equal(t, guard.ViewDashboard, m.Current())
	assert.Contains(t, m.View(), guard.MsgHistoryRestricted)
	assert.Zero(t, h.backend.histories)
}

func TestDashboard_ListAndDeleteWithConfirmation(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, alice)
	m := h.model(t, guard.ViewScan)

	m = press(t, m, "ctrl+d")
	require.Len(t, m.dashboard.records, 2)
	assert.Equal(t, 1, m.dashboard.summary.Synthetic)
	view := m.View()
	assert.Contains(t, view, "b.wav")
	assert.Contains(t, view, "AI Generated")

	m = press(t, m, "x")
	require.NotNil(t, m.dashboard.confirm)
	assert.Contains(t, m.View(), "Delete b.wav permanently? (y/n)")

	m = press(t, m, "n")
	assert.Nil(t, m.dashboard.confirm)
	assert.Empty(t, h.backend.deletes)

	m = press(t, m, "x", "y")
	assert.Equal(t, []string{"2"}, h.backend.deletes)
	require.Len(t, m.dashboard.records, 1)
	assert.Equal(t, "1", m.dashboard.records[0].ID)
	notice, _ := m.Notice()
	assert.Equal(t, history.MsgDeleted, notice)
}

func TestExplain_ResumesAfterNewFileStarted(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, alice)
	m := h.model(t, guard.ViewScan)
	require.NoError(t, h.deps.Scan.StagePaths([]string{writeClip(t, "a.wav")}))
	m = press(t, m, "enter")

	m = press(t, m, "e")
	m = press(t, m, "why", "enter")
	require.Len(t, m.chat.transcript, 3)

	m = press(t, m, "ctrl+s")
	m = press(t, m, "n")
	_, ok := h.deps.Scan.Result()
	require.False(t, ok)

	m = press(t, m, "ctrl+e")
	require.Len(t, m.chat.transcript, 3)
	assert.Equal(t, explain.SubjectGreeting("a.wav"), m.chat.transcript[0].Text)
	assert.Equal(t, "Answer to why", m.chat.transcript[2].Text)
}

func TestExplain_ConversationFollowsIdentity(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, alice)
	m := h.model(t, guard.ViewScan)
	require.NoError(t, h.deps.Scan.StagePaths([]string{writeClip(t, "a.wav")}))
	m = press(t, m, "enter")

	m = press(t, m, "e")
	require.Equal(t, guard.ViewExplain, m.Current())
	require.Len(t, m.chat.transcript, 1)
	assert.Equal(t, explain.SubjectGreeting("a.wav"), m.chat.transcript[0].Text)

	m = press(t, m, "why", "enter")
	require.Len(t, m.chat.transcript, 3)
	assert.Equal(t, "Answer to why", m.chat.transcript[2].Text)

	m = press(t, m, "ctrl+l")
	assert.Equal(t, guard.ViewLogin, m.Current())
	notice, _ := m.Notice()
	assert.Equal(t, msgSignedOut, notice)

	h.signIn(t, bob)
	m = drainEvents(m)
	assert.Equal(t, guard.ViewScan, m.Current())

	m = press(t, m, "ctrl+e")
	require.Len(t, m.chat.transcript, 1)
	assert.Equal(t, explain.DefaultGreeting, m.chat.transcript[0].Text)
	assert.NotContains(t, m.View(), "Answer to why")
}

func TestExplain_ClearAndBlankMessages(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, alice)
	m := h.model(t, guard.ViewExplain)

	m = press(t, m, " ", "enter")
	assert.Len(t, m.chat.transcript, 1)

	m = press(t, m, "ctrl+x")
	require.Len(t, m.chat.transcript, 1)
	assert.Equal(t, explain.ClearedNotice, m.chat.transcript[0].Text)
}

func TestSession_ExpiryReturnsToLogin(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, alice)
	m := h.model(t, guard.ViewDashboard)

	h.store.Evict(context.Background(), session.ReasonExpired)
	m = drainEvents(m)

	assert.Equal(t, guard.ViewLogin, m.Current())
	notice, isErr := m.Notice()
	assert.True(t, isErr)
	assert.Equal(t, api.MsgSessionExpired, notice)
}

func TestSession_ExternalLogout(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, alice)
	m := h.model(t, guard.ViewScan)

	m, _ = update(m, sessionEventMsg(session.Event{Kind: session.LoggedOut, Reason: session.ReasonExternal}))
	notice, _ := m.Notice()
	assert.Equal(t, msgSignedOutExternal, notice)
}

func TestModel_WindowResize(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, alice)
	m := h.model(t, guard.ViewExplain)
	m, _ = update(m, tea.WindowSizeMsg{Width: 120, Height: 40})
	assert.Equal(t, 112, m.chat.viewport.Width)
	assert.Equal(t, 26, m.chat.viewport.Height)
}

func TestParsePaths(t *testing.T) {
	dir := t.TempDir()
	spaced := filepath.Join(dir, "my clip.wav")
	require.NoError(t, os.WriteFile(spaced, []byte("x"), 0o600))

	assert.Nil(t, parsePaths("  "))
	assert.Equal(t, []string{spaced}, parsePaths(spaced))
	assert.Equal(t, []string{spaced}, parsePaths("'"+spaced+"'"))
	assert.Equal(t, []string{spaced}, parsePaths(`"`+spaced+`"`))
	assert.Equal(t, []string{spaced}, parsePaths(strings.ReplaceAll(spaced, " ", `\ `)))
	assert.Equal(t, []string{"a.wav", "b.wav"}, parsePaths("a.wav b.wav"))
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "512 B", humanBytes(512))
	assert.Equal(t, "1.5 KiB", humanBytes(1536))
	assert.Equal(t, "2.0 MiB", humanBytes(2<<20))
}
