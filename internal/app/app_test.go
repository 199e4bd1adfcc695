package app

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/fyrsmithlabs/verivox/internal/api"
	"github.com/fyrsmithlabs/verivox/internal/config"
	"github.com/fyrsmithlabs/verivox/internal/explain"
	"github.com/fyrsmithlabs/verivox/internal/logging"
	"github.com/fyrsmithlabs/verivox/internal/scan"
	"github.com/fyrsmithlabs/verivox/internal/session"
	"github.com/fyrsmithlabs/verivox/internal/stubserver"
	"github.com/fyrsmithlabs/verivox/internal/telemetry"
)

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	cfg, err := config.LoadWithFile("")
	require.NoError(t, err)

	cfg.API.BaseURL = baseURL
	cfg.API.Retry.Enabled = false
	cfg.Session.Dir = t.TempDir()
	cfg.Download.Dir = t.TempDir()
	cfg.Scan.PhaseInterval = config.Duration(time.Millisecond)
	cfg.Scan.TrailingDelay = 0
	return cfg
}

func startStub(t *testing.T) string {
	t.Helper()
	srv, err := stubserver.New(stubserver.Config{
		Secret:     []byte("app-test-secret"),
		BcryptCost: bcrypt.MinCost,
	}, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func newTestApp(t *testing.T, cfg *config.Config) (*App, *logging.TestLogger) {
	t.Helper()
	tl := logging.NewTestLogger()
	a, err := New(context.Background(), cfg, Options{Logger: tl.Logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a, tl
}

func writeClip(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF\x24\x00\x00\x00WAVEfmt some audio"), 0o600))
	return path
}

func TestApp_EndToEnd(t *testing.T) {
	ctx := context.Background()
	a, tl := newTestApp(t, testConfig(t, startStub(t)))

	id, err := a.Auth.Register(ctx, "ada", "ada@example.com", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "ada", id.DisplayName)
	assert.Equal(t, session.RoleStandard, id.Role)
	assert.True(t, a.Session.Authenticated())

	require.NoError(t, a.Scan.StagePaths([]string{writeClip(t)}))
	res, err := a.Scan.Scan(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "clip.wav", res.SubjectFileName)
	assert.True(t, res.HasReport())
	assert.NotEqual(t, scan.VerdictUnknown, res.Verdict)

	records, err := a.History.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, res.ReportID, records[0].ID)

	path, err := a.History.Download(ctx, res.ReportID, res.SubjectFileName)
	require.NoError(t, err)
	assert.Equal(t, "Forensic_Report_clip.wav.pdf", filepath.Base(path))
	pdf, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(pdf[:5]), "%PDF")

	a.Explain.Enter(id, &res)
	entries := a.Explain.Send(ctx, "Why this verdict?")
	require.Len(t, entries, 3)
	assert.Equal(t, explain.Assistant, entries[2].Sender)
	assert.NotEqual(t, explain.BusyReply, entries[2].Text)
	assert.NotEmpty(t, entries[2].Text)

	require.NoError(t, a.Auth.Logout(ctx))
	assert.False(t, a.Session.Authenticated())
	_, ok := a.Scan.Result()
	assert.False(t, ok, "logout clears the scan result")
	assert.Empty(t, a.Explain.Transcript(), "logout drops the chat")

	tl.AssertNoSecrets(t)
}

func TestApp_RestoresPersistedSession(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, startStub(t))

	first, _ := newTestApp(t, cfg)
	_, err := first.Auth.Guest(ctx)
	require.NoError(t, err)

	second, _ := newTestApp(t, cfg)
	id, ok := second.Session.Current()
	require.True(t, ok)
	assert.True(t, id.IsGuest())
	assert.Equal(t, api.GuestDisplayName, id.DisplayName)
}

func TestApp_UnauthorizedEvictsSession(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestApp(t, testConfig(t, startStub(t)))

	require.NoError(t, a.Session.Login(ctx, session.Identity{
		DisplayName: "mallory",
		Email:       "mallory@example.com",
		Role:        session.RoleStandard,
		Credential:  "not-a-valid-token",
	}))

	var events []session.Event
	stop := a.Session.Subscribe(func(ev session.Event) { events = append(events, ev) })
	defer stop()

	_, err := a.History.List(ctx)
	require.Error(t, err)
	assert.True(t, api.IsAuth(err))
	assert.False(t, a.Session.Authenticated())
	require.Len(t, events, 1)
	assert.Equal(t, session.LoggedOut, events[0].Kind)
	assert.Equal(t, session.ReasonExpired, events[0].Reason)
}

func TestAuth_LoginFailures(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestApp(t, testConfig(t, startStub(t)))

	_, err := a.Auth.Login(ctx, "nobody@example.com", "wrong")
	require.Error(t, err)
	assert.Equal(t, "Error: Invalid credentials", api.LoginMessage(err))
	assert.False(t, a.Session.Authenticated())

	_, err = a.Auth.Guest(ctx)
	require.NoError(t, err)
	_, err = a.Auth.Login(ctx, "nobody@example.com", "wrong")
	assert.ErrorIs(t, err, session.ErrSessionActive)
}

func TestApp_WatchSkipsUnwatchableStorage(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	a, err := New(context.Background(), cfg, Options{
		Storage: session.NewMemoryStorage(),
		Logger:  logging.NewNop(),
	})
	require.NoError(t, err)
	defer a.Close(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	assert.NoError(t, a.Watch(ctx))

	cfg.Session.Watch = false
	assert.NoError(t, a.Watch(ctx))
}

func TestApp_TUIDeps(t *testing.T) {
	a, _ := newTestApp(t, testConfig(t, "http://127.0.0.1:1"))
	deps := a.TUIDeps()
	assert.Same(t, a.Session, deps.Session)
	assert.Same(t, a.Scan, deps.Scan)
	assert.Same(t, a.Explain, deps.Explain)
	assert.Same(t, a.History, deps.History)
	assert.NotNil(t, deps.Auth)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t, "not a url")
	_, err := New(context.Background(), cfg, Options{Logger: logging.NewNop()})
	assert.Error(t, err)
}

func TestNewStubServer(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:8000")
	cfg.Stub.Port = 18080
	cfg.Stub.Secret = config.Secret("shared")

	srv, err := NewStubServer(cfg, logging.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:18080", srv.Addr())
}

func TestApp_BridgesLogsAndTraces(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, startStub(t))
	cfg.Log.Level = "debug"
	tt := telemetry.NewTestTelemetry()

	a, err := New(ctx, cfg, Options{Telemetry: tt.Telemetry})
	require.NoError(t, err)
	defer func() { _ = a.Close(ctx) }()

	_, err = a.Auth.Register(ctx, "grace", "grace@example.com", "correct-horse")
	require.NoError(t, err)
	_, err = a.History.List(ctx)
	require.NoError(t, err)

	tt.AssertSpanExists(t, "api.history")
	assert.Contains(t, tt.LogBodies(), "app initialized")
	assert.Contains(t, tt.LogBodies(), "signed in")
}
