package stubserver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/verivox/internal/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type tokenHolder struct {
	mu  sync.Mutex
	tok string
}

func (h *tokenHolder) Credential() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tok
}

func (h *tokenHolder) set(tok string) {
	h.mu.Lock()
	h.tok = tok
	h.mu.Unlock()
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	srv    *Server
	http   *httptest.Server
	client *api.Client
	creds  *tokenHolder
	clock  *clock
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	cfg := Config{
		Secret:     []byte("test-secret"),
		BcryptCost: bcrypt.MinCost,
		Now:        clk.Now,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	srv, err := New(cfg, nil)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	creds := &tokenHolder{}
	client, err := api.New(creds, api.Options{BaseURL: ts.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)

	return &harness{srv: srv, http: ts, client: client, creds: creds, clock: clk}
}

func (h *harness) register(t *testing.T, name, email string) {
	t.Helper()
	resp, err := h.client.Register(context.Background(), api.RegisterRequest{Username: name, Email: email, Password: "pw-" + name})
	require.NoError(t, err)
	h.creds.set(resp.AccessToken)
}

func (h *harness) guest(t *testing.T) {
	t.Helper()
	resp, err := h.client.GuestLogin(context.Background())
	require.NoError(t, err)
	h.creds.set(resp.AccessToken)
}

func TestStub_StandardUserLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "ada", "ada@example.com")

	first, err := h.client.Detect(ctx, "a.wav", "audio/wav", []byte("first clip"))
	require.NoError(t, err)
	require.NotEmpty(t, first.ReportID())
	assert.True(t, first.CanDownloadPDF)
	assert.Contains(t, []string{verdictSynthetic, verdictHuman}, first.Verdict)
	assert.NotEmpty(t, first.Reasons)

	h.clock.advance(time.Minute)
	second, err := h.client.Detect(ctx, "b.wav", "audio/wav", []byte("second clip"))
	require.NoError(t, err)

	reports, err := h.client.History(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, second.ReportID(), reports[0].ID, "newest first")
	assert.Equal(t, first.ReportID(), reports[1].ID)
	ts, ok := reports[0].Time()
	require.True(t, ok)
	assert.True(t, h.clock.Now().Equal(ts), "got %s", ts)

	dl, err := h.client.DownloadReport(ctx, first.ReportID())
	require.NoError(t, err)
	assert.Equal(t, "Forensic_Report_a.wav.pdf", dl.Filename)
	assert.True(t, strings.HasPrefix(string(dl.Data), "%PDF-1.4"))

	del, err := h.client.DeleteReport(ctx, first.ReportID())
	require.NoError(t, err)
	assert.Equal(t, "Report deleted successfully", del.Message)

	reports, err = h.client.History(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)

	_, err = h.client.DeleteReport(ctx, first.ReportID())
	require.Error(t, err)
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "Report not found", apiErr.Detail)
}

func TestStub_VerdictsAreDeterministic(t *testing.T) {
	h := newHarness(t)
	h.guest(t)
	ctx := context.Background()

	a, err := h.client.Detect(ctx, "x.wav", "audio/wav", []byte("same bytes"))
	require.NoError(t, err)
	b, err := h.client.Detect(ctx, "y.wav", "audio/wav", []byte("same bytes"))
	require.NoError(t, err)

	assert.Equal(t, a.Verdict, b.Verdict)
	assert.Equal(t, a.ConfidenceScore, b.ConfidenceScore)
	assert.GreaterOrEqual(t, a.ConfidenceScore, 2.0)
	assert.LessOrEqual(t, a.ConfidenceScore, 98.0)
}

func TestAnalyze_VerdictMatchesScore(t *testing.T) {
	for _, in := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		a := analyze([]byte(in))
		if a.Score > 50 {
			assert.Equal(t, verdictSynthetic, a.Verdict)
		} else {
			assert.Equal(t, verdictHuman, a.Verdict)
		}
	}
}

func TestStub_GuestRestrictions(t *testing.T) {
	h := newHarness(t)
	h.guest(t)
	ctx := context.Background()

	res, err := h.client.Detect(ctx, "g.wav", "audio/wav", []byte("guest clip"))
	require.NoError(t, err)
	assert.Nil(t, res.ID, "guest results have a null _id")
	assert.False(t, res.CanDownloadPDF)
	assert.Contains(t, string(res.Raw), `"_id":null`)

	reports, err := h.client.History(ctx)
	require.NoError(t, err)
	assert.Empty(t, reports)

	_, err = h.client.DownloadReport(ctx, "anything")
	assert.Equal(t, api.CategoryForbidden, api.CategoryOf(err))
	assert.Equal(t, "Server Error: Guests cannot download reports", api.UserMessage(err))

	_, err = h.client.DeleteReport(ctx, "anything")
	assert.Equal(t, api.CategoryForbidden, api.CategoryOf(err))
}

func TestStub_LoginFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.client.Login(ctx, api.LoginRequest{Email: "nobody@example.com", Password: "x"})
	require.Error(t, err)
	assert.False(t, api.IsAuth(err), "bad credentials are a 400, not a session failure")
	assert.Equal(t, "Error: Invalid credentials", api.LoginMessage(err))

	h.register(t, "ada", "ada@example.com")
	_, err = h.client.Register(ctx, api.RegisterRequest{Username: "ada2", Email: "ada@example.com", Password: "x"})
	assert.Equal(t, "Error: Email already registered", api.LoginMessage(err))

	_, err = h.client.Login(ctx, api.LoginRequest{Email: "ada@example.com", Password: "wrong"})
	assert.Equal(t, "Error: Invalid credentials", api.LoginMessage(err))

	resp, err := h.client.Login(ctx, api.LoginRequest{Email: "ada@example.com", Password: "pw-ada"})
	require.NoError(t, err)
	assert.Equal(t, "ada", resp.Username)
	assert.Equal(t, "user", resp.UserType)
}

func TestStub_RegisterValidation(t *testing.T) {
	h := newHarness(t)
	_, err := h.client.Register(context.Background(), api.RegisterRequest{Username: "x"})
	require.Error(t, err)
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Contains(t, apiErr.Detail, "field required")
}

func TestStub_RequiresToken(t *testing.T) {
	h := newHarness(t)
	_, err := h.client.History(context.Background())
	assert.True(t, api.IsAuth(err))
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Not authenticated", apiErr.Detail)

	h.creds.set("not-a-jwt")
	_, err = h.client.History(context.Background())
	assert.True(t, api.IsAuth(err))
}

func TestStub_ExpiredToken(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.TokenTTL = time.Minute })
	h.register(t, "ada", "ada@example.com")

	_, err := h.client.History(context.Background())
	require.NoError(t, err)

	h.clock.advance(2 * time.Minute)
	_, err = h.client.History(context.Background())
	assert.True(t, api.IsAuth(err))
}

func TestStub_TokenFromOtherSecretRejected(t *testing.T) {
	other := newHarness(t, func(c *Config) { c.Secret = []byte("other") })
	other.register(t, "ada", "ada@example.com")

	h := newHarness(t)
	h.register(t, "ada", "ada@example.com")
	h.creds.set(other.creds.Credential())

	_, err := h.client.History(context.Background())
	assert.True(t, api.IsAuth(err))
}

func TestStub_ReportsAreOwnerScoped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.register(t, "ada", "ada@example.com")
	res, err := h.client.Detect(ctx, "a.wav", "audio/wav", []byte("ada's"))
	require.NoError(t, err)

	h.register(t, "bob", "bob@example.com")
	reports, err := h.client.History(ctx)
	require.NoError(t, err)
	assert.Empty(t, reports)

	_, err = h.client.DownloadReport(ctx, res.ReportID())
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "Not authorized", apiErr.Detail)
}

func TestStub_UploadLimit(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxUploadBytes = 16 })
	h.guest(t)

	_, err := h.client.Detect(context.Background(), "big.wav", "audio/wav", make([]byte, 1024))
	assert.Equal(t, api.CategoryPayloadTooLarge, api.CategoryOf(err))
	assert.Equal(t, api.MsgFileTooLarge, api.UserMessage(err))
}

func TestStub_Explain(t *testing.T) {
	h := newHarness(t)
	h.guest(t)
	ctx := context.Background()

	res, err := h.client.Detect(ctx, "a.wav", "audio/wav", []byte("clip"))
	require.NoError(t, err)

	reply, err := h.client.ExplainChat(ctx, "why?", res.Raw)
	require.NoError(t, err)
	assert.Contains(t, reply.Reply, "<b>Verdict:</b> "+res.Verdict)
	assert.Contains(t, reply.Reply, "<li>")

	reply, err = h.client.ExplainChat(ctx, "hello", nil)
	require.NoError(t, err)
	assert.Contains(t, reply.Reply, "no analysis loaded")
}

func TestStub_ExplainUnavailable(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.ExplainUnavailable = true })
	_, err := h.client.ExplainChat(context.Background(), "why?", nil)
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, "AI Busy. Try again.", apiErr.Detail)
}

func TestStub_MetricsAndHealth(t *testing.T) {
	h := newHarness(t)
	h.guest(t)
	_, err := h.client.History(context.Background())
	require.NoError(t, err)

	resp, err := http.Get(h.http.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(h.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `verivox_stub_requests_total{method="GET",route="/api/history",status="200"} 1`)
	assert.Contains(t, string(body), `verivox_stub_requests_total{method="POST",route="/auth/guest-login",status="200"} 1`)
}

func TestStub_UnknownRouteUsesDetailShape(t *testing.T) {
	h := newHarness(t)
	resp, err := http.Get(h.http.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"detail":"Not Found"}`, string(body))
}

func TestPlaceholderPDF(t *testing.T) {
	pdf := string(placeholderPDF(&report{Filename: "a (1).wav", Analysis: analysis{Verdict: verdictHuman, Score: 12}}))
	assert.True(t, strings.HasPrefix(pdf, "%PDF-1.4\n"))
	assert.True(t, strings.HasSuffix(pdf, "%%EOF\n"))
	assert.Contains(t, pdf, `a \(1\).wav`)
}
