package scan

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyrsmithlabs/verivox/internal/api"
	"github.com/fyrsmithlabs/verivox/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct{ ok atomic.Bool }

func (f *fakeSession) Authenticated() bool { return f.ok.Load() }

func signedIn() *fakeSession {
	s := &fakeSession{}
	s.ok.Store(true)
	return s
}

// fakeDetector returns resp/err, optionally waiting on release first.
type fakeDetector struct {
	mu      sync.Mutex
	calls   int
	names   []string
	ctype   []string
	resp    *api.DetectResponse
	err     error
	release chan struct{}
	entered chan struct{}
}

func (f *fakeDetector) Detect(ctx context.Context, filename, contentType string, data []byte) (*api.DetectResponse, error) {
	f.mu.Lock()
	f.calls++
	f.names = append(f.names, filename)
	f.ctype = append(f.ctype, contentType)
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.resp, f.err
}

func (f *fakeDetector) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func strPtr(s string) *string { return &s }

func humanResponse() *api.DetectResponse {
	return &api.DetectResponse{
		Filename:        "clip.wav",
		Verdict:         "Real Human",
		ConfidenceScore: 18,
		Reasons:         []string{"natural breathing"},
		ID:              strPtr("r1"),
		Raw:             []byte(`{"verdict":"Real Human"}`),
	}
}

func fastOptions() Options {
	return Options{PhaseInterval: time.Millisecond, TrailingDelay: 0}
}

func audio() *bytes.Reader {
	return bytes.NewReader([]byte("RIFF\x24\x00\x00\x00WAVEfmt "))
}

func TestWorkflow_StageTransitions(t *testing.T) {
	w := New(&fakeDetector{}, signedIn(), fastOptions())
	assert.Equal(t, Idle, w.State())

	require.NoError(t, w.Stage("a.wav", audio()))
	assert.Equal(t, FileSelected, w.State())

	require.NoError(t, w.Stage("b.mp3", audio()))
	staged, ok := w.Staged()
	require.True(t, ok)
	assert.Equal(t, "b.mp3", staged.Name, "restaging replaces the file")
}

func TestWorkflow_StageRejections(t *testing.T) {
	tests := []struct {
		name  string
		file  string
		data  []byte
		limit int64
		want  error
	}{
		{"unsupported extension", "notes.txt", []byte("x"), 0, ErrUnsupportedType},
		{"no extension", "clip", []byte("x"), 0, ErrUnsupportedType},
		{"empty", "clip.wav", nil, 0, ErrEmptyFile},
		{"too large", "clip.wav", make([]byte, 11), 10, ErrFileTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := New(&fakeDetector{}, signedIn(), Options{MaxUploadBytes: tt.limit})
			err := w.Stage(tt.file, bytes.NewReader(tt.data))
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, Idle, w.State())
		})
	}
}

func TestWorkflow_StageExactLimit(t *testing.T) {
	w := New(&fakeDetector{}, signedIn(), Options{MaxUploadBytes: 10})
	require.NoError(t, w.Stage("clip.WAV", bytes.NewReader(make([]byte, 10))))
}

func TestWorkflow_SniffFallback(t *testing.T) {
	w := New(&fakeDetector{}, signedIn(), fastOptions())
	require.NoError(t, w.Stage("clip.mp3", bytes.NewReader([]byte("not really audio"))))
	staged, _ := w.Staged()
	assert.Equal(t, FallbackContentType, staged.ContentType)
}

func TestWorkflow_StagePaths(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "voice.flac")
	require.NoError(t, os.WriteFile(good, []byte("fLaC0000"), 0o600))

	w := New(&fakeDetector{}, signedIn(), fastOptions())

	assert.ErrorIs(t, w.StagePaths(nil), ErrNoFile)
	assert.ErrorIs(t, w.StagePaths([]string{good, good}), ErrMultipleFiles)
	assert.ErrorIs(t, w.StagePaths([]string{filepath.Join(dir, "x.txt")}), ErrUnsupportedType)
	assert.Equal(t, Idle, w.State())

	require.NoError(t, w.StagePaths([]string{good}))
	staged, ok := w.Staged()
	require.True(t, ok)
	assert.Equal(t, "voice.flac", staged.Name)
	assert.Equal(t, 8, staged.Size())
}

func TestWorkflow_ScanSuccess(t *testing.T) {
	det := &fakeDetector{resp: humanResponse()}
	w := New(det, signedIn(), fastOptions())
	require.NoError(t, w.Stage("clip.wav", audio()))

	var phases []Progress
	res, err := w.Scan(context.Background(), func(p Progress) { phases = append(phases, p) })
	require.NoError(t, err)

	assert.Equal(t, Complete, w.State())
	assert.Equal(t, VerdictHuman, res.Verdict)
	assert.InDelta(t, 82.0, res.DisplayScore(), 0.0001)
	assert.Equal(t, "r1", res.ReportID)
	assert.JSONEq(t, `{"verdict":"Real Human"}`, string(res.Raw))

	_, staged := w.Staged()
	assert.False(t, staged, "staged file is cleared after success")

	require.Len(t, phases, len(Phases)+1)
	for i, name := range Phases {
		assert.Equal(t, i, phases[i].Index)
		assert.Equal(t, name, phases[i].Name)
	}
	assert.True(t, phases[len(Phases)].Done())
	assert.InDelta(t, 1.0, phases[len(Phases)].Fraction(), 0.0001)
}

func TestWorkflow_ScanRequiresSessionAndFile(t *testing.T) {
	det := &fakeDetector{resp: humanResponse()}

	w := New(det, signedIn(), fastOptions())
	_, err := w.Scan(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoFile)

	out := &fakeSession{}
	w = New(det, out, fastOptions())
	require.NoError(t, w.Stage("clip.wav", audio()))
	_, err = w.Scan(context.Background(), nil)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Equal(t, FileSelected, w.State())
	assert.Zero(t, det.Calls())
}

func TestWorkflow_SingleFlight(t *testing.T) {
	det := &fakeDetector{
		resp:    humanResponse(),
		release: make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	w := New(det, signedIn(), fastOptions())
	require.NoError(t, w.Stage("clip.wav", audio()))

	errc := make(chan error, 1)
	go func() {
		_, err := w.Scan(context.Background(), nil)
		errc <- err
	}()
	<-det.entered

	assert.Equal(t, Scanning, w.State())
	_, err := w.Scan(context.Background(), nil)
	assert.ErrorIs(t, err, ErrScanInFlight)
	assert.ErrorIs(t, w.Stage("other.wav", audio()), ErrScanInFlight)

	close(det.release)
	require.NoError(t, <-errc)
	assert.Equal(t, 1, det.Calls())
	assert.Equal(t, Complete, w.State())
}

func TestWorkflow_CompletionWaitsForAnimation(t *testing.T) {
	opts := Options{PhaseInterval: 20 * time.Millisecond, TrailingDelay: 30 * time.Millisecond}
	w := New(&fakeDetector{resp: humanResponse()}, signedIn(), opts)
	require.NoError(t, w.Stage("clip.wav", audio()))

	start := time.Now()
	_, err := w.Scan(context.Background(), nil)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), w.AnimationDuration()+opts.TrailingDelay)
}

func TestWorkflow_CompletionWaitsForResponse(t *testing.T) {
	det := &fakeDetector{resp: humanResponse(), release: make(chan struct{})}
	opts := Options{PhaseInterval: time.Millisecond, TrailingDelay: 10 * time.Millisecond}
	w := New(det, signedIn(), opts)
	require.NoError(t, w.Stage("clip.wav", audio()))

	slow := 60 * time.Millisecond
	time.AfterFunc(slow, func() { close(det.release) })

	start := time.Now()
	_, err := w.Scan(context.Background(), nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), slow+opts.TrailingDelay)
}

func TestWorkflow_AuthFailureResets(t *testing.T) {
	det := &fakeDetector{err: &api.Error{Category: api.CategoryAuth, Status: 401}}
	w := New(det, signedIn(), fastOptions())
	require.NoError(t, w.Stage("clip.wav", audio()))

	_, err := w.Scan(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, api.IsAuth(err))
	assert.Equal(t, Idle, w.State())
	_, ok := w.Staged()
	assert.False(t, ok)
}

func TestWorkflow_OtherFailureKeepsFile(t *testing.T) {
	tests := []struct {
		name string
		err  error
		msg  string
	}{
		{"too large", &api.Error{Category: api.CategoryPayloadTooLarge, Status: 413}, api.MsgFileTooLarge},
		{"network", &api.Error{Category: api.CategoryNetwork, Err: errors.New("reset")}, api.MsgNetworkLost},
		{"server", &api.Error{Category: api.CategoryServer, Status: 500, Detail: "boom"}, "Server Error: boom"},
		{"other", errors.New("weird"), api.MsgAnalysisFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := New(&fakeDetector{err: tt.err}, signedIn(), fastOptions())
			require.NoError(t, w.Stage("clip.wav", audio()))

			_, err := w.Scan(context.Background(), nil)
			require.Error(t, err)
			assert.Equal(t, FileSelected, w.State())
			staged, ok := w.Staged()
			require.True(t, ok)
			assert.Equal(t, "clip.wav", staged.Name)
			assert.Equal(t, tt.msg, UserMessage(err))
		})
	}
}

func TestWorkflow_ResetAfterComplete(t *testing.T) {
	w := New(&fakeDetector{resp: humanResponse()}, signedIn(), fastOptions())
	require.NoError(t, w.Stage("clip.wav", audio()))
	_, err := w.Scan(context.Background(), nil)
	require.NoError(t, err)

	w.Reset()
	assert.Equal(t, Idle, w.State())
	_, ok := w.Result()
	assert.False(t, ok)
}

func TestWorkflow_RestageClearsResult(t *testing.T) {
	w := New(&fakeDetector{resp: humanResponse()}, signedIn(), fastOptions())
	require.NoError(t, w.Stage("clip.wav", audio()))
	_, err := w.Scan(context.Background(), nil)
	require.NoError(t, err)

	require.NoError(t, w.Stage("next.wav", audio()))
	assert.Equal(t, FileSelected, w.State())
	_, ok := w.Result()
	assert.False(t, ok)
}

func TestWorkflow_LogoutAbortsScan(t *testing.T) {
	store := session.NewStore(session.NewMemoryStorage(), nil)
	require.NoError(t, store.Login(context.Background(), session.Identity{
		DisplayName: "Ada", Email: "ada@example.com", Role: session.RoleStandard, Credential: "tok",
	}))

	det := &fakeDetector{
		resp:    humanResponse(),
		release: make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	w := New(det, store, fastOptions())
	stop := w.Follow(store)
	defer stop()
	require.NoError(t, w.Stage("clip.wav", audio()))

	errc := make(chan error, 1)
	go func() {
		_, err := w.Scan(context.Background(), nil)
		errc <- err
	}()
	<-det.entered

	require.NoError(t, store.Logout(context.Background()))
	assert.Equal(t, Idle, w.State())

	close(det.release)
	assert.ErrorIs(t, <-errc, ErrScanAborted)
	assert.Equal(t, Idle, w.State())
	_, ok := w.Result()
	assert.False(t, ok, "late result is not shown after sign-out")
}

func TestWorkflow_CancelStopsScan(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"during animation", Options{PhaseInterval: time.Hour}},
		{"during trailing delay", Options{PhaseInterval: time.Millisecond, TrailingDelay: time.Hour}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det := &fakeDetector{resp: humanResponse(), entered: make(chan struct{}, 1)}
			w := New(det, signedIn(), tt.opts)
			require.NoError(t, w.Stage("clip.wav", audio()))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			phases := make(chan Progress, len(Phases)+1)
			errc := make(chan error, 1)
			go func() {
				_, err := w.Scan(ctx, func(p Progress) { phases <- p })
				errc <- err
			}()
			<-det.entered
			if tt.opts.TrailingDelay > 0 {
				for p := range phases {
					if p.Index == len(Phases) {
						break
					}
				}
			}
			cancel()

			select {
			case err := <-errc:
				assert.ErrorIs(t, err, context.Canceled)
			case <-time.After(5 * time.Second):
				t.Fatal("scan did not stop after cancellation")
			}
			assert.Equal(t, FileSelected, w.State())
			staged, ok := w.Staged()
			require.True(t, ok)
			assert.Equal(t, "clip.wav", staged.Name)
			_, ok = w.Result()
			assert.False(t, ok)
		})
	}
}

func TestUserMessage(t *testing.T) {
	assert.Empty(t, UserMessage(nil))
	assert.Equal(t, "You must be logged in to scan files.", UserMessage(ErrUnauthenticated))
	assert.Equal(t, api.MsgFileTooLarge, UserMessage(ErrFileTooLarge))
	assert.Equal(t, "Select exactly one audio file.", UserMessage(ErrMultipleFiles))
	assert.Equal(t, "Scan cancelled.", UserMessage(context.Canceled))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "file_selected", FileSelected.String())
	assert.Equal(t, "scanning", Scanning.String())
	assert.Equal(t, "complete", Complete.String())
	assert.Equal(t, "unknown", State(9).String())
}
