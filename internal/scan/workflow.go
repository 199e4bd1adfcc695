// Package scan implements the upload and analyze workflow.
//
// A Workflow moves through Idle, FileSelected, Scanning and Complete. Only
// one scan runs at a time. While the backend call is in flight a fixed
// sequence of named phases plays on a timer; the Complete transition waits
// for both the response and the last phase, then a trailing delay.
package scan

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/fyrsmithlabs/verivox/internal/api"
	"github.com/fyrsmithlabs/verivox/internal/logging"
	"github.com/fyrsmithlabs/verivox/internal/session"
	"go.uber.org/zap"
)

// State is the workflow state.
type State int

const (
	Idle State = iota
	FileSelected
	Scanning
	Complete
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case FileSelected:
		return "file_selected"
	case Scanning:
		return "scanning"
	case Complete:
		return "complete"
	default:
		return "unknown"
	}
}

// Workflow errors.
var (
	ErrNoFile          = errors.New("no file selected")
	ErrMultipleFiles   = errors.New("exactly one audio file must be selected")
	ErrUnsupportedType = errors.New("unsupported audio file type")
	ErrEmptyFile       = errors.New("file is empty")
	ErrFileTooLarge    = errors.New("file exceeds the upload limit")
	ErrScanInFlight    = errors.New("a scan is already in progress")
	ErrUnauthenticated = errors.New("sign in to scan files")
	ErrScanAborted     = errors.New("scan aborted")
)

// Phases are the named steps of the progress sequence, in order.
var Phases = []string{
	"Metadata Analysis",
	"Noise & Frequency Scan",
	"Voice Naturalness Check",
	"AI Synthetic Detection",
	"Integrity Verification",
}

// Default timings.
const (
	DefaultPhaseInterval = 1200 * time.Millisecond
	DefaultTrailingDelay = 2 * time.Second
)

// Progress reports the animation position. Index counts started phases;
// Index == len(Phases) means the sequence has finished.
type Progress struct {
	Index int
	Name  string
}

// Fraction returns completed progress in [0, 1].
func (p Progress) Fraction() float64 {
	return float64(p.Index) / float64(len(Phases))
}

// Done reports whether the sequence has finished.
func (p Progress) Done() bool {
	return p.Index >= len(Phases)
}

// Detector submits audio for analysis.
type Detector interface {
	Detect(ctx context.Context, filename, contentType string, data []byte) (*api.DetectResponse, error)
}

// Session reports whether a credential is present.
type Session interface {
	Authenticated() bool
}

// Options configure a Workflow.
type Options struct {
	PhaseInterval  time.Duration
	TrailingDelay  time.Duration
	MaxUploadBytes int64 // 0 = no limit
	Logger         *logging.Logger
}

// Workflow is the scan state machine.
type Workflow struct {
	detector Detector
	session  Session
	opts     Options
	logger   *logging.Logger

	mu     sync.Mutex
	state  State
	staged *Staged
	result *Result
	gen    uint64 // bumped by Clear and Reset to orphan an in-flight scan
}

// New creates an idle workflow. Zero durations are used as-is.
func New(detector Detector, sess Session, opts Options) *Workflow {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Workflow{
		detector: detector,
		session:  sess,
		opts:     opts,
		logger:   logger.Named("scan"),
	}
}

// State returns the current state.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Staged returns the staged file, if any.
func (w *Workflow) Staged() (Staged, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.staged == nil {
		return Staged{}, false
	}
	return *w.staged, true
}

// Result returns the last result while Complete.
func (w *Workflow) Result() (Result, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.result == nil {
		return Result{}, false
	}
	return *w.result, true
}

// AnimationDuration is the time the phase sequence takes.
func (w *Workflow) AnimationDuration() time.Duration {
	return time.Duration(len(Phases)) * w.opts.PhaseInterval
}

// Stage reads r fully into memory and stages it under name. A previously
// staged file is replaced; a completed result is cleared. Staging is
// refused while a scan is in flight.
func (w *Workflow) Stage(name string, r io.Reader) error {
	if !accepted(name) {
		return ErrUnsupportedType
	}

	w.mu.Lock()
	scanning := w.state == Scanning
	w.mu.Unlock()
	if scanning {
		return ErrScanInFlight
	}

	staged, err := readStaged(name, r, w.opts.MaxUploadBytes)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == Scanning {
		return ErrScanInFlight
	}
	replaced := w.staged != nil
	w.staged = staged
	w.result = nil
	w.state = FileSelected

	w.logger.Debug(context.Background(), "file staged",
		zap.String("file", name),
		zap.String("content_type", staged.ContentType),
		zap.Int("bytes", staged.Size()),
		zap.Bool("replaced", replaced))
	return nil
}

// StagePaths stages exactly one file from disk. Zero or several paths are
// rejected without changing state.
func (w *Workflow) StagePaths(paths []string) error {
	switch len(paths) {
	case 0:
		return ErrNoFile
	case 1:
	default:
		return ErrMultipleFiles
	}
	f, err := openPath(paths[0])
	if err != nil {
		return err
	}
	defer f.Close()

	return w.Stage(baseName(paths[0]), f)
}

// Scan submits the staged file and blocks until the workflow reaches
// Complete or fails. onPhase, if non-nil, is called as each phase starts
// and once more when the sequence finishes.
//
// On an authentication failure the workflow returns to Idle with the
// staged file discarded. On any other failure, cancellation of ctx
// included, the staged file is kept and the workflow returns to
// FileSelected so the user can retry.
func (w *Workflow) Scan(ctx context.Context, onPhase func(Progress)) (Result, error) {
	w.mu.Lock()
	switch {
	case w.state == Scanning:
		w.mu.Unlock()
		return Result{}, ErrScanInFlight
	case w.staged == nil:
		w.mu.Unlock()
		return Result{}, ErrNoFile
	case w.session == nil || !w.session.Authenticated():
		w.mu.Unlock()
		return Result{}, ErrUnauthenticated
	}
	staged := *w.staged
	w.state = Scanning
	w.result = nil
	gen := w.gen
	w.mu.Unlock()

	if onPhase == nil {
		onPhase = func(Progress) {}
	}

	logger := w.logger
	logger.Info(ctx, "scan started", zap.String("file", staged.Name), zap.Int("bytes", staged.Size()))
	start := time.Now()

	type outcome struct {
		resp *api.DetectResponse
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := w.detector.Detect(ctx, staged.Name, staged.ContentType, staged.data)
		done <- outcome{resp: resp, err: err}
	}()

	var resp *api.DetectResponse
	animating := true
	phase := 0
	onPhase(Progress{Index: 0, Name: Phases[0]})

	timer := time.NewTimer(w.opts.PhaseInterval)
	defer timer.Stop()
	tick := timer.C

	for resp == nil || animating {
		select {
		case o := <-done:
			if o.err != nil {
				return Result{}, w.fail(ctx, gen, staged, o.err)
			}
			if o.resp == nil {
				return Result{}, w.fail(ctx, gen, staged, errors.New("empty detect response"))
			}
			resp = o.resp
			done = nil
		case <-tick:
			phase++
			if phase < len(Phases) {
				onPhase(Progress{Index: phase, Name: Phases[phase]})
				timer.Reset(w.opts.PhaseInterval)
				continue
			}
			onPhase(Progress{Index: len(Phases), Name: "Complete"})
			animating = false
			tick = nil
		case <-ctx.Done():
			return Result{}, w.fail(ctx, gen, staged, ctx.Err())
		}
	}

	if w.opts.TrailingDelay > 0 {
		trailing := time.NewTimer(w.opts.TrailingDelay)
		select {
		case <-trailing.C:
		case <-ctx.Done():
			trailing.Stop()
			return Result{}, w.fail(ctx, gen, staged, ctx.Err())
		}
	}

	res := FromResponse(resp, staged.Name)

	w.mu.Lock()
	if w.gen != gen {
		w.mu.Unlock()
		logger.Info(ctx, "scan result discarded", zap.String("file", staged.Name))
		return Result{}, ErrScanAborted
	}
	w.state = Complete
	w.result = &res
	w.staged = nil
	w.mu.Unlock()

	logger.Info(ctx, "scan complete",
		zap.String("file", res.SubjectFileName),
		zap.String("verdict", string(res.Verdict)),
		zap.Float64("display_score", res.DisplayScore()),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

// fail applies the error path of a scan.
func (w *Workflow) fail(ctx context.Context, gen uint64, staged Staged, err error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.gen != gen {
		return ErrScanAborted
	}

	if api.IsAuth(err) {
		w.state = Idle
		w.staged = nil
	} else {
		w.state = FileSelected
		kept := staged
		w.staged = &kept
	}
	w.result = nil

	w.logger.Warn(ctx, "scan failed",
		zap.String("file", staged.Name),
		zap.String("category", string(api.CategoryOf(err))),
		zap.String("state", w.state.String()),
		zap.Error(err))
	return err
}

// Reset discards the result and staged file ("analyze new file").
func (w *Workflow) Reset() {
	w.clear()
}

// Clear discards everything, including an in-flight scan's eventual
// result. Used on navigation to login and on sign-out.
func (w *Workflow) Clear() {
	w.clear()
}

func (w *Workflow) clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = Idle
	w.staged = nil
	w.result = nil
	w.gen++
}

// Follow clears the workflow whenever store signs out. The returned
// function stops following.
func (w *Workflow) Follow(store *session.Store) func() {
	return store.Subscribe(func(ev session.Event) {
		if ev.Kind == session.LoggedOut {
			w.Clear()
		}
	})
}

// UserMessage returns the message shown for a workflow error.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthenticated):
		return "You must be logged in to scan files."
	case errors.Is(err, ErrNoFile):
		return "Select an audio file first."
	case errors.Is(err, ErrMultipleFiles):
		return "Select exactly one audio file."
	case errors.Is(err, ErrUnsupportedType):
		return "Unsupported file type. Use .mp3, .wav, .m4a, .aac, .ogg or .flac."
	case errors.Is(err, ErrEmptyFile):
		return "The selected file is empty."
	case errors.Is(err, ErrFileTooLarge):
		return api.MsgFileTooLarge
	case errors.Is(err, ErrScanInFlight):
		return "A scan is already running."
	case errors.Is(err, ErrScanAborted), errors.Is(err, context.Canceled):
		return "Scan cancelled."
	default:
		return api.UserMessage(err)
	}
}
