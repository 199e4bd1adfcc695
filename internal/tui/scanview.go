package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/fyrsmithlabs/verivox/internal/api"
	"github.com/fyrsmithlabs/verivox/internal/guard"
	"github.com/fyrsmithlabs/verivox/internal/history"
	"github.com/fyrsmithlabs/verivox/internal/scan"
)

type scanState struct {
	path     textinput.Model
	progress progress.Model
	phase    scan.Progress
	staging  bool
	scanning bool
}

func newScanState() scanState {
	ti := textinput.New()
	ti.Placeholder = "Path to an audio file (.mp3 .wav .m4a .aac .ogg .flac)"
	ti.Width = 60
	ti.CharLimit = 4096

	return scanState{
		path: ti,
		progress: progress.New(
			progress.WithGradient("#00ffff", "#ff00ff"),
			progress.WithWidth(40),
		),
	}
}

func (s *scanState) enter(w *scan.Workflow) tea.Cmd {
	if w.State() == scan.Complete || s.scanning {
		s.path.Blur()
		return nil
	}
	return s.path.Focus()
}

func (s *scanState) reset() {
	s.path.SetValue("")
	s.staging = false
	s.scanning = false
	s.phase = scan.Progress{}
}

// Message types
type stageDoneMsg struct {
	name string
	err  error
}

type scanStartedMsg struct {
	phases <-chan scan.Progress
	done   <-chan scanDoneMsg
}

type scanPhaseMsg struct {
	progress scan.Progress
	phases   <-chan scan.Progress
	done     <-chan scanDoneMsg
}

type scanDoneMsg struct {
	result scan.Result
	err    error
}

type downloadDoneMsg struct {
	path string
	err  error
}

// parsePaths splits input into candidate paths. Input naming one existing
// file is taken whole, so paths with spaces work; quotes from terminal
// drag-and-drop are removed.
func parsePaths(input string) []string {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil
	}
	if unq, err := strconv.Unquote(input); err == nil {
		input = unq
	} else if len(input) > 1 && input[0] == '\'' && input[len(input)-1] == '\'' {
		input = input[1 : len(input)-1]
	}
	if _, err := os.Stat(input); err == nil {
		return []string{input}
	}
	if unescaped := strings.ReplaceAll(input, `\ `, " "); unescaped != input {
		if _, err := os.Stat(unescaped); err == nil {
			return []string{unescaped}
		}
	}
	return strings.Fields(input)
}

func stageCmd(w *scan.Workflow, input string) tea.Cmd {
	return func() tea.Msg {
		paths := parsePaths(input)
		err := w.StagePaths(paths)
		name := ""
		if st, ok := w.Staged(); ok {
			name = st.Name
		}
		return stageDoneMsg{name: name, err: err}
	}
}

func startScanCmd(ctx context.Context, w *scan.Workflow) tea.Cmd {
	return func() tea.Msg {
		phases := make(chan scan.Progress, len(scan.Phases)+1)
		done := make(chan scanDoneMsg, 1)
		go func() {
			res, err := w.Scan(ctx, func(p scan.Progress) {
				select {
				case phases <- p:
				default:
				}
			})
			done <- scanDoneMsg{result: res, err: err}
		}()
		return scanStartedMsg{phases: phases, done: done}
	}
}

func waitScan(phases <-chan scan.Progress, done <-chan scanDoneMsg) tea.Cmd {
	return func() tea.Msg {
		select {
		case p := <-phases:
			return scanPhaseMsg{progress: p, phases: phases, done: done}
		case d := <-done:
			return d
		}
	}
}

func downloadCmd(ctx context.Context, svc *history.Service, id, filename string) tea.Cmd {
	return func() tea.Msg {
		path, err := svc.Download(ctx, id, filename)
		return downloadDoneMsg{path: path, err: err}
	}
}

// downloadNotice returns the status text for a finished download.
func downloadNotice(msg downloadDoneMsg) (string, bool) {
	if msg.err != nil {
		return history.FailureMessage("download", msg.err), true
	}
	return fmt.Sprintf("%s Saved to %s", history.MsgDownloaded, msg.path), false
}

func (m Model) updateScan(msg tea.Msg) (tea.Model, tea.Cmd) {
	w := m.deps.Scan

	switch msg := msg.(type) {
	case stageDoneMsg:
		m.scanner.staging = false
		if msg.err != nil {
			m.setNotice(scan.UserMessage(msg.err), true)
			return m, nil
		}
		m.scanner.path.SetValue("")
		m.setNotice(fmt.Sprintf("Selected %s. Press enter to analyze.", msg.name), false)
		return m, nil

	case scanStartedMsg:
		return m, waitScan(msg.phases, msg.done)

	case scanPhaseMsg:
		m.scanner.phase = msg.progress
		return m, waitScan(msg.phases, msg.done)

	case scanDoneMsg:
		m.scanner.scanning = false
		switch {
		case errors.Is(msg.err, scan.ErrScanAborted):
		case api.IsAuth(msg.err):
			// The session event carries the notice and the redirect.
		case msg.err != nil:
			m.setNotice(scan.UserMessage(msg.err), true)
			return m, m.scanner.path.Focus()
		default:
			m.setNotice("", false)
			m.scanner.path.Blur()
		}
		return m, nil

	case downloadDoneMsg:
		m.setNotice(downloadNotice(msg))
		return m, nil

	case tea.KeyMsg:
		if m.scanner.scanning || m.scanner.staging {
			return m, nil
		}

		if w.State() == scan.Complete {
			return m.resultKey(msg)
		}

		switch msg.String() {
		case "enter":
			input := strings.TrimSpace(m.scanner.path.Value())
			if input != "" {
				m.scanner.staging = true
				return m, stageCmd(w, input)
			}
			if w.State() != scan.FileSelected {
				m.setNotice(scan.UserMessage(scan.ErrNoFile), true)
				return m, nil
			}
			m.scanner.scanning = true
			m.scanner.phase = scan.Progress{Name: scan.Phases[0]}
			m.setNotice("", false)
			return m, tea.Batch(startScanCmd(m.ctx, w), m.spinner.Tick)
		case "esc":
			w.Reset()
			m.scanner.reset()
			m.setNotice("", false)
			return m, m.scanner.path.Focus()
		}
	}

	var cmd tea.Cmd
	m.scanner.path, cmd = m.scanner.path.Update(msg)
	return m, cmd
}

// resultKey handles keys on the results screen.
func (m Model) resultKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "n":
		m.deps.Scan.Reset()
		m.scanner.reset()
		m.setNotice("", false)
		return m, m.scanner.path.Focus()
	case "e":
		return m.navigate(guard.ViewExplain)
	case "d":
		res, ok := m.deps.Scan.Result()
		if !ok {
			return m, nil
		}
		id, _ := m.deps.Session.Current()
		if err := guard.CanDownload(id); err != nil {
			m.setNotice(guard.Message(err), true)
			return m, nil
		}
		if !res.HasReport() {
			m.setNotice(guard.MsgDownloadRestricted, true)
			return m, nil
		}
		return m, downloadCmd(m.ctx, m.deps.History, res.ReportID, res.SubjectFileName)
	}
	return m, nil
}

func (m Model) viewScan() string {
	var b strings.Builder
	w := m.deps.Scan

	if m.scanner.scanning {
		b.WriteString(sectionStyle.Render("Analyzing") + "\n\n")
		for i, name := range scan.Phases {
			switch {
			case i < m.scanner.phase.Index:
				b.WriteString(humanStyle.Render("✓ ") + name + "\n")
			case i == m.scanner.phase.Index:
				b.WriteString(m.spinner.View() + " " + valueStyle.Render(name) + "\n")
			default:
				b.WriteString(dimStyle.Render("  "+name) + "\n")
			}
		}
		b.WriteString("\n" + m.scanner.progress.ViewAs(m.scanner.phase.Fraction()))
		return b.String()
	}

	if res, ok := w.Result(); ok && w.State() == scan.Complete {
		return renderResult(res)
	}

	b.WriteString(sectionStyle.Render("Upload Audio") + "\n\n")
	b.WriteString(m.scanner.path.View() + "\n")
	if st, ok := w.Staged(); ok {
		b.WriteString("\n" + labelStyle.Render("Selected: ") + valueStyle.Render(st.Name) +
			dimStyle.Render(fmt.Sprintf("  %s  %s", humanBytes(st.Size()), st.ContentType)) + "\n")
	}
	if m.scanner.staging {
		b.WriteString("\n" + m.spinner.View() + dimStyle.Render(" Reading file..."))
	}
	b.WriteString("\n" + footer("enter", "select / analyze", "esc", "clear", "ctrl+d", "history", "ctrl+e", "explain", "ctrl+l", "logout"))
	return b.String()
}

func verdictBadge(v scan.Verdict) string {
	switch v {
	case scan.VerdictSynthetic:
		return syntheticStyle.Render("AI GENERATED")
	case scan.VerdictHuman:
		return humanStyle.Render("REAL HUMAN")
	default:
		return warningStyle.Render("INCONCLUSIVE")
	}
}

func renderResult(res scan.Result) string {
	var b strings.Builder
	b.WriteString(sectionStyle.Render("Analysis Result") + "\n\n")
	b.WriteString(labelStyle.Render("File:    ") + valueStyle.Render(res.SubjectFileName) + "\n")
	b.WriteString(labelStyle.Render("Verdict: ") + verdictBadge(res.Verdict) + "\n")

	scoreLabel := "AI probability:   "
	if res.Verdict == scan.VerdictHuman {
		scoreLabel = "Human confidence: "
	}
	b.WriteString(labelStyle.Render(scoreLabel) + valueStyle.Render(fmt.Sprintf("%.1f%%", res.DisplayScore())) + "\n")

	if len(res.Findings) > 0 {
		b.WriteString(sectionStyle.Render("Findings") + "\n")
		for _, f := range res.Findings {
			b.WriteString("  • " + f + "\n")
		}
	}

	if res.HasReport() {
		b.WriteString("\n" + dimStyle.Render("Report "+res.ReportID))
	} else {
		b.WriteString("\n" + dimStyle.Render("Guest result: no report is kept."))
	}

	b.WriteString("\n" + footer("d", "download report", "e", "explain", "n", "new file", "ctrl+d", "history", "ctrl+l", "logout"))
	return b.String()
}

func humanBytes(n int) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := int64(n) / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
