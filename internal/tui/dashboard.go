package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fyrsmithlabs/verivox/internal/guard"
	"github.com/fyrsmithlabs/verivox/internal/history"
	"github.com/fyrsmithlabs/verivox/internal/scan"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
)

type dashboardState struct {
	table      table.Model
	records    []history.Record
	summary    history.Summary
	loading    bool
	loaded     bool
	restricted string // guest notice shown instead of the table
	confirm    *history.Record
}

func newDashboardState() dashboardState {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Time", Width: 16},
			{Title: "File", Width: 28},
			{Title: "Verdict", Width: 12},
			{Title: "Score", Width: 7},
		}),
		table.WithFocused(true),
		table.WithWidth(72),
		table.WithHeight(10),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("238")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("0")).
		Background(lipgloss.Color("51"))
	t.SetStyles(styles)

	return dashboardState{table: t}
}

func (d *dashboardState) reset() {
	d.records = nil
	d.summary = history.Summary{}
	d.loading = false
	d.loaded = false
	d.restricted = ""
	d.confirm = nil
	d.table.SetRows(nil)
}

func (d *dashboardState) resize(width, height int) {
	if h := height - 16; h > 3 {
		d.table.SetHeight(h)
	}
}

func (d *dashboardState) setRecords(records []history.Record) {
	d.records = records
	d.summary = history.Summarize(records)
	d.loaded = true

	rows := make([]table.Row, 0, len(records))
	for _, r := range records {
		ts := "-"
		if !r.Timestamp.IsZero() {
			ts = r.Timestamp.Local().Format("2006-01-02 15:04")
		}
		rows = append(rows, table.Row{ts, r.Filename, verdictLabel(r.Verdict), fmt.Sprintf("%.1f%%", r.ConfidenceScore)})
	}
	d.table.SetRows(rows)
	if d.table.Cursor() >= len(rows) && len(rows) > 0 {
		d.table.SetCursor(len(rows) - 1)
	}
}

func (d *dashboardState) selected() (history.Record, bool) {
	i := d.table.Cursor()
	if i < 0 || i >= len(d.records) {
		return history.Record{}, false
	}
	return d.records[i], true
}

func verdictLabel(v scan.Verdict) string {
	switch v {
	case scan.VerdictSynthetic:
		return "AI Generated"
	case scan.VerdictHuman:
		return "Real Human"
	default:
		return "Unknown"
	}
}

// Message types
type historyMsg struct {
	op      string // "list" or "delete"
	records []history.Record
	err     error
}

func listCmd(ctx context.Context, svc *history.Service) tea.Cmd {
	return func() tea.Msg {
		records, err := svc.List(ctx)
		return historyMsg{op: "list", records: records, err: err}
	}
}

func deleteCmd(ctx context.Context, svc *history.Service, id string) tea.Cmd {
	return func() tea.Msg {
		records, err := svc.Delete(ctx, id)
		return historyMsg{op: "delete", records: records, err: err}
	}
}

// enterDashboard loads history, or shows the guest notice without a call.
func (m *Model) enterDashboard() tea.Cmd {
	m.dashboard.confirm = nil
	id, _ := m.deps.Session.Current()
	if err := guard.CanViewHistory(id); err != nil {
		m.dashboard.restricted = guard.Message(err)
		return nil
	}
	m.dashboard.restricted = ""
	m.dashboard.loading = true
	return tea.Batch(listCmd(m.ctx, m.deps.History), m.spinner.Tick)
}

func (m Model) updateDashboard(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case historyMsg:
		m.dashboard.loading = false
		if msg.err != nil {
			m.setNotice(history.FailureMessage(msg.op, msg.err), true)
			return m, nil
		}
		m.dashboard.setRecords(msg.records)
		if msg.op == "delete" {
			m.setNotice(history.MsgDeleted, false)
		}
		return m, nil

	case downloadDoneMsg:
		m.setNotice(downloadNotice(msg))
		return m, nil

	case tea.KeyMsg:
		if m.dashboard.restricted != "" || m.dashboard.loading {
			return m, nil
		}

		if m.dashboard.confirm != nil {
			rec := *m.dashboard.confirm
			m.dashboard.confirm = nil
			switch msg.String() {
			case "y", "Y":
				m.dashboard.loading = true
				return m, tea.Batch(deleteCmd(m.ctx, m.deps.History, rec.ID), m.spinner.Tick)
			default:
				m.setNotice("", false)
				return m, nil
			}
		}

		switch msg.String() {
		case "r":
			return m, m.enterDashboard()
		case "enter", "d":
			rec, ok := m.dashboard.selected()
			if !ok {
				return m, nil
			}
			return m, downloadCmd(m.ctx, m.deps.History, rec.ID, rec.Filename)
		case "x", "delete":
			rec, ok := m.dashboard.selected()
			if !ok {
				return m, nil
			}
			m.dashboard.confirm = &rec
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.dashboard.table, cmd = m.dashboard.table.Update(msg)
	return m, cmd
}

func (m Model) viewDashboard() string {
	var b strings.Builder
	b.WriteString(sectionStyle.Render("Audit History Logs") + "\n\n")

	if m.dashboard.restricted != "" {
		b.WriteString(warningStyle.Render("Access Denied") + "\n")
		b.WriteString(dimStyle.Render(m.dashboard.restricted) + "\n")
		b.WriteString(footer("ctrl+s", "scan", "ctrl+e", "explain", "ctrl+l", "logout"))
		return b.String()
	}

	if m.dashboard.loading && !m.dashboard.loaded {
		b.WriteString(m.spinner.View() + dimStyle.Render(" Loading secure records..."))
		return b.String()
	}

	if len(m.dashboard.records) == 0 {
		b.WriteString(dimStyle.Render(history.MsgEmpty) + "\n")
		b.WriteString(footer("r", "refresh", "ctrl+s", "scan", "ctrl+l", "logout"))
		return b.String()
	}

	s := m.dashboard.summary
	b.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s   %s %s\n",
		labelStyle.Render("Total"), valueStyle.Render(fmt.Sprint(s.Total)),
		labelStyle.Render("AI"), syntheticStyle.Render(fmt.Sprint(s.Synthetic)),
		labelStyle.Render("Human"), humanStyle.Render(fmt.Sprint(s.Human)),
		labelStyle.Render("Avg confidence"), valueStyle.Render(fmt.Sprintf("%.1f%%", s.AverageScore)),
	))
	if spark := s.Sparkline(sparklineWidth, sparklineHeight); spark != "" {
		b.WriteString(labelStyle.Render("AI probability, recent scans") + "\n")
		b.WriteString(sparklineStyle.Render(spark) + "\n")
	}
	b.WriteString("\n" + m.dashboard.table.View() + "\n")

	if rec := m.dashboard.confirm; rec != nil {
		b.WriteString(warningStyle.Render(fmt.Sprintf("Delete %s permanently? (y/n)", rec.Filename)))
		return b.String()
	}
	b.WriteString(footer("enter", "download", "x", "delete", "r", "refresh", "ctrl+s", "scan", "ctrl+l", "logout"))
	return b.String()
}
