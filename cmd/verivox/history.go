package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/verivox/internal/app"
	"github.com/fyrsmithlabs/verivox/internal/history"
)

// recordJSON is the --json shape of a history record.
type recordJSON struct {
	ID              string     `json:"id"`
	Filename        string     `json:"filename"`
	Verdict         string     `json:"verdict"`
	ConfidenceScore float64    `json:"confidence_score"`
	Timestamp       *time.Time `json:"timestamp,omitempty"`
}

func toRecordJSON(records []history.Record) []recordJSON {
	out := make([]recordJSON, 0, len(records))
	for _, r := range records {
		rec := recordJSON{
			ID:              r.ID,
			Filename:        r.Filename,
			Verdict:         r.Label,
			ConfidenceScore: r.ConfidenceScore,
		}
		if !r.Timestamp.IsZero() {
			ts := r.Timestamp
			rec.Timestamp = &ts
		}
		out = append(out, rec)
	}
	return out
}

func newHistoryCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List past analyses, newest first",
		Long: `List the signed-in user's past analyses, newest first. Guests have no
history.

Examples:
  verivox history
  verivox history --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.load(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			records, err := a.History.List(cmd.Context())
			if err != nil {
				return historyError("list", err)
			}
			if g.json {
				return outputJSON(cmd.OutOrStdout(), toRecordJSON(records))
			}
			printRecords(cmd, records)
			return nil
		},
	}
}

const msgSignInFirst = "Not signed in. Run verivox login or verivox guest first."

func historyError(op string, err error) error {
	if errors.Is(err, history.ErrUnauthenticated) {
		return friendly(msgSignInFirst, err)
	}
	return friendly(history.FailureMessage(op, err), err)
}

func printRecords(cmd *cobra.Command, records []history.Record) {
	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, history.MsgEmpty)
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tFILE\tVERDICT\tSCORE")
	for _, r := range records {
		ts := "-"
		if !r.Timestamp.IsZero() {
			ts = r.Timestamp.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.1f%%\n", r.ID, ts, r.Filename, verdictText(r.Verdict), r.ConfidenceScore)
	}
	w.Flush()

	s := history.Summarize(records)
	fmt.Fprintf(out, "\nTotal %d  AI %d  Human %d  Avg confidence %.1f%%\n", s.Total, s.Synthetic, s.Human, s.AverageScore)
}

func newReportCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Download or delete analysis reports",
	}
	cmd.AddCommand(newReportDownloadCmd(g), newReportDeleteCmd(g))
	return cmd
}

func newReportDownloadCmd(g *globalOptions) *cobra.Command {
	var filename string
	cmd := &cobra.Command{
		Use:   "download <report-id>",
		Short: "Save a report as Forensic_Report_<file>.pdf",
		Long: `Download the PDF report for an analysis into the download directory.

Examples:
  verivox report download 3f2a9c1e-...
  verivox report download 3f2a9c1e-... --filename interview.wav`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.load(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			name := filename
			if name == "" {
				name = lookupFilename(cmd, a, args[0])
			}
			path, err := a.History.Download(cmd.Context(), args[0], name)
			if err != nil {
				return historyError("download", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Saved to %s\n", history.MsgDownloaded, path)
			return nil
		},
	}
	cmd.Flags().StringVar(&filename, "filename", "", "Original file name used to name the PDF (looked up in history when omitted)")
	return cmd
}

// lookupFilename finds the analyzed file name for id, falling back to id.
func lookupFilename(cmd *cobra.Command, a *app.App, id string) string {
	records, err := a.History.List(cmd.Context())
	if err == nil {
		for _, r := range records {
			if r.ID == id {
				return r.Filename
			}
		}
	}
	return id
}

func newReportDeleteCmd(g *globalOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <report-id>",
		Short: "Delete an analysis record permanently",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.load(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			if !yes {
				fmt.Fprintf(cmd.ErrOrStderr(), "Delete %s permanently? [y/N]: ", args[0])
				answer, err := readLine(cmd)
				if err != nil {
					return err
				}
				if ans := strings.ToLower(answer); ans != "y" && ans != "yes" {
					return errors.New("cancelled")
				}
			}

			remaining, err := a.History.Delete(cmd.Context(), args[0])
			if err != nil {
				return historyError("delete", err)
			}
			if g.json {
				return outputJSON(cmd.OutOrStdout(), map[string]interface{}{
					"message":   history.MsgDeleted,
					"remaining": len(remaining),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), history.MsgDeleted)
			fmt.Fprintf(cmd.OutOrStdout(), "%d record(s) remaining.\n", len(remaining))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}
