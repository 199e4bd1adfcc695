package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/verivox/internal/app"
	"github.com/fyrsmithlabs/verivox/internal/explain"
	"github.com/fyrsmithlabs/verivox/internal/scan"
)

func newScanCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scan <file>",
		Short: "Analyze one audio file",
		Long: `Submit one audio file (.mp3 .wav .m4a .aac .ogg .flac) for analysis and
print the verdict. Signed-in users get a durable report that can be
downloaded with "verivox report download".

Examples:
  verivox scan interview.wav
  verivox scan --json voicemail.m4a`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.load(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			res, err := runScan(cmd, a, args, !g.json)
			if err != nil {
				return err
			}
			if g.json {
				return outputJSON(cmd.OutOrStdout(), json.RawMessage(res.Raw))
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

// runScan stages paths and runs the scan, printing each phase when
// progress is set.
func runScan(cmd *cobra.Command, a *app.App, paths []string, progress bool) (scan.Result, error) {
	if err := a.Scan.StagePaths(paths); err != nil {
		return scan.Result{}, friendly(scan.UserMessage(err), err)
	}

	out := cmd.ErrOrStderr()
	res, err := a.Scan.Scan(cmd.Context(), func(p scan.Progress) {
		if !progress {
			return
		}
		if p.Done() {
			fmt.Fprintln(out, "Analysis complete.")
			return
		}
		fmt.Fprintf(out, "[%d/%d] %s...\n", p.Index+1, len(scan.Phases), p.Name)
	})
	if err != nil {
		return scan.Result{}, friendly(scan.UserMessage(err), err)
	}
	return res, nil
}

func verdictText(v scan.Verdict) string {
	switch v {
	case scan.VerdictSynthetic:
		return "AI GENERATED"
	case scan.VerdictHuman:
		return "REAL HUMAN"
	default:
		return "INCONCLUSIVE"
	}
}

func printResult(w io.Writer, res scan.Result) {
	fmt.Fprintf(w, "File:    %s\n", res.SubjectFileName)
	fmt.Fprintf(w, "Verdict: %s\n", verdictText(res.Verdict))
	if res.Verdict == scan.VerdictHuman {
		fmt.Fprintf(w, "Human confidence: %.1f%%\n", res.DisplayScore())
	} else {
		fmt.Fprintf(w, "AI probability:   %.1f%%\n", res.DisplayScore())
	}
	if len(res.Findings) > 0 {
		fmt.Fprintln(w, "Findings:")
		for _, f := range res.Findings {
			fmt.Fprintf(w, "  - %s\n", f)
		}
	}
	if res.HasReport() {
		fmt.Fprintf(w, "Report:  %s\n", res.ReportID)
	} else {
		fmt.Fprintln(w, "Guest result: no report is kept.")
	}
}

func newExplainCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "explain <file> [question]",
		Short: "Scan a file and ask the forensic explainer about it",
		Long: `Scan one audio file, then ask VeriVox Intelligence about the result.
With a question argument one answer is printed; otherwise questions are
read from stdin one per line until EOF.

Examples:
  verivox explain clip.wav "Which features point to synthesis?"
  verivox explain clip.wav < questions.txt`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.load(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			res, err := runScan(cmd, a, args[:1], !g.json)
			if err != nil {
				return err
			}

			id, _ := a.Session.Current()
			greeting := a.Explain.Enter(id, &res)

			var questions []string
			if q := strings.TrimSpace(strings.Join(args[1:], " ")); q != "" {
				questions = []string{q}
			} else {
				sc := bufio.NewScanner(cmd.InOrStdin())
				for sc.Scan() {
					if q := strings.TrimSpace(sc.Text()); q != "" {
						questions = append(questions, q)
					}
				}
				if err := sc.Err(); err != nil {
					return fmt.Errorf("failed to read questions: %w", err)
				}
			}

			transcript := greeting
			for _, q := range questions {
				transcript = a.Explain.Send(cmd.Context(), q)
				if !g.json {
					printExchange(cmd.OutOrStdout(), transcript)
				}
			}
			if g.json {
				return outputJSON(cmd.OutOrStdout(), transcriptJSON(transcript))
			}
			return nil
		},
	}
}

// printExchange prints the latest question and answer.
func printExchange(w io.Writer, transcript []explain.Entry) {
	if len(transcript) < 2 {
		return
	}
	q, ans := transcript[len(transcript)-2], transcript[len(transcript)-1]
	fmt.Fprintf(w, "> %s\n%s\n\n", q.Text, ans.Text)
}

type entryJSON struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

func transcriptJSON(entries []explain.Entry) []entryJSON {
	out := make([]entryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryJSON{Sender: string(e.Sender), Text: e.Text})
	}
	return out
}
