// Package main implements the verivox CLI: sign-in, audio scans, report
// history, the explain chat and the interactive terminal UI, all against
// the detection backend configured in ~/.config/verivox/config.yaml.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/verivox/internal/app"
)

// Version information (set via ldflags during build)
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	json       bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "verivox",
		Short: "Audio deepfake forensics client",
		Long: `verivox submits audio files to the VeriVox detection backend and shows
whether they are AI generated or a real human voice.

Examples:
  # Sign in, scan a file and download its report
  verivox login --email ada@example.com
  verivox scan interview.wav
  verivox report download <report-id>

  # Try it without an account (no history, no reports)
  verivox guest

  # Open the interactive interface
  verivox ui`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (default ~/.config/verivox/config.yaml)")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "Output results as JSON")

	root.AddCommand(
		newLoginCmd(opts),
		newRegisterCmd(opts),
		newGuestCmd(opts),
		newLogoutCmd(opts),
		newWhoamiCmd(opts),
		newScanCmd(opts),
		newExplainCmd(opts),
		newHistoryCmd(opts),
		newReportCmd(opts),
		newUICmd(opts),
		newStubServerCmd(opts),
	)
	return root
}

// load builds the application from the configured file.
func (o *globalOptions) load(cmd *cobra.Command) (*app.App, error) {
	return app.Load(cmd.Context(), o.configPath, app.Options{Version: version})
}

func closeApp(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.Close(ctx)
}

// userError carries the message shown to the user while keeping the
// underlying error for errors.Is and errors.As.
type userError struct {
	msg string
	err error
}

func (e *userError) Error() string { return e.msg }
func (e *userError) Unwrap() error { return e.err }

func friendly(msg string, err error) error {
	if err == nil {
		return nil
	}
	return &userError{msg: msg, err: err}
}

func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readLine reads one trimmed line from the command's input.
func readLine(cmd *cobra.Command) (string, error) {
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
