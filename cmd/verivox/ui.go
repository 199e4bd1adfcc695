package main

import (
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/verivox/internal/guard"
	"github.com/fyrsmithlabs/verivox/internal/tui"
)

func newUICmd(g *globalOptions) *cobra.Command {
	var view string
	cmd := &cobra.Command{
		Use:   "ui",
		Short: "Open the interactive terminal interface",
		Long: `Open the interactive interface with sign-in, scanning with live
progress, the history dashboard and the explain chat. Protected views
redirect to sign-in when no session is active.

Examples:
  verivox ui
  verivox ui --view dashboard`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := guard.ParseView(view)
			if err != nil {
				return err
			}

			a, err := g.load(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			ctx := cmd.Context()
			if err := a.Watch(ctx); err != nil {
				return fmt.Errorf("failed to watch session: %w", err)
			}

			m := tui.New(ctx, a.TUIDeps(), start)
			defer m.Close()

			p := tea.NewProgram(m,
				tea.WithAltScreen(),
				tea.WithContext(ctx),
				tea.WithInput(cmd.InOrStdin()),
				tea.WithOutput(cmd.OutOrStdout()),
			)
			if _, err := p.Run(); err != nil {
				if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("terminal interface failed: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&view, "view", string(guard.ViewScan), "Starting view: login, scan, dashboard or explain")
	return cmd
}
