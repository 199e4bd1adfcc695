package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/verivox/internal/app"
	"github.com/fyrsmithlabs/verivox/internal/config"
)

func newStubServerCmd(g *globalOptions) *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "stub-server",
		Short: "Run an offline stand-in for the detection backend",
		Long: `Run an in-memory stand-in for the detection backend for offline
development. It implements the same endpoints with canned verdicts derived
from a hash of the upload; it performs no audio analysis. All accounts and
reports are lost when it stops.

Examples:
  verivox stub-server
  verivox stub-server --port 9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWithFile(g.configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if cmd.Flags().Changed("host") {
				cfg.Stub.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Stub.Port = port
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			// The server has no UI, so it logs to stdout.
			cfg.Log.Stdout = true
			cfg.Log.File = ""
			logger, err := app.NewLogger(cfg, nil)
			if err != nil {
				return err
			}
			defer logger.Close()

			srv, err := app.NewStubServer(cfg, logger)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()
			fmt.Fprintf(cmd.ErrOrStderr(), "Stub backend listening on http://%s\n", srv.Addr())

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn(shutdownCtx, "stub backend shutdown failed", zap.Error(err))
				return err
			}
			return <-errCh
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Listen host (default from stub.host)")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (default from stub.port)")
	return cmd
}
