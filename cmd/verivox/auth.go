package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/verivox/internal/api"
	"github.com/fyrsmithlabs/verivox/internal/app"
	"github.com/fyrsmithlabs/verivox/internal/session"
)

const msgFillAllFields = "Please fill in all fields."

type credentials struct {
	username string
	email    string
	password string
}

// identityJSON is the --json shape of a signed-in identity.
type identityJSON struct {
	DisplayName string     `json:"display_name"`
	Email       string     `json:"email"`
	Role        string     `json:"role"`
	Session     string     `json:"session"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

func toIdentityJSON(id session.Identity) identityJSON {
	out := identityJSON{
		DisplayName: id.DisplayName,
		Email:       id.Email,
		Role:        string(id.Role),
		Session:     session.ShortFingerprint(id.Credential),
	}
	if exp, ok := session.ExpiresAt(id.Credential); ok {
		out.ExpiresAt = &exp
	}
	return out
}

func newLoginCmd(g *globalOptions) *cobra.Command {
	var c credentials
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Long: `Sign in to the detection backend. The session is stored under the
session directory and shared with other verivox processes.

Examples:
  # Prompted for the password on stdin
  verivox login --email ada@example.com

  # Non-interactive
  echo "$PASSWORD" | verivox login --email ada@example.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.complete(cmd, false); err != nil {
				return err
			}
			return runSignIn(cmd, g, func(ctx context.Context, a *app.App) (session.Identity, error) {
				return a.Auth.Login(ctx, c.email, c.password)
			})
		},
	}
	cmd.Flags().StringVar(&c.email, "email", "", "Account email")
	cmd.Flags().StringVar(&c.password, "password", "", "Password (read from stdin when omitted)")
	return cmd
}

func newRegisterCmd(g *globalOptions) *cobra.Command {
	var c credentials
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		Long: `Create an account on the detection backend and sign in with it.

Examples:
  verivox register --username ada --email ada@example.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.complete(cmd, true); err != nil {
				return err
			}
			return runSignIn(cmd, g, func(ctx context.Context, a *app.App) (session.Identity, error) {
				return a.Auth.Register(ctx, c.username, c.email, c.password)
			})
		},
	}
	cmd.Flags().StringVar(&c.username, "username", "", "Display name")
	cmd.Flags().StringVar(&c.email, "email", "", "Account email")
	cmd.Flags().StringVar(&c.password, "password", "", "Password (read from stdin when omitted)")
	return cmd
}

func newGuestCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "guest",
		Short: "Sign in as a guest",
		Long: `Sign in with a guest credential. Guests can scan files but get no
history and cannot download or delete reports.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSignIn(cmd, g, func(ctx context.Context, a *app.App) (session.Identity, error) {
				return a.Auth.Guest(ctx)
			})
		},
	}
}

// complete reads a missing password from stdin and checks that every
// required field is filled.
func (c *credentials) complete(cmd *cobra.Command, withUsername bool) error {
	if c.password == "" {
		pw, err := readLine(cmd)
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		c.password = pw
	}
	fields := []string{c.email, c.password}
	if withUsername {
		fields = append(fields, c.username)
	}
	for _, f := range fields {
		if strings.TrimSpace(f) == "" {
			return errors.New(msgFillAllFields)
		}
	}
	return nil
}

func runSignIn(cmd *cobra.Command, g *globalOptions, signIn func(context.Context, *app.App) (session.Identity, error)) error {
	a, err := g.load(cmd)
	if err != nil {
		return err
	}
	defer closeApp(a)

	id, err := signIn(cmd.Context(), a)
	if err != nil {
		if errors.Is(err, session.ErrSessionActive) {
			return err
		}
		return friendly(api.LoginMessage(err), err)
	}

	if g.json {
		return outputJSON(cmd.OutOrStdout(), toIdentityJSON(id))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", id.DisplayName, id.Role)
	return nil
}

func newLogoutCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and remove the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.load(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			if !a.Session.Authenticated() {
				fmt.Fprintln(cmd.OutOrStdout(), "Not signed in.")
				return nil
			}
			if err := a.Auth.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}

func newWhoamiCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.load(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			id, ok := a.Session.Current()
			if !ok {
				return errors.New(msgSignInFirst)
			}
			info := toIdentityJSON(id)
			if g.json {
				return outputJSON(cmd.OutOrStdout(), info)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Name:    %s\n", info.DisplayName)
			fmt.Fprintf(out, "Email:   %s\n", info.Email)
			fmt.Fprintf(out, "Role:    %s\n", info.Role)
			fmt.Fprintf(out, "Session: %s\n", info.Session)
			if info.ExpiresAt != nil {
				fmt.Fprintf(out, "Expires: %s\n", info.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}
