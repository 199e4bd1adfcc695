package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/verivox/internal/api"
	"github.com/fyrsmithlabs/verivox/internal/logging"
	"github.com/fyrsmithlabs/verivox/internal/session"
)

// Auth signs identities in through the backend and records them in the
// session store.
type Auth struct {
	client *api.Client
	store  *session.Store
	logger *logging.Logger
}

// NewAuth creates an Auth.
func NewAuth(client *api.Client, store *session.Store, logger *logging.Logger) *Auth {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Auth{client: client, store: store, logger: logger.Named("auth")}
}

// Login signs in with email and password.
func (a *Auth) Login(ctx context.Context, email, password string) (session.Identity, error) {
	if a.store.Authenticated() {
		return session.Identity{}, session.ErrSessionActive
	}
	resp, err := a.client.Login(ctx, api.LoginRequest{Email: email, Password: password})
	if err != nil {
		return session.Identity{}, err
	}
	return a.signIn(ctx, resp, email)
}

// Register creates an account and signs it in.
func (a *Auth) Register(ctx context.Context, username, email, password string) (session.Identity, error) {
	if a.store.Authenticated() {
		return session.Identity{}, session.ErrSessionActive
	}
	resp, err := a.client.Register(ctx, api.RegisterRequest{Username: username, Email: email, Password: password})
	if err != nil {
		return session.Identity{}, err
	}
	return a.signIn(ctx, resp, email)
}

// Guest signs in with a restricted guest credential.
func (a *Auth) Guest(ctx context.Context) (session.Identity, error) {
	if a.store.Authenticated() {
		return session.Identity{}, session.ErrSessionActive
	}
	resp, err := a.client.GuestLogin(ctx)
	if err != nil {
		return session.Identity{}, err
	}
	return a.signIn(ctx, resp, api.GuestEmail)
}

// Logout signs the current identity out. It is not an error when nobody is
// signed in.
func (a *Auth) Logout(ctx context.Context) error {
	return a.store.Logout(ctx)
}

func (a *Auth) signIn(ctx context.Context, resp *api.AuthResponse, email string) (session.Identity, error) {
	id, err := resp.Identity(email)
	if err != nil {
		a.logger.Warn(ctx, "backend returned an unusable identity",
			zap.String("user_type", resp.UserType),
			zap.Bool("has_token", resp.AccessToken != ""))
		return session.Identity{}, fmt.Errorf("unusable auth response: %w", err)
	}
	if err := a.store.Login(ctx, id); err != nil {
		return session.Identity{}, err
	}
	return id, nil
}
