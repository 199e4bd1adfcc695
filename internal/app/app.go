// Package app wires the client core from configuration: logging and
// telemetry, the session store, the backend client and the scan, explain
// and history services shared by the CLI and the terminal UI.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/verivox/internal/api"
	"github.com/fyrsmithlabs/verivox/internal/config"
	"github.com/fyrsmithlabs/verivox/internal/explain"
	"github.com/fyrsmithlabs/verivox/internal/history"
	"github.com/fyrsmithlabs/verivox/internal/logging"
	"github.com/fyrsmithlabs/verivox/internal/scan"
	"github.com/fyrsmithlabs/verivox/internal/session"
	"github.com/fyrsmithlabs/verivox/internal/stubserver"
	"github.com/fyrsmithlabs/verivox/internal/telemetry"
	"github.com/fyrsmithlabs/verivox/internal/tui"
)

const instrumentationName = "github.com/fyrsmithlabs/verivox"

// Options override parts of the wiring. The zero value builds everything
// from configuration.
type Options struct {
	Version string

	// Storage replaces the session file under the configured directory.
	Storage session.Storage
	// Logger replaces the configured logger. It is not closed by Close.
	Logger *logging.Logger
	// HTTPClient is passed to the backend client.
	HTTPClient *http.Client
	// Telemetry replaces the configured exporters.
	Telemetry *telemetry.Telemetry
}

// App holds the shared services.
type App struct {
	Config    *config.Config
	Logger    *logging.Logger
	Telemetry *telemetry.Telemetry
	Session   *session.Store
	Client    *api.Client
	Auth      *Auth
	Scan      *scan.Workflow
	Explain   *explain.Memory
	History   *history.Service

	ownsLogger bool
	stops      []func()
}

// Load reads configuration from configPath (or the default location) and
// builds the App.
func Load(ctx context.Context, configPath string, opts Options) (*App, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return New(ctx, cfg, opts)
}

// New builds the App from cfg. The persisted session, if any, is restored.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	tel := opts.Telemetry
	if tel == nil {
		var err error
		if tel, err = telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry, opts.Version)); err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
	}

	var err error
	a := &App{Config: cfg, Telemetry: tel, Logger: opts.Logger}
	if a.Logger == nil {
		if a.Logger, err = NewLogger(cfg, tel); err != nil {
			_ = tel.Shutdown(ctx)
			return nil, err
		}
		a.ownsLogger = true
	}

	storage := opts.Storage
	if storage == nil {
		fs, err := session.NewFileStorage(cfg.Session.Dir)
		if err != nil {
			a.closeLogger()
			_ = tel.Shutdown(ctx)
			return nil, fmt.Errorf("failed to open session storage: %w", err)
		}
		storage = fs
	}
	a.Session = session.NewStore(storage, a.Logger)
	a.Session.Restore(ctx)

	a.Client, err = api.New(a.Session, api.Options{
		BaseURL:   cfg.BaseURL(),
		Timeout:   cfg.API.Timeout.Duration(),
		RateLimit: cfg.API.RateLimit,
		Burst:     cfg.API.Burst,
		Retry: api.RetryPolicy{
			Enabled:         cfg.API.Retry.Enabled,
			InitialInterval: cfg.API.Retry.InitialInterval.Duration(),
			MaxElapsed:      cfg.API.Retry.MaxElapsed.Duration(),
		},
		HTTPClient: opts.HTTPClient,
		Logger:     a.Logger,
		Tracer:     tel.Tracer(instrumentationName),
		Meter:      tel.Meter(instrumentationName),
	})
	if err != nil {
		a.closeLogger()
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create api client: %w", err)
	}
	a.Client.OnUnauthorized(func(ctx context.Context) {
		a.Session.Evict(ctx, session.ReasonExpired)
	})

	a.Auth = NewAuth(a.Client, a.Session, a.Logger)
	a.Scan = scan.New(a.Client, a.Session, scan.Options{
		PhaseInterval:  cfg.Scan.PhaseInterval.Duration(),
		TrailingDelay:  cfg.Scan.TrailingDelay.Duration(),
		MaxUploadBytes: cfg.Scan.MaxUploadBytes(),
		Logger:         a.Logger,
	})
	a.Explain = explain.NewMemory(a.Client, a.Logger)
	a.History = history.NewService(a.Client, a.Session, cfg.Download.Dir, a.Logger)

	a.stops = append(a.stops, a.Scan.Follow(a.Session), a.Explain.Follow(a.Session))

	if err := tel.Degraded(); err != nil {
		a.Logger.Warn(ctx, "telemetry export unavailable", zap.Error(err))
	}

	a.Logger.Debug(ctx, "app initialized",
		zap.String("base_url", a.Client.BaseURL()),
		zap.Bool("authenticated", a.Session.Authenticated()),
		zap.Bool("telemetry", tel.IsEnabled()))
	return a, nil
}

// NewLogger builds the configured logger, bridged to telemetry logs when a
// provider is present.
func NewLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	logCfg, err := logging.FromConfig(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("invalid log configuration: %w", err)
	}
	lp := tel.LoggerProvider()
	logCfg.OTEL = lp != nil
	logger, err := logging.NewLogger(logCfg, lp)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

// Watch follows session changes made by other processes when enabled in
// configuration. Storage that cannot be watched is not an error.
func (a *App) Watch(ctx context.Context) error {
	if !a.Config.Session.Watch {
		return nil
	}
	err := a.Session.Watch(ctx)
	if errors.Is(err, session.ErrNotWatchable) {
		return nil
	}
	return err
}

// TUIDeps returns the services the terminal UI drives.
func (a *App) TUIDeps() tui.Deps {
	return tui.Deps{
		Session: a.Session,
		Auth:    a.Auth,
		Scan:    a.Scan,
		Explain: a.Explain,
		History: a.History,
		Logger:  a.Logger,
	}
}

// Close stops subscriptions and flushes telemetry and logs.
func (a *App) Close(ctx context.Context) error {
	for _, stop := range a.stops {
		stop()
	}
	a.stops = nil

	var errs []error
	if err := a.Telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.closeLogger(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeLogger() error {
	if !a.ownsLogger || a.Logger == nil {
		return nil
	}
	a.ownsLogger = false
	return a.Logger.Close()
}

// NewStubServer builds the offline stand-in backend from the stub section.
func NewStubServer(cfg *config.Config, logger *logging.Logger) (*stubserver.Server, error) {
	sc := stubserver.Config{
		Host:     cfg.Stub.Host,
		Port:     cfg.Stub.Port,
		TokenTTL: cfg.Stub.TokenTTL.Duration(),
	}
	if cfg.Stub.Secret.IsSet() {
		sc.Secret = cfg.Stub.Secret.Bytes()
	}
	if cfg.Stub.MaxUploadMB > 0 {
		sc.MaxUploadBytes = int64(cfg.Stub.MaxUploadMB) << 20
	}
	return stubserver.New(sc, logger)
}
