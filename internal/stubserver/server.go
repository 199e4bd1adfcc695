// Package stubserver provides an in-memory stand-in for the detection
// backend. It serves the same REST surface with canned, deterministic
// verdicts derived from a hash of the uploaded bytes. It performs no audio
// analysis and keeps nothing on disk.
package stubserver

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/verivox/internal/logging"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Config holds stub server settings.
type Config struct {
	Host           string
	Port           int
	Secret         []byte        // HMAC key; random when empty
	TokenTTL       time.Duration // default 30m
	MaxUploadBytes int64         // 0 = unlimited
	BcryptCost     int           // default bcrypt.DefaultCost

	// ExplainUnavailable makes the explain endpoint fail the way the real
	// backend does when its language model is unreachable.
	ExplainUnavailable bool

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Server is the stub backend.
type Server struct {
	echo     *echo.Echo
	config   Config
	logger   *logging.Logger
	users    *userStore
	reports  *reportStore
	tokens   *tokenIssuer
	metrics  *metrics
	registry *prometheus.Registry
}

// New creates a stub server. logger may be nil.
func New(cfg Config, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 30 * time.Minute
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if len(cfg.Secret) == 0 {
		cfg.Secret = make([]byte, 32)
		if _, err := rand.Read(cfg.Secret); err != nil {
			return nil, fmt.Errorf("failed to generate token secret: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	m, err := newMetrics(registry)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = detailErrorHandler

	s := &Server{
		echo:     e,
		config:   cfg,
		logger:   logger.Named("stub"),
		users:    newUserStore(cfg.BcryptCost),
		reports:  newReportStore(),
		tokens:   &tokenIssuer{secret: cfg.Secret, ttl: cfg.TokenTTL, now: cfg.Now},
		metrics:  m,
		registry: registry,
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.logRequests)
	e.Use(m.middleware())

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	auth := s.echo.Group("/auth")
	auth.POST("/register", s.handleRegister)
	auth.POST("/login", s.handleLogin)
	auth.POST("/guest-login", s.handleGuestLogin)

	// The explain route takes no credential, like the real backend.
	s.echo.POST("/api/explain/chat", s.handleExplain)

	api := s.echo.Group("/api", s.requireToken)
	api.POST("/detect", s.handleDetect)
	api.GET("/history", s.handleHistory)
	api.GET("/report/:id/download", s.handleDownload)
	api.DELETE("/report/:id", s.handleDelete)
}

func (s *Server) logRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		reqID := c.Response().Header().Get(echo.HeaderXRequestID)
		ctx := logging.WithRequestID(c.Request().Context(), reqID)
		s.logger.Info(ctx, "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", statusOf(c, err)),
			zap.Duration("duration", time.Since(start)),
		)
		return err
	}
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "starting stub backend", zap.String("addr", s.Addr()))
	if err := s.echo.Start(s.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down stub backend")
	return s.echo.Shutdown(ctx)
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

// statusOf returns the status a request will be answered with. Handler
// errors are rendered after middleware returns, so the recorded status is
// not final yet.
func statusOf(c echo.Context, err error) int {
	if c.Response().Committed || err == nil {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

// detailErrorHandler renders errors in the {"detail": ...} shape.
func detailErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	var detail interface{} = "Internal Server Error"

	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		detail = he.Message
		if m, ok := he.Message.(string); ok {
			detail = m
		} else if he.Message == nil {
			detail = http.StatusText(code)
		}
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, map[string]interface{}{"detail": detail})
}
