// Package api is the HTTP client for the detection backend.
//
// Every call attaches the current bearer credential when one is present,
// carries an X-Request-ID, is rate limited, and is recorded as an
// OpenTelemetry span plus request metrics. Any 401 response triggers the
// unauthorized hook, which the application wires to session eviction.
// Idempotent GETs that fail at the network level are retried with
// exponential backoff; nothing else is retried.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fyrsmithlabs/verivox/internal/logging"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	instrumentationName = "github.com/fyrsmithlabs/verivox/internal/api"

	// RequestIDHeader correlates client and backend logs.
	RequestIDHeader = "X-Request-ID"

	defaultTimeout = 60 * time.Second
	maxBodyBytes   = 64 << 20
)

// CredentialSource supplies the current bearer credential.
type CredentialSource interface {
	Credential() string
}

// RetryPolicy controls backoff for idempotent reads.
type RetryPolicy struct {
	Enabled         bool
	InitialInterval time.Duration
	MaxElapsed      time.Duration
}

// Options configure a Client.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 = unlimited
	Burst     int
	Retry     RetryPolicy

	// MaxResponseBytes caps a response body; 0 means 64MB. Larger bodies
	// are rejected, never truncated.
	MaxResponseBytes int64

	HTTPClient *http.Client
	Logger     *logging.Logger
	Tracer     trace.Tracer
	Meter      metric.Meter
}

// Client calls the detection backend.
type Client struct {
	baseURL string
	http    *http.Client
	creds   CredentialSource
	limiter *rate.Limiter
	retry   RetryPolicy
	maxBody int64
	logger  *logging.Logger
	tracer  trace.Tracer

	requests metric.Int64Counter
	duration metric.Float64Histogram

	mu             sync.RWMutex
	onUnauthorized func(context.Context)
}

// New creates a client. creds may be nil for unauthenticated use.
func New(creds CredentialSource, opts Options) (*Client, error) {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		return nil, errors.New("api base url is required")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	maxBody := opts.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = maxBodyBytes
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	meter := opts.Meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	requests, err := meter.Int64Counter("verivox.api.requests",
		metric.WithDescription("Backend calls by endpoint and outcome"))
	if err != nil {
		return nil, fmt.Errorf("creating request counter: %w", err)
	}
	duration, err := meter.Float64Histogram("verivox.api.duration",
		metric.WithDescription("Backend call latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return &Client{
		baseURL:  base,
		http:     httpClient,
		creds:    creds,
		limiter:  rate.NewLimiter(limit, burst),
		retry:    opts.Retry,
		maxBody:  maxBody,
		logger:   logger.Named("api"),
		tracer:   tracer,
		requests: requests,
		duration: duration,
	}, nil
}

// OnUnauthorized registers the hook run after any 401 response.
func (c *Client) OnUnauthorized(fn func(context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnauthorized = fn
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// request describes one logical call. body is rebuilt per attempt.
type request struct {
	method      string
	path        string
	endpoint    string // low-cardinality name for spans and metrics
	contentType string
	body        func() (io.Reader, error)
}

// response is a completed call with a 2xx status.
type response struct {
	status int
	header http.Header
	body   []byte
}

func jsonBody(v interface{}) func() (io.Reader, error) {
	return func() (io.Reader, error) {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		return bytes.NewReader(data), nil
	}
}

// do performs r, retrying idempotent reads on network failures.
func (c *Client) do(ctx context.Context, r request) (*response, error) {
	requestID := uuid.NewString()
	ctx = logging.WithRequestID(ctx, requestID)

	ctx, span := c.tracer.Start(ctx, "api."+r.endpoint,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", r.method),
			attribute.String("http.route", r.path),
			attribute.String("request.id", requestID),
		))
	defer span.End()

	start := time.Now()
	attempts := 0

	op := func() (*response, error) {
		attempts++
		resp, err := c.attempt(ctx, r, requestID)
		if err == nil {
			return resp, nil
		}
		if r.method == http.MethodGet && c.retry.Enabled && IsNetwork(err) && ctx.Err() == nil {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	var resp *response
	var err error
	if r.method == http.MethodGet && c.retry.Enabled {
		retryOpts := []backoff.RetryOption{
			backoff.WithBackOff(c.newBackOff()),
			backoff.WithNotify(func(err error, wait time.Duration) {
				c.logger.Debug(ctx, "retrying request",
					zap.String("endpoint", r.endpoint),
					zap.Duration("wait", wait),
					zap.Error(err))
			}),
		}
		if c.retry.MaxElapsed > 0 {
			retryOpts = append(retryOpts, backoff.WithMaxElapsedTime(c.retry.MaxElapsed))
		}
		resp, err = backoff.Retry(ctx, op, retryOpts...)
	} else {
		resp, err = op()
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
	}

	elapsed := time.Since(start)
	outcome := "ok"
	status := 0
	if resp != nil {
		status = resp.status
	}
	if err != nil {
		outcome = string(CategoryOf(err))
		var apiErr *Error
		if errors.As(err, &apiErr) {
			status = apiErr.Status
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	span.SetAttributes(
		attribute.Int("http.status_code", status),
		attribute.Int("attempts", attempts),
	)

	attrs := metric.WithAttributes(
		attribute.String("endpoint", r.endpoint),
		attribute.String("outcome", outcome),
	)
	c.requests.Add(ctx, 1, attrs)
	c.duration.Record(ctx, elapsed.Seconds(), attrs)

	fields := []zap.Field{
		zap.String("method", r.method),
		zap.String("path", r.path),
		zap.Int("status", status),
		zap.Duration("duration", elapsed),
		zap.Int("attempts", attempts),
	}
	if err != nil {
		c.logger.Warn(ctx, "backend call failed", append(fields, zap.String("category", outcome), zap.Error(err))...)
	} else {
		c.logger.Debug(ctx, "backend call", fields...)
	}

	if IsAuth(err) {
		c.mu.RLock()
		hook := c.onUnauthorized
		c.mu.RUnlock()
		if hook != nil {
			hook(ctx)
		}
	}

	return resp, err
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if c.retry.InitialInterval > 0 {
		b.InitialInterval = c.retry.InitialInterval
	}
	return b
}

// attempt performs a single HTTP exchange.
func (c *Client) attempt(ctx context.Context, r request, requestID string) (*response, error) {
	fail := func(cat Category, status int, detail string, err error) error {
		return &Error{Category: cat, Status: status, Detail: detail, Method: r.method, Path: r.path, Err: err}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fail(CategoryNetwork, 0, "", fmt.Errorf("rate limiter: %w", err))
	}

	var body io.Reader
	if r.body != nil {
		b, err := r.body()
		if err != nil {
			return nil, fail(CategoryUnknown, 0, "", err)
		}
		body = b
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
	if err != nil {
		return nil, fail(CategoryUnknown, 0, "", fmt.Errorf("failed to create request: %w", err))
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, requestID)
	c.attachCredential(req)

	resp, err := c.http.Do(req)
	if err != nil {
		cat := CategoryUnknown
		if isNetworkError(err) {
			cat = CategoryNetwork
		}
		return nil, fail(cat, 0, "", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fail(CategoryNetwork, resp.StatusCode, "", fmt.Errorf("failed to read response: %w", err))
	}
	if int64(len(data)) > c.maxBody {
		return nil, fail(CategoryServer, resp.StatusCode, "response too large",
			fmt.Errorf("response body exceeds %d bytes", c.maxBody))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fail(categorize(resp.StatusCode), resp.StatusCode, parseDetail(data), nil)
	}

	return &response{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

// attachCredential sets the bearer header when a credential is present.
func (c *Client) attachCredential(req *http.Request) {
	if c.creds == nil {
		return
	}
	cred := c.creds.Credential()
	if cred == "" {
		return
	}
	tok := &oauth2.Token{AccessToken: cred, TokenType: "Bearer"}
	tok.SetAuthHeader(req)
}

// decode unmarshals a JSON response body.
func decode(r request, resp *response, v interface{}) error {
	if err := json.Unmarshal(resp.body, v); err != nil {
		return &Error{
			Category: CategoryServer,
			Status:   resp.status,
			Detail:   "malformed response",
			Method:   r.method,
			Path:     r.path,
			Err:      err,
		}
	}
	return nil
}
