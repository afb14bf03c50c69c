package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/publicsuffix"
)

const tracerName = "portal/client/transport"

// Config controls the transport.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	MaxBodyBytes int64
	UserAgent    string

	// Double-submit CSRF: the cookie value is echoed in the header on unsafe methods.
	CSRFCookieName string
	CSRFHeaderName string
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		c.UserAgent = "portal"
	}
	return c
}

// Option configures optional Client dependencies.
type Option func(*Client)

// WithLogger overrides slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithRecoverer installs the failure recovery hook.
func WithRecoverer(r Recoverer) Option {
	return func(c *Client) {
		c.recoverer = r
	}
}

// WithJar replaces the default public-suffix aware cookie jar.
func WithJar(jar http.CookieJar) Option {
	return func(c *Client) {
		if jar != nil {
			c.jar = jar
		}
	}
}

// WithRoundTripper replaces http.DefaultTransport.
func WithRoundTripper(rt http.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.rt = rt
		}
	}
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// Client issues requests against the API base URL.
type Client struct {
	cfg  Config
	base *url.URL
	log  *slog.Logger

	jar       http.CookieJar
	rt        http.RoundTripper
	http      *http.Client
	recoverer Recoverer
	tracer    trace.Tracer
}

// New constructs a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()

	base, err := ParseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:    cfg,
		base:   base,
		log:    slog.Default(),
		rt:     http.DefaultTransport,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(c)
	}

	if c.jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("cookie jar: %w", err)
		}
		c.jar = jar
	}

	c.http = &http.Client{
		Jar:       c.jar,
		Transport: c.rt,
		Timeout:   cfg.Timeout,
		// API responses are consumed as-is; a redirect is surfaced, not followed.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return c, nil
}

// ParseBaseURL validates an absolute http(s) base URL.
func ParseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidBaseURL, u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidBaseURL)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// BaseURL returns a copy of the API base URL.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// URL resolves path beneath the API base URL. A query after "?" is kept as
// the raw query; a fragment is dropped.
func (c *Client) URL(path string) *url.URL {
	path, _, _ = strings.Cut(path, "#")
	path, query, _ := strings.Cut(path, "?")
	u := c.base.JoinPath(path)
	u.RawQuery = query
	return u
}

// Jar exposes the cookie jar holding the session.
func (c *Client) Jar() http.CookieJar { return c.jar }

// Recoverer returns the installed recovery hook (may be nil).
func (c *Client) Recoverer() Recoverer { return c.recoverer }

// Do sends req. A failed response is handed to the Recoverer (when installed)
// and its outcome is returned instead.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, errors.New("transport: nil request")
	}

	resp, err := c.Send(ctx, req)
	if err == nil {
		return resp, nil
	}

	apiErr, ok := AsAPIError(err)
	if !ok || c.recoverer == nil {
		return nil, err
	}
	return c.recoverer.Recover(ctx, c, req, apiErr)
}

// Send performs exactly one HTTP round trip for req without recovery.
func (c *Client) Send(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, errors.New("transport: nil request")
	}
	if err := req.AssignID(time.Now().UTC()); err != nil {
		return nil, err
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	u := c.URL(req.Path)

	ctx, span := c.tracer.Start(ctx, "http.client "+method+" "+req.Path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", req.Path),
			attribute.String("portal.request_id", req.id),
			attribute.Bool("portal.retried", req.retried),
		),
	)
	defer span.End()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("build %s %s: %w", method, req.Path, err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	httpReq.Header.Set(HeaderRequestID, req.id)
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	c.attachCSRF(httpReq, u)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		c.log.Warn("http.client.fail",
			"method", method,
			"path", req.Path,
			"request_id", req.id,
			"err", err,
		)
		return nil, fmt.Errorf("%s %s: %w", method, req.Path, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, readErr := io.ReadAll(io.LimitReader(httpResp.Body, c.cfg.MaxBodyBytes+1))
	duration := time.Since(start)

	level, result := requestLogMeta(httpResp.StatusCode)
	if httpResp.StatusCode < http.StatusBadRequest {
		level = slog.LevelDebug
	}
	c.log.Log(ctx, level, "http.client.request",
		"method", method,
		"path", req.Path,
		"status", httpResp.StatusCode,
		"status_class", statusClass(httpResp.StatusCode),
		"result", result,
		"duration_ms", duration.Milliseconds(),
		"request_id", req.id,
		"retried", req.retried,
	)
	span.SetAttributes(attribute.Int("http.response.status_code", httpResp.StatusCode))

	if readErr != nil {
		span.SetStatus(codes.Error, readErr.Error())
		return nil, fmt.Errorf("%s %s: read body: %w", method, req.Path, readErr)
	}
	if int64(len(respBody)) > c.cfg.MaxBodyBytes {
		span.SetStatus(codes.Error, ErrBodyTooLarge.Error())
		return nil, fmt.Errorf("%s %s: %w", method, req.Path, ErrBodyTooLarge)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		span.SetStatus(codes.Error, http.StatusText(httpResp.StatusCode))
		return nil, NewAPIError(req, httpResp.StatusCode, respBody)
	}

	return &Response{
		Status:    httpResp.StatusCode,
		Header:    httpResp.Header.Clone(),
		Body:      respBody,
		RequestID: req.id,
	}, nil
}

func (c *Client) attachCSRF(r *http.Request, u *url.URL) {
	if c.cfg.CSRFCookieName == "" || c.cfg.CSRFHeaderName == "" || !unsafeMethod(r.Method) {
		return
	}
	if r.Header.Get(c.cfg.CSRFHeaderName) != "" {
		return
	}
	if v := CookieValue(c.jar, u, c.cfg.CSRFCookieName); v != "" {
		r.Header.Set(c.cfg.CSRFHeaderName, v)
	}
}

// CookieValue returns the value of the named cookie the jar would send to u.
func CookieValue(jar http.CookieJar, u *url.URL, name string) string {
	if jar == nil || u == nil {
		return ""
	}
	for _, ck := range jar.Cookies(u) {
		if ck.Name == name {
			return strings.TrimSpace(ck.Value)
		}
	}
	return ""
}

func unsafeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	default:
		return true
	}
}
