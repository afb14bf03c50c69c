package refresh

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"portal/cmd/internal/client/transport"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "portal/client/refresh"

// State is the process-wide refresh state.
type State int

const (
	// Idle means no refresh call is outstanding.
	Idle State = iota
	// RefreshInFlight means a leader is waiting on the refresh call.
	RefreshInFlight
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case RefreshInFlight:
		return "refresh_in_flight"
	default:
		return "unknown"
	}
}

// Redirector sends the client to the login entry point.
// It must be idempotent and report whether a navigation happened.
type Redirector interface {
	RedirectToLogin() bool
}

// Config names the refresh endpoint and the endpoints that are never recovered.
type Config struct {
	RefreshPath   string
	ExcludedPaths []string
}

// DefaultConfig excludes the refresh, login, registration, and logout endpoints.
func DefaultConfig() Config {
	return Config{
		RefreshPath: "/auth/refresh",
		ExcludedPaths: []string{
			"/auth/refresh",
			"/auth/login",
			"/auth/register",
			"/auth/logout",
		},
	}
}

// Option configures optional Coordinator dependencies.
type Option func(*Coordinator)

// WithLogger overrides slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

// WithMetrics records refresh activity on m.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Coordinator) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

type outcome struct {
	ok  bool
	err error
}

// Coordinator implements transport.Recoverer.
type Coordinator struct {
	cfg      Config
	excluded map[string]struct{}
	redirect Redirector

	log     *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer

	mu       sync.Mutex
	inFlight bool
	waiters  []chan outcome
}

// New constructs a Coordinator. A nil redirect disables navigation.
func New(cfg Config, redirect Redirector, opts ...Option) *Coordinator {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.RefreshPath) == "" {
		cfg.RefreshPath = def.RefreshPath
	}
	if cfg.ExcludedPaths == nil {
		cfg.ExcludedPaths = def.ExcludedPaths
	}

	c := &Coordinator{
		cfg:      cfg,
		excluded: make(map[string]struct{}, len(cfg.ExcludedPaths)+1),
		redirect: redirect,
		log:      slog.Default(),
		metrics:  NewMetrics(nil),
		tracer:   otel.Tracer(tracerName),
	}
	for _, p := range cfg.ExcludedPaths {
		c.excluded[normalizePath(p)] = struct{}{}
	}
	// A 401 from the refresh call itself must never start another refresh.
	c.excluded[normalizePath(cfg.RefreshPath)] = struct{}{}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(c)
	}
	return c
}

// State reports whether a refresh is outstanding.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight {
		return RefreshInFlight
	}
	return Idle
}

// Pending returns the number of requests waiting on the in-flight refresh.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// Recover handles a failed request. See the package documentation for the protocol.
func (c *Coordinator) Recover(ctx context.Context, d transport.Doer, req *transport.Request, failure *transport.APIError) (*transport.Response, error) {
	if req == nil || failure == nil {
		return nil, failure
	}

	if c.isExcluded(req.Path) {
		if failure.IsUnauthorized() {
			c.log.Debug("refresh.skip.excluded", "method", req.Method, "path", req.Path, "status", failure.Status)
			c.redirectToLogin("excluded_unauthorized")
		}
		return nil, failure
	}

	if !failure.IsUnauthorized() || req.Retried() {
		return nil, failure
	}
	req.MarkRetried()

	c.mu.Lock()
	if c.inFlight {
		ch := make(chan outcome, 1)
		c.waiters = append(c.waiters, ch)
		pending := len(c.waiters)
		c.mu.Unlock()

		c.metrics.waiters.Inc()
		c.log.Debug("refresh.wait", "method", req.Method, "path", req.Path, "pending", pending)
		return c.wait(ctx, d, req, failure, ch)
	}
	c.inFlight = true
	c.mu.Unlock()

	return c.lead(ctx, d, req, failure)
}

func (c *Coordinator) wait(ctx context.Context, d transport.Doer, req *transport.Request, failure *transport.APIError, ch <-chan outcome) (*transport.Response, error) {
	select {
	case o := <-ch:
		if !o.ok {
			c.redirectToLogin("refresh_failed")
			return nil, &RefreshError{Refresh: o.err, Original: failure}
		}
		return c.replay(ctx, d, req)
	case <-ctx.Done():
		// ch is buffered; the leader's flush never blocks on an abandoned waiter.
		return nil, ctx.Err()
	}
}

func (c *Coordinator) lead(ctx context.Context, d transport.Doer, req *transport.Request, failure *transport.APIError) (*transport.Response, error) {
	ctx, span := c.tracer.Start(ctx, "refresh.cycle",
		trace.WithAttributes(
			attribute.String("portal.trigger.method", req.Method),
			attribute.String("portal.trigger.path", req.Path),
		),
	)
	defer span.End()

	c.metrics.inFlight.Set(1)
	c.log.Info("refresh.cycle.start", "trigger_path", req.Path)

	flushed := false
	defer func() {
		if !flushed {
			c.flush(outcome{ok: false, err: errRefreshAborted})
		}
	}()

	// One caller giving up must not fail the cycle for everyone waiting on it.
	refreshReq := transport.NewRequest(http.MethodPost, c.cfg.RefreshPath, nil)
	_, err := d.Do(context.WithoutCancel(ctx), refreshReq)

	waiters := c.flush(outcome{ok: err == nil, err: err})
	flushed = true

	c.metrics.cycles.WithLabelValues(resultLabel(err)).Inc()
	span.SetAttributes(
		attribute.Int("portal.refresh.waiters", waiters),
		attribute.String("portal.refresh.result", resultLabel(err)),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		c.log.Warn("refresh.cycle.fail", "waiters", waiters, "err", err)
		c.redirectToLogin("refresh_failed")
		return nil, &RefreshError{Refresh: err, Original: failure}
	}

	c.log.Info("refresh.cycle.ok", "waiters", waiters)
	return c.replay(ctx, d, req)
}

// flush ends the current cycle: it takes the waiter list and clears the
// in-flight flag in one critical section, so a waiter registered afterwards
// belongs to the next cycle. Waiters are resolved in registration order.
func (c *Coordinator) flush(o outcome) int {
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.inFlight = false
	c.mu.Unlock()

	c.metrics.inFlight.Set(0)
	for _, w := range waiters {
		w <- o
	}
	return len(waiters)
}

func (c *Coordinator) replay(ctx context.Context, d transport.Doer, req *transport.Request) (*transport.Response, error) {
	resp, err := d.Do(ctx, req)
	c.metrics.replays.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		c.log.Debug("refresh.replay.fail", "method", req.Method, "path", req.Path, "err", err)
	}
	return resp, err
}

func (c *Coordinator) redirectToLogin(reason string) {
	if c.redirect == nil {
		return
	}
	if c.redirect.RedirectToLogin() {
		c.metrics.redirects.Inc()
		c.log.Info("refresh.redirect.login", "reason", reason)
	}
}

func (c *Coordinator) isExcluded(path string) bool {
	_, ok := c.excluded[normalizePath(path)]
	return ok
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	p = strings.TrimRight(p, "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
