// Package realtime connects to the session-authenticated live feed.
//
// The WebSocket upgrade is an ordinary authenticated request as far as the
// session is concerned: a 401 handshake goes through the same refresh
// coordinator as any API call, and the dial is retried once after a
// successful refresh.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"portal/cmd/internal/client/transport"
	v1 "portal/contracts/realtime/v1"

	"github.com/coder/websocket"
)

// DefaultPath is the feed endpoint relative to the API base URL.
const DefaultPath = "/ws"

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultReadLimit        = 64 << 10
	maxHandshakeBody        = 1024
)

// ErrHandshake is returned when the server does not answer hello with hello_ack.
var ErrHandshake = errors.New("realtime handshake failed")

// API is the part of the transport client the dialer needs.
type API interface {
	transport.Doer
	URL(path string) *url.URL
	Jar() http.CookieJar
	Recoverer() transport.Recoverer
}

// Options configures Dial.
type Options struct {
	Path             string
	ClientName       string
	HandshakeTimeout time.Duration
	ReadLimit        int64
	Logger           *slog.Logger
	HTTPClient       *http.Client
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.Path) == "" {
		o.Path = DefaultPath
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = defaultReadLimit
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.ClientName == "" {
		o.ClientName = "portal"
	}
	return o
}

// Dial opens the feed and completes the hello handshake.
func Dial(ctx context.Context, api API, opts Options) (*Stream, error) {
	opts = opts.withDefaults()

	d := &dialDoer{api: api, opts: opts}
	req := transport.NewRequest(http.MethodGet, opts.Path, nil)
	if _, err := d.Do(ctx, req); err != nil {
		return nil, err
	}

	conn := d.take()
	conn.SetReadLimit(opts.ReadLimit)

	s := &Stream{conn: conn, log: opts.Logger}
	if err := s.hello(ctx, req.ID(), opts); err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		return nil, err
	}
	return s, nil
}

// dialDoer routes the feed path to a WebSocket dial and everything else
// (the refresh call) to the API client, so the coordinator can drive both.
type dialDoer struct {
	api  API
	opts Options

	mu   sync.Mutex
	conn *websocket.Conn
}

func (d *dialDoer) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if req.Path != d.opts.Path {
		return d.api.Do(ctx, req)
	}

	resp, err := d.dial(ctx, req)
	if err == nil {
		return resp, nil
	}
	apiErr, ok := transport.AsAPIError(err)
	rec := d.api.Recoverer()
	if !ok || rec == nil {
		return nil, err
	}
	return rec.Recover(ctx, d, req, apiErr)
}

func (d *dialDoer) dial(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if err := req.AssignID(time.Now().UTC()); err != nil {
		return nil, err
	}

	u := d.api.URL(req.Path)
	h := http.Header{}
	h.Set(transport.HeaderRequestID, req.ID())
	if jar := d.api.Jar(); jar != nil {
		if v := cookieHeader(jar.Cookies(u)); v != "" {
			h.Set("Cookie", v)
		}
	}

	wsURL := *u
	switch wsURL.Scheme {
	case "http":
		wsURL.Scheme = "ws"
	case "https":
		wsURL.Scheme = "wss"
	}

	dialCtx, cancel := context.WithTimeout(ctx, d.opts.HandshakeTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(dialCtx, wsURL.String(), &websocket.DialOptions{
		HTTPClient:   d.opts.HTTPClient,
		HTTPHeader:   h,
		Subprotocols: []string{v1.Subprotocol},
	})
	if err != nil {
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			var body []byte
			if resp.Body != nil {
				body, _ = io.ReadAll(io.LimitReader(resp.Body, maxHandshakeBody))
				_ = resp.Body.Close()
			}
			d.opts.Logger.Info("realtime.dial.reject", "status", resp.StatusCode, "request_id", req.ID(), "retried", req.Retried())
			return nil, transport.NewAPIError(req, resp.StatusCode, body)
		}
		d.opts.Logger.Warn("realtime.dial.fail", "request_id", req.ID(), "err", err)
		return nil, fmt.Errorf("dial %s: %w", req.Path, err)
	}

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return nil, fmt.Errorf("%w: subprotocol %q", ErrHandshake, sp)
	}

	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()

	d.opts.Logger.Info("realtime.dial.ok", "request_id", req.ID(), "retried", req.Retried())
	return &transport.Response{Status: http.StatusSwitchingProtocols, RequestID: req.ID()}, nil
}

func (d *dialDoer) take() *websocket.Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.conn
	d.conn = nil
	return c
}

// cookieHeader folds cookies into a single Cookie header value.
func cookieHeader(cookies []*http.Cookie) string {
	pairs := make([]string, 0, len(cookies))
	for _, c := range cookies {
		if v := c.String(); v != "" {
			pairs = append(pairs, v)
		}
	}
	return strings.Join(pairs, "; ")
}
