// Package client assembles the API client: transport, refresh coordinator,
// navigator and the typed session endpoints.
package client

import (
	"fmt"
	"log/slog"
	"net/http"

	"portal/cmd/internal/authapi"
	"portal/cmd/internal/client/refresh"
	"portal/cmd/internal/client/transport"
	"portal/cmd/internal/nav"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// Config is the client configuration.
type Config struct {
	Transport transport.Config
	LoginPath string
	StartPath string
}

// Options carries optional collaborators. The zero value is usable.
type Options struct {
	Logger         *slog.Logger
	Registerer     prometheus.Registerer
	TracerProvider trace.TracerProvider
	Jar            http.CookieJar
	RoundTripper   http.RoundTripper
	OnNavigate     func(from, to string)
}

// Stack is a fully wired client.
type Stack struct {
	Transport *transport.Client
	Refresh   *refresh.Coordinator
	Nav       *nav.Navigator
	Auth      *authapi.Client
}

// New wires a Stack.
func New(cfg Config, o Options) (*Stack, error) {
	log := o.Logger
	if log == nil {
		log = slog.Default()
	}

	start := cfg.StartPath
	if start == "" {
		start = "/"
	}
	navigator := nav.NewNavigator(start,
		nav.WithLoginPath(cfg.LoginPath),
		nav.WithNavLogger(log),
		nav.WithOnNavigate(o.OnNavigate),
	)

	coord := refresh.New(refresh.Config{
		RefreshPath:   authapi.PathRefresh,
		ExcludedPaths: authapi.ExcludedPaths(),
	}, navigator,
		refresh.WithLogger(log),
		refresh.WithMetrics(refresh.NewMetrics(o.Registerer)),
		refresh.WithTracerProvider(o.TracerProvider),
	)

	tc, err := transport.New(cfg.Transport,
		transport.WithLogger(log),
		transport.WithRecoverer(coord),
		transport.WithJar(o.Jar),
		transport.WithRoundTripper(o.RoundTripper),
		transport.WithTracerProvider(o.TracerProvider),
	)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}

	return &Stack{
		Transport: tc,
		Refresh:   coord,
		Nav:       navigator,
		Auth:      authapi.New(tc, log),
	}, nil
}
