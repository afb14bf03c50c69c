// Package app wires the portal CLI: config, logging, tracing, the API client
// stack, the persisted session and the subcommands.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"sort"
	"strings"

	"portal/cmd/internal/client"
	"portal/cmd/internal/nav"
	"portal/cmd/internal/session"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// ErrUsage is returned for an unknown subcommand or bad flags.
var ErrUsage = errors.New("usage")

// App is the CLI runtime.
type App struct {
	cfg Config
	log *slog.Logger

	in  io.Reader
	out io.Writer

	base    *url.URL
	jar     *sessionJar
	stack   *client.Stack
	session *session.State
	router  *nav.Router
	reg     *prometheus.Registry
}

// IO overrides the terminal streams (tests).
type IO struct {
	In  io.Reader
	Out io.Writer
}

// New constructs a fully wired App and restores the saved session.
func New(cfg Config, log *slog.Logger, stdio IO) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	}
	if stdio.In == nil {
		stdio.In = os.Stdin
	}
	if stdio.Out == nil {
		stdio.Out = os.Stdout
	}

	jar, err := newSessionJar()
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sess := session.New(session.WithLogger(log), session.WithLoginPath(cfg.LoginPath))
	sess.Subscribe(func(snap session.Snapshot) { logSessionChange(log, snap) })

	// Landing on the login page ends the session, whether by logout or by a
	// refresh that failed for good.
	var st *client.Stack
	st, err = client.New(client.Config{
		Transport: cfg.transportConfig(),
		LoginPath: cfg.LoginPath,
		StartPath: "/",
	}, client.Options{
		Logger:     log,
		Registerer: reg,
		Jar:        jar,
		OnNavigate: func(_, to string) {
			if st != nil && to == st.Nav.LoginPath() {
				sess.Clear()
			}
		},
	})
	if err != nil {
		return nil, err
	}

	base := st.Transport.BaseURL()
	n, err := loadSession(cfg.SessionFile, base, jar)
	if err != nil {
		log.Warn("session.load.fail", "path", cfg.SessionFile, "err", err)
	} else {
		log.Debug("session.load.ok", "path", cfg.SessionFile, "cookies", n)
	}

	return &App{
		cfg:     cfg,
		log:     log,
		in:      stdio.In,
		out:     stdio.Out,
		base:    base,
		jar:     jar,
		stack:   st,
		session: sess,
		router:  nav.NewRouter(cfg.LoginPath),
		reg:     reg,
	}, nil
}

func logSessionChange(log *slog.Logger, snap session.Snapshot) {
	switch {
	case snap.User != nil:
		log.Debug("session.user.set", "sub", snap.User.Subject())
	case !snap.Loading:
		log.Debug("session.user.cleared")
	}
}

type command struct {
	summary string
	run     func(a *App, ctx context.Context, args []string) error
}

var commands = map[string]command{
	"register":  {summary: "create an account", run: (*App).cmdRegister},
	"login":     {summary: "sign in", run: (*App).cmdLogin},
	"me":        {summary: "print the signed-in user", run: (*App).cmdMe},
	"dashboard": {summary: "show the signed-in dashboard", run: (*App).cmdDashboard},
	"logout":    {summary: "sign out", run: (*App).cmdLogout},
	"watch":     {summary: "stream the realtime feed", run: (*App).cmdWatch},
}

// Run executes one subcommand and persists the session afterwards, so a
// refresh rotated during the command survives to the next invocation.
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		a.usage()
		return ErrUsage
	}
	cmd, ok := commands[args[0]]
	if !ok {
		a.usage()
		return fmt.Errorf("%w: unknown command %q", ErrUsage, args[0])
	}

	runErr := cmd.run(a, ctx, args[1:])

	if err := saveSession(a.cfg.SessionFile, a.base, a.jar); err != nil {
		a.log.Warn("session.save.fail", "path", a.cfg.SessionFile, "err", err)
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}

func (a *App) usage() {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("usage: portal <command> [flags]\n\ncommands:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "  %-10s %s\n", name, commands[name].summary)
	}
	_, _ = io.WriteString(a.out, b.String())
}
