package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"strings"
	"time"

	"portal/cmd/internal/authapi"
	"portal/cmd/internal/client/refresh"
	"portal/cmd/internal/client/transport"
	"portal/cmd/internal/dashboard"
	"portal/cmd/internal/forms"
	"portal/cmd/internal/nav"
	"portal/cmd/internal/realtime"
	"portal/cmd/internal/session"
	v1 "portal/contracts/realtime/v1"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ErrNotSignedIn is returned when a command needs a session and there is none.
var ErrNotSignedIn = errors.New("not signed in")

func (a *App) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.out)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: unexpected arguments %q", ErrUsage, fs.Args())
	}
	return nil
}

func (a *App) cmdRegister(ctx context.Context, args []string) error {
	fs := a.flagSet("register")
	email := fs.String("email", "", "account email")
	username := fs.String("username", "", "display name (2-40 characters)")
	password := fs.String("password", "", "password (prompted when empty)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	a.stack.Nav.Go("/register")
	pw, err := a.readPassword(*password)
	if err != nil {
		return err
	}

	in := authapi.RegisterInput{Email: strings.TrimSpace(*email), Username: strings.TrimSpace(*username), Password: pw}
	if err := forms.ValidateRegister(in); err != nil {
		a.printFieldErrors(err)
		return err
	}

	if _, err := a.stack.Auth.Register(ctx, in); err != nil {
		fmt.Fprintln(a.out, authapi.ServerMessage(err, "Registration failed"))
		return err
	}

	// Registration does not sign in; the next step is the login page.
	a.stack.Nav.Go(a.cfg.LoginPath)
	fmt.Fprintf(a.out, "Account created. Sign in with: portal login -email %s\n", in.Email)
	return nil
}

func (a *App) cmdLogin(ctx context.Context, args []string) error {
	fs := a.flagSet("login")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "password (prompted when empty)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	a.stack.Nav.Go(a.cfg.LoginPath)
	pw, err := a.readPassword(*password)
	if err != nil {
		return err
	}

	in := authapi.LoginInput{Email: strings.TrimSpace(*email), Password: pw}
	if err := forms.ValidateLogin(in); err != nil {
		a.printFieldErrors(err)
		return err
	}

	u, err := a.stack.Auth.Login(ctx, in)
	if err != nil {
		fmt.Fprintln(a.out, authapi.ServerMessage(err, "Login failed"))
		return err
	}

	a.session.SetUser(u)
	a.stack.Nav.Go("/dashboard")
	fmt.Fprintf(a.out, "Signed in as %s\n", u.DisplayName())
	return nil
}

func (a *App) cmdMe(ctx context.Context, args []string) error {
	if err := parseFlags(a.flagSet("me"), args); err != nil {
		return err
	}
	if err := a.probe(ctx); err != nil {
		return err
	}
	u, _ := a.session.User()
	fmt.Fprintln(a.out, dashboard.Payload(u))
	return nil
}

func (a *App) cmdDashboard(ctx context.Context, args []string) error {
	if err := parseFlags(a.flagSet("dashboard"), args); err != nil {
		return err
	}

	a.stack.Nav.Go("/dashboard")
	// Guard decisions before the probe would be Wait; resolve once it ends.
	if err := a.session.Probe(ctx, a.stack.Auth); err != nil && !sessionGone(err) {
		return err
	}

	d := a.router.Resolve(a.stack.Nav.Location(), a.session)
	switch d.Kind {
	case nav.Render:
	case nav.Redirect:
		a.stack.Nav.Go(d.Target)
		fmt.Fprintln(a.out, "Not signed in. Run: portal login")
		return ErrNotSignedIn
	default:
		return fmt.Errorf("dashboard: unexpected route decision %s", d.Kind)
	}

	u, _ := a.session.User()
	v := dashboard.View{User: u, Now: time.Now()}
	if c, err := session.Claims(a.jar, a.base, a.cfg.AccessCookieName); err == nil {
		v.Claims = &c
	}
	return dashboard.Render(a.out, v)
}

func (a *App) cmdLogout(ctx context.Context, args []string) error {
	if err := parseFlags(a.flagSet("logout"), args); err != nil {
		return err
	}
	if err := dashboard.Logout(ctx, a.stack.Auth, a.session); err != nil {
		a.log.Warn("auth.logout.local_only", "err", err)
	}
	a.stack.Nav.Go(a.cfg.LoginPath)
	fmt.Fprintln(a.out, "Signed out")
	return nil
}

func (a *App) cmdWatch(ctx context.Context, args []string) error {
	fs := a.flagSet("watch")
	metricsAddr := fs.String("metrics", a.cfg.MetricsAddr, "serve Prometheus metrics on this address (empty disables)")
	limit := fs.Int("n", 0, "stop after n feed messages (0 streams until interrupted)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	if *metricsAddr != "" {
		stop := a.serveMetrics(*metricsAddr)
		defer stop()
	}

	s, err := realtime.Dial(ctx, a.stack.Transport, realtime.Options{
		Path:   a.cfg.RealtimePath,
		Logger: a.log,
	})
	if err != nil {
		if a.stack.Nav.AtLogin() {
			fmt.Fprintln(a.out, "Session expired. Run: portal login")
		}
		return err
	}
	defer func() { _ = s.Close() }()

	fmt.Fprintf(a.out, "connected session=%s sub=%s\n", s.SessionID(), s.Subject())

	for seen := 0; *limit == 0 || seen < *limit; {
		env, err := s.Next(ctx)
		if errors.Is(err, realtime.ErrClosed) || errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			return err
		}
		switch env.Type {
		case v1.TypeMessageNew:
			var p v1.MessageNewPayload
			if err := env.Decode(&p); err != nil {
				return err
			}
			seen++
			fmt.Fprintf(a.out, "[%d] %s\n", p.Seq, p.Text)
		case v1.TypeSessionNotice:
			var p v1.SessionNoticePayload
			if err := env.Decode(&p); err == nil {
				fmt.Fprintf(a.out, "session: %s\n", p.Kind)
			}
		case v1.TypeError:
			var p v1.ErrorPayload
			_ = env.Decode(&p)
			return fmt.Errorf("realtime: %s: %s", p.Code, p.Message)
		}
	}
	return nil
}

// serveMetrics exposes the registry until the returned stop func runs.
func (a *App) serveMetrics(addr string) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.log.Info("metrics.start", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics.fail", "err", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.log.Warn("metrics.shutdown.fail", "err", err)
		}
	}
}

func (a *App) probe(ctx context.Context) error {
	if err := a.session.Probe(ctx, a.stack.Auth); err != nil {
		if sessionGone(err) {
			fmt.Fprintln(a.out, "Not signed in. Run: portal login")
			return fmt.Errorf("%w: %v", ErrNotSignedIn, err)
		}
		return err
	}
	return nil
}

// sessionGone reports a failure that means there is no usable session.
func sessionGone(err error) bool {
	return transport.IsUnauthorized(err) ||
		errors.Is(err, refresh.ErrRefreshFailed) ||
		errors.Is(err, authapi.ErrNoUser)
}

func (a *App) printFieldErrors(err error) {
	var fe forms.Errors
	if !errors.As(err, &fe) {
		return
	}
	for _, field := range []string{forms.FieldEmail, forms.FieldUsername, forms.FieldPassword} {
		if msg := fe.Field(field); msg != "" {
			fmt.Fprintf(a.out, "%s: %s\n", field, msg)
		}
	}
}
