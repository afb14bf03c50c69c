package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"portal/cmd/internal/apitest"
	"portal/cmd/internal/client/refresh"
	"portal/cmd/internal/client/transport"
	"portal/cmd/internal/forms"
)

type cli struct {
	t    *testing.T
	srv  *apitest.Server
	file string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	return &cli{t: t, srv: apitest.NewT(t), file: filepath.Join(t.TempDir(), "session.json")}
}

// run simulates one process invocation: a fresh App sharing only the session file.
func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()

	cfg, err := LoadConfigFrom(map[string]string{
		"PORTAL_BASE_URL":     c.srv.URL,
		"PORTAL_SESSION_FILE": c.file,
	})
	if err != nil {
		c.t.Fatalf("LoadConfigFrom: %v", err)
	}

	var out bytes.Buffer
	a, err := New(cfg, slog.New(slog.DiscardHandler), IO{In: strings.NewReader(""), Out: &out})
	if err != nil {
		c.t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = a.Run(ctx, args)
	return out.String(), err
}

func TestCLI_SessionLifecycle(t *testing.T) {
	t.Parallel()

	c := newCLI(t)
	c.srv.SetFeed("hello", "world")

	out, err := c.run("register", "-email", "ada@example.com", "-username", "ada", "-password", "Secret123")
	if err != nil || !strings.Contains(out, "Account created") {
		t.Fatalf("register: out=%q err=%v", out, err)
	}

	out, err = c.run("login", "-email", "ada@example.com", "-password", "Secret123")
	if err != nil || !strings.Contains(out, "Signed in as ada") {
		t.Fatalf("login: out=%q err=%v", out, err)
	}

	out, err = c.run("dashboard")
	if err != nil || !strings.Contains(out, "Welcome, ada") || !strings.Contains(out, "Access token") {
		t.Fatalf("dashboard: out=%q err=%v", out, err)
	}

	// An expired access token is refreshed transparently and the rotated
	// cookies are persisted for the next invocation.
	c.srv.ExpireAccess()
	out, err = c.run("me")
	if err != nil || !strings.Contains(out, `"email": "ada@example.com"`) {
		t.Fatalf("me after expiry: out=%q err=%v", out, err)
	}
	if c.srv.RefreshCalls() != 1 {
		t.Fatalf("refresh calls=%d want=1", c.srv.RefreshCalls())
	}
	if _, err := c.run("me"); err != nil {
		t.Fatalf("me with persisted rotation: %v", err)
	}
	if c.srv.RefreshCalls() != 1 {
		t.Fatalf("rotated session was not persisted; refresh calls=%d", c.srv.RefreshCalls())
	}

	out, err = c.run("watch", "-n", "2")
	if err != nil || !strings.Contains(out, "[1] hello") || !strings.Contains(out, "[2] world") {
		t.Fatalf("watch: out=%q err=%v", out, err)
	}

	out, err = c.run("logout")
	if err != nil || !strings.Contains(out, "Signed out") {
		t.Fatalf("logout: out=%q err=%v", out, err)
	}

	out, err = c.run("dashboard")
	if !errors.Is(err, ErrNotSignedIn) || !strings.Contains(out, "Not signed in") {
		t.Fatalf("dashboard after logout: out=%q err=%v", out, err)
	}
}

func TestCLI_ValidationNeverReachesServer(t *testing.T) {
	t.Parallel()

	c := newCLI(t)
	out, err := c.run("register", "-email", "nope", "-username", "a", "-password", "weakpassword")

	var fe forms.Errors
	if !errors.As(err, &fe) {
		t.Fatalf("err=%v want forms.Errors", err)
	}
	for _, want := range []string{
		"email: Enter a valid email",
		"username: Min 2 characters",
		"password: Must include uppercase, lowercase, and a number",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q: %q", want, out)
		}
	}
	if got := c.srv.Calls("/auth/register"); got != 0 {
		t.Fatalf("register calls=%d want=0", got)
	}
}

func TestCLI_BadCredentials(t *testing.T) {
	t.Parallel()

	c := newCLI(t)
	c.srv.AddAccount("ada@example.com", "ada", "Secret123")

	out, err := c.run("login", "-email", "ada@example.com", "-password", "Wrong1234")
	if err == nil || !strings.Contains(out, "Invalid email or password") {
		t.Fatalf("out=%q err=%v", out, err)
	}
	if c.srv.RefreshCalls() != 0 {
		t.Fatalf("login failure must not refresh")
	}
}

func TestCLI_UnknownCommand(t *testing.T) {
	t.Parallel()

	c := newCLI(t)
	out, err := c.run("frobnicate")
	if !errors.Is(err, ErrUsage) || !strings.Contains(out, "usage: portal") {
		t.Fatalf("out=%q err=%v", out, err)
	}
}

func TestApp_RefreshFailureClearsSession(t *testing.T) {
	t.Parallel()

	srv := apitest.NewT(t)
	srv.AddAccount("ada@example.com", "ada", "Secret123")

	cfg, err := LoadConfigFrom(map[string]string{
		"PORTAL_BASE_URL":     srv.URL,
		"PORTAL_SESSION_FILE": filepath.Join(t.TempDir(), "session.json"),
	})
	if err != nil {
		t.Fatalf("LoadConfigFrom: %v", err)
	}
	var out bytes.Buffer
	a, err := New(cfg, slog.New(slog.DiscardHandler), IO{In: strings.NewReader(""), Out: &out})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.cmdLogin(ctx, []string{"-email", "ada@example.com", "-password", "Secret123"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, ok := a.session.User(); !ok {
		t.Fatal("expected a signed-in user after login")
	}

	srv.FailRefresh(true)
	srv.ExpireAccess()

	_, err = a.stack.Transport.Do(ctx, transport.NewRequest(http.MethodGet, "/notes", nil))
	if !errors.Is(err, refresh.ErrRefreshFailed) {
		t.Fatalf("err=%v want ErrRefreshFailed", err)
	}
	if _, ok := a.session.User(); ok {
		t.Fatal("session still holds a user after refresh failed")
	}
	if a.session.Loading() {
		t.Fatal("session should not be loading")
	}
	if !a.stack.Nav.AtLogin() {
		t.Fatalf("location=%q want login", a.stack.Nav.Location())
	}
}
