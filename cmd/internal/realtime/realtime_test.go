package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"portal/cmd/internal/apitest"
	"portal/cmd/internal/authapi"
	"portal/cmd/internal/client"
	"portal/cmd/internal/client/refresh"
	"portal/cmd/internal/client/transport"
	v1 "portal/contracts/realtime/v1"
)

func newSignedIn(t *testing.T) (*apitest.Server, *client.Stack, authapi.User) {
	t.Helper()

	srv := apitest.NewT(t)
	srv.AddAccount("ada@example.com", "ada", "Secret123")

	st, err := client.New(client.Config{
		Transport: transport.Config{
			BaseURL:        srv.URL,
			Timeout:        5 * time.Second,
			CSRFCookieName: apitest.CSRFCookie,
			CSRFHeaderName: apitest.CSRFHeader,
		},
		LoginPath: "/login",
		StartPath: "/dashboard",
	}, client.Options{})
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}

	u, err := st.Auth.Login(context.Background(), authapi.LoginInput{Email: "ada@example.com", Password: "Secret123"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return srv, st, u
}

func TestDial_StreamsFeed(t *testing.T) {
	t.Parallel()

	srv, st, u := newSignedIn(t)
	srv.SetFeed("first", "second")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := Dial(ctx, st.Transport, Options{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() { _ = s.Close() }()

	if s.Subject() != u.Subject() || s.SessionID() == "" {
		t.Fatalf("subject=%q session=%q", s.Subject(), s.SessionID())
	}

	for i, want := range []string{"first", "second"} {
		env, err := s.Next(ctx)
		if err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		if env.Type != v1.TypeMessageNew {
			t.Fatalf("type=%q", env.Type)
		}
		var p v1.MessageNewPayload
		if err := env.Decode(&p); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if p.Text != want || p.Seq != int64(i+1) {
			t.Fatalf("payload=%+v want text=%q", p, want)
		}
	}
	if srv.RefreshCalls() != 0 {
		t.Fatalf("unexpected refresh")
	}
}

func TestDial_ExpiredAccessRefreshesAndRetriesOnce(t *testing.T) {
	t.Parallel()

	srv, st, _ := newSignedIn(t)
	srv.ExpireAccess()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := Dial(ctx, st.Transport, Options{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() { _ = s.Close() }()

	if got := srv.RefreshCalls(); got != 1 {
		t.Fatalf("refresh calls=%d want=1", got)
	}
	if got := srv.Calls(DefaultPath); got != 2 {
		t.Fatalf("ws handshakes=%d want=2", got)
	}
}

func TestDial_RefreshFailureRedirects(t *testing.T) {
	t.Parallel()

	srv, st, _ := newSignedIn(t)
	srv.ExpireAccess()
	srv.FailRefresh(true)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Dial(ctx, st.Transport, Options{})
	if !errors.Is(err, refresh.ErrRefreshFailed) {
		t.Fatalf("err=%v want ErrRefreshFailed", err)
	}
	var re *refresh.RefreshError
	if !errors.As(err, &re) || re.Original == nil || re.Original.Path != DefaultPath || re.Original.Status != 401 {
		t.Fatalf("original=%+v", re)
	}
	if !st.Nav.AtLogin() {
		t.Fatalf("location=%q want login", st.Nav.Location())
	}
	if got := srv.Calls(DefaultPath); got != 1 {
		t.Fatalf("ws handshakes=%d want=1", got)
	}
}

func TestDial_SendsSingleCookieHeader(t *testing.T) {
	t.Parallel()

	var got atomic.Value
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Values("Cookie"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":"forbidden","message":"no"}}`))
	}))
	defer ts.Close()

	c, err := transport.New(transport.Config{BaseURL: ts.URL})
	if err != nil {
		t.Fatalf("transport.New: %v", err)
	}
	c.Jar().SetCookies(c.BaseURL(), []*http.Cookie{
		{Name: "arc_access_token", Value: "at", Path: "/"},
		{Name: "arc_csrf_token", Value: "csrf", Path: "/"},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = Dial(ctx, c, Options{})
	var apiErr *transport.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusForbidden {
		t.Fatalf("err=%v want 403 APIError", err)
	}

	values, _ := got.Load().([]string)
	if len(values) != 1 {
		t.Fatalf("Cookie headers=%q want exactly one", values)
	}
	pairs := strings.Split(values[0], "; ")
	sort.Strings(pairs)
	if want := []string{"arc_access_token=at", "arc_csrf_token=csrf"}; !slices.Equal(pairs, want) {
		t.Fatalf("cookies=%q want=%q", pairs, want)
	}
}

func TestCookieHeader(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		cookies []*http.Cookie
		want    string
	}{
		{name: "none", want: ""},
		{name: "one", cookies: []*http.Cookie{{Name: "a", Value: "1"}}, want: "a=1"},
		{name: "two", cookies: []*http.Cookie{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}}, want: "a=1; b=2"},
		{name: "invalid name skipped", cookies: []*http.Cookie{{Name: "", Value: "x"}, {Name: "b", Value: "2"}}, want: "b=2"},
	}
	for _, tc := range cases {
		if got := cookieHeader(tc.cookies); got != tc.want {
			t.Fatalf("%s: got=%q want=%q", tc.name, got, tc.want)
		}
	}
}
