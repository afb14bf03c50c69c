package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"portal/cmd/internal/authapi"
	"portal/cmd/internal/session"
)

func TestShortID(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":                          "—",
		"abc":                       "abc",
		"0123456789":                "0123456789",
		"01234567890":               "012345…7890",
		"usr_00000001_ada_lovelace": "usr_00…lace",
	}
	for in, want := range cases {
		if got := ShortID(in); got != want {
			t.Fatalf("ShortID(%q)=%q want=%q", in, got, want)
		}
	}
}

func TestRender(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	u := authapi.User{
		Sub:   "usr_00000001_ada",
		Email: "ada@example.com",
		Raw:   json.RawMessage(`{"sub":"usr_00000001_ada","email":"ada@example.com"}`),
	}
	claims := &session.AccessClaims{ExpiresAt: now.Add(90 * time.Second)}

	var buf bytes.Buffer
	if err := Render(&buf, View{User: u, Claims: claims, Now: now}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"Welcome, ada",
		"ada@example.com",
		"usr_00…_ada",
		"expires 2026-01-02T03:05:35Z (in 1m30s)",
		"\"email\": \"ada@example.com\"",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

type logoutFunc func(context.Context) error

func (f logoutFunc) Logout(ctx context.Context) error { return f(ctx) }

func TestLogoutAlwaysClears(t *testing.T) {
	t.Parallel()

	for _, callErr := range []error{nil, errors.New("network down")} {
		s := session.New()
		s.SetUser(authapi.User{Sub: "u1"})

		err := Logout(context.Background(), logoutFunc(func(context.Context) error { return callErr }), s)
		if !errors.Is(err, callErr) {
			t.Fatalf("err=%v want=%v", err, callErr)
		}
		if _, ok := s.User(); ok {
			t.Fatalf("session not cleared (callErr=%v)", callErr)
		}
	}
}
