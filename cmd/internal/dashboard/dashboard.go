// Package dashboard renders the signed-in view.
package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"portal/cmd/internal/authapi"
	"portal/cmd/internal/session"
)

const emptyID = "—"

// View is everything the dashboard shows.
type View struct {
	User   authapi.User
	Claims *session.AccessClaims
	Now    time.Time
}

// ShortID keeps ids of up to ten characters and abbreviates longer ones to
// the first six and last four.
func ShortID(id string) string {
	r := []rune(id)
	switch {
	case len(r) == 0:
		return emptyID
	case len(r) <= 10:
		return id
	default:
		return string(r[:6]) + "…" + string(r[len(r)-4:])
	}
}

// Payload is the user object as indented JSON.
func Payload(u authapi.User) string {
	var out bytes.Buffer
	if len(u.Raw) > 0 && json.Indent(&out, u.Raw, "", "  ") == nil {
		return out.String()
	}
	b, err := json.MarshalIndent(u, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", u)
	}
	return string(b)
}

// Render writes the dashboard to w.
func Render(w io.Writer, v View) error {
	if v.Now.IsZero() {
		v.Now = time.Now()
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Welcome, %s\n\n", v.User.DisplayName())
	fmt.Fprintf(tw, "Email\t%s\n", orDash(v.User.Email))
	fmt.Fprintf(tw, "Subject\t%s\n", ShortID(v.User.Subject()))
	if v.Claims != nil && !v.Claims.ExpiresAt.IsZero() {
		fmt.Fprintf(tw, "Access token\t%s\n", expiry(*v.Claims, v.Now))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\nSession payload:\n%s\n", Payload(v.User))
	return err
}

func expiry(c session.AccessClaims, now time.Time) string {
	at := c.ExpiresAt.UTC().Format(time.RFC3339)
	if c.Expired(now) {
		return "expired at " + at
	}
	return fmt.Sprintf("expires %s (in %s)", at, c.ExpiresAt.Sub(now).Truncate(time.Second))
}

func orDash(s string) string {
	if s == "" {
		return emptyID
	}
	return s
}

// Logouter ends the server session.
type Logouter interface {
	Logout(ctx context.Context) error
}

// Logout ends the session. The local session is cleared even when the call
// fails; the call's error is still returned.
func Logout(ctx context.Context, api Logouter, s *session.State) error {
	defer s.Clear()
	return api.Logout(ctx)
}
