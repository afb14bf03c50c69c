package session

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"portal/cmd/internal/client/transport"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoAccessToken is returned when the jar holds no access-token cookie.
var ErrNoAccessToken = errors.New("no access token")

// AccessClaims is the display view of the access token.
type AccessClaims struct {
	Subject   string
	Email     string
	Username  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the token's exp is at or before now. A token
// without exp never reports expired.
func (c AccessClaims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

type displayClaims struct {
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Claims decodes the access-token cookie the jar would send to u. The
// signature is NOT verified; the result is for display only and must never
// drive an authorization decision.
func Claims(jar http.CookieJar, u *url.URL, cookieName string) (AccessClaims, error) {
	raw := transport.CookieValue(jar, u, cookieName)
	if raw == "" {
		return AccessClaims{}, ErrNoAccessToken
	}
	return ParseClaims(raw)
}

// ParseClaims decodes a compact JWT without verifying it.
func ParseClaims(raw string) (AccessClaims, error) {
	var dc displayClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &dc); err != nil {
		return AccessClaims{}, fmt.Errorf("decode access token: %w", err)
	}

	out := AccessClaims{
		Subject:  dc.Subject,
		Email:    dc.Email,
		Username: dc.Username,
	}
	if dc.IssuedAt != nil {
		out.IssuedAt = dc.IssuedAt.Time
	}
	if dc.ExpiresAt != nil {
		out.ExpiresAt = dc.ExpiresAt.Time
	}
	return out, nil
}
