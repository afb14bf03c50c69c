// Package authapi is a typed client for the session endpoints of the API.
package authapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"portal/cmd/internal/client/transport"
)

// Endpoint paths, relative to the API base URL.
const (
	PathRegister = "/auth/register"
	PathLogin    = "/auth/login"
	PathMe       = "/auth/me"
	PathLogout   = "/auth/logout"
	PathRefresh  = "/auth/refresh"
)

// ExcludedPaths are the endpoints whose 401 means bad credentials or a dead
// session rather than an expired access token.
func ExcludedPaths() []string {
	return []string{PathRefresh, PathLogin, PathRegister, PathLogout}
}

// Client calls the session endpoints over d.
type Client struct {
	d   transport.Doer
	log *slog.Logger
}

// New constructs a Client. A nil log uses slog.Default().
func New(d transport.Doer, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{d: d, log: log}
}

// Register creates an account and starts a session.
func (c *Client) Register(ctx context.Context, in RegisterInput) (User, error) {
	u, err := c.postUser(ctx, PathRegister, in)
	if err != nil {
		c.log.Info("auth.register.fail", "err", err)
		return User{}, err
	}
	c.log.Info("auth.register.ok", "sub", u.Subject())
	return u, nil
}

// Login starts a session.
func (c *Client) Login(ctx context.Context, in LoginInput) (User, error) {
	u, err := c.postUser(ctx, PathLogin, in)
	if err != nil {
		c.log.Info("auth.login.fail", "err", err)
		return User{}, err
	}
	c.log.Info("auth.login.ok", "sub", u.Subject())
	return u, nil
}

// Me returns the current user.
func (c *Client) Me(ctx context.Context) (User, error) {
	resp, err := c.d.Do(ctx, transport.NewRequest(http.MethodGet, PathMe, nil))
	if err != nil {
		return User{}, err
	}
	u, err := decodeUser(resp.Body)
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", PathMe, err)
	}
	return u, nil
}

// Logout ends the session on the server.
func (c *Client) Logout(ctx context.Context) error {
	if _, err := c.d.Do(ctx, transport.NewRequest(http.MethodPost, PathLogout, nil)); err != nil {
		c.log.Warn("auth.logout.fail", "err", err)
		return err
	}
	c.log.Info("auth.logout.ok")
	return nil
}

// Refresh rotates the session explicitly.
func (c *Client) Refresh(ctx context.Context) error {
	_, err := c.d.Do(ctx, transport.NewRequest(http.MethodPost, PathRefresh, nil))
	return err
}

func (c *Client) postUser(ctx context.Context, path string, in any) (User, error) {
	req, err := transport.NewJSONRequest(http.MethodPost, path, in)
	if err != nil {
		return User{}, err
	}
	resp, err := c.d.Do(ctx, req)
	if err != nil {
		return User{}, err
	}
	u, err := decodeUser(resp.Body)
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", path, err)
	}
	return u, nil
}

// ServerMessage returns the message the server attached to err, or fallback.
func ServerMessage(err error, fallback string) string {
	if err == nil {
		return ""
	}
	if apiErr, ok := transport.AsAPIError(err); ok {
		if m := strings.TrimSpace(apiErr.Message); m != "" {
			return m
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "Request timed out"
	}
	return fallback
}
