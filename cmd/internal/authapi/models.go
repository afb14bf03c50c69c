package authapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoUser is returned when a response carries no user object.
var ErrNoUser = errors.New("response has no user")

// User is the authenticated principal as the server reports it. Raw keeps the
// full object for display.
type User struct {
	Sub      string          `json:"sub,omitempty"`
	ID       string          `json:"id,omitempty"`
	Email    string          `json:"email,omitempty"`
	Username string          `json:"username,omitempty"`
	Raw      json.RawMessage `json:"-"`
}

// Subject prefers sub, then id.
func (u User) Subject() string {
	if s := strings.TrimSpace(u.Sub); s != "" {
		return s
	}
	return strings.TrimSpace(u.ID)
}

// DisplayName is the username, else the email local part, else "User".
func (u User) DisplayName() string {
	if n := strings.TrimSpace(u.Username); n != "" {
		return n
	}
	if e := strings.TrimSpace(u.Email); e != "" {
		local, _, _ := strings.Cut(e, "@")
		if local != "" {
			return local
		}
	}
	return "User"
}

// RegisterInput is the body of POST /auth/register.
type RegisterInput struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginInput is the body of POST /auth/login.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// decodeUser accepts {"user": {...}} or a bare user object.
func decodeUser(body []byte) (User, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return User{}, ErrNoUser
	}

	var envelope struct {
		User json.RawMessage `json:"user"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return User{}, fmt.Errorf("decode user: %w", err)
	}
	raw := json.RawMessage(body)
	if len(envelope.User) > 0 && !bytes.Equal(envelope.User, []byte("null")) {
		raw = envelope.User
	}

	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return User{}, fmt.Errorf("decode user: %w", err)
	}
	if u.Subject() == "" && u.Email == "" && u.Username == "" {
		return User{}, ErrNoUser
	}
	u.Raw = append(json.RawMessage(nil), raw...)
	return u, nil
}
