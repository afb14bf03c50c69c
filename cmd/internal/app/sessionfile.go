package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

const sessionFileMode = 0o600

// sessionJar is a cookie jar that also remembers every cookie with its
// attributes, so the session can be written to disk between invocations.
// net/http/cookiejar only hands back name and value.
type sessionJar struct {
	inner *cookiejar.Jar

	mu      sync.Mutex
	cookies map[string]*http.Cookie
}

func newSessionJar() (*sessionJar, error) {
	inner, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	return &sessionJar{inner: inner, cookies: make(map[string]*http.Cookie)}, nil
}

func (j *sessionJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.inner.SetCookies(u, cookies)

	now := time.Now()
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range cookies {
		key := c.Name + "|" + c.Path
		if c.MaxAge < 0 || (!c.Expires.IsZero() && !c.Expires.After(now)) {
			delete(j.cookies, key)
			continue
		}
		cp := *c
		if cp.MaxAge > 0 {
			cp.Expires = now.Add(time.Duration(cp.MaxAge) * time.Second)
			cp.MaxAge = 0
		}
		j.cookies[key] = &cp
	}
}

func (j *sessionJar) Cookies(u *url.URL) []*http.Cookie { return j.inner.Cookies(u) }

func (j *sessionJar) snapshot() []storedCookie {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now()
	out := make([]storedCookie, 0, len(j.cookies))
	for _, c := range j.cookies {
		if !c.Expires.IsZero() && !c.Expires.After(now) {
			continue
		}
		out = append(out, storedCookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

type storedCookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Path     string    `json:"path,omitempty"`
	Domain   string    `json:"domain,omitempty"`
	Expires  time.Time `json:"expires,omitzero"`
	Secure   bool      `json:"secure,omitempty"`
	HttpOnly bool      `json:"http_only,omitempty"`
}

type sessionFile struct {
	BaseURL string         `json:"base_url"`
	SavedAt time.Time      `json:"saved_at"`
	Cookies []storedCookie `json:"cookies"`
}

// loadSession restores cookies saved for base. A missing file, or one saved
// for a different base URL, leaves the jar empty.
func loadSession(path string, base *url.URL, j *sessionJar) (int, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read session: %w", err)
	}

	var sf sessionFile
	if err := json.Unmarshal(b, &sf); err != nil {
		return 0, fmt.Errorf("decode session %s: %w", path, err)
	}
	if sf.BaseURL != base.String() {
		return 0, nil
	}

	cookies := make([]*http.Cookie, 0, len(sf.Cookies))
	for _, sc := range sf.Cookies {
		cookies = append(cookies, &http.Cookie{
			Name:     sc.Name,
			Value:    sc.Value,
			Path:     sc.Path,
			Domain:   sc.Domain,
			Expires:  sc.Expires,
			Secure:   sc.Secure,
			HttpOnly: sc.HttpOnly,
		})
	}
	j.SetCookies(base, cookies)
	return len(j.snapshot()), nil
}

// saveSession writes the jar for base with owner-only permissions. An empty
// jar removes the file.
func saveSession(path string, base *url.URL, j *sessionJar) error {
	cookies := j.snapshot()
	if len(cookies) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove session: %w", err)
		}
		return nil
	}

	b, err := json.MarshalIndent(sessionFile{
		BaseURL: base.String(),
		SavedAt: time.Now().UTC(),
		Cookies: cookies,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("session dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".session-*")
	if err != nil {
		return fmt.Errorf("session temp: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := tmp.Chmod(sessionFileMode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("session chmod: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace session: %w", err)
	}
	return nil
}
