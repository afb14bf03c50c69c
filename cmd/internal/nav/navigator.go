// Package nav tracks where the client currently is and decides what each route renders.
package nav

import (
	"log/slog"
	"strings"
	"sync"
)

// DefaultLoginPath is the login entry point.
const DefaultLoginPath = "/login"

// Navigator holds the current location. It is safe for concurrent use.
type Navigator struct {
	loginPath  string
	log        *slog.Logger
	onNavigate func(from, to string)

	mu       sync.Mutex
	location string
}

// NavigatorOption configures a Navigator.
type NavigatorOption func(*Navigator)

// WithLoginPath overrides DefaultLoginPath.
func WithLoginPath(p string) NavigatorOption {
	return func(n *Navigator) {
		if p = cleanPath(p); p != "/" {
			n.loginPath = p
		}
	}
}

// WithOnNavigate registers a callback invoked after every location change.
func WithOnNavigate(fn func(from, to string)) NavigatorOption {
	return func(n *Navigator) {
		n.onNavigate = fn
	}
}

// WithNavLogger overrides slog.Default().
func WithNavLogger(log *slog.Logger) NavigatorOption {
	return func(n *Navigator) {
		if log != nil {
			n.log = log
		}
	}
}

// NewNavigator starts at location start.
func NewNavigator(start string, opts ...NavigatorOption) *Navigator {
	n := &Navigator{
		loginPath: DefaultLoginPath,
		log:       slog.Default(),
		location:  cleanPath(start),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(n)
	}
	return n
}

// Location returns the current location.
func (n *Navigator) Location() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.location
}

// LoginPath returns the login entry point.
func (n *Navigator) LoginPath() string { return n.loginPath }

// AtLogin reports whether the current location is the login entry point.
func (n *Navigator) AtLogin() bool {
	return n.Location() == n.loginPath
}

// Go navigates to path. It returns false when already there.
func (n *Navigator) Go(path string) bool {
	path = cleanPath(path)

	n.mu.Lock()
	from := n.location
	if from == path {
		n.mu.Unlock()
		return false
	}
	n.location = path
	n.mu.Unlock()

	n.log.Debug("nav.go", "from", from, "to", path)
	if n.onNavigate != nil {
		n.onNavigate(from, path)
	}
	return true
}

// RedirectToLogin navigates to the login entry point. Already being there is a
// no-op, which keeps a refresh attempted from the login page from looping.
func (n *Navigator) RedirectToLogin() bool {
	return n.Go(n.loginPath)
}

func cleanPath(p string) string {
	p = strings.TrimSpace(p)
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}
