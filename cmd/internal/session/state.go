// Package session holds the client's view of who is signed in.
package session

import (
	"context"
	"log/slog"
	"sync"

	"portal/cmd/internal/authapi"
	"portal/cmd/internal/nav"
)

// MeFetcher returns the current user.
type MeFetcher interface {
	Me(ctx context.Context) (authapi.User, error)
}

// Snapshot is a point-in-time copy of the session.
type Snapshot struct {
	User    *authapi.User
	Loading bool
}

// Option configures a State.
type Option func(*State)

// WithLogger overrides slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *State) {
		if log != nil {
			s.log = log
		}
	}
}

// WithLoginPath sets the redirect target for unauthenticated guards.
func WithLoginPath(p string) Option {
	return func(s *State) {
		if p != "" {
			s.loginPath = p
		}
	}
}

// State is the session. It starts loading and stays loading until the first
// Probe, SetUser or Clear.
type State struct {
	log       *slog.Logger
	loginPath string

	mu      sync.RWMutex
	user    *authapi.User
	loading bool
	subs    map[int]func(Snapshot)
	nextSub int
}

// New returns a loading State.
func New(opts ...Option) *State {
	s := &State{
		log:       slog.Default(),
		loginPath: nav.DefaultLoginPath,
		loading:   true,
		subs:      make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

// Probe asks the server who is signed in. Any failure clears the user.
// Loading always ends.
func (s *State) Probe(ctx context.Context, me MeFetcher) error {
	u, err := me.Me(ctx)
	if err != nil {
		s.log.Debug("session.probe.anon", "err", err)
		s.set(nil)
		return err
	}
	s.log.Debug("session.probe.ok", "sub", u.Subject())
	s.set(&u)
	return nil
}

// SetUser records a signed-in user (after login or registration).
func (s *State) SetUser(u authapi.User) { s.set(&u) }

// Clear forgets the user.
func (s *State) Clear() { s.set(nil) }

// User returns the signed-in user, if any.
func (s *State) User() (authapi.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return authapi.User{}, false
	}
	return *s.user, true
}

// Loading reports whether the first probe is still pending.
func (s *State) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Snapshot returns a copy of the session.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Subscribe registers fn for change notifications and returns its cancel func.
// fn runs synchronously on the goroutine that changed the session.
func (s *State) Subscribe(fn func(Snapshot)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Guard decides whether a protected page renders.
func (s *State) Guard() nav.Decision {
	snap := s.Snapshot()
	switch {
	case snap.Loading:
		return nav.Decision{Kind: nav.Wait}
	case snap.User == nil:
		return nav.Decision{Kind: nav.Redirect, Target: s.loginPath}
	default:
		return nav.Decision{Kind: nav.Render}
	}
}

func (s *State) set(u *authapi.User) {
	s.mu.Lock()
	s.user = u
	s.loading = false
	snap := s.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

func (s *State) snapshotLocked() Snapshot {
	snap := Snapshot{Loading: s.loading}
	if s.user != nil {
		u := *s.user
		snap.User = &u
	}
	return snap
}
