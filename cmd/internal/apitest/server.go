// Package apitest runs an in-process stand-in for the session API: cookie
// sessions, double-submit CSRF, rotating refresh tokens and the realtime feed.
package apitest

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Cookie and header names, matching the client defaults.
const (
	AccessCookie  = "arc_access_token"
	RefreshCookie = "arc_refresh_token"
	CSRFCookie    = "arc_csrf_token"
	CSRFHeader    = "X-CSRF-Token"

	accessTTL  = 15 * time.Minute
	refreshTTL = 24 * time.Hour
	maxBody    = 64 << 10
)

// Account is a registered user.
type Account struct {
	ID       string
	Email    string
	Username string
	Password string
}

type accessClaims struct {
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	Gen      int64  `json:"gen"`
	jwt.RegisteredClaims
}

// Server is the fake API. Start it with New; it is closed via t.Cleanup when
// created with NewT.
type Server struct {
	*httptest.Server

	secret []byte
	log    *slog.Logger

	generation   atomic.Int64
	failRefresh  atomic.Bool
	refreshCalls atomic.Int64
	nextID       atomic.Int64

	mu             sync.Mutex
	accounts       map[string]Account
	sessions       map[string]string
	calls          map[string]int64
	hold           chan struct{}
	refreshStarted chan struct{}
	feed           []string
}

// New starts a Server. A nil log discards server-side logs.
func New(log *slog.Logger) *Server {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	secret := make([]byte, 32)
	_, _ = rand.Read(secret)

	s := &Server{
		secret:         secret,
		log:            log,
		accounts:       make(map[string]Account),
		sessions:       make(map[string]string),
		calls:          make(map[string]int64),
		refreshStarted: make(chan struct{}, 64),
	}
	s.generation.Store(1)
	s.Server = httptest.NewServer(s.routes())
	return s
}

// NewT starts a Server closed at the end of the test.
func NewT(t interface{ Cleanup(func()) }) *Server {
	s := New(nil)
	t.Cleanup(s.Close)
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("GET /auth/me", s.handleMe)
	mux.HandleFunc("POST /auth/refresh", s.handleRefresh)
	mux.HandleFunc("POST /auth/logout", s.handleLogout)
	mux.HandleFunc("GET /notes", s.handleNotes)
	mux.HandleFunc("POST /notes", s.handleNotes)
	mux.HandleFunc("GET /ws", s.handleWS)
	return s.countCalls(mux)
}

func (s *Server) countCalls(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[r.URL.Path]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

// AddAccount registers an account directly.
func (s *Server) AddAccount(email, username, password string) Account {
	a := Account{
		ID:       fmt.Sprintf("usr_%08d_%s", s.nextID.Add(1), strings.ToLower(username)),
		Email:    strings.ToLower(strings.TrimSpace(email)),
		Username: username,
		Password: password,
	}
	s.mu.Lock()
	s.accounts[a.Email] = a
	s.mu.Unlock()
	return a
}

// ExpireAccess invalidates every access token issued so far. Refresh tokens stay valid.
func (s *Server) ExpireAccess() { s.generation.Add(1) }

// FailRefresh makes the refresh endpoint reject every call with 401.
func (s *Server) FailRefresh(v bool) { s.failRefresh.Store(v) }

// RefreshCalls is the number of refresh requests received.
func (s *Server) RefreshCalls() int64 { return s.refreshCalls.Load() }

// Calls is the number of requests received for path.
func (s *Server) Calls(path string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// RefreshStarted receives a value each time a refresh request arrives.
func (s *Server) RefreshStarted() <-chan struct{} { return s.refreshStarted }

// HoldRefresh blocks refresh responses until the returned release func is called.
func (s *Server) HoldRefresh() (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.hold = ch
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.hold == ch {
				s.hold = nil
			}
			s.mu.Unlock()
			close(ch)
		})
	}
}

// SetFeed sets the messages streamed to each realtime connection after hello_ack.
func (s *Server) SetFeed(msgs ...string) {
	s.mu.Lock()
	s.feed = append([]string(nil), msgs...)
	s.mu.Unlock()
}

// ---- handlers ----

type userJSON struct {
	Sub      string `json:"sub"`
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

func toUserJSON(a Account) userJSON {
	return userJSON{Sub: a.ID, ID: a.ID, Email: a.Email, Username: a.Username}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid request body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || len(in.Password) < 8 {
		writeError(w, http.StatusBadRequest, "invalid_input", "Invalid registration details")
		return
	}

	s.mu.Lock()
	_, taken := s.accounts[email]
	s.mu.Unlock()
	if taken {
		writeError(w, http.StatusConflict, "email_taken", "Email already registered")
		return
	}

	a := s.AddAccount(email, in.Username, in.Password)
	if err := s.startSession(w, a); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "Could not start session")
		return
	}
	s.log.Info("apitest.register.ok", "sub", a.ID)
	writeJSON(w, http.StatusCreated, map[string]any{"user": toUserJSON(a)})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid request body")
		return
	}

	s.mu.Lock()
	a, ok := s.accounts[strings.ToLower(strings.TrimSpace(in.Email))]
	s.mu.Unlock()
	if !ok || !secureStringEqual(a.Password, in.Password) {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
		return
	}

	if err := s.startSession(w, a); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "Could not start session")
		return
	}
	s.log.Info("apitest.login.ok", "sub", a.ID)
	writeJSON(w, http.StatusOK, map[string]any{"user": toUserJSON(a)})
}

// handleMe answers with a bare user object.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	a, ok := s.authenticate(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, toUserJSON(a))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)
	select {
	case s.refreshStarted <- struct{}{}:
	default:
	}

	s.mu.Lock()
	hold := s.hold
	s.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}

	c, err := r.Cookie(RefreshCookie)
	if err != nil || strings.TrimSpace(c.Value) == "" {
		writeError(w, http.StatusUnauthorized, "refresh_missing", "Session expired")
		return
	}
	if !csrfValid(r) {
		writeError(w, http.StatusForbidden, "csrf_invalid", "CSRF token mismatch")
		return
	}
	if s.failRefresh.Load() {
		s.clearCookies(w)
		writeError(w, http.StatusUnauthorized, "refresh_invalid", "Session expired")
		return
	}

	s.mu.Lock()
	email, ok := s.sessions[c.Value]
	if ok {
		delete(s.sessions, c.Value)
	}
	a, known := s.accounts[email]
	s.mu.Unlock()
	if !ok || !known {
		s.clearCookies(w)
		writeError(w, http.StatusUnauthorized, "refresh_invalid", "Session expired")
		return
	}

	if err := s.startSession(w, a); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "Could not rotate session")
		return
	}
	s.log.Info("apitest.refresh.ok", "sub", a.ID)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !csrfValid(r) {
		writeError(w, http.StatusForbidden, "csrf_invalid", "CSRF token mismatch")
		return
	}
	if c, err := r.Cookie(RefreshCookie); err == nil {
		s.mu.Lock()
		delete(s.sessions, c.Value)
		s.mu.Unlock()
	}
	s.clearCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleNotes is an ordinary protected resource.
func (s *Server) handleNotes(w http.ResponseWriter, r *http.Request) {
	a, ok := s.authenticate(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}
	if r.Method != http.MethodGet && !csrfValid(r) {
		writeError(w, http.StatusForbidden, "csrf_invalid", "CSRF token mismatch")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"owner": a.ID, "items": []string{}})
}

// ---- session plumbing ----

func (s *Server) startSession(w http.ResponseWriter, a Account) error {
	now := time.Now().UTC()
	access, err := s.mintAccess(a, now)
	if err != nil {
		return err
	}
	refresh, err := newOpaqueToken(32)
	if err != nil {
		return err
	}
	csrf, err := newOpaqueToken(32)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.sessions[refresh] = a.Email
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: AccessCookie, Value: access, Path: "/", Expires: now.Add(accessTTL), HttpOnly: true, SameSite: http.SameSiteLaxMode})
	http.SetCookie(w, &http.Cookie{Name: RefreshCookie, Value: refresh, Path: "/", Expires: now.Add(refreshTTL), HttpOnly: true, SameSite: http.SameSiteLaxMode})
	http.SetCookie(w, &http.Cookie{Name: CSRFCookie, Value: csrf, Path: "/", Expires: now.Add(refreshTTL), SameSite: http.SameSiteLaxMode})
	return nil
}

func (s *Server) clearCookies(w http.ResponseWriter) {
	for _, name := range []string{AccessCookie, RefreshCookie, CSRFCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:    name,
			Value:   "",
			Path:    "/",
			Expires: time.Unix(0, 0).UTC(),
			MaxAge:  -1,
		})
	}
}

func (s *Server) mintAccess(a Account, now time.Time) (string, error) {
	claims := accessClaims{
		Email:    a.Email,
		Username: a.Username,
		Gen:      s.generation.Load(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(accessTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

func (s *Server) authenticate(r *http.Request) (Account, bool) {
	c, err := r.Cookie(AccessCookie)
	if err != nil || strings.TrimSpace(c.Value) == "" {
		return Account{}, false
	}

	var claims accessClaims
	_, err = jwt.ParseWithClaims(c.Value, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || claims.Gen != s.generation.Load() {
		return Account{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[claims.Email]
	return a, ok && a.ID == claims.Subject
}

func csrfValid(r *http.Request) bool {
	c, err := r.Cookie(CSRFCookie)
	if err != nil {
		return false
	}
	return secureStringEqual(strings.TrimSpace(c.Value), strings.TrimSpace(r.Header.Get(CSRFHeader)))
}

// ---- helpers ----

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(dst)
}

func newOpaqueToken(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func secureStringEqual(a, b string) bool {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
