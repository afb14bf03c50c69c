package nav

import (
	"sync"
	"testing"
)

func TestNavigator_RedirectToLoginIsIdempotent(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		moves []string
	)
	n := NewNavigator("/dashboard", WithOnNavigate(func(from, to string) {
		mu.Lock()
		moves = append(moves, from+"->"+to)
		mu.Unlock()
	}))

	var wg sync.WaitGroup
	var navigated int32
	var nmu sync.Mutex
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if n.RedirectToLogin() {
				nmu.Lock()
				navigated++
				nmu.Unlock()
			}
		}()
	}
	wg.Wait()

	if navigated != 1 {
		t.Fatalf("navigations=%d want=1", navigated)
	}
	if n.Location() != "/login" || !n.AtLogin() {
		t.Fatalf("location=%q", n.Location())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(moves) != 1 || moves[0] != "/dashboard->/login" {
		t.Fatalf("moves=%v", moves)
	}
}

func TestNavigator_NoRedirectFromLogin(t *testing.T) {
	t.Parallel()

	called := false
	n := NewNavigator("/login/", WithOnNavigate(func(string, string) { called = true }))
	if n.RedirectToLogin() {
		t.Fatalf("expected no-op at login")
	}
	if called {
		t.Fatalf("OnNavigate must not fire for a no-op")
	}
}

func TestNavigator_CustomLoginPath(t *testing.T) {
	t.Parallel()

	n := NewNavigator("/", WithLoginPath("/signin"))
	if !n.RedirectToLogin() || n.Location() != "/signin" {
		t.Fatalf("location=%q", n.Location())
	}
}

type staticGuard Decision

func (g staticGuard) Guard() Decision { return Decision(g) }

func TestRouter_Resolve(t *testing.T) {
	t.Parallel()

	r := NewRouter("/login")
	authed := staticGuard{Kind: Render}
	loading := staticGuard{Kind: Wait}
	anon := staticGuard{Kind: Redirect, Target: "/login"}

	cases := []struct {
		name string
		path string
		g    Guard
		want Decision
	}{
		{name: "root", path: "/", g: authed, want: Decision{Kind: Redirect, Target: "/dashboard"}},
		{name: "login", path: "/login", g: anon, want: Decision{Kind: Render, Page: PageLogin}},
		{name: "register", path: "/register", g: nil, want: Decision{Kind: Render, Page: PageRegister}},
		{name: "dashboard authed", path: "/dashboard", g: authed, want: Decision{Kind: Render, Page: PageDashboard}},
		{name: "dashboard loading", path: "/dashboard", g: loading, want: Decision{Kind: Wait}},
		{name: "dashboard anon", path: "/dashboard", g: anon, want: Decision{Kind: Redirect, Target: "/login"}},
		{name: "dashboard nil guard", path: "/dashboard", g: nil, want: Decision{Kind: Redirect, Target: "/login"}},
		{name: "unknown", path: "/nope", g: authed, want: Decision{Kind: NotFound}},
	}

	for _, tc := range cases {
		if got := r.Resolve(tc.path, tc.g); got != tc.want {
			t.Fatalf("%s: Resolve(%q)=%+v want=%+v", tc.name, tc.path, got, tc.want)
		}
	}
}

func TestRouter_CustomLoginPath(t *testing.T) {
	t.Parallel()

	r := NewRouter("/signin")

	if got := r.Resolve("/dashboard", nil); got != (Decision{Kind: Redirect, Target: "/signin"}) {
		t.Fatalf("nil guard: got=%+v want redirect to /signin", got)
	}
	if got := r.Resolve("/signin", nil); got != (Decision{Kind: Render, Page: PageLogin}) {
		t.Fatalf("login page: got=%+v", got)
	}
	if got := r.Resolve("/login", nil); got.Kind != NotFound {
		t.Fatalf("default login path: got=%+v want NotFound", got)
	}
}
