package app

import (
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSessionFile_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "session.json")
	base, _ := url.Parse("http://127.0.0.1:8080")

	j, err := newSessionJar()
	if err != nil {
		t.Fatalf("newSessionJar: %v", err)
	}
	j.SetCookies(base, []*http.Cookie{
		{Name: "arc_access_token", Value: "a1", Path: "/", MaxAge: 900, HttpOnly: true},
		{Name: "arc_csrf_token", Value: "c1", Path: "/", Expires: time.Now().Add(time.Hour)},
		{Name: "stale", Value: "x", Path: "/", Expires: time.Now().Add(-time.Hour)},
	})

	if err := saveSession(path, base, j); err != nil {
		t.Fatalf("saveSession: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != sessionFileMode {
		t.Fatalf("mode=%v want=%v", perm, os.FileMode(sessionFileMode))
	}

	restored, err := newSessionJar()
	if err != nil {
		t.Fatalf("newSessionJar: %v", err)
	}
	n, err := loadSession(path, base, restored)
	if err != nil || n != 2 {
		t.Fatalf("loadSession n=%d err=%v", n, err)
	}
	got := map[string]string{}
	for _, c := range restored.Cookies(base) {
		got[c.Name] = c.Value
	}
	if got["arc_access_token"] != "a1" || got["arc_csrf_token"] != "c1" || got["stale"] != "" {
		t.Fatalf("cookies=%v", got)
	}

	other, _ := url.Parse("http://other.example:8080")
	empty, _ := newSessionJar()
	if n, err := loadSession(path, other, empty); err != nil || n != 0 {
		t.Fatalf("foreign base: n=%d err=%v", n, err)
	}
}

func TestSessionFile_ClearedJarRemovesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.json")
	base, _ := url.Parse("http://127.0.0.1:8080")

	j, _ := newSessionJar()
	j.SetCookies(base, []*http.Cookie{{Name: "arc_access_token", Value: "a1", Path: "/"}})
	if err := saveSession(path, base, j); err != nil {
		t.Fatalf("saveSession: %v", err)
	}

	j.SetCookies(base, []*http.Cookie{{Name: "arc_access_token", Path: "/", MaxAge: -1}})
	if err := saveSession(path, base, j); err != nil {
		t.Fatalf("saveSession: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("session file should be removed, stat err=%v", err)
	}

	if n, err := loadSession(path, base, j); err != nil || n != 0 {
		t.Fatalf("missing file: n=%d err=%v", n, err)
	}
}
