package app

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigFrom_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfigFrom(map[string]string{})
	if err != nil {
		t.Fatalf("LoadConfigFrom: %v", err)
	}

	if cfg.BaseURL != "http://127.0.0.1:8080" {
		t.Fatalf("BaseURL=%q", cfg.BaseURL)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "json" {
		t.Fatalf("log=%q/%q", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.RequestTimeout != 15*time.Second {
		t.Fatalf("RequestTimeout=%v", cfg.RequestTimeout)
	}
	if cfg.CSRFCookieName != "arc_csrf_token" || cfg.CSRFHeaderName != "X-CSRF-Token" {
		t.Fatalf("csrf=%q/%q", cfg.CSRFCookieName, cfg.CSRFHeaderName)
	}
	if cfg.AccessCookieName != "arc_access_token" || cfg.LoginPath != "/login" {
		t.Fatalf("access=%q login=%q", cfg.AccessCookieName, cfg.LoginPath)
	}
	if filepath.Base(cfg.SessionFile) != "session.json" {
		t.Fatalf("SessionFile=%q", cfg.SessionFile)
	}
}

func TestLoadConfigFrom_Overrides(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfigFrom(map[string]string{
		"PORTAL_BASE_URL":        "https://api.example.com/v1",
		"PORTAL_LOG_FORMAT":      "pretty",
		"PORTAL_REQUEST_TIMEOUT": "3s",
		"PORTAL_SESSION_FILE":    "/tmp/portal-test.json",
		"PORTAL_METRICS_ADDR":    "127.0.0.1:9464",
	})
	if err != nil {
		t.Fatalf("LoadConfigFrom: %v", err)
	}
	if cfg.BaseURL != "https://api.example.com/v1" || cfg.RequestTimeout != 3*time.Second {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.SessionFile != "/tmp/portal-test.json" || cfg.MetricsAddr != "127.0.0.1:9464" {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestLoadConfigFrom_Invalid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "scheme", env: map[string]string{"PORTAL_BASE_URL": "ftp://x"}, want: "PORTAL_BASE_URL"},
		{name: "format", env: map[string]string{"PORTAL_LOG_FORMAT": "xml"}, want: "PORTAL_LOG_FORMAT"},
		{name: "login path", env: map[string]string{"PORTAL_LOGIN_PATH": "login"}, want: "PORTAL_LOGIN_PATH"},
		{name: "timeout", env: map[string]string{"PORTAL_REQUEST_TIMEOUT": "soon"}, want: "parse env"},
	}

	for _, tc := range cases {
		_, err := LoadConfigFrom(tc.env)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: err=%v want mention of %q", tc.name, err, tc.want)
		}
	}
}
