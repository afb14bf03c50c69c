package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiRed + "ERR" + ansiReset
	got := stripANSI(in)
	want := "INFO plain ERR"
	if got != want {
		t.Fatalf("stripANSI()=%q want=%q", got, want)
	}
}

func TestPrettyHandler_RemapsRequestKeys(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false))
	log.Warn("http.client.request",
		"method", "post",
		"path", "/auth/refresh",
		"status", 401,
		"status_class", "4xx",
		"duration_ms", int64(12),
		"result", "client_error",
		"note", "two words",
	)

	out := buf.String()
	for _, want := range []string{
		"[WARN] http.client.request",
		"method=POST",
		"path=/auth/refresh",
		"status=401",
		"class=4xx",
		"duration=12ms",
		"result=client_error",
		`note="two words"`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q: %q", want, out)
		}
	}
	if stripANSI(out) != out {
		t.Fatalf("color disabled but output has escapes: %q", out)
	}
}

func TestPrettyHandler_ColorAndGroups(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, true)).WithGroup("refresh").With("waiters", 2)
	log.Debug("hidden")
	log.Error("refresh.cycle.fail", "status", 503)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug record leaked at info level: %q", out)
	}
	plain := stripANSI(out)
	if !strings.Contains(plain, "[ERROR] refresh.cycle.fail refresh.waiters=2 refresh.status=503") {
		t.Fatalf("plain=%q", plain)
	}
	if !strings.Contains(out, ansiRed+"503"+ansiReset) {
		t.Fatalf("status not colored: %q", out)
	}
}
