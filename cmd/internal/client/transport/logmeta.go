package transport

import (
	"log/slog"
	"net/http"
)

// requestLogMeta maps a response status to the log level and result label used
// for the http.client.request event.
func requestLogMeta(status int) (slog.Level, string) {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError, "server_error"
	case status >= http.StatusBadRequest:
		return slog.LevelWarn, "client_error"
	case status >= http.StatusMultipleChoices:
		return slog.LevelInfo, "redirect"
	default:
		return slog.LevelInfo, "success"
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
