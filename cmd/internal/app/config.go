package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"portal/cmd/internal/client/transport"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	BaseURL        string        `env:"PORTAL_BASE_URL" envDefault:"http://127.0.0.1:8080"`
	LogLevel       string        `env:"PORTAL_LOG_LEVEL" envDefault:"info"`
	LogFormat      string        `env:"PORTAL_LOG_FORMAT" envDefault:"json"`
	RequestTimeout time.Duration `env:"PORTAL_REQUEST_TIMEOUT" envDefault:"15s"`
	MaxBodyBytes   int64         `env:"PORTAL_MAX_BODY_BYTES" envDefault:"1048576"`

	CSRFCookieName   string `env:"PORTAL_CSRF_COOKIE" envDefault:"arc_csrf_token"`
	CSRFHeaderName   string `env:"PORTAL_CSRF_HEADER" envDefault:"X-CSRF-Token"`
	AccessCookieName string `env:"PORTAL_ACCESS_COOKIE" envDefault:"arc_access_token"`
	LoginPath        string `env:"PORTAL_LOGIN_PATH" envDefault:"/login"`
	RealtimePath     string `env:"PORTAL_REALTIME_PATH" envDefault:"/ws"`

	// Empty means <user config dir>/portal/session.json.
	SessionFile string `env:"PORTAL_SESSION_FILE"`

	// Empty disables the /metrics listener of the watch command.
	MetricsAddr string `env:"PORTAL_METRICS_ADDR"`

	OTelEnabled  bool   `env:"PORTAL_OTEL_ENABLED" envDefault:"true"`
	OTelEndpoint string `env:"PORTAL_OTEL_ENDPOINT"`
}

// LoadConfig reads an optional .env file, then the process environment.
func LoadConfig() (Config, error) {
	// A missing .env is the normal case.
	_ = godotenv.Load()
	return LoadConfigFrom(nil)
}

// LoadConfigFrom parses environ instead of the process environment (nil
// means the process environment) and fills derived defaults.
func LoadConfigFrom(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if strings.TrimSpace(cfg.SessionFile) == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = os.TempDir()
		}
		cfg.SessionFile = filepath.Join(dir, "portal", "session.json")
	}
	return cfg, cfg.Validate()
}

// Validate rejects configuration the client cannot run with.
func (c Config) Validate() error {
	var errs []error
	if _, err := transport.ParseBaseURL(c.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("PORTAL_BASE_URL: %w", err))
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "json", "pretty", "text":
	default:
		errs = append(errs, fmt.Errorf("PORTAL_LOG_FORMAT: unsupported %q", c.LogFormat))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("PORTAL_REQUEST_TIMEOUT: must be positive"))
	}
	if !strings.HasPrefix(c.LoginPath, "/") {
		errs = append(errs, fmt.Errorf("PORTAL_LOGIN_PATH: must start with /: %q", c.LoginPath))
	}
	return errors.Join(errs...)
}

func (c Config) transportConfig() transport.Config {
	return transport.Config{
		BaseURL:        c.BaseURL,
		Timeout:        c.RequestTimeout,
		MaxBodyBytes:   c.MaxBodyBytes,
		UserAgent:      "portal-cli",
		CSRFCookieName: c.CSRFCookieName,
		CSRFHeaderName: c.CSRFHeaderName,
	}
}
