// Package config loads the server configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	_ "github.com/joho/godotenv/autoload"
)

// Store backends.
const (
	BackendGitHub = "github"
	BackendSQLite = "sqlite"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	Port      string `env:"PORT" envDefault:"8080"`
	GinMode   string `env:"GIN_MODE" envDefault:"debug"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	// Remote issue store
	GitHubToken  string `env:"GITHUB_TOKEN"`
	GitHubOwner  string `env:"GITHUB_OWNER" envDefault:"oldfish101240"`
	GitHubRepo   string `env:"GITHUB_REPO" envDefault:"whisper-box"`
	GitHubAPIURL string `env:"GITHUB_API_URL"` // Empty means api.github.com
	StoreBackend string `env:"STORE_BACKEND" envDefault:"github"`
	StoreDBPath  string `env:"STORE_DB_PATH" envDefault:"./data/issues.db"`

	// Local cache store
	LocalDBPath     string        `env:"LOCAL_DB_PATH" envDefault:"./data/local.db"`
	LocalQuotaBytes int64         `env:"LOCAL_QUOTA_BYTES" envDefault:"5242880"`
	SessionTTL      time.Duration `env:"SESSION_TTL" envDefault:"30m"`

	// Site
	SiteDir       string `env:"SITE_DIR" envDefault:"./public"`
	DeploySubpath string `env:"DEPLOY_SUBPATH"`
	TimeZone      string `env:"TIMEZONE" envDefault:"Local"`

	// Geolocation
	GeoIPAPIURL  string        `env:"GEOIP_API_URL" envDefault:"http://ip-api.com"`
	GeoIPDBPath  string        `env:"GEOIP_DB_PATH"` // Optional GeoLite2-City.mmdb
	GeoIPLocale  string        `env:"GEOIP_LOCALE" envDefault:"en"`
	GeoIPTimeout time.Duration `env:"GEOIP_TIMEOUT" envDefault:"3s"`

	// Client-side components
	ConfigEndpoint string `env:"CONFIG_ENDPOINT"` // Remote get-config URL; empty reads the store directly
	TrackEndpoint  string `env:"TRACK_ENDPOINT"`  // Remote track-visit URL; empty disables forwarding

	// Proxies whose forwarding headers are believed when limiting requests
	TrustedProxies  []string `env:"TRUSTED_PROXIES" envSeparator:","`
	TrustedPlatform string   `env:"TRUSTED_PLATFORM"` // e.g. X-Vercel-Forwarded-For

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"2"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"10"`

	AdminUsername string `env:"ADMIN_USERNAME" envDefault:"admin"`
	AdminPassword string `env:"ADMIN_PASSWORD"`

	// Owner notifications for new messages
	SMTPHost string `env:"SMTP_HOST" envDefault:"smtp.gmail.com"`
	SMTPPort string `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser string `env:"SMTP_USER"`
	SMTPPass string `env:"SMTP_PASS"`
	ToEmail  string `env:"TO_EMAIL"`
}

// Load parses environment variables and returns a Config struct.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	switch cfg.StoreBackend {
	case BackendGitHub, BackendSQLite:
	default:
		return nil, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendGitHub, BackendSQLite, cfg.StoreBackend)
	}

	if _, err := cfg.Location(); err != nil {
		return nil, fmt.Errorf("TIMEZONE: %w", err)
	}

	if cfg.StoreBackend == BackendGitHub && cfg.GitHubToken == "" {
		slog.Warn("GITHUB_TOKEN not set; write endpoints will degrade or fail")
	}

	return cfg, nil
}

// CanWrite reports whether the record store accepts writes.
func (c Config) CanWrite() bool {
	return c.GitHubToken != "" || c.StoreBackend == BackendSQLite
}

// AdminEnabled returns true if the admin area is password protected.
func (c Config) AdminEnabled() bool {
	return c.AdminPassword != ""
}

// NotifyEnabled returns true if SMTP credentials for owner notifications are set.
func (c Config) NotifyEnabled() bool {
	return c.SMTPUser != "" && c.SMTPPass != "" && c.ToEmail != ""
}

// Location resolves TIMEZONE used for day bucketing.
func (c Config) Location() (*time.Location, error) {
	if c.TimeZone == "" || c.TimeZone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.TimeZone)
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
