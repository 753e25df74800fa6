package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Flag is a boolean that also accepts "yes"/"no" in the environment.
type Flag bool

// Decode implements envconfig.Decoder.
func (f *Flag) Decode(value string) error {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on":
		*f = true
	case "", "false", "0", "no", "off":
		*f = false
	default:
		return fmt.Errorf("invalid boolean %q", value)
	}
	return nil
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"production"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	Host        string `envconfig:"HOST" default:"0.0.0.0"`
	Port        int    `envconfig:"PORT" default:"8090"`

	// HTTPS with a self-signed certificate
	HTTPSEnabled Flag   `envconfig:"HTTPS_ENABLED"`
	HTTPSPort    int    `envconfig:"HTTPS_PORT" default:"8443"`
	CertDays     int    `envconfig:"CERT_DAYS" default:"365"`
	CertsDir     string `envconfig:"CERTS_DIR"` // defaults to $DATA_DIR/certs

	// Files. Everything defaults to a location under DataDir (~/.nanobot).
	DataDir     string `envconfig:"DATA_DIR"`
	DBPath      string `envconfig:"DB_PATH"`
	PinFile     string `envconfig:"PIN_FILE"`
	SessionFile string `envconfig:"SESSION_FILE"`
	PluginsDir  string `envconfig:"PLUGINS_DIR"`

	// Auth
	SessionTimeout  time.Duration `envconfig:"SESSION_TIMEOUT" default:"168h"`
	MaxAuthAttempts int           `envconfig:"MAX_AUTH_ATTEMPTS" default:"5"`
	AuthLockout     time.Duration `envconfig:"AUTH_LOCKOUT" default:"5m"`

	// Background jobs
	SweepInterval   time.Duration `envconfig:"SWEEP_INTERVAL" default:"5m"`
	ArchiveInterval time.Duration `envconfig:"ARCHIVE_INTERVAL" default:"168h"`
	StatsInterval   time.Duration `envconfig:"STATS_INTERVAL" default:"5s"`

	// WebSocket
	WSMaxConnections int `envconfig:"WS_MAX_CONNECTIONS" default:"10"`
}

// HTTPAddr is the plain HTTP listen address.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// HTTPSAddr is the TLS listen address.
func (c *Config) HTTPSAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPSPort)
}

// CertFile returns the path of the self-signed certificate.
func (c *Config) CertFile() string {
	return filepath.Join(c.CertsDir, "cert.pem")
}

// KeyFile returns the path of the certificate's private key.
func (c *Config) KeyFile() string {
	return filepath.Join(c.CertsDir, "key.pem")
}

// IsDevelopment reports whether human-readable console logging should be used.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// applyDefaults fills the path settings that depend on DataDir.
func (c *Config) applyDefaults() error {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolving home directory: %w", err)
		}
		c.DataDir = filepath.Join(home, ".nanobot")
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "vessel.db")
	}
	if c.CertsDir == "" {
		c.CertsDir = filepath.Join(c.DataDir, "certs")
	}
	if c.PinFile == "" {
		c.PinFile = filepath.Join(c.DataDir, "dashboard_pin.hash")
	}
	if c.SessionFile == "" {
		c.SessionFile = filepath.Join(c.DataDir, "sessions.json")
	}
	if c.PluginsDir == "" {
		c.PluginsDir = filepath.Join(c.DataDir, "widgets")
	}
	return nil
}

// MaxAuthLockout matches the rate-limit retention of the session sweeper.
// A longer lockout would have its timestamps pruned before the window ends.
const MaxAuthLockout = 10 * time.Minute

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}
	if c.HTTPSPort <= 0 || c.HTTPSPort > 65535 {
		return fmt.Errorf("HTTPS_PORT out of range: %d", c.HTTPSPort)
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("SESSION_TIMEOUT must be positive")
	}
	if c.MaxAuthAttempts < 1 {
		return fmt.Errorf("MAX_AUTH_ATTEMPTS must be at least 1")
	}
	if c.AuthLockout <= 0 || c.AuthLockout > MaxAuthLockout {
		return fmt.Errorf("AUTH_LOCKOUT must be in (0, %s]: %s", MaxAuthLockout, c.AuthLockout)
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	return LoadWithPrefix("")
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
