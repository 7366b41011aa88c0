// ABOUTME: Configuration loading and parsing for olymp-desk
// ABOUTME: YAML files with ${VAR} expansion, OLYMP_* env overrides and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Database drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config represents the complete olymp-desk configuration
type Config struct {
	Matrix   MatrixConfig   `yaml:"matrix"`
	Database DatabaseConfig `yaml:"database"`
	Desk     DeskConfig     `yaml:"desk"`
	Access   AccessConfig   `yaml:"access"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// MatrixConfig holds the bot account the desk runs as
type MatrixConfig struct {
	Homeserver  string `yaml:"homeserver"`
	UserID      string `yaml:"user_id"`
	AccessToken string `yaml:"access_token"`
	DeviceID    string `yaml:"device_id"`

	// Encryption turns on E2EE; keys live in DataDir.
	Encryption  bool   `yaml:"encryption"`
	RecoveryKey string `yaml:"recovery_key"`
	DataDir     string `yaml:"data_dir"`
}

// DatabaseConfig selects and locates the profile store
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"` // sqlite file
	URL    string `yaml:"url"`  // postgres DSN
}

// DeskConfig holds conversation tuning and asset paths
type DeskConfig struct {
	AlbumWindow   time.Duration `yaml:"-"`
	BroadcastRate time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	AlbumWindowRaw   string `yaml:"album_window"`
	BroadcastRateRaw string `yaml:"broadcast_rate"`

	AgreementPath string `yaml:"agreement_path"`
	TextsPath     string `yaml:"texts_path"`
	AlertHistory  int    `yaml:"alert_history"`
}

// AccessConfig seeds the staff roster. Staff promoted at runtime are
// persisted in the store and merged on top of StaffIDs.
type AccessConfig struct {
	StaffIDs    []int64 `yaml:"staff_ids"`
	SuperuserID int64   `yaml:"superuser_id"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// overrides are applied after the file is parsed. Zero values leave the
// file's setting in place.
type overrides struct {
	MatrixToken string  `env:"OLYMP_MATRIX_TOKEN"`
	DatabaseURL string  `env:"OLYMP_DATABASE_URL"`
	StaffIDs    []int64 `env:"OLYMP_STAFF_IDS" envSeparator:" "`
	SuperuserID int64   `env:"OLYMP_SUPERUSER_ID"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Path returns the config file location.
// Priority: OLYMP_CONFIG env var > XDG_CONFIG_HOME/olymp-desk/desk.yaml > ~/.config/olymp-desk/desk.yaml
func Path() string {
	if envPath := os.Getenv("OLYMP_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "desk.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "olymp-desk", "desk.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded, then OLYMP_*
// overrides are applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func applyOverrides(cfg *Config) error {
	var o overrides
	if err := env.Parse(&o); err != nil {
		return err
	}
	if o.MatrixToken != "" {
		cfg.Matrix.AccessToken = o.MatrixToken
	}
	if o.DatabaseURL != "" {
		cfg.Database.URL = o.DatabaseURL
	}
	if len(o.StaffIDs) > 0 {
		cfg.Access.StaffIDs = o.StaffIDs
	}
	if o.SuperuserID != 0 {
		cfg.Access.SuperuserID = o.SuperuserID
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
		if c.Database.Path == "" && c.Database.URL != "" {
			c.Database.Driver = DriverPostgres
		}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	u, err := url.Parse(c.Matrix.Homeserver)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("matrix.homeserver must be an http(s) URL, got %q", c.Matrix.Homeserver)
	}
	if !strings.HasPrefix(c.Matrix.UserID, "@") || !strings.Contains(c.Matrix.UserID, ":") {
		return fmt.Errorf("matrix.user_id must look like @name:server, got %q", c.Matrix.UserID)
	}
	if c.Matrix.AccessToken == "" {
		return fmt.Errorf("matrix.access_token is required (or set OLYMP_MATRIX_TOKEN)")
	}
	if c.Matrix.Encryption && c.Matrix.DataDir == "" {
		return fmt.Errorf("matrix.data_dir is required when encryption is enabled")
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres driver (or set OLYMP_DATABASE_URL)")
		}
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Database.Driver)
	}

	if c.Access.SuperuserID <= 0 {
		return fmt.Errorf("access.superuser_id is required (or set OLYMP_SUPERUSER_ID)")
	}
	for _, id := range c.Access.StaffIDs {
		if id <= 0 {
			return fmt.Errorf("access.staff_ids contains invalid id %d", id)
		}
	}
	if c.Desk.AlertHistory < 0 {
		return fmt.Errorf("desk.alert_history must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Desk.AlbumWindowRaw != "" {
		cfg.Desk.AlbumWindow, err = time.ParseDuration(cfg.Desk.AlbumWindowRaw)
		if err != nil {
			return fmt.Errorf("parsing album_window %q: %w", cfg.Desk.AlbumWindowRaw, err)
		}
		if cfg.Desk.AlbumWindow <= 0 {
			return fmt.Errorf("album_window must be positive, got %q", cfg.Desk.AlbumWindowRaw)
		}
	}

	if cfg.Desk.BroadcastRateRaw != "" {
		cfg.Desk.BroadcastRate, err = time.ParseDuration(cfg.Desk.BroadcastRateRaw)
		if err != nil {
			return fmt.Errorf("parsing broadcast_rate %q: %w", cfg.Desk.BroadcastRateRaw, err)
		}
	}

	return nil
}
