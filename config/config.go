package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"touchminer/github"
)

// DefaultConfigFile is read when no other file is given
const DefaultConfigFile = ".env"

// ErrInvalidConfig is wrapped by every validation error
var ErrInvalidConfig = fmt.Errorf("invalid configuration")

// flag name -> config key
var flagKeys = map[string]string{
	"repo":      "REPO",
	"output":    "OUTPUT_DIR",
	"workers":   "WORKERS",
	"strict":    "STRICT_DETAILS",
	"log-level": "LOG_LEVEL",
	"cache":     "CACHE_PATH",
}

// Config holds all configuration for the application
type Config struct {
	Tokens            []string
	Repo              string
	APIURL            string
	Extensions        []string
	HTTPTimeout       time.Duration
	RequestsPerSecond float64
	Workers           int
	StrictDetails     bool
	OutputDir         string
	CachePath         string
	DBDriver          string
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	PollInterval      time.Duration
	LogLevel          string
}

// NewConfig creates a new Config instance
func NewConfig() *Config {
	return &Config{}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("GITHUB_API_URL", github.DefaultBaseURL)
	v.SetDefault("SOURCE_EXTENSIONS", ".java,.py,.cpp,.c,.h")
	v.SetDefault("HTTP_TIMEOUT", github.DefaultTimeout)
	v.SetDefault("REQUESTS_PER_SECOND", 0)
	v.SetDefault("WORKERS", 4)
	v.SetDefault("STRICT_DETAILS", false)
	v.SetDefault("OUTPUT_DIR", "data")
	v.SetDefault("CACHE_PATH", "")
	v.SetDefault("DB_DRIVER", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 25)
	v.SetDefault("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	v.SetDefault("POLL_INTERVAL", 0)
	v.SetDefault("LOG_LEVEL", "info")
}

// Load reads configuration from an optional .env file at path, then the
// environment, then any changed flags in flags. A missing file is not an
// error. Credentials are read but not required; see RequireTokens.
func (c *Config) Load(path string, flags *pflag.FlagSet) error {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	// Tokens are only checked by RequireTokens; store-only commands run without them
	tokens := v.GetString("GITHUB_TOKENS")
	if tokens == "" {
		tokens = v.GetString("GITHUB_TOKEN")
	}
	c.Tokens = splitList(tokens)

	// Required fields
	c.Repo = strings.TrimSpace(v.GetString("REPO"))
	if c.Repo == "" {
		return fmt.Errorf("%w: REPO is required", ErrInvalidConfig)
	}
	if err := github.ValidateRepo(c.Repo); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	// Optional fields with defaults
	c.APIURL = v.GetString("GITHUB_API_URL")
	c.Extensions = splitList(v.GetString("SOURCE_EXTENSIONS"))
	c.HTTPTimeout = v.GetDuration("HTTP_TIMEOUT")
	c.RequestsPerSecond = v.GetFloat64("REQUESTS_PER_SECOND")
	c.Workers = v.GetInt("WORKERS")
	c.StrictDetails = v.GetBool("STRICT_DETAILS")
	c.OutputDir = v.GetString("OUTPUT_DIR")
	c.CachePath = v.GetString("CACHE_PATH")
	c.DBDriver = v.GetString("DB_DRIVER")
	c.DatabaseURL = v.GetString("DATABASE_URL")
	c.DBMaxOpenConns = v.GetInt("DB_MAX_OPEN_CONNS")
	c.DBMaxIdleConns = v.GetInt("DB_MAX_IDLE_CONNS")
	c.DBConnMaxLifetime = v.GetDuration("DB_CONN_MAX_LIFETIME")
	c.PollInterval = time.Duration(v.GetInt("POLL_INTERVAL")) * time.Second
	c.LogLevel = v.GetString("LOG_LEVEL")

	if len(c.Extensions) == 0 {
		return fmt.Errorf("%w: SOURCE_EXTENSIONS must name at least one suffix", ErrInvalidConfig)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("%w: HTTP_TIMEOUT must be positive", ErrInvalidConfig)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: REQUESTS_PER_SECOND must not be negative", ErrInvalidConfig)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: WORKERS must be at least 1", ErrInvalidConfig)
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("%w: POLL_INTERVAL must not be negative", ErrInvalidConfig)
	}

	switch c.DBDriver {
	case "":
	case "postgres":
		if c.DatabaseURL == "" {
			c.DatabaseURL = postgresDSN(v)
		}
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: DATABASE_URL or POSTGRES_HOST is required for postgres", ErrInvalidConfig)
		}
	case "sqlite3":
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: DATABASE_URL is required for sqlite3", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown DB_DRIVER %q", ErrInvalidConfig, c.DBDriver)
	}

	return nil
}

func postgresDSN(v *viper.Viper) string {
	if v.GetString("POSTGRES_HOST") == "" {
		return ""
	}
	return fmt.Sprintf(
		"user=%s password=%s dbname=%s port=%s host=%s sslmode=disable",
		v.GetString("POSTGRES_USER"),
		v.GetString("POSTGRES_PASSWORD"),
		v.GetString("POSTGRES_DB"),
		v.GetString("POSTGRES_PORT"),
		v.GetString("POSTGRES_HOST"),
	)
}

// splitList splits a comma separated value, dropping blanks
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// RequireTokens fails unless at least one API credential is configured
func (c *Config) RequireTokens() error {
	if len(c.Tokens) == 0 {
		return fmt.Errorf("%w: GITHUB_TOKENS is required", ErrInvalidConfig)
	}
	return nil
}

// StoreEnabled reports whether a SQL store is configured
func (c *Config) StoreEnabled() bool {
	return c.DBDriver != ""
}
