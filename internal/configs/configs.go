/*
Package configs is responsible for loading and parsing the application's configuration settings.

Settings are read from operating system environment variables, optionally seeded from a
local .env file, and cover the running environment, listener port, CORS allowed origins,
static asset directory, and the tuning knobs of the relay's per-connection send path.
*/
package configs

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// AppConfig contains all configuration parameters required for the application to run.
type AppConfig struct {
	// General Server Settings
	Environment     string        `env:"ENVIRONMENT,default=development"`
	Port            int           `env:"PORT,default=8080"`
	StaticDir       string        `env:"STATIC_DIR"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=5s"`

	// Security Settings
	AllowedOriginsRaw string  `env:"ALLOWED_ORIGINS"`
	JoinRate          float64 `env:"JOIN_RATE,default=1"`
	JoinBurst         int     `env:"JOIN_BURST,default=10"`
	APIRate           float64 `env:"API_RATE,default=5"`
	APIBurst          int     `env:"API_BURST,default=20"`

	// AllowedOrigins is AllowedOriginsRaw split on commas.
	AllowedOrigins []string

	// Relay Settings
	SendBufferSize int           `env:"SEND_BUFFER_SIZE,default=256"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT,default=10s"`
	MaxMessageSize int64         `env:"MAX_MESSAGE_SIZE,default=8192"`
}

// IsDevelopment reports whether the server runs in the development environment.
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// LoadConfig reads and parses the application configuration from environment variables.
// A .env file in the working directory is loaded first when present; variables already
// set in the process environment take precedence over it.
func LoadConfig() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &AppConfig{}
	if _, err := env.UnmarshalFromEnviron(cfg); err != nil {
		return nil, fmt.Errorf("invalid environment configuration: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate normalizes derived fields and checks value ranges.
func (c *AppConfig) validate() error {
	if c.Port < 1024 || c.Port > 65535 {
		return fmt.Errorf("port number %d is outside the recommended range (%d-%d) to avoid privileged ports", c.Port, 1024, 65535)
	}

	c.AllowedOrigins = []string{}
	for _, origin := range strings.Split(c.AllowedOriginsRaw, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			c.AllowedOrigins = append(c.AllowedOrigins, trimmed)
		}
	}

	if c.SendBufferSize <= 0 {
		return fmt.Errorf("SEND_BUFFER_SIZE must be positive, got %d", c.SendBufferSize)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("WRITE_TIMEOUT must be positive, got %s", c.WriteTimeout)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("MAX_MESSAGE_SIZE must be positive, got %d", c.MaxMessageSize)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive, got %s", c.ShutdownTimeout)
	}
	if c.JoinRate <= 0 || c.JoinBurst <= 0 {
		return fmt.Errorf("JOIN_RATE and JOIN_BURST must be positive, got %v and %d", c.JoinRate, c.JoinBurst)
	}
	if c.APIRate <= 0 || c.APIBurst <= 0 {
		return fmt.Errorf("API_RATE and API_BURST must be positive, got %v and %d", c.APIRate, c.APIBurst)
	}

	return nil
}
