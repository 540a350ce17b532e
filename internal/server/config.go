package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/mark3labs/apistarter/internal/spec"
)

// EnvPrefix is prepended to every environment variable read by LoadConfig.
const EnvPrefix = "APISTARTER_"

// Config holds the runtime settings of the API server.
type Config struct {
	Addr            string        `env:"ADDR" envDefault:":8080"`
	SpecPath        string        `env:"SPEC_PATH" envDefault:"api/openapi.yaml"`
	APIKeysFile     string        `env:"API_KEYS_FILE"`
	AuthEnabled     bool          `env:"AUTH_ENABLED" envDefault:"true"`
	CORSOrigins     []string      `env:"CORS_ORIGINS" envDefault:"*" envSeparator:","`
	RateLimit       float64       `env:"RATE_LIMIT" envDefault:"0"`
	RateBurst       int           `env:"RATE_BURST" envDefault:"20"`
	BodyLimit       int64         `env:"BODY_LIMIT" envDefault:"1048576"`
	MockSeed        int64         `env:"MOCK_SEED" envDefault:"0"`
	ValidateOutput  bool          `env:"VALIDATE_RESPONSES" envDefault:"true"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	Env             string        `env:"ENV" envDefault:"development"`
}

// LoadConfig reads Config from APISTARTER_* environment variables.
func LoadConfig() (*Config, error) {
	return loadConfig(env.Options{Prefix: EnvPrefix})
}

func loadConfig(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns the settings LoadConfig yields with an empty environment.
func DefaultConfig() *Config {
	return &Config{
		Addr:            ":8080",
		SpecPath:        spec.DefaultPath,
		AuthEnabled:     true,
		CORSOrigins:     []string{"*"},
		RateBurst:       20,
		BodyLimit:       1 << 20,
		ValidateOutput:  true,
		ShutdownTimeout: 10 * time.Second,
		Env:             "development",
	}
}

// Validate checks value ranges that struct tags cannot express.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Env) {
	case "development", "production", "test":
		c.Env = strings.ToLower(c.Env)
	default:
		return fmt.Errorf("invalid env %q (want development, production or test)", c.Env)
	}
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("addr is empty")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return fmt.Errorf("rate burst must be at least 1 when rate limiting is on")
	}
	if c.BodyLimit < 0 {
		return fmt.Errorf("body limit must not be negative")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool { return c.Env == "production" }
