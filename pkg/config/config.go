// Package config resolves SDK settings from explicit values, BRAVOZERO_*
// environment variables and the YAML config file, in that order of precedence,
// falling back to defaults.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bravozero/bravozero-go/pkg/logging"
)

// Environment selects a hosted API deployment.
type Environment string

const (
	EnvProduction  Environment = "production"
	EnvStaging     Environment = "staging"
	EnvDevelopment Environment = "development"
)

var baseURLs = map[Environment]string{
	EnvProduction:  "https://api.bravozero.ai",
	EnvStaging:     "https://api.staging.bravozero.ai",
	EnvDevelopment: "http://localhost:8080",
}

// BaseURLFor returns the API root of env. Unknown environments fall back to
// production.
func BaseURLFor(env Environment) string {
	if u, ok := baseURLs[Environment(strings.ToLower(string(env)))]; ok {
		return u
	}
	return baseURLs[EnvProduction]
}

// Defaults.
const (
	DefaultEnvironment = EnvProduction
	DefaultTimeout     = 30 * time.Second
	DefaultRateBurst   = 1
	DefaultLogLevel    = "off"
)

// Config holds every SDK setting. Zero values mean "not set" during
// resolution. RateLimit and MaxRetries are pointers so that an explicit 0
// still disables the limiter or retries configured by a lower source.
type Config struct {
	APIKey         string        `yaml:"api_key,omitempty" env:"API_KEY"`
	AgentID        string        `yaml:"agent_id,omitempty" env:"AGENT_ID"`
	PrivateKeyPath string        `yaml:"private_key_path,omitempty" env:"PRIVATE_KEY_PATH"`
	BaseURL        string        `yaml:"base_url,omitempty" env:"BASE_URL"`
	Environment    Environment   `yaml:"environment,omitempty" env:"ENVIRONMENT"`
	Timeout        time.Duration `yaml:"timeout,omitempty" env:"TIMEOUT"`

	// RateLimit caps client-side requests per second; 0 disables the limiter.
	RateLimit *float64 `yaml:"rate_limit,omitempty" env:"RATE_LIMIT"`
	RateBurst int      `yaml:"rate_burst,omitempty" env:"RATE_BURST"`

	// MaxRetries enables retries of 429 and 5xx responses; 0 disables them.
	MaxRetries *int `yaml:"max_retries,omitempty" env:"MAX_RETRIES"`

	LogLevel string `yaml:"log_level,omitempty" env:"LOG_LEVEL"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Environment: DefaultEnvironment,
		Timeout:     DefaultTimeout,
		RateBurst:   DefaultRateBurst,
		LogLevel:    DefaultLogLevel,
	}
}

// merge fills every unset field of c from other.
func (c *Config) merge(other Config) {
	if c.APIKey == "" {
		c.APIKey = other.APIKey
	}
	if c.AgentID == "" {
		c.AgentID = other.AgentID
	}
	if c.PrivateKeyPath == "" {
		c.PrivateKeyPath = other.PrivateKeyPath
	}
	if c.BaseURL == "" {
		c.BaseURL = other.BaseURL
	}
	if c.Environment == "" {
		c.Environment = other.Environment
	}
	if c.Timeout == 0 {
		c.Timeout = other.Timeout
	}
	if c.RateLimit == nil {
		c.RateLimit = other.RateLimit
	}
	if c.RateBurst == 0 {
		c.RateBurst = other.RateBurst
	}
	if c.MaxRetries == nil {
		c.MaxRetries = other.MaxRetries
	}
	if c.LogLevel == "" {
		c.LogLevel = other.LogLevel
	}
}

// Rate returns the limiter rate, 0 when unset.
func (c Config) Rate() float64 {
	if c.RateLimit == nil {
		return 0
	}
	return *c.RateLimit
}

// Retries returns the retry count, 0 when unset.
func (c Config) Retries() int {
	if c.MaxRetries == nil {
		return 0
	}
	return *c.MaxRetries
}

// Int returns a pointer to v, for MaxRetries.
func Int(v int) *int { return &v }

// Float returns a pointer to v, for RateLimit.
func Float(v float64) *float64 { return &v }

// ResolvedBaseURL is BaseURL when set, otherwise the environment's URL.
func (c Config) ResolvedBaseURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return BaseURLFor(c.Environment)
}

// Signing reports whether a private key is configured.
func (c Config) Signing() bool {
	return c.PrivateKeyPath != ""
}

// Validate checks that the resolved configuration is usable.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key required. Set BRAVOZERO_API_KEY environment variable or pass the api key option")
	}
	if c.AgentID == "" {
		return fmt.Errorf("agent ID required. Set BRAVOZERO_AGENT_ID environment variable or pass the agent id option")
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid base URL %q: want http(s)://host", c.BaseURL)
		}
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if c.RateLimit != nil && *c.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	if c.MaxRetries != nil && *c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Redacted returns a copy safe to print: the API key is masked.
func (c Config) Redacted() Config {
	if c.APIKey != "" {
		c.APIKey = maskSecret(c.APIKey)
	}
	return c
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
