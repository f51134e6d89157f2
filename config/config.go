// Package config loads the hub settings from the environment and an
// optional .env file.
package config

import (
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-errors"
	"github.com/joho/godotenv"
)

const (
	// DefaultEnvFile is read when Load is called without file names.
	DefaultEnvFile = ".env"
	// TextCodeInvalidConfig marks parse and validation failures.
	TextCodeInvalidConfig = "invalid_config"
)

// Flag is a boolean that accepts 1, true, yes, y and on (any case) as true.
// Every other value is false.
type Flag bool

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Flag) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "1", "true", "yes", "y", "on":
		*f = true
	default:
		*f = false
	}
	return nil
}

// Naver holds the application credentials used when a user has not stored
// their own.
type Naver struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURI  string `env:"REDIRECT_URI"`
}

// Enabled reports whether the application credentials are complete.
func (n Naver) Enabled() bool {
	return n.ClientID != "" && n.ClientSecret != ""
}

// GitHub enables login through a GitHub OAuth app.
type GitHub struct {
	ClientID     string   `env:"CLIENT_ID"`
	ClientSecret string   `env:"CLIENT_SECRET"`
	RedirectURI  string   `env:"REDIRECT_URI"`
	Scopes       []string `env:"SCOPES" envSeparator:","`
}

func (g GitHub) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != ""
}

type OIDC struct {
	Issuer                string `env:"ISSUER"`
	ClientID              string `env:"CLIENT_ID"`
	ClientSecret          string `env:"CLIENT_SECRET"`
	RedirectURI           string `env:"REDIRECT_URI"`
	Audience              string `env:"AUDIENCE"`
	PostLogoutRedirectURI string `env:"POST_LOGOUT_REDIRECT_URI"`
}

func (o OIDC) Enabled() bool {
	return o.Issuer != "" && o.ClientID != ""
}

// Config is the process configuration. It implements hub.Config.
type Config struct {
	Addr        string `env:"HUB_ADDR" envDefault:":8000"`
	DatabaseURL string `env:"DATABASE_URL" envDefault:"file:hub.db?cache=shared"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	RedisURL    string `env:"REDIS_URL"`

	APIKey         string `env:"HUB_API_KEY"`
	ServiceToken   string `env:"HUB_SERVICE_TOKEN"`
	InternalAPIKey string `env:"HUB_INTERNAL_API_KEY"`

	PublicBaseURL   string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8000"`
	FrontendBaseURL string `env:"FRONTEND_BASE_URL"`
	AllowNewUsers   Flag   `env:"ALLOW_NEW_USERS"`

	JWTSecret     string `env:"JWT_SECRET"`
	JWTTTLSeconds int    `env:"JWT_TTL_SECONDS" envDefault:"3600"`

	LinkChallengeTTLSeconds int `env:"LINK_CHALLENGE_TTL_SECONDS" envDefault:"300"`
	LinkMaxAttempts         int `env:"LINK_MAX_ATTEMPTS" envDefault:"5"`

	Naver  Naver  `envPrefix:"NAVER_"`
	GitHub GitHub `envPrefix:"GITHUB_"`
	OIDC   OIDC   `envPrefix:"OIDC_"`
}

// Load reads the first env file that exists, then the process environment.
// Process variables win over file values.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{DefaultEnvFile}
	}

	environ := map[string]string{}
	for _, file := range files {
		values, err := godotenv.Read(file)
		if err != nil {
			continue
		}
		for k, v := range values {
			environ[k] = v
		}
		break
	}

	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			environ[k] = v
		}
	}

	return FromMap(environ)
}

// FromMap parses configuration from the given variables only.
func FromMap(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: trimmed(environ)}); err != nil {
		return nil, errors.Wrap(err, errors.CategoryValidation, "failed to parse configuration").
			WithTextCode(TextCodeInvalidConfig)
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryValidation, "invalid configuration").
			WithTextCode(TextCodeInvalidConfig)
	}

	return cfg, nil
}

func trimmed(environ map[string]string) map[string]string {
	out := make(map[string]string, len(environ))
	for k, v := range environ {
		out[k] = strings.TrimSpace(v)
	}
	return out
}

// Validate will validate the configuration
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Addr, validation.Required),
		validation.Field(&c.DatabaseURL, validation.Required),
		validation.Field(&c.PublicBaseURL, validation.Required, is.URL),
		validation.Field(&c.FrontendBaseURL, is.URL),
		validation.Field(&c.JWTTTLSeconds, validation.Min(1)),
		validation.Field(&c.LinkChallengeTTLSeconds, validation.Min(1)),
		validation.Field(&c.LinkMaxAttempts, validation.Min(1)),
		validation.Field(&c.LogLevel, validation.In("trace", "debug", "info", "warn", "error")),
	)
}

func (c *Config) GetSigningKey() string {
	return c.JWTSecret
}

func (c *Config) GetSessionTTL() int {
	return c.JWTTTLSeconds
}

func (c *Config) GetAllowNewUsers() bool {
	return bool(c.AllowNewUsers)
}

// GetServiceSecrets returns the keys accepted on service routes.
func (c *Config) GetServiceSecrets() []string {
	return nonEmpty(c.APIKey)
}

// GetInternalSecrets returns the keys accepted on internal routes.
func (c *Config) GetInternalSecrets() []string {
	return nonEmpty(c.ServiceToken, c.InternalAPIKey)
}

func (c *Config) GetPublicBaseURL() string {
	return strings.TrimRight(c.PublicBaseURL, "/")
}

func (c *Config) GetFrontendBaseURL() string {
	return strings.TrimRight(c.FrontendBaseURL, "/")
}

func (c *Config) GetLinkChallengeTTL() int {
	return c.LinkChallengeTTLSeconds
}

func (c *Config) GetLinkMaxAttempts() int {
	return c.LinkMaxAttempts
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
