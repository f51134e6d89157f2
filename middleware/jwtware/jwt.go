package jwtware

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
)

var (
	defaultTokenLookup       = "header:" + fiber.HeaderAuthorization
	ErrJWTMissingOrMalformed = errors.New("missing or malformed JWT")
	ErrMissingSecret         = errors.New("missing service credential")
)

// SessionVerifier resolves a session token to the user id it was issued for
type SessionVerifier interface {
	AuthenticateSession(token string) (string, error)
}

// SessionVerifierFunc adapts a function to SessionVerifier.
type SessionVerifierFunc func(token string) (string, error)

// AuthenticateSession implements SessionVerifier.
func (f SessionVerifierFunc) AuthenticateSession(token string) (string, error) {
	return f(token)
}

// ValidationListener is invoked after a token has been validated.
type ValidationListener func(c *fiber.Ctx, userID string) error

type Config struct {
	Filter         func(*fiber.Ctx) bool
	SuccessHandler fiber.Handler
	ErrorHandler   fiber.ErrorHandler
	// ContextKey is the fiber Locals key holding the user id
	ContextKey  string
	TokenLookup string
	AuthScheme  string
	// Verifier is required
	Verifier SessionVerifier
	// Optional lets requests without a token through. A present but
	// invalid token is still rejected.
	Optional bool

	// ContextEnricher propagates the user id to the standard context.
	ContextEnricher func(c context.Context, userID string) context.Context

	ValidationListeners []ValidationListener
}

// New returns a fiber handler that authenticates bearer session tokens.
func New(config ...Config) fiber.Handler {
	cfg := GetDefaultConfig(config...)
	extractors := cfg.getExtractors()

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		raw, err := ExtractRawToken(c, extractors)
		if err != nil {
			if cfg.Optional && raw == "" {
				return c.Next()
			}
			return cfg.ErrorHandler(c, err)
		}

		userID, err := cfg.Verifier.AuthenticateSession(raw)
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}

		for _, listener := range cfg.ValidationListeners {
			if listener == nil {
				continue
			}
			if err := listener(c, userID); err != nil {
				return cfg.ErrorHandler(c, err)
			}
		}

		c.Locals(cfg.ContextKey, userID)

		if cfg.ContextEnricher != nil {
			c.SetUserContext(cfg.ContextEnricher(c.UserContext(), userID))
		}

		return cfg.SuccessHandler(c)
	}
}

// ExtractRawToken returns the first token found by the extractors.
func ExtractRawToken(c *fiber.Ctx, extractors []Extractor) (string, error) {
	var raw string
	var err error

	for _, extractor := range extractors {
		raw, err = extractor(c)
		if raw != "" && err == nil {
			break
		}
	}

	return raw, err
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(c *fiber.Ctx) error {
			return c.Next()
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(c *fiber.Ctx, err error) error {
			if errors.Is(err, ErrJWTMissingOrMalformed) {
				return c.Status(fiber.StatusUnauthorized).SendString(ErrJWTMissingOrMalformed.Error())
			}
			return c.Status(fiber.StatusUnauthorized).SendString("Invalid or expired token")
		}
	}

	if cfg.Verifier == nil {
		panic("HUB: JWT middleware configuration: Verifier is required.")
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = "user_id"
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	return cfg
}

func (cfg *Config) getExtractors() []Extractor {
	return GetExtractors(cfg.TokenLookup, cfg.AuthScheme)
}

// SecretConfig configures the shared secret guard used by service routes.
type SecretConfig struct {
	Filter       func(*fiber.Ctx) bool
	ErrorHandler fiber.ErrorHandler
	// Lookup lists the places a secret may be presented,
	// e.g. "header:X-API-Key,header:Authorization".
	Lookup     string
	AuthScheme string
	// Check is required. It receives the first secret found.
	Check func(secret string) error
}

// Secret returns a fiber handler that rejects requests without a valid
// shared secret.
func Secret(cfg SecretConfig) fiber.Handler {
	if cfg.Check == nil {
		panic("HUB: secret middleware configuration: Check is required.")
	}
	if cfg.Lookup == "" {
		cfg.Lookup = "header:X-API-Key"
	}
	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusUnauthorized).SendString(ErrMissingSecret.Error())
		}
	}

	extractors := GetExtractors(cfg.Lookup, cfg.AuthScheme)

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		// a missing secret is still handed to Check so it fails the same way
		secret, _ := ExtractRawToken(c, extractors)

		if err := cfg.Check(secret); err != nil {
			return cfg.ErrorHandler(c, err)
		}
		return c.Next()
	}
}

func GetExtractors(tokenLookup string, authSchemes ...string) []Extractor {
	extractors := make([]Extractor, 0)

	authScheme := "Bearer"
	if len(authSchemes) > 0 {
		authScheme = authSchemes[0]
	}

	// header:Authorization,cookie:jwt,query:auth_token,param:token
	rootParts := strings.Split(tokenLookup, ",")
	for _, rootPart := range rootParts {
		parts := strings.Split(strings.TrimSpace(rootPart), ":")
		if len(parts) != 2 {
			continue
		}

		for i, el := range parts {
			parts[i] = strings.TrimSpace(el)
		}

		switch parts[0] {
		case "header":
			if strings.EqualFold(parts[1], fiber.HeaderAuthorization) {
				extractors = append(extractors, fromAuthHeader(parts[1], authScheme))
			} else {
				extractors = append(extractors, fromHeader(parts[1]))
			}
		case "query":
			extractors = append(extractors, fromQuery(parts[1]))
		case "param":
			extractors = append(extractors, fromParam(parts[1]))
		case "cookie":
			extractors = append(extractors, fromCookie(parts[1]))
		}
	}

	return extractors
}

type Extractor func(c *fiber.Ctx) (string, error)

// fromAuthHeader extracts a token carried with an auth scheme prefix.
func fromAuthHeader(header string, authScheme string) Extractor {
	authScheme = strings.TrimSpace(authScheme)
	return func(c *fiber.Ctx) (string, error) {
		a := c.Get(header)
		l := len(authScheme)
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) && a[l] == ' ' {
			return strings.TrimSpace(a[l:]), nil
		}
		return "", ErrJWTMissingOrMalformed
	}
}

func fromHeader(header string) Extractor {
	return func(c *fiber.Ctx) (string, error) {
		token := strings.TrimSpace(c.Get(header))
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

func fromQuery(param string) Extractor {
	return func(c *fiber.Ctx) (string, error) {
		token := c.Query(param)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

func fromParam(param string) Extractor {
	return func(c *fiber.Ctx) (string, error) {
		token := c.Params(param)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

func fromCookie(name string) Extractor {
	return func(c *fiber.Ctx) (string, error) {
		token := c.Cookies(name)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}
