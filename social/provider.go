package social

import (
	"context"
	"strconv"
	"strings"
	"time"
)

const (
	// ExpirySafetyMargin is subtracted from the provider declared lifetime so
	// a token is treated as expired before the provider rejects it.
	ExpirySafetyMargin = 30 * time.Second
	// DefaultExpiresIn is used when the token response omits expires_in.
	DefaultExpiresIn = 3600
	// MaxResponseBytes caps how much of a provider response body is read.
	MaxResponseBytes = 1 << 20
)

// Credentials identify a client application at a provider.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Complete reports whether the credentials can drive an exchange.
func (c Credentials) Complete() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Family is the closed set of provider protocol variants
type Family string

const (
	// FamilyOAuth2 providers expose a profile endpoint for the subject.
	FamilyOAuth2 Family = "oauth2"
	// FamilyOIDC providers return a signed identity token bound to a nonce.
	FamilyOIDC Family = "oidc"
)

// Exchanger is the capability interface for one provider family.
type Exchanger interface {
	// Name returns the provider identifier (e.g., "naver", "oidc").
	Name() string

	// Family selects how states are stored and subjects are resolved.
	Family() Family

	// AuthCodeURL returns the URL to redirect users for authorization.
	// nonce is only used by providers that bind identity tokens.
	AuthCodeURL(ctx context.Context, creds Credentials, state, nonce string) (string, error)

	// Exchange trades an authorization code for a token pair.
	Exchange(ctx context.Context, creds Credentials, code, state string) (*Token, error)

	// Refresh returns nil and no error when the provider rejects the
	// refresh token. Transport failures are returned as errors.
	Refresh(ctx context.Context, creds Credentials, refreshToken string) (*Token, error)

	// Subject resolves the stable provider subject for a token. When nonce
	// is not empty it must match the nonce bound into the identity token.
	Subject(ctx context.Context, token *Token, nonce string) (string, error)
}

// Publisher is implemented by providers that accept content.
type Publisher interface {
	Publish(ctx context.Context, creds Credentials, accessToken, title, content string) (map[string]any, error)
}

// Token represents a normalized OAuth2 token response.
type Token struct {
	AccessToken  string
	TokenType    string
	RefreshToken string
	IDToken      string
	ExpiresAt    time.Time
	Scopes       []string
	Raw          map[string]any
}

// TokenResponse is the wire shape shared by the token endpoints.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	ExpiresIn    any    `json:"expires_in"`
	Scope        string `json:"scope"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

// ErrorMetadata returns the provider error fields worth logging
func (r TokenResponse) ErrorMetadata() map[string]any {
	meta := map[string]any{}
	if r.Error != "" {
		meta["error"] = r.Error
	}
	if r.ErrorDesc != "" {
		meta["error_description"] = r.ErrorDesc
	}
	return meta
}

// NormalizeToken converts a token response into a Token. The previous
// refresh token is kept when the response does not rotate it.
func NormalizeToken(resp TokenResponse, previousRefresh string, now time.Time) *Token {
	refresh := resp.RefreshToken
	if refresh == "" {
		refresh = previousRefresh
	}

	return &Token{
		AccessToken:  resp.AccessToken,
		TokenType:    resp.TokenType,
		RefreshToken: refresh,
		IDToken:      resp.IDToken,
		ExpiresAt:    ExpiresAt(now, expiresIn(resp.ExpiresIn)),
		Scopes:       strings.Fields(resp.Scope),
	}
}

// ExpiresAt computes now + expiresIn - ExpirySafetyMargin, never earlier than now.
func ExpiresAt(now time.Time, expiresIn int) time.Time {
	lifetime := time.Duration(expiresIn)*time.Second - ExpirySafetyMargin
	if lifetime < 0 {
		lifetime = 0
	}
	return now.Add(lifetime)
}

// expires_in arrives as a number from most providers and as a string from some.
func expiresIn(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return DefaultExpiresIn
		}
		return n
	default:
		return DefaultExpiresIn
	}
}

// Logger mirrors the hub Logger so providers can log without an import cycle.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Error(format string, args ...any)
}

// NopLogger discards everything
type NopLogger struct{}

func (NopLogger) Debug(string, ...any) {}
func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}
