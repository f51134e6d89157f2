package oidc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-auth-hub/social"
)

// ProviderName identifies the provider in stored records
const ProviderName = "oidc"

// DefaultScopes requested on every authorization
func DefaultScopes() []string {
	return []string{"openid", "profile", "email"}
}

// Config holds OIDC provider configuration.
type Config struct {
	Issuer string
	// ClientID is the audience fallback when Audience is empty.
	ClientID              string
	Audience              string
	PostLogoutRedirectURI string
	Scopes                []string
	DiscoveryTTL          time.Duration

	Cache      MetadataCache
	HTTPClient *http.Client
	Clock      func() time.Time
	Logger     social.Logger
}

// Provider implements social.Exchanger for an OpenID Connect issuer.
type Provider struct {
	config     Config
	httpClient *http.Client
	cache      MetadataCache
	now        func() time.Time
	logger     social.Logger

	mu   sync.Mutex
	jwks map[string]*keyfunc.JWKS
}

// IDClaims are the identity token claims we verify
type IDClaims struct {
	jwt.RegisteredClaims
	Nonce string `json:"nonce,omitempty"`
	Email string `json:"email,omitempty"`
}

// New creates a new OIDC provider.
func New(cfg Config) *Provider {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes()
	}
	if cfg.DiscoveryTTL <= 0 {
		cfg.DiscoveryTTL = DefaultDiscoveryTTL
	}
	if cfg.Audience == "" {
		cfg.Audience = cfg.ClientID
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	cache := cfg.Cache
	if cache == nil {
		cache = NewMemoryCache(now)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = social.NopLogger{}
	}

	return &Provider{
		config:     cfg,
		httpClient: client,
		cache:      cache,
		now:        now,
		logger:     logger,
		jwks:       make(map[string]*keyfunc.JWKS),
	}
}

// Name implements social.Exchanger.
func (p *Provider) Name() string {
	return ProviderName
}

// Family implements social.Exchanger.
func (p *Provider) Family() social.Family {
	return social.FamilyOIDC
}

// AuthCodeURL implements social.Exchanger. Discovery is served from the
// cache once the issuer has been seen.
func (p *Provider) AuthCodeURL(ctx context.Context, creds social.Credentials, state, nonce string) (string, error) {
	meta, err := p.discover(ctx)
	if err != nil {
		return "", err
	}

	params := url.Values{
		"response_type": {"code"},
		"client_id":     {creds.ClientID},
		"redirect_uri":  {creds.RedirectURI},
		"scope":         {strings.Join(p.config.Scopes, " ")},
		"state":         {state},
	}
	if nonce != "" {
		params.Set("nonce", nonce)
	}
	if p.config.Audience != "" && p.config.Audience != creds.ClientID {
		params.Set("audience", p.config.Audience)
	}

	return meta.AuthorizationEndpoint + "?" + params.Encode(), nil
}

// Exchange implements social.Exchanger.
func (p *Provider) Exchange(ctx context.Context, creds social.Credentials, code, _ string) (*social.Token, error) {
	data := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {creds.ClientID},
		"client_secret": {creds.ClientSecret},
		"redirect_uri":  {creds.RedirectURI},
		"code":          {code},
	}

	status, tokenResp, err := p.tokenRequest(ctx, "exchange", data)
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK || tokenResp.Error != "" {
		return nil, providerError("exchange", status, tokenResp.Error, tokenResp.ErrorDesc, nil, tokenResp.ErrorMetadata())
	}
	if tokenResp.AccessToken == "" && tokenResp.IDToken == "" {
		return nil, providerError("exchange", status, social.CodeMissingAccessToken, "missing access token", nil, nil)
	}

	return social.NormalizeToken(tokenResp, "", p.now()), nil
}

// Refresh implements social.Exchanger.
func (p *Provider) Refresh(ctx context.Context, creds social.Credentials, refreshToken string) (*social.Token, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {creds.ClientID},
		"client_secret": {creds.ClientSecret},
		"refresh_token": {refreshToken},
	}

	status, tokenResp, err := p.tokenRequest(ctx, "refresh", data)
	if perr, ok := social.AsProviderError(err); ok && perr.Rejected() {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if status >= http.StatusBadRequest || tokenResp.Error != "" {
		return nil, nil
	}
	if tokenResp.AccessToken == "" {
		return nil, providerError("refresh", status, social.CodeMissingAccessToken, "missing access token", nil, nil)
	}

	return social.NormalizeToken(tokenResp, refreshToken, p.now()), nil
}

// Subject implements social.Exchanger by verifying the identity token.
func (p *Provider) Subject(ctx context.Context, token *social.Token, nonce string) (string, error) {
	if token == nil || token.IDToken == "" {
		return "", social.InvalidToken(ProviderName, nil)
	}

	claims, err := p.Verify(ctx, token.IDToken, nonce)
	if err != nil {
		return "", err
	}

	if claims.Subject == "" {
		return "", social.MissingSubject(ProviderName)
	}

	return claims.Subject, nil
}

// Verify checks issuer, audience, RS256 signature, expiry and, when nonce
// is not empty, exact nonce equality.
func (p *Provider) Verify(ctx context.Context, rawToken, nonce string) (*IDClaims, error) {
	meta, err := p.discover(ctx)
	if err != nil {
		return nil, err
	}

	jwks, err := p.keySet(meta.JWKSURI)
	if err != nil {
		return nil, err
	}

	claims := &IDClaims{}
	parsed, err := jwt.ParseWithClaims(rawToken, claims, jwks.Keyfunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(p.config.Issuer),
		jwt.WithAudience(p.config.Audience),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, social.InvalidToken(ProviderName, err)
	}
	if !parsed.Valid {
		return nil, social.InvalidToken(ProviderName, nil)
	}

	if nonce != "" && claims.Nonce != nonce {
		return nil, social.InvalidToken(ProviderName, errNonceMismatch)
	}

	return claims, nil
}

// LogoutURL builds the end session redirect. It returns an empty string
// when the issuer does not advertise an end session endpoint.
func (p *Provider) LogoutURL(ctx context.Context, idTokenHint string) (string, error) {
	meta, err := p.discover(ctx)
	if err != nil {
		return "", err
	}
	if meta.EndSessionEndpoint == "" {
		return "", nil
	}

	params := url.Values{}
	if idTokenHint != "" {
		params.Set("id_token_hint", idTokenHint)
	}
	if p.config.PostLogoutRedirectURI != "" {
		params.Set("post_logout_redirect_uri", p.config.PostLogoutRedirectURI)
	}
	if len(params) == 0 {
		return meta.EndSessionEndpoint, nil
	}

	return meta.EndSessionEndpoint + "?" + params.Encode(), nil
}

// keySet returns the JWKS for uri, fetching it on first use. Unknown key
// ids trigger a rate limited refresh inside keyfunc.
func (p *Provider) keySet(uri string) (*keyfunc.JWKS, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if jwks, ok := p.jwks[uri]; ok {
		return jwks, nil
	}

	jwks, err := keyfunc.Get(uri, keyfunc.Options{
		Client: p.httpClient,
		RefreshErrorHandler: func(err error) {
			p.logger.Error("failed to refresh JWKS from %s: %s", uri, err)
		},
		RefreshRateLimit:  time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, providerError("jwks", 0, "", "failed to load signing keys", err, nil)
	}

	p.jwks[uri] = jwks
	return jwks, nil
}

func (p *Provider) tokenRequest(ctx context.Context, operation string, data url.Values) (int, social.TokenResponse, error) {
	var tokenResp social.TokenResponse

	meta, err := p.discover(ctx)
	if err != nil {
		return 0, tokenResp, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, meta.TokenEndpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return 0, tokenResp, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, tokenResp, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, social.MaxResponseBytes))
	if err != nil {
		return resp.StatusCode, tokenResp, err
	}

	if err := json.Unmarshal(body, &tokenResp); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return resp.StatusCode, tokenResp, providerError(operation, resp.StatusCode, "", strings.TrimSpace(string(body)), nil, nil)
		}
		return resp.StatusCode, tokenResp, providerError(operation, resp.StatusCode, social.CodeInvalidResponse, "failed to decode token response", err, nil)
	}

	return resp.StatusCode, tokenResp, nil
}

func providerError(operation string, status int, code, description string, err error, raw map[string]any) *social.ProviderError {
	return social.NewProviderError(ProviderName, operation, status, code, description, err, raw)
}

// Close stops background JWKS refreshes.
func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for uri, jwks := range p.jwks {
		jwks.EndBackground()
		delete(p.jwks, uri)
	}
}
