package github

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-auth-hub/social"
)

// ProviderName is the route and storage key for GitHub.
const ProviderName = "github"

const (
	defaultAuthURL  = "https://github.com/login/oauth/authorize"
	defaultTokenURL = "https://github.com/login/oauth/access_token"
	defaultUserURL  = "https://api.github.com/user"
)

// Config holds GitHub endpoints. Client credentials are passed per call.
type Config struct {
	Scopes []string

	AuthURL  string
	TokenURL string
	UserURL  string

	HTTPClient *http.Client
	Clock      func() time.Time
}

// DefaultScopes returns the default GitHub scopes.
func DefaultScopes() []string {
	return []string{"read:user"}
}

// Provider implements social.Exchanger for GitHub OAuth apps.
type Provider struct {
	config     Config
	httpClient *http.Client
	now        func() time.Time
}

// New creates a new GitHub provider.
func New(cfg Config) *Provider {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes()
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.UserURL == "" {
		cfg.UserURL = defaultUserURL
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	return &Provider{
		config:     cfg,
		httpClient: client,
		now:        now,
	}
}

// Name implements social.Exchanger.
func (p *Provider) Name() string {
	return ProviderName
}

// Family implements social.Exchanger.
func (p *Provider) Family() social.Family {
	return social.FamilyOAuth2
}

// AuthCodeURL implements social.Exchanger.
func (p *Provider) AuthCodeURL(_ context.Context, creds social.Credentials, state, _ string) (string, error) {
	params := url.Values{
		"client_id":    {creds.ClientID},
		"redirect_uri": {creds.RedirectURI},
		"scope":        {strings.Join(p.config.Scopes, " ")},
		"state":        {state},
	}
	return p.config.AuthURL + "?" + params.Encode(), nil
}

// Exchange implements social.Exchanger.
func (p *Provider) Exchange(ctx context.Context, creds social.Credentials, code, _ string) (*social.Token, error) {
	data := url.Values{
		"client_id":     {creds.ClientID},
		"client_secret": {creds.ClientSecret},
		"code":          {code},
		"redirect_uri":  {creds.RedirectURI},
	}

	status, tokenResp, err := p.tokenRequest(ctx, "exchange", data)
	if err != nil {
		return nil, err
	}

	// GitHub reports most token errors with a 200 status
	if status != http.StatusOK || tokenResp.Error != "" {
		return nil, providerError("exchange", status, tokenResp.Error, tokenResp.ErrorDesc, nil, tokenResp.ErrorMetadata())
	}
	if tokenResp.AccessToken == "" {
		return nil, providerError("exchange", status, social.CodeMissingAccessToken, "missing access token", nil, nil)
	}

	return p.normalize(tokenResp, ""), nil
}

// Refresh implements social.Exchanger. Only apps with expiring user tokens
// receive refresh tokens. A rejected refresh yields a nil token.
func (p *Provider) Refresh(ctx context.Context, creds social.Credentials, refreshToken string) (*social.Token, error) {
	data := url.Values{
		"client_id":     {creds.ClientID},
		"client_secret": {creds.ClientSecret},
		"grant_type":    {"refresh_token"},
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

	return p.normalize(tokenResp, refreshToken), nil
}

// Subject implements social.Exchanger. The numeric account id is stable
// across login renames.
func (p *Provider) Subject(ctx context.Context, token *social.Token, _ string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.UserURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	status, body, err := p.do(req)
	if err != nil {
		return "", err
	}

	if status != http.StatusOK {
		return "", providerError("user", status, "", apiErrorMessage(body), nil, nil)
	}

	var user githubUser
	if err := json.Unmarshal(body, &user); err != nil {
		return "", providerError("user", status, social.CodeInvalidResponse, "failed to decode user response", err, nil)
	}

	if user.ID == 0 {
		return "", social.MissingSubject(ProviderName)
	}

	return strconv.FormatInt(user.ID, 10), nil
}

// tokens of classic OAuth apps never expire and carry no expires_in.
func (p *Provider) normalize(resp social.TokenResponse, previousRefresh string) *social.Token {
	token := social.NormalizeToken(resp, previousRefresh, p.now())
	token.Scopes = splitCommaScopes(resp.Scope)
	if resp.ExpiresIn == nil {
		token.ExpiresAt = time.Time{}
	}
	return token
}

func (p *Provider) tokenRequest(ctx context.Context, operation string, data url.Values) (int, social.TokenResponse, error) {
	var tokenResp social.TokenResponse

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return 0, tokenResp, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	status, body, err := p.do(req)
	if err != nil {
		return 0, tokenResp, err
	}

	if err := json.Unmarshal(body, &tokenResp); err != nil {
		if status >= http.StatusBadRequest {
			return status, tokenResp, providerError(operation, status, "", apiErrorMessage(body), nil, nil)
		}
		return status, tokenResp, providerError(operation, status, social.CodeInvalidResponse, "failed to decode token response", err, nil)
	}

	return status, tokenResp, nil
}

func (p *Provider) do(req *http.Request) (int, []byte, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, social.MaxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}

	return resp.StatusCode, body, nil
}

type githubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

type githubAPIError struct {
	Message          string `json:"message"`
	DocumentationURL string `json:"documentation_url"`
}

func apiErrorMessage(body []byte) string {
	var apiErr githubAPIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		return apiErr.Message
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "github request failed"
	}

	return msg
}

func splitCommaScopes(scopes string) []string {
	if scopes == "" {
		return nil
	}

	parts := strings.Split(scopes, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}

	return out
}

func providerError(operation string, status int, code, description string, err error, raw map[string]any) *social.ProviderError {
	return social.NewProviderError(ProviderName, operation, status, code, description, err, raw)
}
