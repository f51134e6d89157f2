package naver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-auth-hub/social"
)

const (
	defaultAuthURL    = "https://nid.naver.com/oauth2.0/authorize"
	defaultTokenURL   = "https://nid.naver.com/oauth2.0/token"
	defaultProfileURL = "https://openapi.naver.com/v1/nid/me"
	defaultWriteURL   = "https://openapi.naver.com/blog/writePost.json"
)

// ProviderName identifies the provider in stored records
const ProviderName = "naver"

// Config holds Naver endpoint configuration. Client credentials are passed
// per call since every user may register their own application.
type Config struct {
	AuthURL    string
	TokenURL   string
	ProfileURL string
	WriteURL   string

	HTTPClient *http.Client
	Clock      func() time.Time
}

// Provider implements social.Exchanger and social.Publisher for Naver.
type Provider struct {
	config     Config
	httpClient *http.Client
	now        func() time.Time
}

// New creates a new Naver provider.
func New(cfg Config) *Provider {
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.ProfileURL == "" {
		cfg.ProfileURL = defaultProfileURL
	}
	if cfg.WriteURL == "" {
		cfg.WriteURL = defaultWriteURL
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

// AuthCodeURL implements social.Exchanger. No network call is made.
func (p *Provider) AuthCodeURL(_ context.Context, creds social.Credentials, state, _ string) (string, error) {
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {creds.ClientID},
		"redirect_uri":  {creds.RedirectURI},
		"state":         {state},
	}
	return p.config.AuthURL + "?" + params.Encode(), nil
}

// Exchange implements social.Exchanger.
func (p *Provider) Exchange(ctx context.Context, creds social.Credentials, code, state string) (*social.Token, error) {
	params := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {creds.ClientID},
		"client_secret": {creds.ClientSecret},
		"redirect_uri":  {creds.RedirectURI},
		"code":          {code},
		"state":         {state},
	}

	status, tokenResp, err := p.tokenRequest(ctx, "exchange", params)
	if err != nil {
		return nil, err
	}

	if status < 200 || status >= 300 || tokenResp.Error != "" {
		return nil, providerError("exchange", status, tokenResp.Error, tokenResp.ErrorDesc, nil, tokenResp.ErrorMetadata())
	}
	if tokenResp.AccessToken == "" {
		return nil, providerError("exchange", status, social.CodeMissingAccessToken, "missing access token", nil, nil)
	}

	return social.NormalizeToken(tokenResp, "", p.now()), nil
}

// Refresh implements social.Exchanger. A rejected refresh token yields a
// nil token and no error.
func (p *Provider) Refresh(ctx context.Context, creds social.Credentials, refreshToken string) (*social.Token, error) {
	params := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {creds.ClientID},
		"client_secret": {creds.ClientSecret},
		"refresh_token": {refreshToken},
	}

	status, tokenResp, err := p.tokenRequest(ctx, "refresh", params)
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

// Subject implements social.Exchanger using the profile endpoint.
func (p *Provider) Subject(ctx context.Context, token *social.Token, _ string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.ProfileURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	status, body, err := p.do(req)
	if err != nil {
		return "", err
	}

	if status != http.StatusOK {
		return "", providerError("profile", status, "", apiErrorMessage(body), nil, nil)
	}

	var profile naverProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return "", providerError("profile", status, social.CodeInvalidResponse, "failed to decode profile response", err, nil)
	}

	if profile.Response.ID == "" {
		return "", social.MissingSubject(ProviderName)
	}

	return profile.Response.ID, nil
}

// Publish implements social.Publisher. The provider acknowledgment is
// returned unchanged.
func (p *Provider) Publish(ctx context.Context, creds social.Credentials, accessToken, title, content string) (map[string]any, error) {
	form := url.Values{
		"title":    {title},
		"contents": {content},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.WriteURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("X-Naver-Client-Id", creds.ClientID)
	req.Header.Set("X-Naver-Client-Secret", creds.ClientSecret)

	status, body, err := p.do(req)
	if err != nil {
		return nil, err
	}

	out := map[string]any{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, providerError("publish", status, social.CodeInvalidResponse, "failed to decode publish response", err, nil)
		}
	}

	if status < 200 || status >= 300 {
		return nil, providerError("publish", status, "", apiErrorMessage(body), nil, out)
	}

	return out, nil
}

// the Naver token endpoint takes its parameters as a query string on GET.
func (p *Provider) tokenRequest(ctx context.Context, operation string, params url.Values) (int, social.TokenResponse, error) {
	var tokenResp social.TokenResponse

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.TokenURL+"?"+params.Encode(), nil)
	if err != nil {
		return 0, tokenResp, err
	}
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

type naverProfile struct {
	ResultCode string `json:"resultcode"`
	Message    string `json:"message"`
	Response   struct {
		ID       string `json:"id"`
		Nickname string `json:"nickname"`
		Email    string `json:"email"`
	} `json:"response"`
}

type naverAPIError struct {
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
	Message      string `json:"message"`
}

func apiErrorMessage(body []byte) string {
	var apiErr naverAPIError
	if err := json.Unmarshal(body, &apiErr); err == nil {
		if apiErr.ErrorMessage != "" {
			return apiErr.ErrorMessage
		}
		if apiErr.Message != "" {
			return apiErr.Message
		}
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "naver request failed"
	}

	return msg
}

func providerError(operation string, status int, code, description string, err error, raw map[string]any) *social.ProviderError {
	return social.NewProviderError(ProviderName, operation, status, code, description, err, raw)
}
