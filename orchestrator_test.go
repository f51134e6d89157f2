package hub_test

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	hub "github.com/goliatone/go-auth-hub"
	"github.com/goliatone/go-auth-hub/social"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishCall struct {
	AccessToken string
	Title       string
	Content     string
}

type fakeExchanger struct {
	name   string
	family social.Family
	now    func() time.Time

	mu           sync.Mutex
	subjects     map[string]string
	exchangeErr  error
	subjectErr   error
	refreshCalls int
	refreshed    *social.Token
	refreshErr   error
	published    []publishCall
	nonces       []string
	exchangeIDs  []string
}

func newFakeExchanger(name string, family social.Family, clock *testClock) *fakeExchanger {
	return &fakeExchanger{
		name:     name,
		family:   family,
		now:      clock.Now,
		subjects: map[string]string{},
	}
}

func (f *fakeExchanger) Name() string          { return f.name }
func (f *fakeExchanger) Family() social.Family { return f.family }

func (f *fakeExchanger) withSubject(code, subject string) *fakeExchanger {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects[code] = subject
	return f
}

func (f *fakeExchanger) AuthCodeURL(_ context.Context, creds social.Credentials, state, nonce string) (string, error) {
	params := url.Values{}
	params.Set("client_id", creds.ClientID)
	params.Set("redirect_uri", creds.RedirectURI)
	params.Set("state", state)
	if nonce != "" {
		params.Set("nonce", nonce)
	}
	return "https://" + f.name + ".test/authorize?" + params.Encode(), nil
}

func (f *fakeExchanger) Exchange(_ context.Context, creds social.Credentials, code, _ string) (*social.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchangeIDs = append(f.exchangeIDs, creds.ClientID)
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &social.Token{
		AccessToken:  "access-" + code,
		RefreshToken: "refresh-" + code,
		ExpiresAt:    f.now().Add(time.Hour),
	}, nil
}

func (f *fakeExchanger) Refresh(_ context.Context, _ social.Credentials, _ string) (*social.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.refreshed, nil
}

func (f *fakeExchanger) Subject(_ context.Context, token *social.Token, nonce string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonces = append(f.nonces, nonce)
	if f.subjectErr != nil {
		return "", f.subjectErr
	}
	code := token.AccessToken[len("access-"):]
	subject, ok := f.subjects[code]
	if !ok {
		return "", social.MissingSubject(f.name)
	}
	return subject, nil
}

func (f *fakeExchanger) Publish(_ context.Context, _ social.Credentials, accessToken, title, content string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishCall{AccessToken: accessToken, Title: title, Content: content})
	return map[string]any{"message": map[string]any{"result": map[string]any{"logNo": "42"}}}, nil
}

type hubFixture struct {
	clock  *testClock
	config *testConfig
	stores *testStores
	naver  *fakeExchanger
	oidc   *fakeExchanger
	events []hub.ActivityEvent
	orch   *hub.Orchestrator
}

func newHubFixture(t *testing.T, mutate ...func(*testConfig)) *hubFixture {
	t.Helper()

	clock := newTestClock()
	cfg := newTestConfig()
	cfg.allowNewUsers = true
	for _, fn := range mutate {
		fn(cfg)
	}

	f := &hubFixture{
		clock:  clock,
		config: cfg,
		stores: setupStores(t, clock),
		naver:  newFakeExchanger("naver", social.FamilyOAuth2, clock),
		oidc:   newFakeExchanger("oidc", social.FamilyOIDC, clock),
	}

	var mu sync.Mutex
	sink := hub.ActivitySinkFunc(func(_ context.Context, event hub.ActivityEvent) error {
		mu.Lock()
		defer mu.Unlock()
		f.events = append(f.events, event)
		return nil
	})

	f.orch = hub.NewOrchestrator(cfg, f.stores.credentials,
		hub.WithProvider(f.naver, social.Credentials{ClientID: "app-naver", ClientSecret: "app-secret"}),
		hub.WithProvider(f.oidc, social.Credentials{ClientID: "app-oidc", ClientSecret: "oidc-secret"}),
		hub.WithPostStore(f.stores.posts),
		hub.WithOrchestratorClock(clock.Now),
		hub.WithOrchestratorLogger(nopLogger{}),
		hub.WithActivitySink(sink),
	)
	return f
}

func (f *hubFixture) createUser(t *testing.T, id string) {
	t.Helper()
	_, err := f.stores.credentials.CreateUser(context.Background(), &hub.User{ID: id})
	require.NoError(t, err)
}

func (f *hubFixture) eventTypes() []hub.ActivityEventType {
	out := make([]hub.ActivityEventType, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.EventType)
	}
	return out
}

func queryOf(t *testing.T, rawURL string) url.Values {
	t.Helper()
	parsed, err := url.Parse(rawURL)
	require.NoError(t, err)
	return parsed.Query()
}

func TestOrchestratorLoginProvisionsUser(t *testing.T) {
	f := newHubFixture(t)
	f.naver.withSubject("c1", "naver-alice")
	ctx := context.Background()

	authURL, err := f.orch.BeginLogin(ctx, "naver", hub.LoginHint{UserID: "alice"})
	require.NoError(t, err)
	query := queryOf(t, authURL)
	assert.Equal(t, "app-naver", query.Get("client_id"))
	assert.Equal(t, "http://hub.test/naver/callback", query.Get("redirect_uri"))

	result, err := f.orch.HandleCallback(ctx, hub.CallbackRequest{Provider: "naver", Code: "c1", State: query.Get("state")})
	require.NoError(t, err)
	assert.Equal(t, hub.FlowLogin, result.Flow)
	assert.Equal(t, "alice", result.UserID)
	assert.True(t, result.IsNewUser)

	subject, err := f.orch.AuthenticateSession(result.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", subject)

	mapping, err := f.stores.credentials.GetIdentityMapping(ctx, "naver", "naver-alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", mapping.UserID)

	account, err := f.stores.credentials.GetLinkedAccount(ctx, "alice", "naver")
	require.NoError(t, err)
	assert.Equal(t, "access-c1", account.AccessToken)

	// the second login resolves through the mapping
	f.naver.withSubject("c2", "naver-alice")
	authURL, err = f.orch.BeginLogin(ctx, "naver", hub.LoginHint{})
	require.NoError(t, err)
	result, err = f.orch.HandleCallback(ctx, hub.CallbackRequest{Provider: "naver", Code: "c2", State: queryOf(t, authURL).Get("state")})
	require.NoError(t, err)
	assert.Equal(t, "alice", result.UserID)
	assert.False(t, result.IsNewUser)

	assert.Contains(t, f.eventTypes(), hub.ActivityEventUserRegistered)
	assert.Contains(t, f.eventTypes(), hub.ActivityEventLoginSuccess)
}

func TestOrchestratorLoginDerivesUserIDFromSubject(t *testing.T) {
	f := newHubFixture(t)
	f.naver.withSubject("c1", "naver-anon")
	ctx := context.Background()

	authURL, err := f.orch.BeginLogin(ctx, "naver", hub.LoginHint{})
	require.NoError(t, err)

	result, err := f.orch.HandleCallback(ctx, hub.CallbackRequest{Provider: "naver", Code: "c1", State: queryOf(t, authURL).Get("state")})
	require.NoError(t, err)
	assert.True(t, result.IsNewUser)
	assert.NotEmpty(t, result.UserID)

	_, err = f.stores.credentials.GetUser(ctx, result.UserID)
	require.NoError(t, err)
}

func TestOrchestratorLoginRegistrationClosed(t *testing.T) {
	f := newHubFixture(t, func(c *testConfig) { c.allowNewUsers = false })
	f.naver.withSubject("c1", "naver-stranger")
	ctx := context.Background()

	authURL, err := f.orch.BeginLogin(ctx, "naver", hub.LoginHint{})
	require.NoError(t, err)
	_, err = f.orch.HandleCallback(ctx, hub.CallbackRequest{Provider: "naver", Code: "c1", State: queryOf(t, authURL).Get("state")})
	requireTextCode(t, err, hub.TextCodeRegistrationClosed)
	assert.Contains(t, f.eventTypes(), hub.ActivityEventLoginFailure)

	// an existing user named by a trusted hint can still log in
	f.createUser(t, "dave")
	f.naver.withSubject("c2", "naver-dave")
	authURL, err = f.orch.BeginLogin(ctx, "naver", hub.LoginHint{UserID: "dave", Trusted: true})
	require.NoError(t, err)
	result, err := f.orch.HandleCallback(ctx, hub.CallbackRequest{Provider: "naver", Code: "c2", State: queryOf(t, authURL).Get("state")})
	require.NoError(t, err)
	assert.Equal(t, "dave", result.UserID)
	assert.False(t, result.IsNewUser)
}

func TestOrchestratorUntrustedHintCannotClaimExistingUser(t *testing.T) {
	f := newHubFixture(t)
	ctx := context.Background()
	f.createUser(t, "alice")
	f.linkAccount(t, "alice", f.clock.Now().Add(time.Hour))
	f.naver.withSubject("c1", "naver-mallory")

	authURL, err := f.orch.BeginLogin(ctx, "naver", hub.LoginHint{UserID: "alice"})
	require.NoError(t, err)
	result, err := f.orch.HandleCallback(ctx, hub.CallbackRequest{Provider: "naver", Code: "c1", State: queryOf(t, authURL).Get("state")})
	require.NoError(t, err)
	assert.NotEqual(t, "alice", result.UserID)
	assert.True(t, result.IsNewUser)

	subject, err := f.orch.AuthenticateSession(result.Token)
	require.NoError(t, err)
	assert.Equal(t, result.UserID, subject)

	mapping, err := f.stores.credentials.GetIdentityMapping(ctx, "naver", "naver-mallory")
	require.NoError(t, err)
	assert.Equal(t, result.UserID, mapping.UserID)

	account, err := f.stores.credentials.GetLinkedAccount(ctx, "alice", "naver")
	require.NoError(t, err)
	assert.Equal(t, "stored-access", account.AccessToken)
}

func TestOrchestratorUntrustedHintRegistrationClosed(t *testing.T) {
	f := newHubFixture(t, func(c *testConfig) { c.allowNewUsers = false })
	ctx := context.Background()
	f.createUser(t, "alice")
	f.naver.withSubject("c1", "naver-mallory")

	authURL, err := f.orch.BeginLogin(ctx, "naver", hub.LoginHint{UserID: "alice"})
	require.NoError(t, err)
	_, err = f.orch.HandleCallback(ctx, hub.CallbackRequest{Provider: "naver", Code: "c1", State: queryOf(t, authURL).Get("state")})
	requireTextCode(t, err, hub.TextCodeRegistrationClosed)

	_, err = f.stores.credentials.GetIdentityMapping(ctx, "naver", "naver-mallory")
	requireTextCode(t, err, hub.TextCodeNotFound)
}

func TestOrchestratorMappingWinsOverHint(t *testing.T) {
	f := newHubFixture(t)
	ctx := context.Background()
	f.createUser(t, "alice")
	f.createUser(t, "mallory")
	require.NoError(t, f.stores.credentials.UpsertIdentityMapping(ctx, &hub.IdentityMapping{
		Provider: "naver", Subject: "naver-alice", UserID: "alice",
	}))
	f.naver.withSubject("c1", "naver-alice")

	authURL, err := f.orch.BeginLogin(ctx, "naver", hub.LoginHint{UserID: "mallory", Trusted: true})
	require.NoError(t, err)
	result, err := f.orch.HandleCallback(ctx, hub.CallbackRequest{Provider: "naver", Code: "c1", State: queryOf(t, authURL).Get("state")})
	require.NoError(t, err)
	assert.Equal(t, "alice", result.UserID)
}

func TestOrchestratorCallbackStateChecks(t *testing.T) {
	f := newHubFixture(t)
	f.naver.withSubject("c1", "naver-alice")
	ctx := context.Background()

	_, err := f.orch.HandleCallback(ctx, hub.CallbackRequest{Provider: "naver", State: "s"})
	requireTextCode(t, err, hub.TextCodeMissingCodeOrState)

	_, err = f.orch.HandleCallback(ctx, hub.CallbackRequest{Provider: "naver", Code: "c1"})
	requireTextCode(t, err, hub.TextCodeMissingCodeOrState)

	_, err = f.orch.HandleCallback(ctx, hub.CallbackRequest{Provider: "naver", Code: "c1", State: "forged"})
	requireTextCode(t, err, hub.TextCodeInvalidState)

	_, err = f.orch.HandleCallback(ctx, hub.CallbackRequest{Provider: "github", Code: "c1", State: "forged"})
	requireTextCode(t, err, hub.TextCodeUnknownProvider)

	authURL, err := f.orch.BeginLogin(ctx, "naver", hub.LoginHint{UserID: "alice"})
	require.NoError(t, err)
	state := queryOf(t, authURL).Get("state")

	_, err = f.orch.HandleCallback(ctx, hub.CallbackRequest{Provider: "naver", Code: "c1", State: state})
	require.NoError(t, err)

	_, err = f.orch.HandleCallback(ctx, hub.CallbackRequest{Provider: "naver", Code: "c1", State: state})
	requireTextCode(t, err, hub.TextCodeInvalidState)
}

func TestOrchestratorOIDCLoginBindsNonce(t *testing.T) {
	f := newHubFixture(t)
	f.oidc.withSubject("c1", "oidc-subject")
	ctx := context.Background()

	authURL, err := f.orch.BeginLogin(ctx, "oidc", hub.LoginHint{UserID: "alice"})
	require.NoError(t, err)
	query := queryOf(t, authURL)
	require.NotEmpty(t, query.Get("nonce"))

	// an OIDC state cannot be redeemed on the OAuth2 callback
	_, err = f.orch.HandleCallback(ctx, hub.CallbackRequest{Provider: "naver", Code: "c1", State: query.Get("state")})
	requireTextCode(t, err, hub.TextCodeInvalidState)

	result, err := f.orch.HandleCallback(ctx, hub.CallbackRequest{Provider: "oidc", Code: "c1", State: query.Get("state")})
	require.NoError(t, err)
	assert.Equal(t, "alice", result.UserID)
	assert.Equal(t, []string{query.Get("nonce")}, f.oidc.nonces)
}

func TestOrchestratorUpstreamErrors(t *testing.T) {
	f := newHubFixture(t)
	ctx := context.Background()

	begin := func() string {
		authURL, err := f.orch.BeginLogin(ctx, "naver", hub.LoginHint{UserID: "alice"})
		require.NoError(t, err)
		return queryOf(t, authURL).Get("state")
	}

	f.naver.exchangeErr = social.NewProviderError("naver", "exchange", 400, "invalid_grant", "bad code", nil, nil)
	_, err := f.orch.HandleCallback(ctx, hub.CallbackRequest{Provider: "naver", Code: "c1", State: begin()})
	requireTextCode(t, err, hub.TextCodeExchangeFailed)

	f.naver.exchangeErr = errors.New("dial tcp: connection refused")
	_, err = f.orch.HandleCallback(ctx, hub.CallbackRequest{Provider: "naver", Code: "c1", State: begin()})
	requireTextCode(t, err, hub.TextCodeUpstreamUnavailable)

	f.naver.exchangeErr = nil
	_, err = f.orch.HandleCallback(ctx, hub.CallbackRequest{Provider: "naver", Code: "unknown", State: begin()})
	requireTextCode(t, err, hub.TextCodeMissingSubject)
}

func TestOrchestratorLinkFlow(t *testing.T) {
	f := newHubFixture(t)
	ctx := context.Background()

	_, err := f.orch.BeginLink(ctx, "naver", "ghost")
	requireTextCode(t, err, hub.TextCodeNotRegistered)

	_, err = f.orch.BeginLink(ctx, "oidc", "alice")
	requireTextCode(t, err, hub.TextCodeInvalidRequest)

	f.createUser(t, "alice")
	account, err := f.orch.SetProviderCredentials(ctx, "alice", "naver", social.Credentials{ClientID: "alice-app", ClientSecret: "alice-secret"})
	require.NoError(t, err)
	assert.Equal(t, "http://hub.test/naver/callback", account.RedirectURI)
	assert.False(t, account.Linked())

	authURL, err := f.orch.BeginLink(ctx, "naver", "alice")
	require.NoError(t, err)
	query := queryOf(t, authURL)
	assert.Equal(t, "alice-app", query.Get("client_id"))

	_, err = f.orch.HandleCallback(ctx, hub.CallbackRequest{Provider: "naver", Code: "l1", State: query.Get("state"), SessionUser: "mallory"})
	requireTextCode(t, err, hub.TextCodeForbidden)

	authURL, err = f.orch.BeginLink(ctx, "naver", "alice")
	require.NoError(t, err)
	result, err := f.orch.HandleCallback(ctx, hub.CallbackRequest{Provider: "naver", Code: "l1", State: queryOf(t, authURL).Get("state")})
	require.NoError(t, err)
	assert.Equal(t, hub.FlowLink, result.Flow)
	assert.Equal(t, "alice", result.UserID)
	assert.Empty(t, result.Token)

	stored, err := f.stores.credentials.GetLinkedAccount(ctx, "alice", "naver")
	require.NoError(t, err)
	assert.Equal(t, "alice-app", stored.ClientID)
	assert.Equal(t, "access-l1", stored.AccessToken)
	assert.Contains(t, f.naver.exchangeIDs, "alice-app")
}

func TestOrchestratorLinkRequiresClientInfo(t *testing.T) {
	clock := newTestClock()
	cfg := newTestConfig()
	stores := setupStores(t, clock)
	naver := newFakeExchanger("naver", social.FamilyOAuth2, clock)
	orch := hub.NewOrchestrator(cfg, stores.credentials,
		hub.WithProvider(naver, social.Credentials{}),
		hub.WithOrchestratorClock(clock.Now),
		hub.WithOrchestratorLogger(nopLogger{}),
	)

	_, err := stores.credentials.CreateUser(context.Background(), &hub.User{ID: "alice"})
	require.NoError(t, err)

	_, err = orch.BeginLink(context.Background(), "naver", "alice")
	requireTextCode(t, err, hub.TextCodeMissingClientInfo)

	_, err = orch.BeginLogin(context.Background(), "naver", hub.LoginHint{})
	requireTextCode(t, err, hub.TextCodeMissingClientInfo)
}

func (f *hubFixture) linkAccount(t *testing.T, userID string, expiresAt time.Time) {
	t.Helper()
	require.NoError(t, f.stores.credentials.UpsertLinkedAccount(context.Background(), &hub.LinkedAccount{
		UserID:         userID,
		Provider:       "naver",
		ClientID:       "app-naver",
		ClientSecret:   "app-secret",
		AccessToken:    "stored-access",
		RefreshToken:   "stored-refresh",
		TokenExpiresAt: expiresAt,
	}))
}

func (f *hubFixture) savePost(t *testing.T, userID, title, content string) *hub.Post {
	t.Helper()
	post, err := f.stores.posts.Create(context.Background(), &hub.Post{UserID: userID, Title: title, Content: content})
	require.NoError(t, err)
	return post
}

func TestOrchestratorPublishContentSelection(t *testing.T) {
	f := newHubFixture(t)
	ctx := context.Background()
	f.createUser(t, "alice")
	f.createUser(t, "bob")

	_, err := f.orch.Publish(ctx, hub.PublishRequest{UserID: "alice", Provider: "naver"})
	requireTextCode(t, err, hub.TextCodeNotLinked)

	f.linkAccount(t, "alice", f.clock.Now().Add(time.Hour))

	_, err = f.orch.Publish(ctx, hub.PublishRequest{UserID: "alice", Provider: "naver"})
	requireTextCode(t, err, hub.TextCodeNoContent)

	first := f.savePost(t, "alice", "first", "first body")
	f.clock.Advance(time.Minute)
	f.savePost(t, "alice", "second", "second body")
	bobs := f.savePost(t, "bob", "bob", "bob body")

	_, err = f.orch.Publish(ctx, hub.PublishRequest{UserID: "alice", Provider: "naver"})
	require.NoError(t, err)

	_, err = f.orch.Publish(ctx, hub.PublishRequest{UserID: "alice", Provider: "naver", PostID: first.ID, Title: "override"})
	require.NoError(t, err)

	_, err = f.orch.Publish(ctx, hub.PublishRequest{UserID: "alice", Provider: "naver", PostID: bobs.ID})
	requireTextCode(t, err, hub.TextCodeForbidden)

	_, err = f.orch.Publish(ctx, hub.PublishRequest{UserID: "alice", Provider: "naver", PostID: "missing"})
	requireTextCode(t, err, hub.TextCodeNotFound)

	require.Len(t, f.naver.published, 2)
	assert.Equal(t, publishCall{AccessToken: "stored-access", Title: "second", Content: "second body"}, f.naver.published[0])
	assert.Equal(t, publishCall{AccessToken: "stored-access", Title: "override", Content: "first body"}, f.naver.published[1])
	assert.Zero(t, f.naver.refreshCalls)
}

func TestOrchestratorPublishEmptyContent(t *testing.T) {
	f := newHubFixture(t)
	f.createUser(t, "alice")
	f.linkAccount(t, "alice", f.clock.Now().Add(time.Hour))
	f.savePost(t, "alice", "draft", "")

	_, err := f.orch.Publish(context.Background(), hub.PublishRequest{UserID: "alice", Provider: "naver"})
	requireTextCode(t, err, hub.TextCodeNoContent)
}

func TestOrchestratorPublishRefreshesExpiredToken(t *testing.T) {
	f := newHubFixture(t)
	ctx := context.Background()
	f.createUser(t, "alice")
	f.linkAccount(t, "alice", f.clock.Now())
	f.savePost(t, "alice", "title", "body")

	f.naver.refreshed = &social.Token{AccessToken: "fresh-access", ExpiresAt: f.clock.Now().Add(time.Hour)}

	_, err := f.orch.Publish(ctx, hub.PublishRequest{UserID: "alice", Provider: "naver"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.naver.refreshCalls)
	require.Len(t, f.naver.published, 1)
	assert.Equal(t, "fresh-access", f.naver.published[0].AccessToken)

	account, err := f.stores.credentials.GetLinkedAccount(ctx, "alice", "naver")
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", account.AccessToken)
	assert.Equal(t, "stored-refresh", account.RefreshToken)
	assert.Contains(t, f.eventTypes(), hub.ActivityEventTokenRefreshed)
}

func TestOrchestratorPublishRefreshRejected(t *testing.T) {
	f := newHubFixture(t)
	ctx := context.Background()
	f.createUser(t, "alice")
	expiry := f.clock.Now().Add(-time.Minute)
	f.linkAccount(t, "alice", expiry)
	f.savePost(t, "alice", "title", "body")

	_, err := f.orch.Publish(ctx, hub.PublishRequest{UserID: "alice", Provider: "naver"})
	requireTextCode(t, err, hub.TextCodeRefreshFailed)
	assert.Equal(t, 1, f.naver.refreshCalls)
	assert.Empty(t, f.naver.published)

	account, err := f.stores.credentials.GetLinkedAccount(ctx, "alice", "naver")
	require.NoError(t, err)
	assert.Equal(t, "stored-access", account.AccessToken)
	assert.Equal(t, "stored-refresh", account.RefreshToken)
	assert.True(t, expiry.Equal(account.TokenExpiresAt))

	f.naver.refreshErr = errors.New("timeout")
	_, err = f.orch.Publish(ctx, hub.PublishRequest{UserID: "alice", Provider: "naver"})
	requireTextCode(t, err, hub.TextCodeUpstreamUnavailable)
}

func TestOrchestratorRegister(t *testing.T) {
	f := newHubFixture(t, func(c *testConfig) { c.allowNewUsers = false })
	ctx := context.Background()

	_, _, err := f.orch.Register(ctx, "alice")
	requireTextCode(t, err, hub.TextCodeRegistrationClosed)

	_, _, err = f.orch.Register(ctx, "  ")
	requireTextCode(t, err, hub.TextCodeInvalidRequest)

	f.config.allowNewUsers = true
	user, created, err := f.orch.Register(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "alice", user.ID)

	f.config.allowNewUsers = false
	user, created, err = f.orch.Register(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "alice", user.ID)
}

func TestOrchestratorSharedSecrets(t *testing.T) {
	f := newHubFixture(t)

	assert.NoError(t, f.orch.AuthenticateService("hub-key"))
	assert.ErrorIs(t, f.orch.AuthenticateService("hub-key-2"), hub.ErrServiceAuthRequired)
	assert.ErrorIs(t, f.orch.AuthenticateService(""), hub.ErrServiceAuthRequired)
	assert.ErrorIs(t, f.orch.AuthenticateService("svc-token"), hub.ErrServiceAuthRequired)

	assert.NoError(t, f.orch.AuthenticateInternal("svc-token"))
	assert.NoError(t, f.orch.AuthenticateInternal("internal-key"))
	assert.ErrorIs(t, f.orch.AuthenticateInternal("hub-key"), hub.ErrServiceAuthRequired)

	f.config.serviceSecrets = nil
	assert.ErrorIs(t, f.orch.AuthenticateService(""), hub.ErrServiceAuthRequired)

	_, err := f.orch.AuthenticateSession("")
	requireTextCode(t, err, hub.TextCodeLoginRequired)
	_, err = f.orch.AuthenticateSession("garbage")
	requireTextCode(t, err, hub.TextCodeUnauthenticated)

	assert.NoError(t, f.orch.Authorize("alice", ""))
	assert.NoError(t, f.orch.Authorize("alice", "alice"))
	requireTextCode(t, f.orch.Authorize("alice", "bob"), hub.TextCodeForbidden)
}

func TestOrchestratorChallengeAlreadyLinked(t *testing.T) {
	f := newHubFixture(t)
	ctx := context.Background()
	f.createUser(t, "bob")
	f.createUser(t, "carol")

	ticket, err := f.orch.CreateChallenge(ctx, "bob", "hub_bot")
	require.NoError(t, err)
	assert.Equal(t, 300, ticket.ExpiresIn)
	assert.Equal(t, "/start "+ticket.Nonce, ticket.StartCommand)
	assert.Equal(t, "https://t.me/hub_bot?start="+ticket.Nonce, ticket.BotLink)

	userID, err := f.orch.CompleteChallenge(ctx, hub.ChallengeCompletion{Nonce: ticket.Nonce, ExternalID: "1001", ExternalHandle: "bobby"})
	require.NoError(t, err)
	assert.Equal(t, "bob", userID)

	bob, err := f.orch.Profile(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "1001", bob.MessagingID)
	assert.Equal(t, "bobby", bob.MessagingUsername)

	ticket, err = f.orch.CreateChallenge(ctx, "carol", "")
	require.NoError(t, err)
	assert.Empty(t, ticket.BotLink)

	_, err = f.orch.CompleteChallenge(ctx, hub.ChallengeCompletion{Nonce: ticket.Nonce, ExternalID: "1001"})
	requireTextCode(t, err, hub.TextCodeAlreadyLinked)

	carol, err := f.orch.Profile(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, carol.MessagingID)

	_, err = f.orch.CompleteChallenge(ctx, hub.ChallengeCompletion{Nonce: ticket.Nonce, ExternalID: "1001"})
	requireTextCode(t, err, hub.TextCodeInvalidNonce)
}

func TestOrchestratorChallengeMalformedIDs(t *testing.T) {
	f := newHubFixture(t)
	ctx := context.Background()
	f.createUser(t, "alice")

	ticket, err := f.orch.CreateChallenge(ctx, "alice", "")
	require.NoError(t, err)

	for i := 1; i < 5; i++ {
		_, err := f.orch.CompleteChallenge(ctx, hub.ChallengeCompletion{Nonce: ticket.Nonce, ExternalID: "abc"})
		requireTextCode(t, err, hub.TextCodeInvalidExternalID)
	}

	_, err = f.orch.CompleteChallenge(ctx, hub.ChallengeCompletion{Nonce: ticket.Nonce, ExternalID: "abc"})
	requireTextCode(t, err, hub.TextCodeMaxAttemptsReached)

	_, err = f.orch.CompleteChallenge(ctx, hub.ChallengeCompletion{Nonce: ticket.Nonce, ExternalID: "1001"})
	requireTextCode(t, err, hub.TextCodeInvalidNonce)
}

func TestOrchestratorChallengeExpired(t *testing.T) {
	f := newHubFixture(t)
	ctx := context.Background()
	f.createUser(t, "alice")

	ticket, err := f.orch.CreateChallenge(ctx, "alice", "")
	require.NoError(t, err)

	f.clock.Advance(301 * time.Second)
	_, err = f.orch.CompleteChallenge(ctx, hub.ChallengeCompletion{Nonce: ticket.Nonce, ExternalID: "1001"})
	requireTextCode(t, err, hub.TextCodeExpiredNonce)

	_, err = f.orch.CompleteChallenge(ctx, hub.ChallengeCompletion{ExternalID: "1001"})
	requireTextCode(t, err, hub.TextCodeInvalidNonce)

	_, err = f.orch.CreateChallenge(ctx, "alice", "bad bot!")
	requireTextCode(t, err, hub.TextCodeInvalidRequest)

	_, err = f.orch.CreateChallenge(ctx, "ghost", "")
	requireTextCode(t, err, hub.TextCodeNotRegistered)
}

func TestOrchestratorProfileUpdates(t *testing.T) {
	f := newHubFixture(t)
	ctx := context.Background()
	f.createUser(t, "alice")
	require.NoError(t, f.stores.credentials.SetMessagingHandle(ctx, "alice", "2002", "alice_tg"))

	handle := "3003"
	_, err := f.orch.UpdateProfile(ctx, "alice", hub.ProfileUpdate{MessagingID: &handle})
	requireTextCode(t, err, hub.TextCodeTelegramVerificationRequired)

	user, err := f.orch.UpdateProfile(ctx, "alice", hub.ProfileUpdate{})
	require.NoError(t, err)
	assert.Equal(t, "2002", user.MessagingID)

	user, err = f.orch.DetachHandle(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, user.MessagingID)
	assert.Contains(t, f.eventTypes(), hub.ActivityEventHandleDetached)

	_, err = f.orch.Profile(ctx, "ghost")
	requireTextCode(t, err, hub.TextCodeNotRegistered)
}

func TestOrchestratorLogoutFallsBackToFrontend(t *testing.T) {
	f := newHubFixture(t, func(c *testConfig) { c.frontendBaseURL = "https://app.test" })

	target, err := f.orch.LogoutURL(context.Background(), "hint")
	require.NoError(t, err)
	assert.Equal(t, "https://app.test", target)
}
