package hub

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/goliatone/go-auth-hub/social"
	"github.com/goliatone/go-errors"
)

// DefaultProviderTimeout bounds every outbound provider call
const DefaultProviderTimeout = 10 * time.Second

// OrchestratorOption customizes orchestrator construction.
type OrchestratorOption func(*Orchestrator)

// WithProvider registers an exchanger together with the application level
// client credentials used for login flows.
func WithProvider(exchanger social.Exchanger, creds social.Credentials) OrchestratorOption {
	return func(o *Orchestrator) {
		if exchanger == nil {
			return
		}
		o.exchangers[exchanger.Name()] = exchanger
		o.appCredentials[exchanger.Name()] = creds
	}
}

// WithPostStore sets the store used to select content for publishing.
func WithPostStore(posts PostStore) OrchestratorOption {
	return func(o *Orchestrator) {
		o.posts = posts
	}
}

// WithSessionIssuer overrides the issuer built from Config.
func WithSessionIssuer(sessions *SessionIssuer) OrchestratorOption {
	return func(o *Orchestrator) {
		if sessions != nil {
			o.sessions = sessions
		}
	}
}

// WithLinkVerifier overrides the verifier built from Config.
func WithLinkVerifier(verifier *LinkVerifier) OrchestratorOption {
	return func(o *Orchestrator) {
		if verifier != nil {
			o.verifier = verifier
		}
	}
}

// WithOrchestratorClock injects a custom clock (useful for tests).
func WithOrchestratorClock(clock Clock) OrchestratorOption {
	return func(o *Orchestrator) {
		if clock != nil {
			o.now = clock
		}
	}
}

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(logger Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithActivitySink adds a sink for hub events. It may be given more than
// once.
func WithActivitySink(sink ActivitySink) OrchestratorOption {
	return func(o *Orchestrator) {
		if sink != nil {
			o.activitySinks = append(o.activitySinks, sink)
		}
	}
}

// WithProviderTimeout overrides DefaultProviderTimeout.
func WithProviderTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.providerTimeout = timeout
		}
	}
}

// Orchestrator composes the stores, the session issuer, the link verifier
// and the provider exchangers into the hub flows.
type Orchestrator struct {
	config          Config
	store           CredentialStore
	posts           PostStore
	sessions        *SessionIssuer
	verifier        *LinkVerifier
	exchangers      map[string]social.Exchanger
	appCredentials  map[string]social.Credentials
	providerTimeout time.Duration
	now             Clock
	logger          Logger
	activitySinks   ActivitySinks
}

// NewOrchestrator creates an orchestrator. The session issuer and the link
// verifier are built from cfg unless provided through options.
func NewOrchestrator(cfg Config, store CredentialStore, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		config:          cfg,
		store:           store,
		exchangers:      map[string]social.Exchanger{},
		appCredentials:  map[string]social.Credentials{},
		providerTimeout: DefaultProviderTimeout,
		now:             time.Now,
		logger:          defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	if o.sessions == nil {
		o.sessions = NewSessionIssuer(
			[]byte(cfg.GetSigningKey()),
			WithSessionTTL(seconds(cfg.GetSessionTTL())),
			WithSessionClock(o.now),
			WithSessionLogger(o.logger),
		)
	}

	if o.verifier == nil {
		o.verifier = NewLinkVerifier(store,
			WithVerifierTTL(seconds(cfg.GetLinkChallengeTTL())),
			WithVerifierMaxAttempts(cfg.GetLinkMaxAttempts()),
			WithVerifierClock(o.now),
			WithVerifierLogger(o.logger),
		)
	}

	return o
}

// Sessions returns the session issuer
func (o *Orchestrator) Sessions() *SessionIssuer {
	return o.sessions
}

// Providers returns the names of the registered exchangers.
func (o *Orchestrator) Providers() []string {
	names := make([]string, 0, len(o.exchangers))
	for name := range o.exchangers {
		names = append(names, name)
	}
	return names
}

// AuthenticateService checks a shared secret presented on a service route.
func (o *Orchestrator) AuthenticateService(secret string) error {
	if !matchSecret(secret, o.config.GetServiceSecrets()) {
		return ErrServiceAuthRequired
	}
	return nil
}

// AuthenticateInternal checks a secret presented on an internal route.
func (o *Orchestrator) AuthenticateInternal(secret string) error {
	if !matchSecret(secret, o.config.GetInternalSecrets()) {
		return ErrServiceAuthRequired
	}
	return nil
}

// AuthenticateSession returns the user id carried by a session token.
func (o *Orchestrator) AuthenticateSession(token string) (string, error) {
	if token == "" {
		return "", ErrLoginRequired
	}
	return o.sessions.Verify(token)
}

// Authorize fails with ErrForbidden when actor acts on somebody else's data.
// An empty owner means the actor's own data.
func (o *Orchestrator) Authorize(actor, owner string) error {
	if actor == "" {
		return ErrLoginRequired
	}
	if owner != "" && owner != actor {
		return withMetadata(ErrForbidden, map[string]any{"actor": actor})
	}
	return nil
}

// Register creates the user. Registering a known user is a no-op that
// returns the stored record.
func (o *Orchestrator) Register(ctx context.Context, userID string) (*User, bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, false, withMetadata(ErrInvalidRequest, map[string]any{"fields": "user_id: cannot be blank"})
	}

	user, err := o.store.GetUser(ctx, userID)
	if err == nil {
		return user, false, nil
	}
	if !HasTextCode(err, TextCodeNotFound) {
		return nil, false, err
	}

	if !o.config.GetAllowNewUsers() {
		return nil, false, ErrRegistrationClosed
	}

	user, err = o.store.CreateUser(ctx, &User{ID: userID})
	if err != nil {
		return nil, false, err
	}

	o.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventUserRegistered,
		UserID:    user.ID,
	})

	return user, true, nil
}

// RequireUser loads a user and reports ErrNotRegistered when it is unknown.
func (o *Orchestrator) RequireUser(ctx context.Context, userID string) (*User, error) {
	if userID == "" {
		return nil, ErrNotRegistered
	}
	user, err := o.store.GetUser(ctx, userID)
	if err != nil {
		if HasTextCode(err, TextCodeNotFound) {
			return nil, withMetadata(ErrNotRegistered, map[string]any{"user_id": userID})
		}
		return nil, err
	}
	return user, nil
}

func (o *Orchestrator) exchanger(provider string) (social.Exchanger, error) {
	ex, ok := o.exchangers[provider]
	if !ok {
		return nil, withMetadata(ErrUnknownProvider, map[string]any{"provider": provider})
	}
	return ex, nil
}

// credentialsFor prefers the per user client registration and falls back
// to the application credentials.
func (o *Orchestrator) credentialsFor(account *LinkedAccount, provider string) (social.Credentials, error) {
	if account != nil && account.ClientID != "" {
		creds := social.Credentials{
			ClientID:     account.ClientID,
			ClientSecret: account.ClientSecret,
			RedirectURI:  account.RedirectURI,
		}
		if creds.RedirectURI == "" {
			creds.RedirectURI = o.callbackURL(provider)
		}
		return creds, nil
	}

	creds, ok := o.appCredentials[provider]
	if !ok || creds.ClientID == "" {
		return social.Credentials{}, withMetadata(ErrMissingClientInfo, map[string]any{"provider": provider})
	}
	if creds.RedirectURI == "" {
		creds.RedirectURI = o.callbackURL(provider)
	}
	return creds, nil
}

func (o *Orchestrator) callbackURL(provider string) string {
	base := strings.TrimRight(o.config.GetPublicBaseURL(), "/")
	return base + "/" + provider + "/callback"
}

// providerContext bounds one outbound provider call.
func (o *Orchestrator) providerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.providerTimeout)
}

// upstreamError maps provider failures into the hub taxonomy. Rich errors
// raised by the providers themselves pass through unchanged.
func upstreamError(provider, operation string, err error) error {
	if err == nil {
		return nil
	}

	if _, ok := social.AsProviderError(err); ok {
		return social.WrapProviderError(ErrExchangeFailed, provider, operation, err)
	}

	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return richErr
	}

	return social.WrapProviderError(ErrUpstreamUnavailable, provider, operation, err)
}

func (o *Orchestrator) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = o.now()
	}

	if len(o.activitySinks) == 0 {
		return
	}
	if err := o.activitySinks.Record(ctx, event); err != nil {
		o.logger.Error("activity sink error: %v", err)
	}
}

// matchSecret compares candidate against every configured secret in
// constant time. No configured secret means nothing matches.
func matchSecret(candidate string, secrets []string) bool {
	if candidate == "" {
		return false
	}

	matched := 0
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		matched |= subtle.ConstantTimeCompare([]byte(candidate), []byte(secret))
	}
	return matched == 1
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
